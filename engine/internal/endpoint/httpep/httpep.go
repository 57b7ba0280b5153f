// Package httpep implements the HTTP source/sink north-bound app protocol
// adapter on net/http: a poll-mode GET source and a POST sink. Unlike the
// admin surface (cmd/fieldmeshd/adminhttp, which uses go-chi/chi per
// SPEC_FULL.md §2), this endpoint has no routing concerns of its own —
// stdlib net/http is the right tool here and is what the teacher itself
// uses for outbound calls (no third-party HTTP client appears anywhere in
// the pack).
package httpep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Conf configures an HTTP source (poll GET) or sink (POST) endpoint.
type Conf struct {
	URL        string
	Method     string // sink only; defaults to POST
	IntervalMS int64  // source only
	Headers    map[string]string
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	return o.URL != c.URL || o.IntervalMS != c.IntervalMS
}

// SourceDriver polls URL via GET once per IntervalMS.
type SourceDriver struct {
	conf     Conf
	client   *http.Client
	lastTick time.Time
}

func NewSource(conf Conf) *SourceDriver { return &SourceDriver{conf: conf} }

func (d *SourceDriver) Role() endpoint.Role { return endpoint.RoleSource }

func (d *SourceDriver) Open(ctx context.Context, parentConn any) error {
	d.client = &http.Client{Timeout: 10 * time.Second}
	return nil
}

func (d *SourceDriver) Close() error { return nil }

func (d *SourceDriver) Poll(ctx context.Context) (*message.Batch, error) {
	interval := time.Duration(d.conf.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	elapsed := time.Since(d.lastTick)
	if elapsed < interval {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval - elapsed):
		}
	}
	d.lastTick = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.conf.URL, nil)
	if err != nil {
		return nil, ferr.NewInvalidConf("url", err.Error())
	}
	for k, v := range d.conf.Headers {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get %s: %v", ferr.ErrTransport, d.conf.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: http read body: %v", ferr.ErrTransport, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: http %s returned %d", ferr.ErrProtocol, d.conf.URL, resp.StatusCode)
	}

	msg := message.NewEmptyMessage()
	msg.Set("status", message.Int64(int64(resp.StatusCode)))
	msg.Set("body", message.Bytes(body))
	batch := message.NewBatch("http", uint64(time.Now().UnixMilli()))
	batch.Messages = append(batch.Messages, msg)
	return batch, nil
}

var _ endpoint.SourceDriver = (*SourceDriver)(nil)

// SinkDriver POSTs (or the configured Method) every batch, JSON-encoded as a
// whole, to URL.
type SinkDriver struct {
	conf   Conf
	client *http.Client
}

func NewSink(conf Conf) *SinkDriver { return &SinkDriver{conf: conf} }

func (d *SinkDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *SinkDriver) Open(ctx context.Context, parentConn any) error {
	d.client = &http.Client{Timeout: 10 * time.Second}
	return nil
}

func (d *SinkDriver) Close() error { return nil }

func (d *SinkDriver) Publish(ctx context.Context, batch *message.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("%w: encode http payload: %v", ferr.ErrProtocol, err)
	}
	method := d.conf.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, d.conf.URL, bytes.NewReader(payload))
	if err != nil {
		return ferr.NewInvalidConf("url", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.conf.Headers {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http %s %s: %v", ferr.ErrTransport, method, d.conf.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: http %s returned %d", ferr.ErrProtocol, d.conf.URL, resp.StatusCode)
	}
	return nil
}

var _ endpoint.SinkDriver = (*SinkDriver)(nil)

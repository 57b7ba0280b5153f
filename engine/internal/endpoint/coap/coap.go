// Package coap implements the CoAP source protocol adapter against
// github.com/plgd-dev/go-coap/v3, with an optional DTLS transport per
// SPEC_FULL.md §3 ("CoAP DTLS transport option", grounded on
// original_source's coap/src/dtls.rs): when Conf.Credential is set the
// adapter dials over DTLS with a PSK, otherwise plain UDP CoAP is used.
package coap

import (
	"context"
	"fmt"
	"time"

	piondtls "github.com/pion/dtls/v2"
	"github.com/plgd-dev/go-coap/v3/dtls"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Credential is the optional PSK used to dial over DTLS instead of plain
// UDP, per original_source's dtls.rs.
type Credential struct {
	PSKIdentity string
	PSKKey      []byte
}

// Conf is the CoAP source endpoint configuration: a single resource path
// polled once per IntervalMS via GET.
type Conf struct {
	Address    string // host:port
	Path       string
	IntervalMS int64
	Credential *Credential
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	return o.Address != c.Address || o.Path != c.Path || o.IntervalMS != c.IntervalMS ||
		(o.Credential == nil) != (c.Credential == nil)
}

// Connector dials the shared CoAP client connection for one device.
type Connector struct {
	Address    string
	Credential *Credential
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	if c.Credential != nil {
		conn, err := dtls.Dial(c.Address, &piondtls.Config{
			PSK: func([]byte) ([]byte, error) { return c.Credential.PSKKey, nil },
			PSKIdentityHint: []byte(c.Credential.PSKIdentity),
			CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
		})
		if err != nil {
			return nil, fmt.Errorf("coap dtls dial %s: %w", c.Address, err)
		}
		return conn, nil
	}
	conn, err := udp.Dial(c.Address)
	if err != nil {
		return nil, fmt.Errorf("coap dial %s: %w", c.Address, err)
	}
	return conn, nil
}

func (c Connector) Closed(conn any) bool {
	cc, ok := conn.(*client.Conn)
	if !ok {
		return true
	}
	return cc.Context().Err() != nil
}

func (c Connector) Close(conn any) error {
	cc, ok := conn.(*client.Conn)
	if !ok {
		return nil
	}
	return cc.Close()
}

var _ device.Connector = Connector{}

// Driver issues a GET against Path once per IntervalMS and wraps the
// response body as a "payload" byte field.
type Driver struct {
	conf     Conf
	conn     *client.Conn
	lastTick time.Time
}

func New(conf Conf) *Driver { return &Driver{conf: conf} }

func (d *Driver) Role() endpoint.Role { return endpoint.RoleSource }

func (d *Driver) Open(ctx context.Context, parentConn any) error {
	conn, ok := parentConn.(*client.Conn)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "coap driver requires a *client.Conn")
	}
	d.conn = conn
	return nil
}

func (d *Driver) Close() error { return nil }

func (d *Driver) Poll(ctx context.Context) (*message.Batch, error) {
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

	resp, err := d.conn.Get(ctx, d.conf.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: coap get %s: %v", ferr.ErrTransport, d.conf.Path, err)
	}
	body, err := resp.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("%w: coap read body: %v", ferr.ErrTransport, err)
	}

	msg := message.NewEmptyMessage()
	msg.Set("payload", message.Bytes(body))
	batch := message.NewBatch("coap", uint64(time.Now().UnixMilli()))
	batch.Messages = append(batch.Messages, msg)
	return batch, nil
}

var _ endpoint.SourceDriver = (*Driver)(nil)

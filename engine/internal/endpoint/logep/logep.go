// Package logep implements the log sink: a north-bound app that writes
// every batch as one structured log line via engine/telemetry/logging,
// grounded on the teacher's own use of log/slog for structured output
// rather than a bespoke printf sink.
package logep

import (
	"context"
	"encoding/json"

	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/telemetry/logging"
)

// Conf configures the log sink; it has no fields that require a restart.
type Conf struct {
	Log logging.Logger
}

func (c Conf) IsHot(old endpoint.Conf) bool { return false }

// SinkDriver logs each batch at Info level with its JSON-encoded payload.
type SinkDriver struct {
	conf Conf
	log  logging.Logger
}

func NewSink(conf Conf) *SinkDriver { return &SinkDriver{conf: conf} }

func (d *SinkDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *SinkDriver) Open(ctx context.Context, parentConn any) error {
	d.log = d.conf.Log
	if d.log == nil {
		d.log = logging.New(nil)
	}
	return nil
}

func (d *SinkDriver) Close() error { return nil }

func (d *SinkDriver) Publish(ctx context.Context, batch *message.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	d.log.InfoCtx(ctx, "batch delivered to log sink", "name", batch.Name, "messages", len(batch.Messages), "payload", string(payload))
	return nil
}

var _ endpoint.SinkDriver = (*SinkDriver)(nil)

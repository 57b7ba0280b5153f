package endpoint

import (
	"context"

	"github.com/fieldmesh/core/engine/message"
)

// Role distinguishes a source endpoint (produces batches) from a sink
// endpoint (consumes batches), per spec.md §4.1.
type Role int

const (
	RoleSource Role = iota
	RoleSink
)

// Conf is the capability every protocol-specific configuration must expose
// to the session: whether changing from an old config to this one requires
// a restart (a "hot" field per spec.md's glossary) versus an in-place cold
// swap (name/desc only).
type Conf interface {
	// IsHot reports whether moving from old to this config touches a field
	// that requires stop+respawn (address, interval, codec, authentication).
	IsHot(old Conf) bool
}

// Driver is the capability set the session drives every protocol adapter
// through, per spec.md §9 ("tagged variant at the boundary, trait at the
// core"): concrete protocol state (a Modbus TCP context, an MQTT client, an
// OPC-UA session) lives behind this interface in the modbus/opcua/coap/
// mqtt/httpep/kafka/influx/logep/websocket packages.
type Driver interface {
	// Role reports whether this driver is a source or a sink.
	Role() Role
	// Open establishes whatever per-endpoint resource the driver needs
	// (e.g. a subscription, a dial). Parent connection sharing (one TCP
	// Modbus context, one MQTT client) is owned by the device manager, not
	// here; Open receives it via Session.Start's parentConn argument.
	Open(ctx context.Context, parentConn any) error
	// Close releases the driver's per-endpoint resource. Idempotent.
	Close() error
}

// SourceDriver is implemented by source-role drivers. Poll blocks until
// either a batch is ready (poll-mode tick or push-mode message arrival) or
// ctx is cancelled, matching the endpoint's cooperative task loop
// (spec.md §4.1 "select among ... tick/interval ... incoming message").
type SourceDriver interface {
	Driver
	Poll(ctx context.Context) (*message.Batch, error)
}

// SinkDriver is implemented by sink-role drivers.
type SinkDriver interface {
	Driver
	Publish(ctx context.Context, batch *message.Batch) error
}

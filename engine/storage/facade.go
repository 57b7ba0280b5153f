// Package storage declares the typed contracts for config persistence and
// the audit-event stream (spec.md C7): interfaces only, consumed by
// engine.Engine — the concrete store is an external collaborator, per
// spec.md §1's Non-goals ("the relational persistence layer that stores
// configs and events"). Expected production backends for an implementation
// of Store are github.com/jackc/pgx/v5 (Postgres) or
// github.com/mattn/go-sqlite3 (embedded), named here only as doc pointers —
// this package imports neither.
package storage

import (
	"context"

	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/message"
)

// ResourceType is the closed set of persisted resource kinds.
type ResourceType int

const (
	ResourceDevice ResourceType = iota
	ResourceApp
	ResourceRule
)

func (t ResourceType) String() string {
	switch t {
	case ResourceDevice:
		return "device"
	case ResourceApp:
		return "app"
	case ResourceRule:
		return "rule"
	default:
		return "unknown"
	}
}

// Record is the persisted form of one device/app/rule configuration: an
// opaque conf blob (the same message.Value tree accepted by the endpoint or
// rule graph), versioned for optimistic-concurrency updates.
type Record struct {
	ID       id.ID
	Type     ResourceType
	Name     string
	Conf     message.Value
	Version  uint64
	Status   string
}

// Store is the config-persistence contract the lifecycle manager consumes.
// It is never responsible for lifecycle semantics (start/stop/ref-counting)
// — only for durably recording the declared configuration and its last
// known status string.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Read(ctx context.Context, resourceType ResourceType, resourceID id.ID) (Record, error)
	Update(ctx context.Context, rec Record) error
	Delete(ctx context.Context, resourceType ResourceType, resourceID id.ID) error
	List(ctx context.Context, resourceType ResourceType) ([]Record, error)
	SetStatus(ctx context.Context, resourceType ResourceType, resourceID id.ID, status string) error

	// ReadTemplate reads a stored baseline configuration by template id, for
	// engine.Engine.CreateResourceFromTemplate (SPEC_FULL.md §3 "Per-device
	// templates"). Returns the same Record shape as Read; callers overlay
	// field overrides before Create.
	ReadTemplate(ctx context.Context, resourceType ResourceType, templateID id.ID) (Record, error)
}

// EventKind is the closed set of audit event kinds.
type EventKind int

const (
	EventCreate EventKind = iota
	EventUpdate
	EventDelete
	EventStart
	EventStop
	EventConnectSucceed
	EventConnectFail
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventConnectSucceed:
		return "connect_succeed"
	case EventConnectFail:
		return "connect_fail"
	default:
		return "unknown"
	}
}

// Event is one audit record: (resource_type, resource_id, kind, ts), with an
// optional message for kinds that carry one (EventConnectFail).
type Event struct {
	ResourceType ResourceType
	ResourceID   id.ID
	Kind         EventKind
	TimestampMS  uint64
	Message      string
}

// EventSink is the audit-event contract the lifecycle manager and rule
// runtime emit onto. Append-only; ordering within one resource is
// preserved, across resources is not guaranteed.
type EventSink interface {
	Append(ctx context.Context, ev Event) error
}

// NoopEventSink discards every event; used where no Store is configured
// (e.g. a pure rule-runtime unit test) so engine components never need a
// nil check before emitting.
type NoopEventSink struct{}

func (NoopEventSink) Append(ctx context.Context, ev Event) error { return nil }

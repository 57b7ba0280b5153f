// Package endpoint implements the endpoint session (spec.md C2): the
// per-source/per-sink long-running task owning a connection, a config
// snapshot, a cancel handle, a retainer and an error state. The broadcast
// fan-out from a source to its rule-pipeline subscribers is grounded on the
// teacher's engine/internal/telemetry/events/events.go bus (per-subscriber
// bounded channel, drop-on-full via select/default), narrowed here to carry
// message.Batch instead of a telemetry Event and bounded at 16 per spec.md
// §5 ("broadcast, bounded (16) lossy on slow consumer").
package endpoint

import (
	"sync"
	"sync/atomic"

	"github.com/fieldmesh/core/engine/message"
)

// BroadcastCapacity is the fixed per-subscriber channel depth for a source's
// broadcast fan-out, per spec.md §5.
const BroadcastCapacity = 16

// Subscription is a source subscriber's receive handle.
type Subscription interface {
	C() <-chan *message.Batch
	Close()
	ID() int64
}

// Broadcast fans batches from one source out to N subscribers, each with its
// own bounded channel; a slow subscriber drops the newest batch rather than
// blocking the source or other subscribers.
type Broadcast struct {
	mu      sync.RWMutex
	subs    map[int64]*broadcastSub
	nextID  int64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewBroadcast returns an empty Broadcast.
func NewBroadcast() *Broadcast { return &Broadcast{subs: make(map[int64]*broadcastSub)} }

type broadcastSub struct {
	id      int64
	ch      chan *message.Batch
	b       *Broadcast
	dropped atomic.Uint64
}

func (s *broadcastSub) C() <-chan *message.Batch { return s.ch }
func (s *broadcastSub) ID() int64                { return s.id }
func (s *broadcastSub) Close()                    { s.b.unsubscribe(s.id) }

// Subscribe lazily creates a bounded channel for a new subscriber.
func (b *Broadcast) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &broadcastSub{id: b.nextID, ch: make(chan *message.Batch, BroadcastCapacity), b: b}
	b.subs[sub.id] = sub
	return sub
}

func (b *Broadcast) unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Send fans batch out to every current subscriber, dropping it for any
// subscriber whose channel is full rather than blocking.
func (b *Broadcast) Send(batch *message.Batch) {
	b.mu.RLock()
	subs := make([]*broadcastSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	b.sent.Add(1)
	for _, s := range subs {
		select {
		case s.ch <- batch:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcast) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats is a point-in-time snapshot of broadcast activity.
type Stats struct {
	Subscribers int
	Sent        uint64
	Dropped     uint64
}

// Snapshot returns the broadcast's current stats.
func (b *Broadcast) Snapshot() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Subscribers: len(b.subs), Sent: b.sent.Load(), Dropped: b.dropped.Load()}
}

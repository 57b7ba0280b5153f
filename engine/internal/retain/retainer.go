// Package retain implements the bounded per-sink message retainer and the
// per-endpoint error-state coalescer (spec.md C6). The retainer's policy and
// stats shape is grounded on the teacher's engine/output/enhanced_sink.go
// (SinkPolicy/SinkStats); the drain-on-reconnect / reinsert-on-failed-send
// behaviour has no teacher analogue and is written fresh from spec.md §4.2
// and §4.6.
package retain

import (
	"context"
	"sync"

	"github.com/fieldmesh/core/engine/message"
)

// DropPolicy selects what a Retainer does when Push is called at capacity.
type DropPolicy int

const (
	// DropOldest discards the head of the FIFO to make room (default).
	DropOldest DropPolicy = iota
	// DropNewest discards the batch being pushed, keeping the FIFO unchanged.
	DropNewest
	// the value 2 is DropSpill, defined in spill.go; reserved here so the
	// two files don't need to agree on an iota offset.
	_
	// Block makes Push wait for Drain or Reclaim to free a slot instead of
	// discarding anything, per spec.md §3. The wait is released by a
	// concurrent call to Drain/Reclaim on another goroutine; a caller that
	// only ever pushes and drains from the same goroutine (the current sink
	// Session event loop in engine/internal/endpoint/session.go) must not
	// select Block, since nothing would ever free a slot to wake it — Push
	// would block until ctx is done and then fall back to DropOldest.
	Block
)

// DefaultCapacity is the retainer's default bound per spec.md §3.
const DefaultCapacity = 1024

// Retainer is a bounded FIFO of message.Batch belonging to a single sink
// endpoint, used to absorb batches while the sink's remote peer is
// unreachable. Safe for concurrent use.
type Retainer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []*message.Batch
	capacity int
	policy   DropPolicy

	pushed  int64
	dropped int64
	blocked int64

	spillDir string
	spilled  []string
}

// New builds a Retainer with the given capacity and drop policy. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int, policy DropPolicy) *Retainer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Retainer{buf: make([]*message.Batch, 0, capacity), capacity: capacity, policy: policy}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push enqueues b, applying the drop policy if the retainer is at capacity.
// Under Block it instead waits for a slot to free, waking on every Drain or
// Reclaim call; ctx cancellation ends the wait and falls back to DropOldest
// so a shutting-down caller is never stuck forever.
func (r *Retainer) Push(ctx context.Context, b *message.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed++
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, b)
		return
	}
	if r.policy == Block {
		if r.waitForSpaceLocked(ctx) {
			r.buf = append(r.buf, b)
			return
		}
		// ctx was cancelled before a slot freed; degrade to DropOldest
		// rather than leak the batch or block forever.
	}
	switch r.policy {
	case DropNewest:
		r.dropped++
		return
	case DropSpill:
		r.dropped++
		r.spill(r.buf[0])
		copy(r.buf, r.buf[1:])
		r.buf[len(r.buf)-1] = b
	default: // DropOldest, Block (after ctx cancellation)
		r.dropped++
		copy(r.buf, r.buf[1:])
		r.buf[len(r.buf)-1] = b
	}
}

// waitForSpaceLocked blocks, with r.mu held, until len(r.buf) < r.capacity or
// ctx is done, returning whether a slot became available. The caller must
// hold r.mu on entry; it is released and re-acquired across the wait.
func (r *Retainer) waitForSpaceLocked(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	cancelled := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			close(cancelled)
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-done:
		}
	}()
	r.blocked++
	for len(r.buf) >= r.capacity {
		select {
		case <-cancelled:
			close(done)
			r.blocked--
			return false
		default:
		}
		r.cond.Wait()
	}
	close(done)
	r.blocked--
	return true
}

// Len returns the number of batches currently retained.
func (r *Retainer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Stats is a point-in-time snapshot of retainer activity.
type Stats struct {
	Len      int
	Capacity int
	Policy   DropPolicy
	Pushed   int64
	Dropped  int64
	// Blocked counts goroutines currently parked in Push under Block policy.
	Blocked int64
}

// Snapshot returns the retainer's current stats.
func (r *Retainer) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Len: len(r.buf), Capacity: r.capacity, Policy: r.policy, Pushed: r.pushed, Dropped: r.dropped, Blocked: r.blocked}
}

// Sender is the minimal send contract Drain needs from a sink's outbound
// channel, kept narrow so callers can pass a plain chan wrapper without
// importing the endpoint package (which would create an import cycle).
type Sender interface {
	// TrySend attempts to hand off b without blocking past ok=false; an
	// implementation backed by a real transport publish call may block for
	// the duration of one network round trip but must not block forever.
	TrySend(b *message.Batch) (ok bool)
}

// Drain pops batches in FIFO order and hands them to send until the
// retainer is empty or send reports failure, in which case the batch that
// failed is reinserted at the head and Drain stops (per spec.md §4.6: "pops
// in order and forwards until empty or the send fails, then reinserts at
// head"). Drain returns the number of batches successfully delivered.
func (r *Retainer) Drain(send Sender) int {
	delivered := 0
	for {
		r.mu.Lock()
		if len(r.buf) == 0 {
			r.mu.Unlock()
			return delivered
		}
		next := r.buf[0]
		r.mu.Unlock()

		if !send.TrySend(next) {
			return delivered
		}

		r.mu.Lock()
		if len(r.buf) > 0 && r.buf[0] == next {
			r.buf = r.buf[1:]
		}
		r.cond.Broadcast()
		r.mu.Unlock()
		delivered++
	}
}

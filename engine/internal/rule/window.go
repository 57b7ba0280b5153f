package rule

import (
	"sync"
	"time"

	"github.com/fieldmesh/core/engine/internal/clock"
	"github.com/fieldmesh/core/engine/message"
)

// WindowPolicy selects how a Window node buffers batches before emitting a
// combined batch on close, per spec.md §4.3.
type WindowPolicy struct {
	Kind   WindowKind
	Period time.Duration // Tumbling/Sliding duration
	Step   time.Duration // Sliding step; ignored otherwise
	Count  int           // Count policy size
}

type WindowKind int

const (
	Tumbling WindowKind = iota
	Sliding
	Count
)

// Window buffers incoming batches per WindowPolicy and emits a single
// combined batch when the window closes. Each rule segment owns one Window
// instance; it is the "optional rolling window buffer owned by the function
// instance" spec.md §4.4 allows as the sole exception to statelessness.
type Window struct {
	policy WindowPolicy
	clock  clock.Clock

	mu      sync.Mutex
	pending []*message.Batch
	opened  time.Time
}

// NewWindow constructs a Window task for policy.
func NewWindow(policy WindowPolicy, ck clock.Clock) *Window {
	if ck == nil {
		ck = clock.Real()
	}
	return &Window{policy: policy, clock: ck, opened: ck.Now()}
}

// Add appends an incoming batch to the window. For Count policy it reports
// whether the window should close (len == Count); for Tumbling/Sliding, the
// caller's own ticker decides when to call Close.
func (w *Window) Add(b *message.Batch) (shouldClose bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, b)
	if w.policy.Kind == Count && w.policy.Count > 0 {
		return len(w.pending) >= w.policy.Count
	}
	return false
}

// Close drains the buffered batches into one combined batch (messages
// concatenated in arrival order, timestamp set to the close time) and
// resets the window for its next period. For Sliding windows, only the
// batches older than Period-Step are dropped rather than the whole buffer,
// so overlapping data carries into the next window.
func (w *Window) Close() *message.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	combined := message.NewBatch("window", uint64(now.UnixMilli()))
	for _, b := range w.pending {
		combined.Messages = append(combined.Messages, b.Messages...)
	}
	switch w.policy.Kind {
	case Sliding:
		keepFrom := now.Add(-(w.policy.Period - w.policy.Step))
		kept := w.pending[:0]
		for _, b := range w.pending {
			if time.UnixMilli(int64(b.Timestamp)).After(keepFrom) {
				kept = append(kept, b)
			}
		}
		w.pending = kept
	default:
		w.pending = nil
	}
	w.opened = now
	return combined
}

// Opened returns when the current window period began, for a caller's
// ticker to compute the next close deadline.
func (w *Window) Opened() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened
}

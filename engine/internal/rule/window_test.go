package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/message"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time        { return f.now }
func (f *fakeClock) Sleep(d time.Duration) { f.now = f.now.Add(d) }
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.now = f.now.Add(d)
	ch <- f.now
	return ch
}

func newBatchAt(name string, ts time.Time) *message.Batch {
	b := message.NewBatch(name, uint64(ts.UnixMilli()))
	b.Append(message.NewMessage(message.NewObject()))
	return b
}

func TestWindowCountPolicyClosesAtThreshold(t *testing.T) {
	ck := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(WindowPolicy{Kind: Count, Count: 3}, ck)

	assert.False(t, w.Add(newBatchAt("a", ck.Now())))
	assert.False(t, w.Add(newBatchAt("b", ck.Now())))
	assert.True(t, w.Add(newBatchAt("c", ck.Now())))
}

func TestWindowTumblingCombinesAndResets(t *testing.T) {
	ck := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(WindowPolicy{Kind: Tumbling, Period: time.Second}, ck)

	w.Add(newBatchAt("a", ck.Now()))
	w.Add(newBatchAt("b", ck.Now()))

	combined := w.Close()
	require.Len(t, combined.Messages, 2)

	// Tumbling resets the whole buffer; the next close has nothing pending.
	empty := w.Close()
	assert.Len(t, empty.Messages, 0)
}

func TestWindowSlidingKeepsRecentBatches(t *testing.T) {
	ck := &fakeClock{now: time.Unix(100, 0)}
	w := NewWindow(WindowPolicy{Kind: Sliding, Period: 10 * time.Second, Step: 2 * time.Second}, ck)

	old := newBatchAt("old", ck.now.Add(-9*time.Second))
	recent := newBatchAt("recent", ck.now.Add(-1*time.Second))
	w.Add(old)
	w.Add(recent)

	combined := w.Close()
	require.Len(t, combined.Messages, 2, "both batches are included in the closing combined batch")

	// keepFrom = now - (Period - Step) = now - 8s; only "recent" survives
	// into the next window's pending buffer.
	next := w.Close()
	assert.Len(t, next.Messages, 1)
}

func TestWindowOpenedTracksLastClose(t *testing.T) {
	ck := &fakeClock{now: time.Unix(0, 0)}
	w := NewWindow(WindowPolicy{Kind: Tumbling, Period: time.Second}, ck)
	before := w.Opened()

	ck.now = ck.now.Add(5 * time.Second)
	w.Close()

	assert.True(t, w.Opened().After(before))
}

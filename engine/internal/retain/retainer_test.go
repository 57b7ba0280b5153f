package retain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/message"
)

func TestRetainerDropOldestEvictsHead(t *testing.T) {
	r := New(2, DropOldest)
	r.Push(context.Background(), message.NewBatch("a", 1))
	r.Push(context.Background(), message.NewBatch("b", 2))
	r.Push(context.Background(), message.NewBatch("c", 3))

	assert.Equal(t, 2, r.Len())
	stats := r.Snapshot()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(3), stats.Pushed)
}

func TestRetainerDropNewestKeepsBufferUnchanged(t *testing.T) {
	r := New(1, DropNewest)
	r.Push(context.Background(), message.NewBatch("a", 1))
	r.Push(context.Background(), message.NewBatch("b", 2))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), r.Snapshot().Dropped)
}

func TestRetainerBlockWaitsUntilDrainFreesASlot(t *testing.T) {
	r := New(1, Block)
	r.Push(context.Background(), message.NewBatch("a", 1))
	require.Equal(t, 1, r.Len())

	pushed := make(chan struct{})
	go func() {
		r.Push(context.Background(), message.NewBatch("b", 2))
		close(pushed)
	}()

	// Give the blocked Push time to actually park in the wait loop rather
	// than racing Drain below.
	require.Eventually(t, func() bool {
		return r.Snapshot().Blocked == 1
	}, time.Second, time.Millisecond)

	select {
	case <-pushed:
		t.Fatal("Push returned before any slot was freed")
	default:
	}

	delivered := r.Drain(&fakeSender{})
	assert.Equal(t, 1, delivered)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after Drain freed a slot")
	}

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(0), r.Snapshot().Dropped)
}

func TestRetainerBlockFallsBackToDropOldestOnContextCancel(t *testing.T) {
	r := New(1, Block)
	r.Push(context.Background(), message.NewBatch("a", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Push(ctx, message.NewBatch("b", 2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push did not return after its context was cancelled")
	}

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), r.Snapshot().Dropped)
}

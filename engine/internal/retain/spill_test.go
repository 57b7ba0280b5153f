package retain

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/message"
)

func TestRetainerDropSpill(t *testing.T) {
	t.Run("evicted_batch_is_written_to_spill_dir", func(t *testing.T) {
		dir := t.TempDir()
		r := New(2, DropSpill)
		require.NoError(t, r.SetSpillDir(dir))

		r.Push(context.Background(), message.NewBatch("a", 1))
		r.Push(context.Background(), message.NewBatch("b", 2))
		// Retainer is at capacity; pushing a third batch evicts "a" to disk
		// instead of discarding it.
		r.Push(context.Background(), message.NewBatch("c", 3))

		assert.Equal(t, 2, r.Len())
		assert.Equal(t, 1, r.SpilledCount())

		entries, err := filepath.Glob(filepath.Join(dir, "spill-*.json"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("no_spill_dir_behaves_like_drop_oldest", func(t *testing.T) {
		r := New(1, DropSpill)
		r.Push(context.Background(), message.NewBatch("a", 1))
		r.Push(context.Background(), message.NewBatch("b", 2))

		assert.Equal(t, 1, r.Len())
		assert.Equal(t, int64(1), r.Snapshot().Dropped)
		assert.Equal(t, 0, r.SpilledCount())
	})

	t.Run("reclaim_restores_spilled_batch_once_capacity_frees", func(t *testing.T) {
		dir := t.TempDir()
		r := New(1, DropSpill)
		require.NoError(t, r.SetSpillDir(dir))

		r.Push(context.Background(), message.NewBatch("a", 1))
		r.Push(context.Background(), message.NewBatch("b", 2)) // evicts "a" to disk
		require.Equal(t, 1, r.SpilledCount())

		sender := &fakeSender{fail: true}
		delivered := r.Drain(sender)
		assert.Equal(t, 0, delivered)

		// Free up the slot by draining successfully, then reclaim.
		sender.fail = false
		delivered = r.Drain(sender)
		assert.Equal(t, 1, delivered)
		assert.Equal(t, 0, r.Len())

		reclaimed := r.Reclaim(1)
		assert.Equal(t, 1, reclaimed)
		assert.Equal(t, 1, r.Len())
		assert.Equal(t, 0, r.SpilledCount())
	})
}

type fakeSender struct{ fail bool }

func (f *fakeSender) TrySend(b *message.Batch) bool { return !f.fail }

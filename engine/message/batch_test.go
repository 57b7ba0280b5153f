package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchAppendAndClone(t *testing.T) {
	b := NewBatch("poll-1", 1000)
	b.Append(NewMessage(Object(map[string]Value{"temp": Float64(21.5)})))
	require.Equal(t, 1, b.Len())

	clone := b.Clone()
	clone.Append(NewMessage(NewObject()))

	assert.Equal(t, 1, b.Len(), "mutating the clone must not affect the original batch")
	assert.Equal(t, 2, clone.Len())
	assert.Equal(t, b.Name, clone.Name)
	assert.Equal(t, b.Timestamp, clone.Timestamp)
}

func TestRuleBatchOwnedVsShared(t *testing.T) {
	b := NewBatch("a", 1)

	owned := Owned(b)
	assert.True(t, owned.IsOwned())
	assert.False(t, owned.IsShared())

	shared := Shared(b)
	assert.True(t, shared.IsShared())
	assert.False(t, shared.IsOwned())
}

func TestRuleBatchToOwnedCopyOnWrite(t *testing.T) {
	b := NewBatch("a", 1)
	b.Append(NewMessage(NewObject()))

	shared := Shared(b)
	split := shared.ToOwned()
	require.True(t, split.IsOwned())

	split.Batch().Append(NewMessage(NewObject()))

	assert.Equal(t, 1, shared.Batch().Len(), "splitting a Shared batch must not mutate the original")
	assert.Equal(t, 2, split.Batch().Len())
}

func TestRuleBatchToOwnedNoopWhenAlreadyOwned(t *testing.T) {
	b := NewBatch("a", 1)
	owned := Owned(b)
	split := owned.ToOwned()
	assert.Same(t, b, split.Batch(), "ToOwned on an already-owned batch must not copy")
}

func TestForFanOut(t *testing.T) {
	b := NewBatch("a", 1)

	single := ForFanOut(b, 1)
	assert.True(t, single.IsOwned())

	multi := ForFanOut(b, 3)
	assert.True(t, multi.IsShared())

	zero := ForFanOut(b, 0)
	assert.True(t, zero.IsOwned())
}

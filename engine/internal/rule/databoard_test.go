package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldmesh/core/engine/message"
)

func TestDataboardRingGetReportsAbsence(t *testing.T) {
	ring := NewDataboardRing()
	_, ok := ring.Get(7)
	assert.False(t, ok)
	assert.Empty(t, ring.Boards())
}

func TestDataboardRingSetIsolatesLaterMutation(t *testing.T) {
	ring := NewDataboardRing()
	b := message.NewBatch("a", 1)
	b.Append(message.NewMessage(message.NewObject()))

	ring.set(3, b)

	// Mutating the original batch after set must not affect the recorded
	// snapshot, since the segment loop keeps mutating its owned batch after
	// passing a Databoard node.
	b.Append(message.NewMessage(message.NewObject()))

	got, ok := ring.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 1, got.Len())
	assert.ElementsMatch(t, []NodeIndex{3}, ring.Boards())
}

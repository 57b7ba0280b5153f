package rule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/message"
)

func TestMergeFansInAllInputsAndClosesOutput(t *testing.T) {
	a := make(chan message.RuleBatch, 1)
	b := make(chan message.RuleBatch, 1)
	a <- message.Owned(message.NewBatch("from-a", 1))
	b <- message.Owned(message.NewBatch("from-b", 2))
	close(a)
	close(b)

	m := NewMerge([]<-chan message.RuleBatch{a, b})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	seen := map[int]string{}
	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case tb, ok := <-m.Output():
			require.True(t, ok)
			seen[tb.Origin] = tb.Batch.Batch().Name
		case <-timeout:
			t.Fatal("timed out waiting for merged batch")
		}
	}
	assert.Equal(t, "from-a", seen[0])
	assert.Equal(t, "from-b", seen[1])

	select {
	case _, ok := <-m.Output():
		assert.False(t, ok, "output channel must close once all inputs close")
	case <-time.After(2 * time.Second):
		t.Fatal("output channel never closed")
	}
}

func TestMergeStopsOnContextCancel(t *testing.T) {
	in := make(chan message.RuleBatch)
	m := NewMerge([]<-chan message.RuleBatch{in})
	ctx, cancel := context.WithCancel(context.Background())
	m.Run(ctx)
	cancel()

	select {
	case _, ok := <-m.Output():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("output channel never closed after cancel")
	}
}

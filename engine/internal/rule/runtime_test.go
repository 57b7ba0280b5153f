package rule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/message"
)

type fakeBinder struct {
	sources map[id.ID]<-chan *message.Batch
}

func (f fakeBinder) SourceReceiver(epID id.ID) (<-chan *message.Batch, error) {
	return f.sources[epID], nil
}

func (f fakeBinder) SinkSender(epID id.ID) (chan<- message.RuleBatch, error) {
	return nil, nil
}

func TestRuntimeRecordsDataboardBatchesOnTheRing(t *testing.T) {
	srcEP := id.New()
	rx := make(chan *message.Batch, 1)

	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource, Endpoint: srcEP})
	g.AddNode(Node{Index: 1, Type: NodeDataboard})
	g.AddEdge(0, 1)
	require.NoError(t, g.Validate())

	rt, err := New(g, nil, nil, fakeBinder{sources: map[id.ID]<-chan *message.Batch{srcEP: rx}}, nil, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop()

	_, ok := rt.Boards().Get(1)
	assert.False(t, ok, "no batch recorded before the source emits anything")

	b := message.NewBatch("reading", 42)
	b.Append(message.NewMessage(message.NewObject()))
	rx <- b

	require.Eventually(t, func() bool {
		_, ok := rt.Boards().Get(1)
		return ok
	}, time.Second, time.Millisecond)

	got, ok := rt.Boards().Get(1)
	require.True(t, ok)
	assert.Equal(t, "reading", got.Name)
}

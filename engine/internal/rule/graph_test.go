package rule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/ferr"
)

func linearGraph() *Graph {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeFilter})
	g.AddNode(Node{Index: 2, Type: NodeSink})
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	return g
}

func TestGraphValidateAcceptsLinearGraph(t *testing.T) {
	require.NoError(t, linearGraph().Validate())
}

func TestGraphValidateRejectsSourceWithIncomingEdge(t *testing.T) {
	g := linearGraph()
	g.AddEdge(2, 0)
	err := g.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferr.ErrInvalidConf))
}

func TestGraphValidateRejectsTerminalWithOutgoingEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeSink})
	g.AddNode(Node{Index: 2, Type: NodeFilter})
	g.AddEdge(0, 1)
	g.AddEdge(1, 2) // sink with an outgoing edge
	assert.Error(t, g.Validate())
}

func TestGraphValidateRejectsMergeWithFewerThanTwoIncoming(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeMerge})
	g.AddNode(Node{Index: 2, Type: NodeSink})
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	assert.Error(t, g.Validate())
}

func TestGraphValidateAcceptsMergeWithTwoIncoming(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeSource})
	g.AddNode(Node{Index: 2, Type: NodeMerge})
	g.AddNode(Node{Index: 3, Type: NodeSink})
	g.AddEdge(0, 2)
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	require.NoError(t, g.Validate())
}

func TestGraphValidateRejectsWindowWithoutExactlyOneIncoming(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeSource})
	g.AddNode(Node{Index: 2, Type: NodeWindow})
	g.AddNode(Node{Index: 3, Type: NodeSink})
	g.AddEdge(0, 2)
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	assert.Error(t, g.Validate())
}

func TestGraphValidateRejectsWindowWithNoOutgoing(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeWindow})
	g.AddEdge(0, 1)
	assert.Error(t, g.Validate())
}

func TestGraphValidateRejectsCycle(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeComputer})
	g.AddNode(Node{Index: 1, Type: NodeComputer})
	g.AddEdge(0, 1)
	g.AddEdge(1, 0)
	assert.Error(t, g.Validate())
}

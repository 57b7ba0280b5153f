package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSegmentsLinearGraphIsOneSegment(t *testing.T) {
	segs, err := linearGraph().CompileSegments()
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, []NodeIndex{0, 1, 2}, segs[0].Nodes)
	assert.Equal(t, 0, segs[0].FanOut)
}

func TestCompileSegmentsSplitsAtMergeAndWindowBoundaries(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeSource})
	g.AddNode(Node{Index: 2, Type: NodeMerge})
	g.AddNode(Node{Index: 3, Type: NodeWindow})
	g.AddNode(Node{Index: 4, Type: NodeSink})
	g.AddEdge(0, 2)
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	g.AddEdge(3, 4)

	segs, err := g.CompileSegments()
	require.NoError(t, err)

	// Each boundary node (Merge, Window) is its own one-node segment; the
	// two sources and the sink each form their own single-node segments
	// too, since every non-boundary node here has fan-in/out breaking the
	// "exactly one predecessor/successor" chain condition at a boundary.
	var indices [][]NodeIndex
	for _, s := range segs {
		indices = append(indices, s.Nodes)
	}
	assert.Len(t, segs, 5)
	assert.Contains(t, indices, []NodeIndex{2})
	assert.Contains(t, indices, []NodeIndex{3})
}

func TestCompileSegmentsFanOutMatchesOutDegree(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeSource})
	g.AddNode(Node{Index: 1, Type: NodeComputer})
	g.AddNode(Node{Index: 2, Type: NodeSink})
	g.AddNode(Node{Index: 3, Type: NodeSink})
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(1, 3)

	segs, err := g.CompileSegments()
	require.NoError(t, err)

	for _, s := range segs {
		if s.Nodes[len(s.Nodes)-1] == 1 {
			assert.Equal(t, 2, s.FanOut)
		}
	}
}

func TestCompileSegmentsRejectsInvalidGraph(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{Index: 0, Type: NodeMerge})
	_, err := g.CompileSegments()
	assert.Error(t, err)
}

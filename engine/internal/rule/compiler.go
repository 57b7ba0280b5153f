package rule

import "sort"

// Segment is a maximal linear sub-sequence of nodes (spec.md §4.3): every
// non-head node has exactly one incoming edge within the segment, every
// non-tail node has exactly one outgoing edge within the segment, and no
// node is a Merge or Window (those are boundary nodes, each its own
// one-node segment). FanOut is the out-degree of the segment's tail node in
// the full graph — it decides whether the tail emits an Owned or Shared
// RuleMessageBatch (message.ForFanOut).
type Segment struct {
	Nodes  []NodeIndex
	FanOut int
}

// CompileSegments partitions a validated Graph into its segments in a
// deterministic order (ascending head NodeIndex), per spec.md §4.3.
func (g *Graph) CompileSegments() ([]Segment, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	inDeg := make(map[NodeIndex]int, len(g.Nodes))
	outDeg := make(map[NodeIndex]int, len(g.Nodes))
	for idx := range g.Nodes {
		inDeg[idx] = len(g.inEdges(idx))
		outDeg[idx] = len(g.outEdges(idx))
	}

	isBoundary := func(t NodeType) bool { return t == NodeMerge || t == NodeWindow }

	isHead := func(idx NodeIndex) bool {
		n := g.Nodes[idx]
		if isBoundary(n.Type) {
			return true
		}
		preds := g.inEdges(idx)
		if len(preds) != 1 {
			return true
		}
		pred := preds[0]
		if isBoundary(g.Nodes[pred].Type) {
			return true
		}
		return outDeg[pred] != 1
	}

	order := make([]NodeIndex, 0, len(g.Nodes))
	for idx := range g.Nodes {
		order = append(order, idx)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	visited := make(map[NodeIndex]bool, len(g.Nodes))
	var segments []Segment
	for _, idx := range order {
		if visited[idx] || !isHead(idx) {
			continue
		}
		seg := Segment{}
		cur := idx
		for {
			seg.Nodes = append(seg.Nodes, cur)
			visited[cur] = true
			curType := g.Nodes[cur].Type
			if isBoundary(curType) {
				break
			}
			if outDeg[cur] != 1 {
				break
			}
			next := g.outEdges(cur)[0]
			if isBoundary(g.Nodes[next].Type) {
				break
			}
			if inDeg[next] != 1 {
				break
			}
			cur = next
		}
		seg.FanOut = outDeg[seg.Nodes[len(seg.Nodes)-1]]
		segments = append(segments, seg)
	}
	return segments, nil
}

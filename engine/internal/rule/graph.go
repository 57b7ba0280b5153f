// Package rule implements the rule runtime (spec.md C4): parsing a node DAG,
// segmenting it into linear pipelines, wiring channels, spawning stage
// tasks, and propagating start/stop. The segment-task-over-channels shape is
// grounded on the teacher's internal/pipeline.Pipeline (discovery/
// extraction/processing/output worker stages joined by Go channels,
// sync.WaitGroup-tracked, context-cancelled).
package rule

import (
	"fmt"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/message"
)

// NodeType is one of the closed set of rule node kinds, per spec.md §3.
type NodeType int

const (
	NodeSource NodeType = iota
	NodeSink
	NodeComputer
	NodeMerge
	NodeWindow
	NodeFilter
	NodeAggregation
	NodeDataboard
	NodeLog
)

func (t NodeType) String() string {
	switch t {
	case NodeSource:
		return "Source"
	case NodeSink:
		return "Sink"
	case NodeComputer:
		return "Computer"
	case NodeMerge:
		return "Merge"
	case NodeWindow:
		return "Window"
	case NodeFilter:
		return "Filter"
	case NodeAggregation:
		return "Aggregation"
	case NodeDataboard:
		return "Databoard"
	case NodeLog:
		return "Log"
	default:
		return "Unknown"
	}
}

// NodeIndex identifies a node within one Graph.
type NodeIndex int

// Node is one vertex of the rule DAG.
type Node struct {
	Index    NodeIndex
	Type     NodeType
	Conf     message.Value
	Endpoint id.ID // populated for Source/Sink nodes only
}

// Edge is a directed edge (from, to) within one Graph.
type Edge struct {
	From, To NodeIndex
}

// Graph is the rule node DAG of spec.md §3.
type Graph struct {
	Nodes map[NodeIndex]Node
	Edges []Edge
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[NodeIndex]Node)}
}

// AddNode inserts n, keyed by n.Index.
func (g *Graph) AddNode(n Node) { g.Nodes[n.Index] = n }

// AddEdge inserts a directed edge from → to.
func (g *Graph) AddEdge(from, to NodeIndex) { g.Edges = append(g.Edges, Edge{From: from, To: to}) }

func (g *Graph) outEdges(n NodeIndex) []NodeIndex {
	var out []NodeIndex
	for _, e := range g.Edges {
		if e.From == n {
			out = append(out, e.To)
		}
	}
	return out
}

func (g *Graph) inEdges(n NodeIndex) []NodeIndex {
	var in []NodeIndex
	for _, e := range g.Edges {
		if e.To == n {
			in = append(in, e.From)
		}
	}
	return in
}

// Validate checks the invariants of spec.md §3: acyclic; every Source has
// zero incoming edges; every Sink/Log/Databoard has zero outgoing edges;
// every Merge has ≥ 2 incoming; every Window has exactly 1 incoming and
// ≥ 1 outgoing.
func (g *Graph) Validate() error {
	for idx, n := range g.Nodes {
		in := len(g.inEdges(idx))
		out := len(g.outEdges(idx))
		switch n.Type {
		case NodeSource:
			if in != 0 {
				return ferr.NewInvalidConf("graph", fmt.Sprintf("source node %d has incoming edges", idx))
			}
		case NodeSink, NodeLog, NodeDataboard:
			if out != 0 {
				return ferr.NewInvalidConf("graph", fmt.Sprintf("terminal node %d has outgoing edges", idx))
			}
		case NodeMerge:
			if in < 2 {
				return ferr.NewInvalidConf("graph", fmt.Sprintf("merge node %d has fewer than 2 incoming edges", idx))
			}
		case NodeWindow:
			if in != 1 {
				return ferr.NewInvalidConf("graph", fmt.Sprintf("window node %d must have exactly 1 incoming edge", idx))
			}
			if out < 1 {
				return ferr.NewInvalidConf("graph", fmt.Sprintf("window node %d must have at least 1 outgoing edge", idx))
			}
		}
	}
	if g.hasCycle() {
		return ferr.NewInvalidConf("graph", "graph contains a cycle")
	}
	return nil
}

func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeIndex]int, len(g.Nodes))
	var visit func(n NodeIndex) bool
	visit = func(n NodeIndex) bool {
		color[n] = gray
		for _, next := range g.outEdges(n) {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for idx := range g.Nodes {
		if color[idx] == white {
			if visit(idx) {
				return true
			}
		}
	}
	return false
}

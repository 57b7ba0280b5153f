package engine

import (
	"context"
	"time"

	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/internal/rule"
	"github.com/fieldmesh/core/engine/message"
)

// The types below mirror engine/internal/rule's Graph/Node/WindowPolicy
// shapes field-for-field, existing only so a caller outside this module's
// own package tree (cmd/fieldmeshd, or any external embedder) can describe a
// rule graph without naming an internal/rule type directly — the same
// "tagged variant at the boundary" reason TagConf/TagEndpointConf exist.

// NodeIndex identifies a node within one RuleSpec.
type NodeIndex int

// NodeType is the closed set of rule node kinds, mirroring rule.NodeType.
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

// Node is one vertex of a RuleSpec's DAG.
type Node struct {
	Index    NodeIndex
	Type     NodeType
	Conf     message.Value
	Endpoint id.ID // populated for Source/Sink nodes only
}

// Edge is a directed edge within one RuleSpec.
type Edge struct {
	From, To NodeIndex
}

// RuleSpec is the public, JSON-friendly description of a rule graph.
type RuleSpec struct {
	Nodes []Node
	Edges []Edge
}

// Transform is the function signature a Computer/Filter/Aggregation/Log/
// Databoard node runs: mutate batch in place, return false to drop it.
type Transform func(batch *message.Batch) bool

// WindowKind selects how a Window node buffers batches, mirroring
// rule.WindowKind.
type WindowKind int

const (
	Tumbling WindowKind = iota
	Sliding
	Count
)

// WindowPolicy configures one Window node, mirroring rule.WindowPolicy.
type WindowPolicy struct {
	Kind   WindowKind
	Period time.Duration
	Step   time.Duration
	Count  int
}

func toInternalNodeType(t NodeType) rule.NodeType {
	switch t {
	case NodeSource:
		return rule.NodeSource
	case NodeSink:
		return rule.NodeSink
	case NodeComputer:
		return rule.NodeComputer
	case NodeMerge:
		return rule.NodeMerge
	case NodeWindow:
		return rule.NodeWindow
	case NodeFilter:
		return rule.NodeFilter
	case NodeAggregation:
		return rule.NodeAggregation
	case NodeDataboard:
		return rule.NodeDataboard
	case NodeLog:
		return rule.NodeLog
	default:
		return rule.NodeType(-1)
	}
}

func toInternalWindowKind(k WindowKind) rule.WindowKind {
	switch k {
	case Sliding:
		return rule.Sliding
	case Count:
		return rule.Count
	default:
		return rule.Tumbling
	}
}

func toInternalGraph(spec RuleSpec) *rule.Graph {
	g := rule.NewGraph()
	for _, n := range spec.Nodes {
		g.AddNode(rule.Node{
			Index:    rule.NodeIndex(n.Index),
			Type:     toInternalNodeType(n.Type),
			Conf:     n.Conf,
			Endpoint: n.Endpoint,
		})
	}
	for _, e := range spec.Edges {
		g.AddEdge(rule.NodeIndex(e.From), rule.NodeIndex(e.To))
	}
	return g
}

// transformAdapter lets a Transform func literal satisfy rule.Function.
type transformAdapter Transform

func (f transformAdapter) Call(batch *message.Batch) bool { return f(batch) }

func toInternalFunctions(functions map[NodeIndex]Transform) rule.NodeFunctions {
	out := make(rule.NodeFunctions, len(functions))
	for idx, fn := range functions {
		out[rule.NodeIndex(idx)] = transformAdapter(fn)
	}
	return out
}

func toInternalWindows(windows map[NodeIndex]WindowPolicy) rule.WindowPolicies {
	out := make(rule.WindowPolicies, len(windows))
	for idx, w := range windows {
		out[rule.NodeIndex(idx)] = rule.WindowPolicy{
			Kind:   toInternalWindowKind(w.Kind),
			Period: w.Period,
			Step:   w.Step,
			Count:  w.Count,
		}
	}
	return out
}

// CreateRuleFromSpec is CreateRule's public-DTO counterpart: spec, functions
// and windows are built entirely from exported types, so a caller outside
// this module's package tree (which cannot name rule.Graph, rule.Function or
// rule.WindowPolicy) can still declare a rule graph.
func (e *Engine) CreateRuleFromSpec(ctx context.Context, ruleID id.ID, name string, spec RuleSpec, functions map[NodeIndex]Transform, windows map[NodeIndex]WindowPolicy) (id.ID, error) {
	graph := toInternalGraph(spec)
	return e.CreateRule(ctx, ruleID, name, graph, toInternalFunctions(functions), toInternalWindows(windows))
}

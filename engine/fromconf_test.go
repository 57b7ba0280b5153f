package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/internal/rule"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/storage/memstore"
	"github.com/fieldmesh/core/engine/telemetry/logging"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := memstore.Open("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	events, err := memstore.OpenEventSink("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })
	eng, err := New(Defaults(), store, events, logging.New(nil))
	require.NoError(t, err)
	return eng
}

func TestCreateDeviceFromConf(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	t.Run("accepts_a_kind_tagged_conf", func(t *testing.T) {
		conf := TagConf(device.KindHTTP, message.Object(map[string]message.Value{
			"URL": message.String("http://example.invalid/poll"),
		}))
		resID, err := eng.CreateDeviceFromConf(ctx, id.Nil, "poller", conf)
		require.NoError(t, err)
		assert.False(t, resID.IsNil())
	})

	t.Run("rejects_an_untagged_conf", func(t *testing.T) {
		conf := message.Object(map[string]message.Value{"URL": message.String("http://example.invalid")})
		_, err := eng.CreateDeviceFromConf(ctx, id.Nil, "poller", conf)
		assert.Error(t, err)
	})
}

func TestCreateEndpointFromConf(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	devConf := TagConf(device.KindLog, message.Object(nil))
	resID, err := eng.CreateAppFromConf(ctx, id.Nil, "logger-app", devConf)
	require.NoError(t, err)

	epConf := TagEndpointConf(device.KindLog, endpoint.RoleSink, message.Object(nil))
	require.NoError(t, eng.CreateEndpointFromConf(ctx, resID, id.New(), epConf))
}

func TestCreateRuleFromSpec(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	srcRes, err := eng.CreateDeviceFromConf(ctx, id.Nil, "src-dev", TagConf(device.KindHTTP, message.Object(map[string]message.Value{
		"URL": message.String("http://example.invalid/poll"),
	})))
	require.NoError(t, err)
	srcEP := id.New()
	require.NoError(t, eng.CreateEndpointFromConf(ctx, srcRes, srcEP, TagEndpointConf(device.KindHTTP, endpoint.RoleSource, message.Object(map[string]message.Value{
		"URL": message.String("http://example.invalid/poll"),
	}))))

	sinkRes, err := eng.CreateAppFromConf(ctx, id.Nil, "sink-app", TagConf(device.KindLog, message.Object(nil)))
	require.NoError(t, err)
	sinkEP := id.New()
	require.NoError(t, eng.CreateEndpointFromConf(ctx, sinkRes, sinkEP, TagEndpointConf(device.KindLog, endpoint.RoleSink, message.Object(nil))))

	spec := RuleSpec{
		Nodes: []Node{
			{Index: 0, Type: NodeSource, Endpoint: srcEP},
			{Index: 1, Type: NodeFilter, Conf: message.Object(nil)},
			{Index: 2, Type: NodeSink, Endpoint: sinkEP},
		},
		Edges: []Edge{{From: 0, To: 1}, {From: 1, To: 2}},
	}
	functions := map[NodeIndex]Transform{
		1: func(batch *message.Batch) bool { return true },
	}

	ruleID, err := eng.CreateRuleFromSpec(ctx, id.Nil, "passthrough", spec, functions, nil)
	require.NoError(t, err)
	assert.False(t, ruleID.IsNil())
}

func TestToInternalGraphMapsNodesAndEdges(t *testing.T) {
	spec := RuleSpec{
		Nodes: []Node{
			{Index: 0, Type: NodeSource},
			{Index: 1, Type: NodeWindow, Conf: message.Object(nil)},
		},
		Edges: []Edge{{From: 0, To: 1}},
	}
	g := toInternalGraph(spec)
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, rule.NodeSource, g.Nodes[0].Type)
	assert.Equal(t, rule.NodeWindow, g.Nodes[1].Type)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, rule.NodeIndex(0), g.Edges[0].From)
	assert.Equal(t, rule.NodeIndex(1), g.Edges[0].To)
}

func TestToInternalWindowsMapsKind(t *testing.T) {
	windows := map[NodeIndex]WindowPolicy{
		0: {Kind: Sliding, Count: 5},
	}
	out := toInternalWindows(windows)
	assert.Equal(t, rule.Sliding, out[0].Kind)
	assert.Equal(t, 5, out[0].Count)
}

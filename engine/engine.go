package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/internal/endpoint/coap"
	"github.com/fieldmesh/core/engine/internal/endpoint/httpep"
	"github.com/fieldmesh/core/engine/internal/endpoint/influx"
	"github.com/fieldmesh/core/engine/internal/endpoint/kafka"
	"github.com/fieldmesh/core/engine/internal/endpoint/logep"
	"github.com/fieldmesh/core/engine/internal/endpoint/modbus"
	"github.com/fieldmesh/core/engine/internal/endpoint/mqtt"
	"github.com/fieldmesh/core/engine/internal/endpoint/opcua"
	"github.com/fieldmesh/core/engine/internal/endpoint/websocket"
	"github.com/fieldmesh/core/engine/internal/registry"
	"github.com/fieldmesh/core/engine/internal/rule"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/storage"
	"github.com/fieldmesh/core/engine/telemetry/logging"
	intmetrics "github.com/fieldmesh/core/engine/telemetry/metrics"
	"github.com/fieldmesh/core/engine/telemetry/tracing"
)

// Engine is the top-level facade composing C2-C7: it owns the process-wide
// reference registry (spec.md §9's "single-instance actor"), one
// device.Manager per device/app resource, one rule.Runtime per rule, and
// the storage/event collaborators. The admin HTTP surface of spec.md §6 is
// a thin collaborator over these methods, not part of this package.
type Engine struct {
	cfg    Config
	store  storage.Store
	events storage.EventSink
	log    logging.Logger
	tracer tracing.Tracer

	metricsProvider intmetrics.Provider

	registry *registry.Registry

	mu        sync.RWMutex
	resources map[id.ID]*managedResource
	owners    map[id.ID]id.ID // child endpoint id -> owning resource id
	rules     map[id.ID]*managedRule

	startedAt time.Time
}

type managedResource struct {
	manager *device.Manager
	kind    device.Kind
	resType storage.ResourceType
	name    string
}

type managedRule struct {
	runtime *rule.Runtime
	graph   *rule.Graph
	name    string
}

// New constructs an Engine around the given storage and event collaborators.
// A nil events sink defaults to storage.NoopEventSink, matching the teacher's
// convention of never requiring callers to nil-check an optional telemetry
// dependency.
func New(cfg Config, store storage.Store, events storage.EventSink, log logging.Logger) (*Engine, error) {
	if store == nil {
		return nil, ferr.NewInvalidConf("store", "must not be nil")
	}
	if events == nil {
		events = storage.NoopEventSink{}
	}
	if log == nil {
		log = logging.New(nil)
	}
	e := &Engine{
		cfg:             cfg,
		store:           store,
		events:          events,
		log:             log,
		metricsProvider: selectMetricsProvider(cfg.Telemetry),
		tracer:          tracing.NewTracer(cfg.Telemetry.EnableTracing),
		registry:        registry.New(),
		resources:       make(map[id.ID]*managedResource),
		owners:          make(map[id.ID]id.ID),
		rules:           make(map[id.ID]*managedRule),
		startedAt:       time.Now(),
	}
	return e, nil
}

// selectMetricsProvider returns a metrics.Provider per cfg.Telemetry,
// following the teacher's engine/config.go backend-selection switch.
func selectMetricsProvider(t TelemetryOptions) intmetrics.Provider {
	if !t.EnableMetrics {
		return intmetrics.NewNoopProvider()
	}
	switch t.MetricsBackend {
	case "", "prom", "prometheus":
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	case "otel":
		return intmetrics.NewOTelProvider(intmetrics.OTelProviderOptions{})
	case "noop":
		return intmetrics.NewNoopProvider()
	default:
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	}
}

// MetricsProvider exposes the configured metrics.Provider for collaborators
// (e.g. the admin HTTP surface's /metrics handler) that need to register
// their own instruments against the same backend.
func (e *Engine) MetricsProvider() intmetrics.Provider { return e.metricsProvider }

// Bootstrap re-creates every device/app resource from storage, not started
// (its manager is in state Configured, not Stopped), and auto-starts those
// whose persisted status is "running". Child endpoints and rules are not
// re-created.
func (e *Engine) Bootstrap(ctx context.Context) error {
	for _, rt := range []storage.ResourceType{storage.ResourceDevice, storage.ResourceApp} {
		recs, err := e.store.List(ctx, rt)
		if err != nil {
			return fmt.Errorf("list %s resources: %w", rt, err)
		}
		for _, rec := range recs {
			if _, err := e.recreateResource(rec); err != nil {
				e.log.ErrorCtx(ctx, "failed to recreate resource from storage", "id", rec.ID.String(), "error", err.Error())
				continue
			}
			if rec.Status == endpoint.Running.String() {
				if err := e.StartResource(ctx, rec.ID); err != nil {
					e.log.ErrorCtx(ctx, "failed to auto-start resource", "id", rec.ID.String(), "error", err.Error())
				}
			}
		}
	}
	return nil
}

func (e *Engine) recreateResource(rec storage.Record) (*managedResource, error) {
	kind, connector, err := decodeResourceConnector(rec.Conf)
	if err != nil {
		return nil, err
	}
	return e.registerResource(rec.ID, rec.Type, kind, connector, rec.Name)
}

// CreateDevice registers a new south-bound device resource (spec.md §9's
// closed Modbus/OPC-UA/CoAP enum, plus any source-only protocol), persists
// its declared configuration, and emits a Create event. conf should be
// wrapped with TagConf(kind, ...) so Bootstrap can recover kind later.
func (e *Engine) CreateDevice(ctx context.Context, resID id.ID, kind device.Kind, connector device.Connector, name string, conf message.Value) (id.ID, error) {
	return e.createResource(ctx, storage.ResourceDevice, resID, kind, connector, name, conf)
}

// CreateApp registers a new north-bound app resource (MQTT/HTTP/Kafka/
// InfluxDB/log/websocket sinks, or an HTTP polling source).
func (e *Engine) CreateApp(ctx context.Context, resID id.ID, kind device.Kind, connector device.Connector, name string, conf message.Value) (id.ID, error) {
	return e.createResource(ctx, storage.ResourceApp, resID, kind, connector, name, conf)
}

func (e *Engine) createResource(ctx context.Context, resType storage.ResourceType, resID id.ID, kind device.Kind, connector device.Connector, name string, conf message.Value) (id.ID, error) {
	if resID.IsNil() {
		resID = id.New()
	}
	if _, err := e.registerResource(resID, resType, kind, connector, name); err != nil {
		return id.Nil, err
	}
	rec := storage.Record{ID: resID, Type: resType, Name: name, Conf: conf, Status: endpoint.Configured.String()}
	if err := e.store.Insert(ctx, rec); err != nil {
		e.mu.Lock()
		delete(e.resources, resID)
		e.mu.Unlock()
		return id.Nil, err
	}
	e.emit(ctx, resType, resID, storage.EventCreate, "")
	return resID, nil
}

func (e *Engine) registerResource(resID id.ID, resType storage.ResourceType, kind device.Kind, connector device.Connector, name string) (*managedResource, error) {
	mgr, err := device.New(device.Options{
		ID:               resID,
		Kind:             kind,
		Connector:        connector,
		DriverFactory:    driverFactoryFor(kind),
		Registry:         e.registry,
		Log:              e.log,
		RetainerCapacity: e.cfg.Retainer.Capacity,
		RetainerPolicy:   e.cfg.Retainer.DropPolicy(),
		RetainerSpillDir: e.cfg.Retainer.SpillDir,
		Metrics:          e.metricsProvider,
		Tracer:           e.tracer,
	})
	if err != nil {
		return nil, err
	}
	mr := &managedResource{manager: mgr, kind: kind, resType: resType, name: name}
	e.mu.Lock()
	e.resources[resID] = mr
	e.mu.Unlock()
	return mr, nil
}

// CreateEndpoint adds a source or sink child endpoint to an existing
// device/app resource.
func (e *Engine) CreateEndpoint(ctx context.Context, resID, epID id.ID, role endpoint.Role, conf endpoint.Conf) error {
	mr, err := e.resourceOf(resID)
	if err != nil {
		return err
	}
	if _, err := mr.manager.CreateChild(device.ChildSpec{ID: epID, Conf: conf, Role: role}); err != nil {
		return err
	}
	e.mu.Lock()
	e.owners[epID] = resID
	e.mu.Unlock()
	return nil
}

// DeleteEndpoint removes a child endpoint, refusing while referenced by any
// rule per spec.md §8 invariant 1.
func (e *Engine) DeleteEndpoint(ctx context.Context, resID, epID id.ID) error {
	mr, err := e.resourceOf(resID)
	if err != nil {
		return err
	}
	if err := mr.manager.DeleteChild(epID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.owners, epID)
	e.mu.Unlock()
	return nil
}

func (e *Engine) resourceOf(resID id.ID) (*managedResource, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	mr, ok := e.resources[resID]
	if !ok {
		return nil, ferr.NewNotFound("resource", resID.String())
	}
	return mr, nil
}

// StartResource starts a device/app resource and persists its new status.
func (e *Engine) StartResource(ctx context.Context, resID id.ID) error {
	mr, err := e.resourceOf(resID)
	if err != nil {
		return err
	}
	if err := mr.manager.Start(ctx); err != nil {
		e.emit(ctx, mr.resType, resID, storage.EventConnectFail, err.Error())
		return err
	}
	_ = e.store.SetStatus(ctx, mr.resType, resID, endpoint.Running.String())
	e.emit(ctx, mr.resType, resID, storage.EventStart, "")
	return nil
}

// StopResource stops a device/app resource, refusing while any of its
// endpoints carries an active reference per spec.md §8 invariant 2 (enforced
// inside device.Manager/registry for each child; StopResource simply
// surfaces whatever error the manager returns).
func (e *Engine) StopResource(ctx context.Context, resID id.ID) error {
	mr, err := e.resourceOf(resID)
	if err != nil {
		return err
	}
	if err := mr.manager.Stop(); err != nil {
		return err
	}
	_ = e.store.SetStatus(ctx, mr.resType, resID, endpoint.Stopped.String())
	e.emit(ctx, mr.resType, resID, storage.EventStop, "")
	return nil
}

// DeleteResource deletes a stopped device/app resource with no referenced
// endpoints, and removes it from storage.
func (e *Engine) DeleteResource(ctx context.Context, resID id.ID) error {
	mr, err := e.resourceOf(resID)
	if err != nil {
		return err
	}
	if err := mr.manager.Delete(); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, mr.resType, resID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.resources, resID)
	for ep, owner := range e.owners {
		if owner == resID {
			delete(e.owners, ep)
		}
	}
	e.mu.Unlock()
	e.emit(ctx, mr.resType, resID, storage.EventDelete, "")
	return nil
}

// CreateDeviceFromConf registers a device resource whose kind and connector
// are inferred from a TagConf-tagged conf value rather than supplied
// directly. This is the entrypoint an external caller (the admin HTTP
// surface, or any embedder outside this module's own package tree) uses: it
// never sees a device.Kind or device.Connector value, only JSON-shaped
// message.Value, because those are internal package types.
func (e *Engine) CreateDeviceFromConf(ctx context.Context, resID id.ID, name string, conf message.Value) (id.ID, error) {
	kind, connector, err := decodeResourceConnector(conf)
	if err != nil {
		return id.Nil, err
	}
	return e.createResource(ctx, storage.ResourceDevice, resID, kind, connector, name, conf)
}

// CreateAppFromConf is CreateDeviceFromConf's app-resource counterpart.
func (e *Engine) CreateAppFromConf(ctx context.Context, resID id.ID, name string, conf message.Value) (id.ID, error) {
	kind, connector, err := decodeResourceConnector(conf)
	if err != nil {
		return id.Nil, err
	}
	return e.createResource(ctx, storage.ResourceApp, resID, kind, connector, name, conf)
}

// CreateEndpointFromConf is CreateEndpoint's JSON-conf counterpart: conf must
// be tagged with both "kind" (TagConf) and "role" ("source" or "sink"), e.g.
// via TagEndpointConf.
func (e *Engine) CreateEndpointFromConf(ctx context.Context, resID, epID id.ID, conf message.Value) error {
	role, epConf, err := decodeEndpointConf(conf)
	if err != nil {
		return err
	}
	return e.CreateEndpoint(ctx, resID, epID, role, epConf)
}

// CreateResourceFromTemplate copies a stored baseline configuration
// (storage.Store.ReadTemplate) and creates a new resource from it, letting
// the caller override the name before create — the "per-device templates"
// feature of SPEC_FULL.md §3. Implemented at the facade layer rather than
// inside device.Manager, which deliberately has no storage.Store dependency
// (same decoupling rationale as rule.EndpointBinder).
func (e *Engine) CreateResourceFromTemplate(ctx context.Context, resType storage.ResourceType, templateID, resID id.ID, name string) (id.ID, error) {
	tmpl, err := e.store.ReadTemplate(ctx, resType, templateID)
	if err != nil {
		return id.Nil, err
	}
	kind, connector, err := decodeResourceConnector(tmpl.Conf)
	if err != nil {
		return id.Nil, err
	}
	if name == "" {
		name = tmpl.Name
	}
	return e.createResource(ctx, resType, resID, kind, connector, name, tmpl.Conf)
}

// binder adapts one rule's endpoint lookups onto Engine's resource table,
// implementing rule.EndpointBinder without rule importing engine or device.
type binder struct {
	e      *Engine
	ruleID id.ID
}

func (b binder) SourceReceiver(epID id.ID) (<-chan *message.Batch, error) {
	mr, err := b.e.ownerOf(epID)
	if err != nil {
		return nil, err
	}
	return mr.manager.GetSourceRx(context.Background(), epID, b.ruleID)
}

func (b binder) SinkSender(epID id.ID) (chan<- message.RuleBatch, error) {
	mr, err := b.e.ownerOf(epID)
	if err != nil {
		return nil, err
	}
	return mr.manager.GetSinkTx(context.Background(), epID, b.ruleID)
}

func (e *Engine) ownerOf(epID id.ID) (*managedResource, error) {
	e.mu.RLock()
	resID, ok := e.owners[epID]
	e.mu.RUnlock()
	if !ok {
		return nil, ferr.NewNotFound("endpoint", epID.String())
	}
	return e.resourceOf(resID)
}

// CreateRule compiles graph into a rule.Runtime bound to this engine's
// resources, without starting it.
func (e *Engine) CreateRule(ctx context.Context, ruleID id.ID, name string, graph *rule.Graph, functions rule.NodeFunctions, windows rule.WindowPolicies) (id.ID, error) {
	if ruleID.IsNil() {
		ruleID = id.New()
	}
	if err := graph.Validate(); err != nil {
		return id.Nil, err
	}
	rt, err := rule.New(graph, functions, windows, binder{e: e, ruleID: ruleID}, e.log, ruleID.String(), e.metricsProvider)
	if err != nil {
		return id.Nil, err
	}
	// acquire inactive references for every Source/Sink endpoint this rule
	// names, so registry.CheckDeletable/CheckStoppable sees the dependency
	// immediately, even before the rule starts (spec.md §8 invariant 1/2).
	for _, n := range graph.Nodes {
		if n.Type == rule.NodeSource || n.Type == rule.NodeSink {
			mr, err := e.ownerOf(n.Endpoint)
			if err != nil {
				return id.Nil, err
			}
			if err := mr.manager.AddRef(ctx, n.Endpoint, ruleID, false); err != nil {
				return id.Nil, err
			}
		}
	}
	e.mu.Lock()
	e.rules[ruleID] = &managedRule{runtime: rt, graph: graph, name: name}
	e.mu.Unlock()
	rec := storage.Record{ID: ruleID, Type: storage.ResourceRule, Name: name, Status: endpoint.Configured.String()}
	if err := e.store.Insert(ctx, rec); err != nil {
		return id.Nil, err
	}
	e.emit(ctx, storage.ResourceRule, ruleID, storage.EventCreate, "")
	return ruleID, nil
}

func (e *Engine) ruleOf(ruleID id.ID) (*managedRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	mr, ok := e.rules[ruleID]
	if !ok {
		return nil, ferr.NewNotFound("rule", ruleID.String())
	}
	return mr, nil
}

// StartRule starts every segment/boundary task of a compiled rule.
func (e *Engine) StartRule(ctx context.Context, ruleID id.ID) error {
	ctx, span := e.tracer.StartSpan(ctx, "rule.start")
	defer span.End()
	span.SetAttribute("rule_id", ruleID.String())
	mr, err := e.ruleOf(ruleID)
	if err != nil {
		return err
	}
	if err := mr.runtime.Start(ctx); err != nil {
		return err
	}
	for _, n := range mr.graph.Nodes {
		if n.Type == rule.NodeSource || n.Type == rule.NodeSink {
			if owner, err := e.ownerOf(n.Endpoint); err == nil {
				if err := owner.manager.AddRef(ctx, n.Endpoint, ruleID, true); err != nil {
					e.log.ErrorCtx(ctx, "failed to activate endpoint reference on rule start", "rule", ruleID.String(), "endpoint", n.Endpoint.String(), "error", err.Error())
				}
			}
		}
	}
	_ = e.store.SetStatus(ctx, storage.ResourceRule, ruleID, endpoint.Running.String())
	e.emit(ctx, storage.ResourceRule, ruleID, storage.EventStart, "")
	return nil
}

// StopRule stops every task of a running rule; per spec.md §8 invariant 3,
// no task it spawned remains runnable afterward.
func (e *Engine) StopRule(ctx context.Context, ruleID id.ID) error {
	ctx, span := e.tracer.StartSpan(ctx, "rule.stop")
	defer span.End()
	span.SetAttribute("rule_id", ruleID.String())
	mr, err := e.ruleOf(ruleID)
	if err != nil {
		return err
	}
	mr.runtime.Stop()
	for _, n := range mr.graph.Nodes {
		if n.Type == rule.NodeSource || n.Type == rule.NodeSink {
			if owner, err := e.ownerOf(n.Endpoint); err == nil {
				// deactivate without dropping the reference edge itself —
				// DeleteRule is what removes it, per spec.md §8 invariant 1.
				_ = owner.manager.AddRef(ctx, n.Endpoint, ruleID, false)
			}
		}
	}
	_ = e.store.SetStatus(ctx, storage.ResourceRule, ruleID, endpoint.Stopped.String())
	e.emit(ctx, storage.ResourceRule, ruleID, storage.EventStop, "")
	return nil
}

// DeleteRule releases every endpoint reference the rule held and removes it.
func (e *Engine) DeleteRule(ctx context.Context, ruleID id.ID) error {
	mr, err := e.ruleOf(ruleID)
	if err != nil {
		return err
	}
	for _, n := range mr.graph.Nodes {
		if n.Type == rule.NodeSource || n.Type == rule.NodeSink {
			if owner, err := e.ownerOf(n.Endpoint); err == nil {
				owner.manager.DelRef(n.Endpoint, ruleID)
			}
		}
	}
	if err := e.store.Delete(ctx, storage.ResourceRule, ruleID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.rules, ruleID)
	e.mu.Unlock()
	e.emit(ctx, storage.ResourceRule, ruleID, storage.EventDelete, "")
	return nil
}

// DataboardSnapshot returns the latest batch recorded for board within
// ruleID's graph, per SPEC_FULL.md's Databoard node: the core owns a ring
// buffer keyed by board id and updates it every time the segment reaches
// that node, independent of whether any rule.Function is attached to it.
// ok is false if the board has not yet produced a batch. board is the
// public NodeIndex type (not rule.NodeIndex), matching the "tagged variant
// at the boundary" rule callers outside this module's own package tree
// must use.
func (e *Engine) DataboardSnapshot(ruleID id.ID, board NodeIndex) (batch *message.Batch, ok bool, err error) {
	mr, err := e.ruleOf(ruleID)
	if err != nil {
		return nil, false, err
	}
	batch, ok = mr.runtime.Boards().Get(rule.NodeIndex(board))
	return batch, ok, nil
}

// DataboardIDs returns every Databoard node index declared in ruleID's
// graph, regardless of whether it has produced a batch yet.
func (e *Engine) DataboardIDs(ruleID id.ID) ([]NodeIndex, error) {
	mr, err := e.ruleOf(ruleID)
	if err != nil {
		return nil, err
	}
	var out []NodeIndex
	for idx, n := range mr.graph.Nodes {
		if n.Type == rule.NodeDataboard {
			out = append(out, NodeIndex(idx))
		}
	}
	return out, nil
}

func (e *Engine) emit(ctx context.Context, resType storage.ResourceType, resID id.ID, kind storage.EventKind, msg string) {
	ev := storage.Event{ResourceType: resType, ResourceID: resID, Kind: kind, TimestampMS: uint64(time.Now().UnixMilli()), Message: msg}
	if err := e.events.Append(ctx, ev); err != nil {
		e.log.ErrorCtx(ctx, "failed to append audit event", "resource", resID.String(), "kind", kind.String(), "error", err.Error())
	}
}

// Snapshot is a unified, stable view of engine state for the admin surface
// and diagnostics, in the teacher's Snapshot idiom.
type Snapshot struct {
	StartedAt time.Time        `json:"started_at"`
	Uptime    time.Duration    `json:"uptime"`
	Resources []ResourceStatus `json:"resources"`
	Rules     []RuleStatus     `json:"rules"`
}

// ResourceStatus summarizes one device/app resource's current state.
type ResourceStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// RuleStatus summarizes one rule's id and declared name. It carries no
// running/stopped status: rule.Runtime exposes no such accessor beyond
// Start/Stop's own error return.
type RuleStatus struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Snapshot returns a point-in-time view of every managed resource and rule.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := Snapshot{StartedAt: e.startedAt, Uptime: time.Since(e.startedAt)}
	for resID, mr := range e.resources {
		snap.Resources = append(snap.Resources, ResourceStatus{
			ID:     resID.String(),
			Name:   mr.name,
			Type:   mr.resType.String(),
			Status: mr.manager.State().String(),
		})
	}
	for ruleID, mr := range e.rules {
		snap.Rules = append(snap.Rules, RuleStatus{ID: ruleID.String(), Name: mr.name})
	}
	return snap
}

// driverFactoryFor and decodeResourceConnector below give the engine facade
// the type-switch-at-the-boundary role spec.md §9 describes ("dynamic
// dispatch over protocols"): device.Manager and rule.Runtime never import a
// protocol adapter package directly, only engine does.

func driverFactoryFor(kind device.Kind) device.DriverFactory {
	return func(childID id.ID, role endpoint.Role, conf endpoint.Conf, parentConn any) (endpoint.Driver, error) {
		switch kind {
		case device.KindModbus:
			c, ok := conf.(modbus.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected modbus.Conf")
			}
			if role == endpoint.RoleSink {
				return modbus.NewWriteDriver(c), nil
			}
			return modbus.New(c), nil
		case device.KindOPCUA:
			c, ok := conf.(opcua.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected opcua.Conf")
			}
			return opcua.New(c), nil
		case device.KindCoAP:
			c, ok := conf.(coap.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected coap.Conf")
			}
			return coap.New(c), nil
		case device.KindMQTT:
			c, ok := conf.(mqtt.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected mqtt.Conf")
			}
			if role == endpoint.RoleSink {
				return mqtt.NewSink(c), nil
			}
			return mqtt.NewSource(c), nil
		case device.KindHTTP:
			c, ok := conf.(httpep.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected httpep.Conf")
			}
			if role == endpoint.RoleSink {
				return httpep.NewSink(c), nil
			}
			return httpep.NewSource(c), nil
		case device.KindKafka:
			c, ok := conf.(kafka.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected kafka.Conf")
			}
			return kafka.NewSink(c), nil
		case device.KindInflux:
			c, ok := conf.(influx.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected influx.Conf")
			}
			return influx.NewSink(c), nil
		case device.KindLog:
			c, ok := conf.(logep.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected logep.Conf")
			}
			return logep.NewSink(c), nil
		case device.KindWebsocket:
			c, ok := conf.(websocket.Conf)
			if !ok {
				return nil, ferr.NewInvalidConf("conf", "expected websocket.Conf")
			}
			if role == endpoint.RoleSink {
				return websocket.NewSink(c), nil
			}
			return websocket.NewSource(c), nil
		default:
			return nil, ferr.NewInvalidConf("kind", "unknown device/app kind")
		}
	}
}

// decodeResourceConnector rebuilds the (Kind, device.Connector) pair for a
// persisted resource record. The Connector itself carries no secrets beyond
// what Conf already held (address/broker/URL), so it is reconstructed from
// the same JSON-decoded configuration rather than persisted separately.
func decodeResourceConnector(conf message.Value) (device.Kind, device.Connector, error) {
	raw, err := json.Marshal(conf)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: encode stored conf: %v", ferr.ErrInternal, err)
	}
	var tagged struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return 0, nil, fmt.Errorf("%w: decode stored conf: %v", ferr.ErrInternal, err)
	}
	switch tagged.Kind {
	case "modbus":
		var c modbus.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindModbus, modbus.Connector{Address: c.Address}, nil
	case "opcua":
		var c opcua.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindOPCUA, opcua.Connector{EndpointURL: c.EndpointURL}, nil
	case "coap":
		var c coap.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindCoAP, coap.Connector{Address: c.Address, Credential: c.Credential}, nil
	case "mqtt":
		var c mqtt.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindMQTT, mqtt.Connector{Broker: c.Broker, ClientID: c.ClientID}, nil
	case "http":
		var c httpep.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindHTTP, nil, nil
	case "kafka":
		var c kafka.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindKafka, kafka.Connector{Brokers: c.Brokers}, nil
	case "influx":
		var c influx.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindInflux, influx.Connector{URL: c.URL, Token: c.Token}, nil
	case "log":
		return device.KindLog, nil, nil
	case "websocket":
		var c websocket.Conf
		if err := json.Unmarshal(raw, wrapConf(&c)); err != nil {
			return 0, nil, err
		}
		return device.KindWebsocket, websocket.Connector{URL: c.URL}, nil
	default:
		return 0, nil, ferr.NewInvalidConf("kind", "unknown or missing stored resource kind tag")
	}
}

// decodeEndpointConf rebuilds the (endpoint.Role, endpoint.Conf) pair for a
// conf value tagged by TagEndpointConf — the same kind of boundary decode
// decodeResourceConnector does for a resource's own Connector, but for a
// single child endpoint's Conf.
func decodeEndpointConf(conf message.Value) (endpoint.Role, endpoint.Conf, error) {
	raw, err := json.Marshal(conf)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: encode endpoint conf: %v", ferr.ErrInternal, err)
	}
	var tagged struct {
		Kind string `json:"kind"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return 0, nil, fmt.Errorf("%w: decode endpoint conf: %v", ferr.ErrInternal, err)
	}
	role := endpoint.RoleSource
	if tagged.Role == "sink" {
		role = endpoint.RoleSink
	}
	switch tagged.Kind {
	case "modbus":
		var c modbus.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "opcua":
		var c opcua.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "coap":
		var c coap.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "mqtt":
		var c mqtt.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "http":
		var c httpep.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "kafka":
		var c kafka.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "influx":
		var c influx.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	case "log":
		return role, logep.Conf{}, nil
	case "websocket":
		var c websocket.Conf
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, nil, err
		}
		return role, c, nil
	default:
		return 0, nil, ferr.NewInvalidConf("kind", "unknown or missing endpoint kind tag")
	}
}

// TagEndpointConf embeds both a "kind" and a "role" ("source"/"sink")
// discriminator into a child endpoint's Conf encoding, for callers outside
// this module's package tree that cannot name endpoint.Conf or endpoint.Role
// directly (the admin HTTP surface's create-endpoint request body).
func TagEndpointConf(kind device.Kind, role endpoint.Role, fields message.Value) message.Value {
	tagged := TagConf(kind, fields)
	_ = tagged.Set("role", message.String(roleTag(role)))
	return tagged
}

func roleTag(r endpoint.Role) string {
	if r == endpoint.RoleSink {
		return "sink"
	}
	return "source"
}

// wrapConf is a tiny indirection point documenting that every protocol Conf
// decodes from the same stored JSON shape {"kind": "...", ...fields}; each
// Conf struct simply ignores the extra "kind" field it doesn't declare.
func wrapConf(c any) any { return c }

// TagConf embeds a "kind" discriminator into a protocol Conf's message.Value
// encoding. storage.Record carries no Kind field of its own, so Bootstrap
// must recover it from the stored conf; callers building conf for
// CreateDevice/CreateApp/CreateResourceFromTemplate should wrap it with
// TagConf first.
func TagConf(kind device.Kind, fields message.Value) message.Value {
	obj, _ := fields.AsObject()
	tagged := make(map[string]message.Value, len(obj)+1)
	for k, v := range obj {
		tagged[k] = v
	}
	tagged["kind"] = message.String(kindTag(kind))
	return message.Object(tagged)
}

func kindTag(k device.Kind) string {
	switch k {
	case device.KindModbus:
		return "modbus"
	case device.KindOPCUA:
		return "opcua"
	case device.KindCoAP:
		return "coap"
	case device.KindMQTT:
		return "mqtt"
	case device.KindHTTP:
		return "http"
	case device.KindKafka:
		return "kafka"
	case device.KindInflux:
		return "influx"
	case device.KindLog:
		return "log"
	case device.KindWebsocket:
		return "websocket"
	default:
		return "unknown"
	}
}

package device

import (
	"context"
	"sync"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/internal/registry"
	"github.com/fieldmesh/core/engine/internal/retain"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/telemetry/logging"
	"github.com/fieldmesh/core/engine/telemetry/metrics"
	"github.com/fieldmesh/core/engine/telemetry/tracing"
)

// Kind is the closed external device/app type tag, per spec.md §9 ("a
// device is typed by a closed enum {Modbus, Opcua, Coap}" — extended here to
// cover the north-bound app protocols of §1).
type Kind int

const (
	KindModbus Kind = iota
	KindOPCUA
	KindCoAP
	KindMQTT
	KindHTTP
	KindKafka
	KindInflux
	KindLog
	KindWebsocket
)

// ChildSpec describes one child endpoint; its Role distinguishes a source child from a sink child within one
// Manager; a device typically owns source children, an app sink children,
// but the manager does not enforce this — it only enforces that a given
// child id is unique within the resource.
type ChildSpec struct {
	ID   id.ID
	Conf endpoint.Conf
	Role endpoint.Role
}

// DriverFactory builds a fresh protocol Driver for one child endpoint, given
// the Manager's shared parent connection handle. Called on every
// Start/hot-Update respawn, matching spec.md §4.1's "respawn using the same
// state" (the driver itself is rebuilt; channels/retainer/counters are
// preserved by Session.Stop/Start). role is the child's own endpoint.Role,
// needed because a protocol kind (e.g. Modbus, MQTT) may build a different
// concrete Driver for a source child than for a sink child off the same
// Conf shape.
type DriverFactory func(childID id.ID, role endpoint.Role, conf endpoint.Conf, parentConn any) (endpoint.Driver, error)

// Manager is the per-resource aggregate of spec.md §4.2: holds the parent
// connection and a keyed map of endpoint sessions.
type Manager struct {
	id   id.ID
	kind Kind

	mu       sync.RWMutex
	state    endpoint.State
	children map[id.ID]*endpoint.Session

	parent        *ParentActor
	driverFactory DriverFactory
	registry      *registry.Registry
	log           logging.Logger

	retainerCapacity int
	retainerPolicy   retain.DropPolicy
	retainerSpillDir string
	metrics          metrics.Provider
	tracer           tracing.Tracer

	// errCh coalesces child error reports: unbounded per spec.md §4.2
	// ("unbounded channel"); approximated with a generous buffer as
	// elsewhere in this module.
	errCh     chan childErr
	lastErr   map[id.ID]string
	errCancel context.CancelFunc
	errWG     sync.WaitGroup

	mStateTransitions metrics.Counter
	mChildErrors      metrics.Counter
}

type childErr struct {
	child id.ID
	msg   string
}

// Options configures a new Manager.
type Options struct {
	ID            id.ID
	Kind          Kind
	Connector     Connector
	ReconnectMS   int64
	DriverFactory DriverFactory
	Registry      *registry.Registry
	Log           logging.Logger

	// RetainerCapacity/RetainerPolicy/RetainerSpillDir configure the
	// per-sink-child Retainer this Manager builds in CreateChild; zero value
	// falls back to retain.DefaultCapacity/retain.DropOldest with no spill.
	RetainerCapacity int
	RetainerPolicy   retain.DropPolicy
	RetainerSpillDir string

	// Metrics, if set, is passed to every child Session this Manager builds
	// so endpoint-level poll/publish/retainer instruments are recorded.
	Metrics metrics.Provider
	// Tracer, if set, is passed to every child Session this Manager builds
	// so poll/publish calls are bracketed by spans.
	Tracer tracing.Tracer
}

// New constructs a Manager in state Configured, with no children.
func New(opts Options) (*Manager, error) {
	if opts.ID.IsNil() {
		return nil, ferr.NewInvalidConf("id", "must not be nil")
	}
	if opts.DriverFactory == nil {
		return nil, ferr.NewInvalidConf("driver_factory", "must not be nil")
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	lg := opts.Log
	if lg == nil {
		lg = logging.New(nil)
	}
	var parent *ParentActor
	if opts.Connector != nil {
		parent = NewParentActor(opts.Connector, 0)
	}
	m := &Manager{
		id:               opts.ID,
		kind:             opts.Kind,
		state:            endpoint.Configured,
		children:         make(map[id.ID]*endpoint.Session),
		parent:           parent,
		driverFactory:    opts.DriverFactory,
		registry:         reg,
		log:              lg,
		retainerCapacity: opts.RetainerCapacity,
		retainerPolicy:   opts.RetainerPolicy,
		retainerSpillDir: opts.RetainerSpillDir,
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
		errCh:            make(chan childErr, 256),
		lastErr:          make(map[id.ID]string),
	}
	m.initMetrics(opts.Metrics)
	return m, nil
}

// initMetrics builds this resource's lifecycle counters against provider, if
// one was supplied, following the teacher's events.Bus construction-time
// instrument build. Nil fields are skippable no-ops at every call site.
func (m *Manager) initMetrics(provider metrics.Provider) {
	if provider == nil {
		return
	}
	labels := []string{"resource_id"}
	m.mStateTransitions = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "device", Name: "state_transitions_total", Help: "total lifecycle state transitions a resource manager has made", Labels: labels}})
	m.mChildErrors = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "device", Name: "child_errors_total", Help: "total child endpoint error reports bubbled up to a resource manager", Labels: labels}})
}

// ID returns the resource's identifier.
func (m *Manager) ID() id.ID { return m.id }

// State returns the resource's current lifecycle state.
func (m *Manager) State() endpoint.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CreateChild registers a new endpoint session under this resource, in
// state Configured. Does not start it.
func (m *Manager) CreateChild(spec ChildSpec) (*endpoint.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.children[spec.ID]; exists {
		return nil, ferr.NewInvalidConf("id", "child already exists")
	}
	epOpts := endpoint.Options{ID: spec.ID, Role: spec.Role, Conf: spec.Conf, Metrics: m.metrics, Tracer: m.tracer}
	if spec.Role == endpoint.RoleSink {
		r := retain.New(m.retainerCapacity, m.retainerPolicy)
		if m.retainerPolicy == retain.DropSpill && m.retainerSpillDir != "" {
			_ = r.SetSpillDir(m.retainerSpillDir)
		}
		epOpts.Retainer = r
	}
	sess, err := endpoint.New(epOpts)
	if err != nil {
		return nil, err
	}
	if m.parent != nil {
		sess.SetParentStatus(m.parent.Watch())
	}
	m.children[spec.ID] = sess
	return sess, nil
}

// Start opens the parent connection (if any) and starts every child
// endpoint, per spec.md §4.2.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if err := checkManagerTransition(m.state, endpoint.Starting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = endpoint.Starting
	children := make([]*endpoint.Session, 0, len(m.children))
	for _, c := range m.children {
		children = append(children, c)
	}
	m.mu.Unlock()

	errCtx, cancel := context.WithCancel(ctx)
	m.errCancel = cancel
	m.errWG.Add(1)
	go m.coalesceErrors(errCtx)

	if m.parent != nil {
		m.parent.Start(ctx)
	}

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *endpoint.Session) {
			defer wg.Done()
			driver, err := m.driverFactory(c.ID(), c.Role(), c.Conf(), m.parentConn())
			if err != nil {
				m.reportChildError(c.ID(), err.Error())
				return
			}
			if err := c.Start(ctx, driver, m.parentConn()); err != nil {
				m.reportChildError(c.ID(), err.Error())
			}
		}(c)
	}
	wg.Wait()

	m.mu.Lock()
	m.state = endpoint.Running
	m.mu.Unlock()
	if m.mStateTransitions != nil {
		m.mStateTransitions.Inc(1, m.id.String())
	}
	return nil
}

func (m *Manager) parentConn() any {
	if m.parent == nil {
		return nil
	}
	return m.parent.Conn()
}

// Stop stops every child concurrently, then closes the parent connection.
// Refuses while any child carries an active reference edge, per spec.md §8
// invariant 2.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if err := checkManagerTransition(m.state, endpoint.Stopping); err != nil {
		m.mu.Unlock()
		return err
	}
	children := make([]*endpoint.Session, 0, len(m.children))
	for _, c := range m.children {
		children = append(children, c)
	}
	m.mu.Unlock()

	for _, c := range children {
		if err := m.registry.CheckStoppable(c.ID()); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.state = endpoint.Stopping
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *endpoint.Session) {
			defer wg.Done()
			if c.State() == endpoint.Running || c.State() == endpoint.Errored {
				_, _ = c.Stop()
			}
		}(c)
	}
	wg.Wait()

	if m.parent != nil {
		m.parent.Stop()
	}
	if m.errCancel != nil {
		m.errCancel()
	}
	m.errWG.Wait()

	m.mu.Lock()
	m.state = endpoint.Stopped
	m.mu.Unlock()
	if m.mStateTransitions != nil {
		m.mStateTransitions.Inc(1, m.id.String())
	}
	return nil
}

// Delete requires the resource be Stopped with zero incoming references.
func (m *Manager) Delete() error {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state != endpoint.Stopped && state != endpoint.Configured {
		return ferr.NewWrongState(state.String(), endpoint.Deleted.String())
	}
	m.mu.RLock()
	ids := make([]id.ID, 0, len(m.children))
	for cid := range m.children {
		ids = append(ids, cid)
	}
	m.mu.RUnlock()
	for _, cid := range ids {
		if err := m.registry.CheckDeletable(cid); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.state = endpoint.Deleted
	m.mu.Unlock()
	return nil
}

// Child returns the endpoint session for childID.
func (m *Manager) Child(childID id.ID) (*endpoint.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[childID]
	if !ok {
		return nil, ferr.NewNotFound("endpoint", childID.String())
	}
	return c, nil
}

// DeleteChild removes childID, requiring zero reference edges.
func (m *Manager) DeleteChild(childID id.ID) error {
	if err := m.registry.CheckDeletable(childID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.children[childID]
	if !ok {
		return ferr.NewNotFound("endpoint", childID.String())
	}
	if c.State() != endpoint.Stopped && c.State() != endpoint.Configured {
		return ferr.NewWrongState(c.State().String(), endpoint.Deleted.String())
	}
	delete(m.children, childID)
	return nil
}

// AddRef proxies into the registry; on first active reference while the
// resource is Running, it ensures the child endpoint is started.
func (m *Manager) AddRef(ctx context.Context, childID, ruleID id.ID, active bool) error {
	m.registry.Acquire(childID, ruleID, active)
	if !active {
		return nil
	}
	c, err := m.Child(childID)
	if err != nil {
		return err
	}
	if c.State() == endpoint.Running {
		return nil
	}
	if m.State() != endpoint.Running {
		return nil
	}
	driver, err := m.driverFactory(childID, c.Role(), c.Conf(), m.parentConn())
	if err != nil {
		return err
	}
	return c.Start(ctx, driver, m.parentConn())
}

// DelRef proxies into the registry; on the last deactivated reference it
// may stop the child (left to the caller's policy — Manager only updates
// the registry here, per spec.md leaving "may stop" as a caller decision).
func (m *Manager) DelRef(childID, ruleID id.ID) {
	m.registry.Release(childID, ruleID)
}

// GetSourceRx returns a broadcast subscription for childID, implicitly
// activating ruleID's reference.
func (m *Manager) GetSourceRx(ctx context.Context, childID, ruleID id.ID) (<-chan *message.Batch, error) {
	if err := m.AddRef(ctx, childID, ruleID, true); err != nil {
		return nil, err
	}
	c, err := m.Child(childID)
	if err != nil {
		return nil, err
	}
	sub, err := c.Subscribe()
	if err != nil {
		return nil, err
	}
	return sub.C(), nil
}

// GetSinkTx returns the sender channel for childID, implicitly activating
// ruleID's reference.
func (m *Manager) GetSinkTx(ctx context.Context, childID, ruleID id.ID) (chan<- message.RuleBatch, error) {
	if err := m.AddRef(ctx, childID, ruleID, true); err != nil {
		return nil, err
	}
	c, err := m.Child(childID)
	if err != nil {
		return nil, err
	}
	return c.Sender()
}

func (m *Manager) reportChildError(childID id.ID, msg string) {
	if m.mChildErrors != nil {
		m.mChildErrors.Inc(1, m.id.String())
	}
	select {
	case m.errCh <- childErr{child: childID, msg: msg}:
	default:
	}
}

// coalesceErrors implements spec.md §4.2's "Error bubbling": store last
// value, skip equal successor, so a flapping child produces one status
// transition per actual change rather than thrashing the audit log.
func (m *Manager) coalesceErrors(ctx context.Context) {
	defer m.errWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ce, ok := <-m.errCh:
			if !ok {
				return
			}
			m.mu.Lock()
			prev, had := m.lastErr[ce.child]
			changed := !had || prev != ce.msg
			if changed {
				m.lastErr[ce.child] = ce.msg
			}
			m.mu.Unlock()
			if changed {
				m.log.ErrorCtx(ctx, "child endpoint error", "resource", m.id.String(), "child", ce.child.String(), "error", ce.msg)
			}
		}
	}
}

func checkManagerTransition(from, to endpoint.State) error {
	return endpoint.CheckTransition(from, to)
}

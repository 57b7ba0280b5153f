package endpoint

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/internal/clock"
	"github.com/fieldmesh/core/engine/internal/retain"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/telemetry/logging"
	"github.com/fieldmesh/core/engine/telemetry/metrics"
	"github.com/fieldmesh/core/engine/telemetry/tracing"
)

// sinkInboxCapacity sizes the sink's inbound channel. Spec.md §5 calls sink
// input "unbounded MPSC (many rules → one sink)"; Go has no unbounded
// channel primitive, so a generously sized buffer stands in for it the same
// way the teacher's internal/pipeline queues use BufferSize rather than a
// literal unbounded structure.
const sinkInboxCapacity = 4096

// Options configures a new Session.
type Options struct {
	ID          id.ID
	Role        Role
	Conf        Conf
	ReconnectMS time.Duration
	Retainer    *retain.Retainer // sink only; nil uses retain.New(retain.DefaultCapacity, retain.DropOldest)
	Log         logging.Logger
	Clock       clock.Clock
	Metrics     metrics.Provider // optional; nil disables instrumentation
	Tracer      tracing.Tracer   // optional; nil (or a noop) disables spans
}

// Session is the endpoint session of spec.md §4.1: a config snapshot, a
// running background task, cancellation, and status, generic over a Driver
// implementing the concrete protocol. Loop structure, update protocol and
// failure semantics are written fresh from spec.md; the cooperative
// select-loop-with-cancel-channel shape and the jittered reconnect backoff
// follow the teacher's internal/pipeline.Pipeline stage workers and
// backoffDelay/randomizedDelay helpers.
type Session struct {
	id   id.ID
	role Role

	mu    sync.RWMutex
	state State
	conf  Conf

	driver Driver
	log    logging.Logger
	clock  clock.Clock
	tracer tracing.Tracer

	broadcast *Broadcast          // source only
	inbox     chan message.RuleBatch // sink only
	retainer  *retain.Retainer       // sink only

	errState    *retain.ErrState
	reconnectMS time.Duration

	parentStatus <-chan ConnectionEvent
	parentUp     bool

	stopCh  chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup

	randMu sync.Mutex
	rnd    *rand.Rand

	mPolled     metrics.Counter
	mPollErrs   metrics.Counter
	mPublished  metrics.Counter
	mPublishErr metrics.Counter
	mRetained   metrics.Gauge
}

// New constructs a Session in state Configured. The driver is attached
// later by Start (a fresh driver instance is built per start/restart cycle
// by the caller's DriverFactory, matching the "respawn" step of the update
// protocol).
func New(opts Options) (*Session, error) {
	if opts.ID.IsNil() {
		return nil, ferr.NewInvalidConf("id", "must not be nil")
	}
	if opts.Conf == nil {
		return nil, ferr.NewInvalidConf("conf", "must not be nil")
	}
	lg := opts.Log
	if lg == nil {
		lg = logging.New(nil)
	}
	ck := opts.Clock
	if ck == nil {
		ck = clock.Real()
	}
	tr := opts.Tracer
	if tr == nil {
		tr = tracing.NewTracer(false)
	}
	reconnect := opts.ReconnectMS
	if reconnect <= 0 {
		reconnect = 2000 * time.Millisecond
	}
	s := &Session{
		id:          opts.ID,
		role:        opts.Role,
		state:       Configured,
		conf:        opts.Conf,
		log:         lg,
		clock:       ck,
		tracer:      tr,
		errState:    retain.NewErrState(),
		reconnectMS: reconnect,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		parentUp:    true,
	}
	if opts.Role == RoleSource {
		s.broadcast = NewBroadcast()
	} else {
		s.inbox = make(chan message.RuleBatch, sinkInboxCapacity)
		if opts.Retainer != nil {
			s.retainer = opts.Retainer
		} else {
			s.retainer = retain.New(retain.DefaultCapacity, retain.DropOldest)
		}
	}
	s.initMetrics(opts.Metrics)
	return s, nil
}

// initMetrics builds this endpoint's counters/gauges against provider, if
// one was supplied, following the same construction-time-build pattern as
// the teacher's internal events.Bus. A nil provider leaves every instrument
// field nil, and every call site below guards on that before recording.
func (s *Session) initMetrics(provider metrics.Provider) {
	if provider == nil {
		return
	}
	labels := []string{"endpoint_id", "role"}
	s.mPolled = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "endpoint", Name: "polled_total", Help: "total successful source polls", Labels: labels}})
	s.mPollErrs = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "endpoint", Name: "poll_errors_total", Help: "total source poll errors", Labels: labels}})
	s.mPublished = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "endpoint", Name: "published_total", Help: "total successful sink publishes", Labels: labels}})
	s.mPublishErr = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "endpoint", Name: "publish_errors_total", Help: "total sink publish errors", Labels: labels}})
	s.mRetained = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "endpoint", Name: "retained_batches", Help: "batches currently held in the sink retainer", Labels: labels}})
}

func (s *Session) metricLabels() []string {
	role := "source"
	if s.role == RoleSink {
		role = "sink"
	}
	return []string{s.id.String(), role}
}

// ID returns the endpoint's identifier.
func (s *Session) ID() id.ID { return s.id }

// Role returns whether this is a source or sink endpoint.
func (s *Session) Role() Role { return s.role }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Conf returns the current configuration snapshot.
func (s *Session) Conf() Conf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conf
}

func (s *Session) setState(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := CheckTransition(s.state, to); err != nil {
		return err
	}
	s.state = to
	return nil
}

// SetParentStatus attaches the watch channel a parent connection actor
// publishes ConnectionEvents on; Start wires the running task to select on
// it. Must be called before Start.
func (s *Session) SetParentStatus(ch <-chan ConnectionEvent) { s.parentStatus = ch }

// Subscribe returns a new broadcast subscription. Valid only for source
// endpoints; lazily created at construction per spec.md's "lazily creates
// the broadcast channel" (the Broadcast itself always exists, subscriptions
// are what's created lazily per caller).
func (s *Session) Subscribe() (Subscription, error) {
	if s.role != RoleSource {
		return nil, ferr.NewInvalidConf("role", "subscribe is only valid on a source endpoint")
	}
	return s.broadcast.Subscribe(), nil
}

// Sender returns the cloneable sink input channel (send-only) that rule
// segments publish RuleMessageBatch envelopes onto.
func (s *Session) Sender() (chan<- message.RuleBatch, error) {
	if s.role != RoleSink {
		return nil, ferr.NewInvalidConf("role", "sender is only valid on a sink endpoint")
	}
	return s.inbox, nil
}

// Retainer exposes the sink's retainer for status/metrics reporting.
func (s *Session) Retainer() *retain.Retainer { return s.retainer }

// ErrState exposes the endpoint's coalescing error state.
func (s *Session) ErrState() *retain.ErrState { return s.errState }

// Start transitions Configured/Stopped → Starting, opens the driver against
// parentConn, and spawns the task loop. On driver open failure the endpoint
// moves to Errored rather than failing the call, per spec.md §4.1 ("start →
// transitions to Running or Errored").
func (s *Session) Start(ctx context.Context, driver Driver, parentConn any) error {
	if err := s.setState(Starting); err != nil {
		return err
	}
	s.driver = driver
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})

	if err := driver.Open(ctx, parentConn); err != nil {
		s.errState.PutErr(err.Error())
		_ = s.setState(Errored)
		return nil
	}
	if err := s.setState(Running); err != nil {
		return err
	}
	s.errState.SetOK()

	s.wg.Add(1)
	switch s.role {
	case RoleSource:
		go s.runSource(ctx)
	case RoleSink:
		go s.runSink(ctx)
	}
	return nil
}

// LoopState is the subset of task state preserved across a hot-update
// respawn: channels, retainer and counters, per spec.md §4.1's update
// protocol ("respawn using the same state").
type LoopState struct {
	Retainer *retain.Retainer
}

// Stop signals the task loop to exit, waits for it to finish, and returns
// the loop-state for reuse by a subsequent Start (e.g. during a hot
// update's stop+mutate+respawn sequence).
func (s *Session) Stop() (LoopState, error) {
	if err := s.setState(Stopping); err != nil {
		return LoopState{}, err
	}
	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.wg.Wait()
	if s.driver != nil {
		_ = s.driver.Close()
	}
	if err := s.setState(Stopped); err != nil {
		return LoopState{}, err
	}
	return LoopState{Retainer: s.retainer}, nil
}

// Update applies newConf. If newConf.IsHot(old) the caller must Stop, swap
// the driver for one built from newConf, and Start again (the respawn is
// orchestrated by the device manager since only it knows how to build a
// fresh driver); Update itself only performs the cold in-place swap and
// reports whether a hot restart is required.
func (s *Session) Update(newConf Conf) (hot bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.conf
	hot = newConf.IsHot(old)
	if !hot {
		s.conf = newConf
	}
	return hot, nil
}

// ApplyHotConf swaps in newConf without touching lifecycle state; called by
// the device manager after Stop, before the subsequent Start.
func (s *Session) ApplyHotConf(newConf Conf) {
	s.mu.Lock()
	s.conf = newConf
	s.mu.Unlock()
}

func (s *Session) runSource(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stopped)

	driver, ok := s.driver.(SourceDriver)
	if !ok {
		s.log.ErrorCtx(ctx, "endpoint driver does not implement SourceDriver", "id", s.id.String())
		return
	}

	pollResult := make(chan pollOutcome, 1)
	go s.pollLoop(ctx, driver, pollResult)

	attempt := 0
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.parentStatus:
			if !ok {
				continue
			}
			s.parentUp = ev.Up
			if !ev.Up {
				s.errState.PutErr(fmt.Sprintf("parent connection down: %s", ev.Reason))
			} else {
				s.errState.SetOK()
			}
		case outcome := <-pollResult:
			if outcome.err != nil {
				attempt++
				s.errState.PutErr(outcome.err.Error())
				if s.mPollErrs != nil {
					s.mPollErrs.Inc(1, s.metricLabels()...)
				}
				s.clock.Sleep(s.backoffDelay(attempt))
				continue
			}
			attempt = 0
			s.errState.SetOK()
			if s.mPolled != nil {
				s.mPolled.Inc(1, s.metricLabels()...)
			}
			if outcome.batch != nil && s.parentUp {
				s.broadcast.Send(outcome.batch)
			}
		}
	}
}

type pollOutcome struct {
	batch *message.Batch
	err   error
}

// pollLoop runs the blocking driver.Poll call in its own goroutine so the
// main select can multiplex it against stop/parent-status without the
// driver needing to know about cancellation internals beyond ctx.
func (s *Session) pollLoop(ctx context.Context, driver SourceDriver, out chan<- pollOutcome) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		spanCtx, span := s.tracer.StartSpan(ctx, "endpoint.poll")
		batch, err := driver.Poll(spanCtx)
		if err != nil {
			span.SetAttribute("error", err.Error())
		}
		span.End()
		select {
		case out <- pollOutcome{batch: batch, err: err}:
		case <-s.stopCh:
			return
		}
		if err != nil {
			// give the consumer loop a chance to apply backoff before
			// immediately retrying the failed poll
			select {
			case <-s.stopCh:
				return
			case <-s.clock.After(10 * time.Millisecond):
			}
		}
	}
}

func (s *Session) runSink(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stopped)

	driver, ok := s.driver.(SinkDriver)
	if !ok {
		s.log.ErrorCtx(ctx, "endpoint driver does not implement SinkDriver", "id", s.id.String())
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.parentStatus:
			if !ok {
				continue
			}
			wasDown := !s.parentUp
			s.parentUp = ev.Up
			if ev.Up && wasDown {
				s.drainRetainer(ctx, driver)
			}
		case rb, ok := <-s.inbox:
			if !ok {
				return
			}
			s.publish(ctx, driver, rb.Batch())
		}
	}
}

func (s *Session) publish(ctx context.Context, driver SinkDriver, batch *message.Batch) {
	if !s.parentUp {
		s.retainer.Push(ctx, batch)
		s.reportRetained()
		return
	}
	spanCtx, span := s.tracer.StartSpan(ctx, "endpoint.publish")
	err := driver.Publish(spanCtx, batch)
	if err != nil {
		span.SetAttribute("error", err.Error())
	}
	span.End()
	if err != nil {
		s.retainer.Push(ctx, batch)
		s.reportRetained()
		s.errState.PutErr(err.Error())
		if s.mPublishErr != nil {
			s.mPublishErr.Inc(1, s.metricLabels()...)
		}
		return
	}
	s.errState.SetOK()
	if s.mPublished != nil {
		s.mPublished.Inc(1, s.metricLabels()...)
	}
}

// reportRetained publishes the retainer's current depth to the gauge, so the
// admin surface's /metrics route reflects how much unsent data a sink is
// holding without the caller needing to poll Retainer().Snapshot() itself.
func (s *Session) reportRetained() {
	if s.mRetained == nil {
		return
	}
	s.mRetained.Set(float64(s.retainer.Len()), s.metricLabels()...)
}

// drainRetainer implements spec.md invariant 5: on ConnectionEvent::Up, the
// retainer is drained in FIFO order before any new batch is transmitted. It
// runs synchronously inside runSink's select handler so no inbox message is
// processed concurrently with the drain.
func (s *Session) drainRetainer(ctx context.Context, driver SinkDriver) {
	s.retainer.Drain(sinkSender{ctx: ctx, driver: driver})
	s.reportRetained()
}

type sinkSender struct {
	ctx    context.Context
	driver SinkDriver
}

func (s sinkSender) TrySend(b *message.Batch) bool {
	return s.driver.Publish(s.ctx, b) == nil
}

func (s *Session) backoffDelay(attempt int) time.Duration {
	base := s.reconnectMS
	max := 30 * time.Second
	delay := base * time.Duration(1<<uint(minInt(attempt-1, 8)))
	if delay > max {
		delay = max
	}
	s.randMu.Lock()
	jitter := time.Duration(s.rnd.Float64() * float64(delay))
	s.randMu.Unlock()
	if jitter <= 0 {
		return delay
	}
	return jitter
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

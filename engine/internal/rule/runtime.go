package rule

import (
	"context"
	"sync"
	"time"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/telemetry/logging"
	"github.com/fieldmesh/core/engine/telemetry/metrics"
)

// segmentBufferSize sizes every inter-segment channel. Segment → segment is
// "unbounded MPSC when single-producer" per spec.md §5; as with the sink
// inbox, a generous buffer approximates unbounded the way the teacher's
// pipeline stages size their channels off PipelineConfig.BufferSize.
const segmentBufferSize = 256

// EndpointBinder is the capability the rule runtime needs from the device
// manager (C3) to attach Source/Sink nodes to live endpoints, without the
// rule package importing endpoint directly — the runtime only ever holds an
// endpoint's Id plus a channel, per spec.md §9's "use an Id everywhere a
// cross-aggregate reference is needed".
type EndpointBinder interface {
	SourceReceiver(epID id.ID) (<-chan *message.Batch, error)
	SinkSender(epID id.ID) (chan<- message.RuleBatch, error)
}

// NodeFunctions supplies the Function implementation for every Computer,
// Filter, Aggregation, Log and Databoard node in a graph (keyed by
// NodeIndex); Source, Sink, Merge and Window nodes are handled directly by
// the runtime and must not appear here.
type NodeFunctions map[NodeIndex]Function

// WindowPolicies supplies the WindowPolicy for every Window node.
type WindowPolicies map[NodeIndex]WindowPolicy

// Runtime owns the live task set compiled from one Graph: one goroutine per
// segment plus one per Merge/Window boundary node, wired by channels, start
// bottom-up / stop top-down per spec.md §4.3.
type Runtime struct {
	graph     *Graph
	segments  []Segment
	functions NodeFunctions
	windows   WindowPolicies
	binder    EndpointBinder
	log       logging.Logger
	boards    *DataboardRing
	ruleID    string

	feed map[NodeIndex]chan message.RuleBatch

	cancel  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	mBatches metrics.Counter
	mDropped metrics.Counter
	mStarts  metrics.Counter
}

// New compiles graph and prepares a Runtime; it does not start any tasks.
// ruleID labels every instrument this Runtime records if provider is
// non-nil; it is opaque to the runtime itself (see id.ID.String() at call
// sites) and may be empty when metrics are disabled.
func New(graph *Graph, functions NodeFunctions, windows WindowPolicies, binder EndpointBinder, log logging.Logger, ruleID string, provider metrics.Provider) (*Runtime, error) {
	segments, err := graph.CompileSegments()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New(nil)
	}
	r := &Runtime{
		graph:     graph,
		segments:  segments,
		functions: functions,
		windows:   windows,
		binder:    binder,
		log:       log,
		boards:    NewDataboardRing(),
		ruleID:    ruleID,
		feed:      make(map[NodeIndex]chan message.RuleBatch),
	}
	r.initMetrics(provider)
	return r, nil
}

// initMetrics builds this rule's segment-level counters against provider, if
// one was supplied, following the teacher's events.Bus construction-time
// instrument build.
func (r *Runtime) initMetrics(provider metrics.Provider) {
	if provider == nil {
		return
	}
	labels := []string{"rule_id"}
	r.mBatches = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "rule", Name: "batches_routed_total", Help: "total batches a rule segment routed to its tail", Labels: labels}})
	r.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "rule", Name: "batches_dropped_total", Help: "total batches dropped by a panicking or drop-returning transformation function", Labels: labels}})
	r.mStarts = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fieldmesh", Subsystem: "rule", Name: "starts_total", Help: "total times a rule runtime has been started", Labels: labels}})
}

// Boards returns the runtime's Databoard ring, letting a caller (e.g. the
// admin HTTP surface) poll the latest batch recorded for any Databoard node
// in this rule's graph.
func (r *Runtime) Boards() *DataboardRing { return r.boards }

func (r *Runtime) segmentOf(n NodeIndex) (Segment, bool) {
	for _, s := range r.segments {
		for _, idx := range s.Nodes {
			if idx == n {
				return s, true
			}
		}
	}
	return Segment{}, false
}

// isSourceHead returns true if n is a segment head that receives
// input from outside the segmented graph representation (a Source node,
// which instead pulls from its endpoint's broadcast subscription).
func (r *Runtime) isSourceHead(n NodeIndex) bool {
	return r.graph.Nodes[n].Type == NodeSource
}

// nextNode returns the single node n's output feeds, if n has exactly one
// outgoing edge (used to wire Merge/Window output and segment tails with
// fan-out == 1).
func (r *Runtime) nextNode(n NodeIndex) (NodeIndex, bool) {
	out := r.graph.outEdges(n)
	if len(out) != 1 {
		return 0, false
	}
	return out[0], true
}

func (r *Runtime) feedChan(n NodeIndex) chan message.RuleBatch {
	if ch, ok := r.feed[n]; ok {
		return ch
	}
	ch := make(chan message.RuleBatch, segmentBufferSize)
	r.feed[n] = ch
	return ch
}

// Start wires every segment and boundary node and launches their tasks,
// sinks first, then inner segments/boundary nodes, then sources last — per
// spec.md §4.3's bottom-up start protocol (sinks must be ready to receive
// before anything upstream can produce).
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ferr.NewWrongState("running", "running")
	}
	r.cancel = make(chan struct{})
	runCtx, cancelCtx := context.WithCancel(ctx)
	go func() {
		<-r.cancel
		cancelCtx()
	}()

	// pre-create feed channels for every segment head and boundary node so
	// wiring order below doesn't matter.
	for _, seg := range r.segments {
		head := seg.Nodes[0]
		if !r.isSourceHead(head) {
			r.feedChan(head)
		}
	}
	for idx, n := range r.graph.Nodes {
		if n.Type == NodeMerge || n.Type == NodeWindow {
			r.feedChan(idx)
		}
	}

	// sinks: segments whose tail is a Sink node.
	for _, seg := range r.segments {
		tail := seg.Nodes[len(seg.Nodes)-1]
		if r.graph.Nodes[tail].Type == NodeSink {
			if err := r.startSegment(runCtx, seg); err != nil {
				return err
			}
		}
	}
	// boundary nodes (Merge, Window) and remaining inner segments.
	for idx, n := range r.graph.Nodes {
		if n.Type == NodeMerge {
			r.startMerge(runCtx, idx)
		}
		if n.Type == NodeWindow {
			r.startWindow(runCtx, idx)
		}
	}
	for _, seg := range r.segments {
		tail := seg.Nodes[len(seg.Nodes)-1]
		if r.graph.Nodes[tail].Type != NodeSink {
			if err := r.startSegment(runCtx, seg); err != nil {
				return err
			}
		}
	}
	// sources: started last so producers only begin once every consumer is live.
	for _, seg := range r.segments {
		head := seg.Nodes[0]
		if r.isSourceHead(head) {
			if err := r.startSourceFeed(runCtx, head); err != nil {
				return err
			}
		}
	}

	r.running = true
	if r.mStarts != nil {
		r.mStarts.Inc(1, r.ruleID)
	}
	return nil
}

// startSourceFeed subscribes to the source endpoint's broadcast and forwards
// every batch into the segment's feed channel as an Owned RuleMessageBatch
// (the segment decides Owned vs Shared at its own tail, per fan-out).
func (r *Runtime) startSourceFeed(ctx context.Context, sourceNode NodeIndex) error {
	n := r.graph.Nodes[sourceNode]
	rx, err := r.binder.SourceReceiver(n.Endpoint)
	if err != nil {
		return err
	}
	out := r.feedChan(sourceNode)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-rx:
				if !ok {
					return
				}
				select {
				case out <- message.Owned(b):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// startSegment runs one segment's task: receive from the head's feed
// channel (or, if the head is a Source, from startSourceFeed's output),
// apply each non-boundary node's Function in order, then emit to the tail's
// downstream — a Sink's Sender, a boundary node's feed channel, or a
// fan-out of next-segment feed channels.
func (r *Runtime) startSegment(ctx context.Context, seg Segment) error {
	head := seg.Nodes[0]
	in := r.feedChan(head)
	tail := seg.Nodes[len(seg.Nodes)-1]
	tailNode := r.graph.Nodes[tail]

	var sinkTx chan<- message.RuleBatch
	var downstream []chan message.RuleBatch
	if tailNode.Type == NodeSink {
		tx, err := r.binder.SinkSender(tailNode.Endpoint)
		if err != nil {
			return err
		}
		sinkTx = tx
	} else {
		for _, next := range r.graph.outEdges(tail) {
			downstream = append(downstream, r.feedChan(next))
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				r.drainOnStop(in)
				return
			case rb, ok := <-in:
				if !ok {
					return
				}
				owned := rb.ToOwned()
				batch := owned.Batch()
				dropped := false
				for _, idx := range seg.Nodes {
					nt := r.graph.Nodes[idx].Type
					if nt == NodeSource || nt == NodeSink {
						continue
					}
					if fn, ok := r.functions[idx]; ok {
						if !r.callSafely(fn, batch) {
							dropped = true
							break
						}
					}
					if nt == NodeDataboard {
						r.boards.set(idx, batch)
					}
				}
				if dropped {
					if r.mDropped != nil {
						r.mDropped.Inc(1, r.ruleID)
					}
					continue
				}
				if r.mBatches != nil {
					r.mBatches.Inc(1, r.ruleID)
				}
				if sinkTx != nil {
					select {
					case sinkTx <- message.Owned(batch):
					case <-ctx.Done():
						return
					}
					continue
				}
				out := message.ForFanOut(batch, len(downstream))
				for _, d := range downstream {
					select {
					case d <- out:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return nil
}

// callSafely treats a panicking Function as returning false (drop), per
// spec.md §4.3 ("A transformation function that panics is treated as if it
// returned drop(msg) for that batch — the rule stays up").
func (r *Runtime) callSafely(fn Function, batch *message.Batch) (keep bool) {
	defer func() {
		if rec := recover(); rec != nil {
			keep = false
		}
	}()
	return fn.Call(batch)
}

// drainOnStop empties in's buffer without blocking, so Stop's cancel does
// not leave buffered batches silently retained past shutdown; it does not
// wait for a window-duration timeout itself (callers coordinate that via
// Stop's sequencing across segments).
func (r *Runtime) drainOnStop(in chan message.RuleBatch) {
	for {
		select {
		case <-in:
		default:
			return
		}
	}
}

func (r *Runtime) startMerge(ctx context.Context, mergeNode NodeIndex) {
	preds := r.graph.inEdges(mergeNode)
	inputs := make([]<-chan message.RuleBatch, len(preds))
	for i, p := range preds {
		inputs[i] = r.feedChan(p)
	}
	m := NewMerge(inputs)
	m.Run(ctx)
	next, ok := r.nextNode(mergeNode)
	if !ok {
		return
	}
	out := r.feedChan(next)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tb, ok := <-m.Output():
				if !ok {
					return
				}
				select {
				case out <- tb.Batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (r *Runtime) startWindow(ctx context.Context, windowNode NodeIndex) {
	policy := r.windows[windowNode]
	w := NewWindow(policy, nil)
	in := r.feedChan(windowNode)
	next, ok := r.nextNode(windowNode)
	if !ok {
		return
	}
	out := r.feedChan(next)

	var ticker *time.Ticker
	var tickCh <-chan time.Time
	if policy.Kind != Count && policy.Period > 0 {
		ticker = time.NewTicker(policy.Period)
		tickCh = ticker.C
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case rb, ok := <-in:
				if !ok {
					return
				}
				if w.Add(rb.Batch()) {
					combined := w.Close()
					select {
					case out <- message.Owned(combined):
					case <-ctx.Done():
						return
					}
				}
			case <-tickCh:
				combined := w.Close()
				if combined.Len() == 0 {
					continue
				}
				select {
				case out <- message.Owned(combined):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Stop signals every task to exit via the shared cancel channel (spec.md
// §4.3's "single broadcast<()> carries the cancel signal"), then waits for
// all of them to return. Stop is idempotent once Start has not been called
// again.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.cancel)
	r.running = false
	r.mu.Unlock()
	r.wg.Wait()
}

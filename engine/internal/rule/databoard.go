package rule

import (
	"sync"

	"github.com/fieldmesh/core/engine/message"
)

// DataboardRing holds the latest batch seen by each Databoard node in a
// Runtime, keyed by NodeIndex ("board id" in SPEC_FULL.md's terms). A
// Databoard node is a segment tail with zero downstream edges: instead of
// forwarding to a sink or another segment, the runtime snapshots the batch
// here so an external dashboard can poll the current value per board
// without subscribing to the rule's live batch stream. One Runtime owns
// exactly one DataboardRing, shared by every Databoard node in its graph.
type DataboardRing struct {
	mu     sync.RWMutex
	latest map[NodeIndex]*message.Batch
}

// NewDataboardRing returns an empty ring.
func NewDataboardRing() *DataboardRing {
	return &DataboardRing{latest: make(map[NodeIndex]*message.Batch)}
}

// set records batch as the current value for board, deep-cloning it first
// so later in-place mutation of the segment's owned batch (by a downstream
// node in the same segment, if any) cannot race with a concurrent reader of
// the ring.
func (d *DataboardRing) set(board NodeIndex, batch *message.Batch) {
	cp := batch.Clone()
	d.mu.Lock()
	d.latest[board] = cp
	d.mu.Unlock()
}

// Get returns the most recent batch recorded for board, and whether one has
// been recorded yet.
func (d *DataboardRing) Get(board NodeIndex) (*message.Batch, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.latest[board]
	return b, ok
}

// Boards returns the set of board ids with at least one recorded batch.
func (d *DataboardRing) Boards() []NodeIndex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]NodeIndex, 0, len(d.latest))
	for idx := range d.latest {
		out = append(out, idx)
	}
	return out
}

package retain

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldmesh/core/engine/message"
)

// DropSpill evicts the same way DropOldest does but first persists the
// evicted batch to SpillDir (if set) rather than discarding it outright,
// adapted from the teacher's engine/internal/resources.Manager LRU
// spill-to-disk mechanism (evictOldest/GetPage) — repurposed here from page
// cache eviction to retained-batch overflow, per SPEC_FULL.md §2's
// "cache-backed retainer spill".
const DropSpill DropPolicy = 2

// SetSpillDir enables disk spill for evictions under DropSpill, creating dir
// if needed. A Retainer with no spill dir configured treats DropSpill
// identically to DropOldest.
func (r *Retainer) SetSpillDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create spill directory: %w", err)
	}
	r.mu.Lock()
	r.spillDir = dir
	r.mu.Unlock()
	return nil
}

// spill persists b to r.spillDir and records its path for later Reclaim. The
// caller holds r.mu.
func (r *Retainer) spill(b *message.Batch) {
	if r.spillDir == "" {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	name := fmt.Sprintf("spill-%d-%s.json", time.Now().UnixNano(), hashBatch(b))
	path := filepath.Join(r.spillDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return
	}
	r.spilled = append(r.spilled, path)
}

// Reclaim reads back up to n spilled batches (oldest first) and re-pushes
// them at the head of the FIFO, deleting their spill files. It is the
// caller's responsibility to call this when capacity has freed up (e.g.
// after a successful Drain) — Retainer does not reclaim on its own.
func (r *Retainer) Reclaim(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reclaimed := 0
	for reclaimed < n && len(r.spilled) > 0 && len(r.buf) < r.capacity {
		path := r.spilled[0]
		data, err := os.ReadFile(path)
		if err != nil {
			r.spilled = r.spilled[1:]
			continue
		}
		var b message.Batch
		if err := json.Unmarshal(data, &b); err != nil {
			r.spilled = r.spilled[1:]
			continue
		}
		r.spilled = r.spilled[1:]
		_ = os.Remove(path)
		r.buf = append(r.buf[:reclaimed], append([]*message.Batch{&b}, r.buf[reclaimed:]...)...)
		reclaimed++
	}
	return reclaimed
}

// SpilledCount reports how many evicted batches currently sit on disk.
func (r *Retainer) SpilledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spilled)
}

func hashBatch(b *message.Batch) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s-%d-%d", b.Name, b.Timestamp, len(b.Messages))
	return fmt.Sprintf("%x", h.Sum64())
}

package rule

import (
	"context"
	"sync"

	"github.com/fieldmesh/core/engine/message"
)

// Merge owns N input channels and 1 output channel, per spec.md §4.3: it
// emits each input batch tagged with its origin segment, with no ordering
// guarantee across inputs (segments → segment channel semantics, §5:
// "MPMC unbounded only via merge nodes").
type Merge struct {
	inputs []<-chan message.RuleBatch
	output chan TaggedBatch
}

// TaggedBatch carries a merged batch alongside the index of the input
// segment it arrived from, since downstream Aggregation/Computer nodes may
// need to know provenance across a join.
type TaggedBatch struct {
	Origin int
	Batch  message.RuleBatch
}

// NewMerge constructs a Merge fed by inputs; Output returns its receive
// side, before or after Run.
func NewMerge(inputs []<-chan message.RuleBatch) *Merge {
	return &Merge{inputs: inputs, output: make(chan TaggedBatch, len(inputs))}
}

// Output returns the merge's single output channel.
func (m *Merge) Output() <-chan TaggedBatch { return m.output }

// Run fans all inputs into the output channel until ctx is cancelled or
// every input closes, then closes the output. One goroutine per input keeps
// a slow input from blocking the others, matching the "no ordering
// guarantee across inputs" requirement.
func (m *Merge) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(m.inputs))
	for i, in := range m.inputs {
		go func(origin int, ch <-chan message.RuleBatch) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-ch:
					if !ok {
						return
					}
					select {
					case m.output <- TaggedBatch{Origin: origin, Batch: b}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i, in)
	}
	go func() {
		wg.Wait()
		close(m.output)
	}()
}

package message

// Batch groups Messages produced together by a single source poll/read,
// carrying the provenance metadata spec.md requires sinks and rule nodes to
// see alongside the data itself.
type Batch struct {
	Timestamp uint64           `json:"timestamp"`
	Name      string           `json:"name"`
	Metadata  map[string]Value `json:"metadata,omitempty"`
	Messages  []Message        `json:"messages"`
}

// NewBatch constructs a Batch with the given name and timestamp, starting
// with no messages.
func NewBatch(name string, timestamp uint64) *Batch {
	return &Batch{Timestamp: timestamp, Name: name, Metadata: make(map[string]Value)}
}

// Append adds a message to the batch.
func (b *Batch) Append(m Message) { b.Messages = append(b.Messages, m) }

// Len returns the number of messages in the batch.
func (b *Batch) Len() int { return len(b.Messages) }

// Clone deep-copies the batch, including every contained Message.
func (b *Batch) Clone() *Batch {
	cp := &Batch{Timestamp: b.Timestamp, Name: b.Name}
	if b.Metadata != nil {
		cp.Metadata = make(map[string]Value, len(b.Metadata))
		for k, v := range b.Metadata {
			cp.Metadata[k] = v.Clone()
		}
	}
	if b.Messages != nil {
		cp.Messages = make([]Message, len(b.Messages))
		for i, m := range b.Messages {
			cp.Messages[i] = m.Clone()
		}
	}
	return cp
}

// RuleBatch is the transport envelope a compiled rule segment passes between
// stages (spec.md §4: "fan_out == 1 carries an Owned batch, fan_out > 1
// carries a Shared batch"). Owned batches may be mutated in place by the
// receiving stage; Shared batches are read-only until a stage needs to
// mutate, at which point it must call ToOwned to copy-on-write split off its
// own copy rather than racing with sibling fan-out branches reading the same
// underlying Batch concurrently.
type RuleBatch struct {
	owned  *Batch
	shared *Batch
}

// Owned wraps a Batch exclusively owned by the caller, constructed for a
// segment whose fan_out is 1.
func Owned(b *Batch) RuleBatch { return RuleBatch{owned: b} }

// Shared wraps a Batch that will be read (never mutated) by more than one
// downstream branch, constructed for a segment whose fan_out is > 1.
func Shared(b *Batch) RuleBatch { return RuleBatch{shared: b} }

// IsOwned reports whether this envelope currently holds an exclusively owned
// batch.
func (r RuleBatch) IsOwned() bool { return r.owned != nil }

// IsShared reports whether this envelope currently holds a batch shared with
// sibling fan-out branches.
func (r RuleBatch) IsShared() bool { return r.shared != nil }

// Batch returns the underlying Batch for read-only access regardless of
// ownership. Callers that need to mutate must go through ToOwned first.
func (r RuleBatch) Batch() *Batch {
	if r.owned != nil {
		return r.owned
	}
	return r.shared
}

// ToOwned returns a RuleBatch the caller may freely mutate: if r already owns
// its batch it is returned unchanged (no copy), otherwise a deep clone is
// taken so concurrent sibling branches reading the same Shared batch are
// unaffected. This is the copy-on-write split point required whenever a rule
// function needs to change fields of a Shared input.
func (r RuleBatch) ToOwned() RuleBatch {
	if r.owned != nil {
		return r
	}
	return RuleBatch{owned: r.shared.Clone()}
}

// ForFanOut builds the envelope a compiled segment should hand to its n
// downstream branches: Owned when n == 1, Shared otherwise. This is the one
// call site that must decide ownership, matching spec.md §4's construction
// rule.
func ForFanOut(b *Batch, fanOut int) RuleBatch {
	if fanOut <= 1 {
		return Owned(b)
	}
	return Shared(b)
}

package rule

import "github.com/fieldmesh/core/engine/message"

// Function implements one transformation node's behavior, per spec.md §4.4:
// call(&mut self, batch) -> bool where false means "drop this batch". Every
// function is pure over (conf, batch) except for an optional rolling window
// buffer owned by the function instance (see window.go).
type Function interface {
	// Call mutates batch in place (filtering messages, adding/overwriting
	// fields, etc.) and returns false to drop the batch entirely.
	Call(batch *message.Batch) bool
}

// FuncAdapter lets a plain function literal satisfy Function.
type FuncAdapter func(batch *message.Batch) bool

func (f FuncAdapter) Call(batch *message.Batch) bool { return f(batch) }

// FilterFunc implements the Filter category: a predicate evaluated per
// message, with the batch's Messages filtered in place.
type FilterFunc struct {
	Predicate func(m message.Message) bool
}

func (f FilterFunc) Call(batch *message.Batch) bool {
	kept := batch.Messages[:0]
	for _, m := range batch.Messages {
		if f.Predicate(m) {
			kept = append(kept, m)
		}
	}
	batch.Messages = kept
	return true
}

// ComputerFunc implements the Computer category: sets Field to the result of
// Compute on every message, per-message. Compute sees the message's current
// value; numeric operands should type-coerce int/float transparently and
// emit message.Null() into the target field on a type mismatch, per
// spec.md §4.4.
type ComputerFunc struct {
	Field   string
	Compute func(m message.Message) message.Value
}

func (f ComputerFunc) Call(batch *message.Batch) bool {
	for i := range batch.Messages {
		v := f.Compute(batch.Messages[i])
		batch.Messages[i].Set(f.Field, v)
	}
	return true
}

// CoerceFloat implements the Computer category's required numeric
// coercion: both operands may be Int64 or Float64, combined as float64; any
// other kind yields (0, false) so the caller can emit Null.
func CoerceFloat(a, b message.Value) (af, bf float64, ok bool) {
	af, ok1 := a.Float()
	bf, ok2 := b.Float()
	return af, bf, ok1 && ok2
}

// AggregationFunc implements the Aggregation category: consumes all
// messages in the batch and emits one message per group key.
type AggregationFunc struct {
	GroupKey func(m message.Message) string
	// Reduce folds the messages sharing one group key into a single output
	// message; group is guaranteed non-empty.
	Reduce func(key string, group []message.Message) message.Message
}

func (f AggregationFunc) Call(batch *message.Batch) bool {
	groups := make(map[string][]message.Message)
	order := make([]string, 0)
	for _, m := range batch.Messages {
		k := f.GroupKey(m)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}
	out := make([]message.Message, 0, len(order))
	for _, k := range order {
		out = append(out, f.Reduce(k, groups[k]))
	}
	batch.Messages = out
	return true
}

// TypeConvertFunc implements the Type judgment / conversion category: a
// deterministic mapping table between the eight MessageValue variants,
// applied to Field on every message.
type TypeConvertFunc struct {
	Field   string
	Convert func(v message.Value) message.Value
}

func (f TypeConvertFunc) Call(batch *message.Batch) bool {
	for i := range batch.Messages {
		cur, ok := batch.Messages[i].Get(f.Field)
		if !ok {
			continue
		}
		batch.Messages[i].Set(f.Field, f.Convert(cur))
	}
	return true
}

// MetadataFunc implements the Metadata category: reads or writes
// batch.Metadata.
type MetadataFunc struct {
	Apply func(metadata map[string]message.Value) map[string]message.Value
}

func (f MetadataFunc) Call(batch *message.Batch) bool {
	if batch.Metadata == nil {
		batch.Metadata = make(map[string]message.Value)
	}
	batch.Metadata = f.Apply(batch.Metadata)
	return true
}

// ConvertKind maps between the eight MessageValue variants deterministically,
// per spec.md §4.4. A source value that cannot become an Int64, Float64 or
// Bool yields Null; a target kind with no mapping (Null, Bytes, Array,
// Object) passes the value through unchanged.
func ConvertKind(v message.Value, to message.Kind) message.Value {
	if v.Kind() == to {
		return v
	}
	switch to {
	case message.KindString:
		return message.String(v.String())
	case message.KindInt64:
		if f, ok := v.Float(); ok {
			return message.Int64(int64(f))
		}
		return message.Null()
	case message.KindFloat64:
		if f, ok := v.Float(); ok {
			return message.Float64(f)
		}
		return message.Null()
	case message.KindBool:
		if b, ok := v.AsBool(); ok {
			return message.Bool(b)
		}
		return message.Null()
	default:
		return v
	}
}

package message

// Message wraps a single Object-valued Value, the unit of data that flows
// through rule pipeline stages. Metadata about provenance (source endpoint,
// ingest timestamp) lives on the enclosing MessageBatch, not the Message.
type Message struct {
	value Value
}

// NewMessage builds a Message from an Object value. If v is not an Object it
// is wrapped under the "value" key, matching the teacher's convention of
// never emitting a bare scalar as a top-level record.
func NewMessage(v Value) Message {
	if v.Kind() == KindObject {
		return Message{value: v}
	}
	return Message{value: Object(map[string]Value{"value": v})}
}

// NewEmptyMessage returns a Message with an empty Object value.
func NewEmptyMessage() Message { return Message{value: NewObject()} }

// Value returns the Message's underlying Object value.
func (m Message) Value() Value { return m.value }

// Get resolves a path (see Value.Get) against the Message's Object value.
func (m Message) Get(path string) (Value, bool) { return m.value.Get(path) }

// Set writes newVal at path within the Message's Object value.
func (m *Message) Set(path string, newVal Value) bool { return m.value.Set(path, newVal) }

// Add appends to the Array found at path within the Message's Object value.
func (m *Message) Add(path string, newVal Value) bool { return m.value.Add(path, newVal) }

// Merge deep-merges other's fields into m, per Value.Merge.
func (m *Message) Merge(other Message) { m.value.Merge(other.value) }

// Clone returns a deep copy of m, safe to mutate independently.
func (m Message) Clone() Message { return Message{value: m.value.Clone()} }

// MarshalJSON delegates to the underlying Value.
func (m Message) MarshalJSON() ([]byte, error) { return m.value.MarshalJSON() }

// UnmarshalJSON delegates to the underlying Value, rejecting non-Object
// top-level JSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind() != KindObject {
		v = Object(map[string]Value{"value": v})
	}
	m.value = v
	return nil
}

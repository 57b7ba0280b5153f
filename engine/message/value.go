// Package message implements the fabric's immutable-once-published value
// model: MessageValue, Message and MessageBatch (spec.md C1), plus the
// RuleMessageBatch transport envelope used between rule pipeline stages.
//
// The style mirrors the teacher's plain-struct, json-tagged data types
// (engine/models/models.go) rather than a generated/reflective encoding:
// MessageValue is a small closed sum type with a hand-written accessor set.
package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which variant of the MessageValue sum is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the recursive sum MessageValue = Null | Bool | Int64 | Float64 |
// String | Bytes | Array<Value> | Object(Map<string, Value>). Exactly one of
// the typed fields is meaningful, selected by Kind; zero value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	arr  []Value
	obj  map[string]Value
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(v bool) Value           { return Value{kind: KindBool, b: v} }
func Int64(v int64) Value         { return Value{kind: KindInt64, i: v} }
func Float64(v float64) Value     { return Value{kind: KindFloat64, f: v} }
func String(v string) Value       { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value        { return Value{kind: KindBytes, by: append([]byte(nil), v...)} }
func Array(v ...Value) Value      { return Value{kind: KindArray, arr: append([]Value(nil), v...)} }
func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

func NewObject() Value { return Value{kind: KindObject, obj: make(map[string]Value)} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt64() (int64, bool)     { return v.i, v.kind == KindInt64 }
func (v Value) AsFloat64() (float64, bool) { return v.f, v.kind == KindFloat64 }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)    { return v.by, v.kind == KindBytes }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Float coerces Int64 or Float64 transparently; ok is false for any other kind.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat64:
		return v.f, true
	case KindInt64:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Len returns the length of an Array, Object or String value, else 0.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	case KindString:
		return len(v.s)
	default:
		return 0
	}
}

// Clone returns a deep copy so callers can safely mutate a Shared batch's
// values after a copy-on-write split.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		return Bytes(v.by)
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: out}
	case KindObject:
		out := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Clone()
		}
		return Value{kind: KindObject, obj: out}
	default:
		return v
	}
}

// Equal compares two values structurally, ignoring map/array element order
// for objects (arrays remain order-sensitive).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt64:
		return v.i == other.i
	case KindFloat64:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBytes:
		if len(v.by) != len(other.by) {
			return false
		}
		for i := range v.by {
			if v.by[i] != other.by[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := other.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Get resolves a JSON-pointer-style path such as "a->b->0" over Object and
// Array values. Each segment either indexes an Object by key or an Array by
// decimal index. Returns Null, false if any segment cannot be resolved.
func (v Value) Get(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, "->") {
		switch cur.kind {
		case KindObject:
			nxt, ok := cur.obj[seg]
			if !ok {
				return Null(), false
			}
			cur = nxt
		case KindArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.arr) {
				return Null(), false
			}
			cur = cur.arr[idx]
		default:
			return Null(), false
		}
	}
	return cur, true
}

// Set writes newVal at path, creating intermediate Objects as needed. Set on
// an Array segment requires the index to already exist (arrays are not
// auto-extended); use Add to append. Set returns false if an intermediate
// segment exists but is not indexable.
func (v *Value) Set(path string, newVal Value) bool {
	if path == "" {
		*v = newVal
		return true
	}
	segs := strings.Split(path, "->")
	return setAt(v, segs, newVal)
}

func setAt(v *Value, segs []string, newVal Value) bool {
	seg := segs[0]
	last := len(segs) == 1
	if v.kind == KindNull && !last {
		*v = NewObject()
	}
	switch v.kind {
	case KindObject:
		if v.obj == nil {
			v.obj = make(map[string]Value)
		}
		if last {
			v.obj[seg] = newVal
			return true
		}
		child := v.obj[seg]
		if child.kind == KindNull {
			child = NewObject()
		}
		if ok := setAt(&child, segs[1:], newVal); !ok {
			return false
		}
		v.obj[seg] = child
		return true
	case KindArray:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v.arr) {
			return false
		}
		if last {
			v.arr[idx] = newVal
			return true
		}
		return setAt(&v.arr[idx], segs[1:], newVal)
	default:
		return false
	}
}

// Add appends newVal to the Array found at path (path may be "" to mean the
// receiver itself). Returns false if the target is not an Array.
func (v *Value) Add(path string, newVal Value) bool {
	target, ok := v.navigate(path)
	if !ok || target.kind != KindArray {
		return false
	}
	target.arr = append(target.arr, newVal)
	return v.Set(path, *target)
}

func (v *Value) navigate(path string) (*Value, bool) {
	if path == "" {
		return v, true
	}
	val, ok := v.Get(path)
	if !ok {
		return nil, false
	}
	return &val, true
}

// Merge deep-merges other into v: Objects merge key-by-key recursively,
// anything else is overwritten by other (other wins on type mismatch).
func (v *Value) Merge(other Value) {
	if v.kind != KindObject || other.kind != KindObject {
		*v = other.Clone()
		return
	}
	if v.obj == nil {
		v.obj = make(map[string]Value)
	}
	for k, ov := range other.obj {
		if existing, ok := v.obj[k]; ok && existing.kind == KindObject && ov.kind == KindObject {
			existing.Merge(ov)
			v.obj[k] = existing
			continue
		}
		v.obj[k] = ov.Clone()
	}
}

// MarshalJSON implements json.Marshaler. Bytes are base64-encoded by the
// standard []byte marshaling rule via the intermediate any conversion.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

func (v Value) toAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt64:
		return v.i
	case KindFloat64:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.by
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.toAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.toAny()
		}
		return out
	default:
		return nil
	}
}

// UnmarshalJSON implements json.Unmarshaler, decoding numbers as Int64 when
// they carry no fractional/exponent part and Float64 otherwise.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int64(i)
		}
		f, _ := t.Float64()
		return Float64(f)
	case string:
		return String(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromAny(e)
		}
		return Value{kind: KindArray, arr: out}
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = fromAny(e)
		}
		return Value{kind: KindObject, obj: out}
	default:
		return Null()
	}
}

func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<message.Value kind=%s>", v.kind)
	}
	return string(b)
}

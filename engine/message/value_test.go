package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAccessors(t *testing.T) {
	t.Run("typed_accessors_report_kind_mismatch", func(t *testing.T) {
		v := Int64(42)
		i, ok := v.AsInt64()
		assert.True(t, ok)
		assert.Equal(t, int64(42), i)

		_, ok = v.AsString()
		assert.False(t, ok)
	})

	t.Run("float_coerces_int64", func(t *testing.T) {
		f, ok := Int64(3).Float()
		assert.True(t, ok)
		assert.Equal(t, 3.0, f)

		f, ok = Float64(2.5).Float()
		assert.True(t, ok)
		assert.Equal(t, 2.5, f)

		_, ok = String("x").Float()
		assert.False(t, ok)
	})

	t.Run("len_covers_array_object_string", func(t *testing.T) {
		assert.Equal(t, 3, Array(Int64(1), Int64(2), Int64(3)).Len())
		assert.Equal(t, 2, Object(map[string]Value{"a": Bool(true), "b": Bool(false)}).Len())
		assert.Equal(t, 5, String("hello").Len())
		assert.Equal(t, 0, Null().Len())
	})
}

func TestValueGetSet(t *testing.T) {
	v := Object(map[string]Value{
		"a": Object(map[string]Value{
			"b": Array(Int64(10), Int64(20)),
		}),
	})

	got, ok := v.Get("a->b->1")
	require.True(t, ok)
	i, _ := got.AsInt64()
	assert.Equal(t, int64(20), i)

	_, ok = v.Get("a->missing")
	assert.False(t, ok)

	require.True(t, v.Set("a->b->0", Int64(99)))
	got, _ = v.Get("a->b->0")
	i, _ = got.AsInt64()
	assert.Equal(t, int64(99), i)

	require.True(t, v.Set("a->c", String("new")))
	got, ok = v.Get("a->c")
	require.True(t, ok)
	s, _ := got.AsString()
	assert.Equal(t, "new", s)
}

func TestValueSetRejectsOutOfRangeArrayIndex(t *testing.T) {
	v := Array(Int64(1))
	assert.False(t, v.Set("5", Int64(2)))
}

func TestValueAdd(t *testing.T) {
	v := NewObject()
	require.True(t, v.Set("items", Array()))
	require.True(t, v.Add("items", Int64(1)))
	require.True(t, v.Add("items", Int64(2)))

	arr, ok := v.Get("items")
	require.True(t, ok)
	elems, _ := arr.AsArray()
	assert.Len(t, elems, 2)
}

func TestValueMerge(t *testing.T) {
	v := Object(map[string]Value{
		"a": Int64(1),
		"nested": Object(map[string]Value{
			"x": String("old"),
			"y": Bool(true),
		}),
	})
	v.Merge(Object(map[string]Value{
		"a": Int64(2),
		"nested": Object(map[string]Value{
			"x": String("new"),
		}),
	}))

	got, _ := v.Get("a")
	i, _ := got.AsInt64()
	assert.Equal(t, int64(2), i)

	got, _ = v.Get("nested->x")
	s, _ := got.AsString()
	assert.Equal(t, "new", s)

	got, _ = v.Get("nested->y")
	b, _ := got.AsBool()
	assert.True(t, b)
}

func TestValueEqual(t *testing.T) {
	a := Object(map[string]Value{"x": Int64(1), "y": Array(Int64(2), Int64(3))})
	b := Object(map[string]Value{"y": Array(Int64(2), Int64(3)), "x": Int64(1)})
	assert.True(t, a.Equal(b))

	c := Object(map[string]Value{"x": Int64(1), "y": Array(Int64(3), Int64(2))})
	assert.False(t, a.Equal(c))
}

func TestValueClone(t *testing.T) {
	orig := Object(map[string]Value{"arr": Array(Int64(1), Int64(2))})
	clone := orig.Clone()
	clone.Set("arr->0", Int64(99))

	got, _ := orig.Get("arr->0")
	i, _ := got.AsInt64()
	assert.Equal(t, int64(1), i, "mutating the clone must not affect the original")
}

func TestValueJSONRoundTrip(t *testing.T) {
	v := Object(map[string]Value{
		"name":  String("pump-1"),
		"count": Int64(7),
		"ratio": Float64(1.5),
		"tags":  Array(String("a"), String("b")),
		"ok":    Bool(true),
		"none":  Null(),
	})

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var out Value
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, v.Equal(out))
}

func TestValueUnmarshalDistinguishesIntFromFloat(t *testing.T) {
	var whole Value
	require.NoError(t, json.Unmarshal([]byte("7"), &whole))
	assert.Equal(t, KindInt64, whole.Kind())

	var frac Value
	require.NoError(t, json.Unmarshal([]byte("7.5"), &frac))
	assert.Equal(t, KindFloat64, frac.Kind())
}

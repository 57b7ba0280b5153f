package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/message"
)

func batchOf(values ...int64) *message.Batch {
	b := message.NewBatch("t", 0)
	for _, v := range values {
		b.Append(message.NewMessage(message.Object(map[string]message.Value{"n": message.Int64(v)})))
	}
	return b
}

func TestFilterFuncKeepsMatchingMessages(t *testing.T) {
	f := FilterFunc{Predicate: func(m message.Message) bool {
		v, _ := m.Get("n")
		n, _ := v.AsInt64()
		return n > 1
	}}
	b := batchOf(1, 2, 3)
	assert.True(t, f.Call(b))
	require.Len(t, b.Messages, 2)
}

func TestComputerFuncSetsField(t *testing.T) {
	f := ComputerFunc{
		Field: "doubled",
		Compute: func(m message.Message) message.Value {
			v, _ := m.Get("n")
			n, _ := v.AsInt64()
			return message.Int64(n * 2)
		},
	}
	b := batchOf(3)
	f.Call(b)
	got, ok := b.Messages[0].Get("doubled")
	require.True(t, ok)
	n, _ := got.AsInt64()
	assert.Equal(t, int64(6), n)
}

func TestCoerceFloat(t *testing.T) {
	f, g, ok := CoerceFloat(message.Int64(2), message.Float64(1.5))
	require.True(t, ok)
	assert.Equal(t, 2.0, f)
	assert.Equal(t, 1.5, g)

	_, _, ok = CoerceFloat(message.String("x"), message.Int64(1))
	assert.False(t, ok)
}

func TestAggregationFuncGroupsByKey(t *testing.T) {
	f := AggregationFunc{
		GroupKey: func(m message.Message) string {
			v, _ := m.Get("n")
			n, _ := v.AsInt64()
			if n%2 == 0 {
				return "even"
			}
			return "odd"
		},
		Reduce: func(key string, group []message.Message) message.Message {
			return message.NewMessage(message.Object(map[string]message.Value{
				"key":   message.String(key),
				"count": message.Int64(int64(len(group))),
			}))
		},
	}
	b := batchOf(1, 2, 3, 4, 5)
	f.Call(b)
	require.Len(t, b.Messages, 2)
}

func TestTypeConvertFuncAppliesConvert(t *testing.T) {
	f := TypeConvertFunc{
		Field:   "n",
		Convert: func(v message.Value) message.Value { return ConvertKind(v, message.KindString) },
	}
	b := batchOf(42)
	f.Call(b)
	got, _ := b.Messages[0].Get("n")
	s, ok := got.AsString()
	require.True(t, ok)
	assert.Equal(t, "42", s)
}

func TestMetadataFuncAppliesToBatchMetadata(t *testing.T) {
	f := MetadataFunc{Apply: func(md map[string]message.Value) map[string]message.Value {
		md["seen"] = message.Bool(true)
		return md
	}}
	b := message.NewBatch("t", 0)
	f.Call(b)
	v, ok := b.Metadata["seen"]
	require.True(t, ok)
	boolVal, _ := v.AsBool()
	assert.True(t, boolVal)
}

func TestConvertKindHandlesUnsupportedPairByPassthrough(t *testing.T) {
	v := message.Array(message.Int64(1))
	out := ConvertKind(v, message.KindObject)
	assert.Equal(t, message.KindArray, out.Kind())
}

func TestConvertKindNumericAndBool(t *testing.T) {
	assert.Equal(t, int64(7), mustInt64(ConvertKind(message.Float64(7.9), message.KindInt64)))
	assert.Equal(t, 7.0, mustFloat64(ConvertKind(message.Int64(7), message.KindFloat64)))
	assert.True(t, mustBool(ConvertKind(message.Bool(true), message.KindBool)))
	assert.Equal(t, message.KindNull, ConvertKind(message.String("x"), message.KindBool).Kind())
}

func mustInt64(v message.Value) int64     { n, _ := v.AsInt64(); return n }
func mustFloat64(v message.Value) float64 { f, _ := v.AsFloat64(); return f }
func mustBool(v message.Value) bool       { b, _ := v.AsBool(); return b }

package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageWrapsNonObjectUnderValueKey(t *testing.T) {
	m := NewMessage(String("hello"))
	got, ok := m.Get("value")
	require.True(t, ok)
	s, _ := got.AsString()
	assert.Equal(t, "hello", s)
}

func TestNewMessagePreservesObject(t *testing.T) {
	m := NewMessage(Object(map[string]Value{"temp": Float64(21.5)}))
	got, ok := m.Get("temp")
	require.True(t, ok)
	f, _ := got.Float()
	assert.Equal(t, 21.5, f)
}

func TestMessageSetAddMerge(t *testing.T) {
	m := NewEmptyMessage()
	require.True(t, m.Set("name", String("pump")))
	require.True(t, m.Set("tags", Array()))
	require.True(t, m.Add("tags", String("edge")))

	other := NewEmptyMessage()
	other.Set("status", String("running"))
	m.Merge(other)

	got, ok := m.Get("status")
	require.True(t, ok)
	s, _ := got.AsString()
	assert.Equal(t, "running", s)
}

func TestMessageClone(t *testing.T) {
	m := NewMessage(Object(map[string]Value{"n": Int64(1)}))
	clone := m.Clone()
	clone.Set("n", Int64(2))

	got, _ := m.Get("n")
	i, _ := got.AsInt64()
	assert.Equal(t, int64(1), i)
}

func TestMessageJSONRoundTrip(t *testing.T) {
	m := NewMessage(Object(map[string]Value{"ok": Bool(true)}))
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var out Message
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, m.Value().Equal(out.Value()))
}

func TestMessageUnmarshalWrapsBareScalar(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`42`), &m))
	got, ok := m.Get("value")
	require.True(t, ok)
	i, _ := got.AsInt64()
	assert.Equal(t, int64(42), i)
}

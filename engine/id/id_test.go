package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndNonNil(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNil())
}

func TestNilIsZeroValue(t *testing.T) {
	var zero ID
	assert.True(t, zero.IsNil())
	assert.Equal(t, Nil, zero)
}

func TestParseRoundTrip(t *testing.T) {
	orig := New()
	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-uuid")
	assert.Error(t, err)
}

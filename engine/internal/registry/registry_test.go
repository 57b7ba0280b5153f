package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
)

func TestAcquireAndHasRefs(t *testing.T) {
	r := New()
	ep := id.New()
	rule := id.New()

	assert.False(t, r.HasRefs(ep))
	r.Acquire(ep, rule, false)
	assert.True(t, r.HasRefs(ep))
	assert.False(t, r.HasActiveRefs(ep))
}

func TestAcquireIsIdempotentAndUpdatesActiveFlag(t *testing.T) {
	r := New()
	ep, rule := id.New(), id.New()

	r.Acquire(ep, rule, false)
	r.Acquire(ep, rule, true)

	assert.True(t, r.HasActiveRefs(ep))
	assert.True(t, r.IsUsedBy(ep, rule))
}

func TestSetActiveFlipsFlag(t *testing.T) {
	r := New()
	ep, rule := id.New(), id.New()
	r.Acquire(ep, rule, false)

	r.SetActive(ep, rule, true)
	assert.True(t, r.HasActiveRefs(ep))

	r.SetActive(ep, rule, false)
	assert.False(t, r.HasActiveRefs(ep))
}

func TestSetActiveOnMissingEdgeIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.SetActive(id.New(), id.New(), true) })
}

func TestReleaseRemovesEdgeAndCleansUpEmptySet(t *testing.T) {
	r := New()
	ep, rule := id.New(), id.New()
	r.Acquire(ep, rule, true)

	r.Release(ep, rule)
	assert.False(t, r.HasRefs(ep))
	assert.False(t, r.IsUsedBy(ep, rule))
}

func TestReferrers(t *testing.T) {
	r := New()
	ep := id.New()
	ruleA, ruleB := id.New(), id.New()
	r.Acquire(ep, ruleA, false)
	r.Acquire(ep, ruleB, true)

	refs := r.Referrers(ep)
	assert.ElementsMatch(t, []string{ruleA.String(), ruleB.String()}, refs)
}

func TestCheckDeletableFailsWhileAnyEdgeExists(t *testing.T) {
	r := New()
	ep, rule := id.New(), id.New()

	require.NoError(t, r.CheckDeletable(ep))

	r.Acquire(ep, rule, false)
	err := r.CheckDeletable(ep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferr.ErrInUse))
}

func TestCheckStoppableOnlyFailsOnActiveEdges(t *testing.T) {
	r := New()
	ep, rule := id.New(), id.New()
	r.Acquire(ep, rule, false)

	require.NoError(t, r.CheckStoppable(ep), "an inactive reference does not block stopping")

	r.SetActive(ep, rule, true)
	err := r.CheckStoppable(ep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferr.ErrInUse))
}

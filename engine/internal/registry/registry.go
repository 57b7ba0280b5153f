// Package registry implements the process-wide reference registry (spec.md
// C5): the single table tracking which rules reference which endpoints, and
// the sole authority gating endpoint stop/delete on reference counts. New
// package with no direct teacher file — the single-mutex, single-owner
// table pattern follows SPEC_FULL.md's "Design notes" directive that the
// registry, like the teacher's process-wide singletons (metrics Provider,
// tracing Tracer), is one instance initialised at startup with all mutation
// behind its own mutex.
package registry

import (
	"sync"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
)

// edge is one (rule, active) pair referencing an endpoint.
type edge struct {
	rule   id.ID
	active bool
}

// Registry is the process-wide Map<EndpointId, Set<(RuleId, Active)>>.
type Registry struct {
	mu    sync.Mutex
	edges map[id.ID]map[id.ID]*edge
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{edges: make(map[id.ID]map[id.ID]*edge)}
}

// Acquire records that rule references endpoint, as active if active is
// true. Re-acquiring an existing edge updates its active flag. Idempotent.
func (r *Registry) Acquire(endpoint, rule id.ID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.edges[endpoint]
	if !ok {
		set = make(map[id.ID]*edge)
		r.edges[endpoint] = set
	}
	if e, ok := set[rule]; ok {
		e.active = active
		return
	}
	set[rule] = &edge{rule: rule, active: active}
}

// SetActive flips the active flag of an existing edge. No-op if the edge
// does not exist.
func (r *Registry) SetActive(endpoint, rule id.ID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.edges[endpoint]; ok {
		if e, ok := set[rule]; ok {
			e.active = active
		}
	}
}

// Release removes rule's reference edge to endpoint entirely.
func (r *Registry) Release(endpoint, rule id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.edges[endpoint]; ok {
		delete(set, rule)
		if len(set) == 0 {
			delete(r.edges, endpoint)
		}
	}
}

// HasRefs reports whether endpoint has any reference edge at all.
func (r *Registry) HasRefs(endpoint id.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.edges[endpoint]
	return ok && len(set) > 0
}

// HasActiveRefs reports whether endpoint has at least one active reference.
func (r *Registry) HasActiveRefs(endpoint id.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.edges[endpoint]
	if !ok {
		return false
	}
	for _, e := range set {
		if e.active {
			return true
		}
	}
	return false
}

// IsUsedBy reports whether rule holds any reference edge (active or not) to
// endpoint.
func (r *Registry) IsUsedBy(endpoint, rule id.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.edges[endpoint]
	if !ok {
		return false
	}
	_, ok = set[rule]
	return ok
}

// Referrers returns the rule ids currently referencing endpoint, for
// building an ferr.InUse error.
func (r *Registry) Referrers(endpoint id.ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.edges[endpoint]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for rid := range set {
		out = append(out, rid.String())
	}
	return out
}

// CheckDeletable returns ferr.ErrInUse (wrapped with referrers) if endpoint
// still has any reference edge; spec.md invariant 1.
func (r *Registry) CheckDeletable(endpoint id.ID) error {
	if refs := r.Referrers(endpoint); len(refs) > 0 {
		return ferr.NewInUse(refs)
	}
	return nil
}

// CheckStoppable returns ferr.ErrInUse (wrapped with referrers) if endpoint
// still has an active reference edge; spec.md invariant 2.
func (r *Registry) CheckStoppable(endpoint id.ID) error {
	if !r.HasActiveRefs(endpoint) {
		return nil
	}
	return ferr.NewInUse(r.Referrers(endpoint))
}

// Package id provides the opaque resource identifier shared by endpoints,
// rules and reference edges. It is a thin wrapper over a UUID so that every
// cross-aggregate reference in the system is a comparable, stringifiable
// value rather than a shared pointer (see SPEC_FULL.md "Design notes").
package id

import "github.com/google/uuid"

// ID is a 128-bit opaque identifier, unique per resource.
type ID uuid.UUID

// Nil is the zero-value ID, never assigned to a real resource.
var Nil ID

// New generates a fresh random ID.
func New() ID { return ID(uuid.New()) }

// Parse parses a string-encoded ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

func (i ID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return i == Nil }

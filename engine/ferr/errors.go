// Package ferr defines the user-facing error taxonomy shared by the lifecycle
// manager, the rule runtime and the reference registry. Sentinel errors are
// wrapped with detail via fmt.Errorf("...: %w", ...) and compared with
// errors.Is; callers that need structured fields should use errors.As against
// the *Detail types below.
package ferr

import "errors"

var (
	// ErrInvalidConf marks a validation failure. Never retried.
	ErrInvalidConf = errors.New("invalid configuration")
	// ErrNameExists marks a uniqueness violation on name within a parent scope.
	ErrNameExists = errors.New("name already exists")
	// ErrAddressExists marks a uniqueness violation on a physical address.
	ErrAddressExists = errors.New("address already exists")
	// ErrNotFound marks a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInUse marks a mutation blocked by the reference registry.
	ErrInUse = errors.New("in use")
	// ErrWrongState marks an invalid lifecycle transition.
	ErrWrongState = errors.New("wrong state")
	// ErrTransport marks a connectivity failure; always retried by the endpoint.
	ErrTransport = errors.New("transport error")
	// ErrProtocol marks a peer-returned protocol-level error; not fatal.
	ErrProtocol = errors.New("protocol error")
	// ErrInternal marks an invariant violation.
	ErrInternal = errors.New("internal error")
	// ErrNotImplemented marks a deliberately unimplemented path (see SPEC_FULL.md §3).
	ErrNotImplemented = errors.New("not implemented")
)

// InvalidConf carries the offending field and reason alongside ErrInvalidConf.
type InvalidConf struct {
	Field  string
	Reason string
}

func (e *InvalidConf) Error() string { return "invalid configuration: " + e.Field + ": " + e.Reason }
func (e *InvalidConf) Unwrap() error { return ErrInvalidConf }

// NewInvalidConf builds an InvalidConf error.
func NewInvalidConf(field, reason string) error { return &InvalidConf{Field: field, Reason: reason} }

// NotFound carries the resource kind and id alongside ErrNotFound.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string { return e.Kind + " not found: " + e.ID }
func (e *NotFound) Unwrap() error  { return ErrNotFound }

// NewNotFound builds a NotFound error.
func NewNotFound(kind, id string) error { return &NotFound{Kind: kind, ID: id} }

// InUse carries the referring rule ids alongside ErrInUse.
type InUse struct {
	Referrers []string
}

func (e *InUse) Error() string {
	s := "resource in use by"
	for i, r := range e.Referrers {
		if i > 0 {
			s += ","
		}
		s += " " + r
	}
	return s
}
func (e *InUse) Unwrap() error { return ErrInUse }

// NewInUse builds an InUse error.
func NewInUse(referrers []string) error { return &InUse{Referrers: referrers} }

// WrongState carries the attempted transition alongside ErrWrongState.
type WrongState struct {
	From string
	To   string
}

func (e *WrongState) Error() string { return "cannot transition from " + e.From + " to " + e.To }
func (e *WrongState) Unwrap() error  { return ErrWrongState }

// NewWrongState builds a WrongState error.
func NewWrongState(from, to string) error { return &WrongState{From: from, To: to} }

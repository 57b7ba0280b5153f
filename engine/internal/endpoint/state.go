package endpoint

import "github.com/fieldmesh/core/engine/ferr"

// State is one of the endpoint lifecycle states of spec.md §3.
type State int

const (
	Configured State = iota
	Starting
	Running
	Errored
	Stopping
	Stopped
	Deleted
)

func (s State) String() string {
	switch s {
	case Configured:
		return "Configured"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Errored:
		return "Errored"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// validTransitions enumerates the edges of Configured → Starting → Running
// ⇄ Errored → Stopping → Stopped → Deleted. Transitions are driven only by
// the lifecycle manager (C3); an endpoint never self-promotes past Errored.
var validTransitions = map[State]map[State]bool{
	Configured: {Starting: true, Deleted: true},
	Starting:   {Running: true, Errored: true, Stopping: true},
	Running:    {Errored: true, Stopping: true},
	Errored:    {Running: true, Stopping: true, Starting: true},
	Stopping:   {Stopped: true},
	Stopped:    {Starting: true, Deleted: true},
	Deleted:    {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge.
func CanTransition(from, to State) bool {
	edges, ok := validTransitions[from]
	return ok && edges[to]
}

// CheckTransition returns ferr.ErrWrongState (wrapped with detail) if the
// move is illegal, else nil.
func CheckTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return ferr.NewWrongState(from.String(), to.String())
}

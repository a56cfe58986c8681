// Package taskstate defines the lifecycle shared by history entries, the
// status store and the HTTP API.
package taskstate

// State is a task's position in its lifecycle.
type State string

const (
	Working   State = "working"
	Completed State = "completed"
	Failed    State = "failed"
)

func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed
}

// transitions lists the states each state may move to.
var transitions = map[State][]State{
	Working:   {Completed, Failed},
	Completed: {},
	Failed:    {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Parse converts s to a State. The bool is false for unknown states.
func Parse(s string) (State, bool) {
	state := State(s)
	if _, ok := transitions[state]; ok {
		return state, true
	}
	return "", false
}

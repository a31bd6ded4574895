package domain

// State is the lifecycle status of a component as reported by the registry.
type State string

const (
	StateNew       State = "NEW"
	StateInstalled State = "INSTALLED"
	StateStarting  State = "STARTING"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
	StateFinished  State = "FINISHED"
	StateErrored   State = "ERRORED"
	StateBroken    State = "BROKEN"
)

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateInstalled, StateStarting, StateRunning,
		StateStopping, StateFinished, StateErrored, StateBroken:
		return true
	}
	return false
}

// Happy is false only for the failure states.
func (s State) Happy() bool {
	return s != StateErrored && s != StateBroken
}

// Running is true while a lifecycle transition is in flight.
func (s State) Running() bool {
	return s == StateStarting || s == StateStopping
}

// FunctioningProperly is true once a component has settled in a good state.
func (s State) FunctioningProperly() bool {
	return s == StateRunning || s == StateFinished
}

// Startable reports whether a start request makes sense from this state.
func (s State) Startable() bool {
	switch s {
	case StateNew, StateInstalled, StateFinished, StateErrored, StateBroken:
		return true
	}
	return false
}

// Stoppable reports whether a stop request makes sense from this state.
func (s State) Stoppable() bool {
	switch s {
	case StateStarting, StateRunning, StateErrored:
		return true
	}
	return false
}

// StatusIcon maps a state onto the UI hint the dashboard renders.
func (s State) StatusIcon() string {
	switch {
	case !s.Happy():
		return "error"
	case s.Running():
		return "in-progress"
	case s.FunctioningProperly():
		return "success"
	default:
		return "pending"
	}
}

package instrument

import "fmt"

// State is the lifecycle state of one instrument.
type State string

const (
	Unconfigured State = "unconfigured"
	Configuring  State = "configuring"
	Verified     State = "verified"
	Cooling      State = "cooling"
	Fault        State = "fault"
	ShutDown     State = "shutdown"
)

// Transition is an allowable edge of the state graph.
type Transition struct {
	From State
	To   State
}

// T is shorthand for declaring several transitions out of one state.
func T(from State, tos ...State) []Transition {
	var transitions []Transition
	for _, to := range tos {
		transitions = append(transitions, Transition{From: from, To: to})
	}
	return transitions
}

// TransitionNotAllowed is returned when a transition is not on the graph.
type TransitionNotAllowed struct {
	Instrument string
	From       State
	To         State
}

func (e TransitionNotAllowed) Error() string {
	return fmt.Sprintf("%s: cannot transition from state %s to %s", e.Instrument, e.From, e.To)
}

// Machine tracks the state of one instrument.
type Machine struct {
	name      string
	current   State
	allowable map[State][]State
}

// NewMachine returns a machine in the Unconfigured state with the given transitions.
func NewMachine(name string, transitions ...[]Transition) *Machine {
	m := &Machine{
		name:      name,
		current:   Unconfigured,
		allowable: map[State][]State{},
	}
	for _, ts := range transitions {
		for _, t := range ts {
			m.allowable[t.From] = append(m.allowable[t.From], t.To)
		}
	}
	return m
}

// currentSourceMachine has no thermal branch.
func currentSourceMachine(name string) *Machine {
	return NewMachine(name,
		T(Unconfigured, Configuring, ShutDown),
		T(Configuring, Verified, Fault, ShutDown),
		T(Verified, Configuring, Fault, ShutDown),
		T(Fault, ShutDown),
	)
}

func oscillatorMachine(name string) *Machine {
	return NewMachine(name,
		T(Unconfigured, Configuring, ShutDown),
		T(Configuring, Verified, Fault, ShutDown),
		T(Verified, Configuring, Cooling, Fault, ShutDown),
		T(Cooling, Configuring, Fault, ShutDown),
		T(Fault, ShutDown),
	)
}

// State returns the current state.
func (m *Machine) State() State {
	return m.current
}

// Allowable reports whether from -> to is on the graph.
func (m *Machine) Allowable(from, to State) bool {
	for _, s := range m.allowable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given state if allowed. Staying in the current
// state is always allowed.
func (m *Machine) Transition(to State) error {
	if m.current == to {
		return nil
	}
	if !m.Allowable(m.current, to) {
		return TransitionNotAllowed{Instrument: m.name, From: m.current, To: to}
	}
	m.current = to
	return nil
}

// fail moves to Fault when the graph allows it and leaves the state alone otherwise.
func (m *Machine) fail() {
	if m.Allowable(m.current, Fault) {
		m.current = Fault
	}
}

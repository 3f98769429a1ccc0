package flows

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMachine   = errors.New("flow has no steps")
	ErrDuplicateStep  = errors.New("duplicate step")
	ErrTerminalLayout = errors.New("only the last step may be terminal")
	ErrUnknownStep    = errors.New("unknown step")
	ErrAtTerminal     = errors.New("step is terminal")
	ErrCannotRetreat  = errors.New("step does not allow going back")
)

// Node is one step of an ordered flow.
type Node struct {
	Name      string
	Terminal  bool
	AllowBack bool
}

// Machine is a compiled linear step graph. Immutable after Compile.
type Machine struct {
	nodes []Node
	index map[string]int
}

// Compile validates nodes and builds the lookup table. The final node must
// be terminal and no other node may be.
func Compile(nodes []Node) (*Machine, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyMachine
	}

	m := &Machine{
		nodes: make([]Node, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}
	copy(m.nodes, nodes)

	for i, n := range m.nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrUnknownStep, i)
		}
		if _, dup := m.index[n.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, n.Name)
		}
		last := i == len(m.nodes)-1
		if n.Terminal != last {
			return nil, fmt.Errorf("%w: %s", ErrTerminalLayout, n.Name)
		}
		m.index[n.Name] = i
	}

	return m, nil
}

// First returns the entry step.
func (m *Machine) First() string {
	return m.nodes[0].Name
}

// Final returns the terminal success step.
func (m *Machine) Final() string {
	return m.nodes[len(m.nodes)-1].Name
}

// Has reports whether step belongs to the machine.
func (m *Machine) Has(step string) bool {
	_, ok := m.index[step]
	return ok
}

// IsTerminal reports whether step is the terminal step.
func (m *Machine) IsTerminal(step string) bool {
	i, ok := m.index[step]
	return ok && m.nodes[i].Terminal
}

// Advance returns the step after step.
func (m *Machine) Advance(step string) (string, error) {
	i, ok := m.index[step]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	if m.nodes[i].Terminal {
		return "", ErrAtTerminal
	}
	return m.nodes[i+1].Name, nil
}

// Retreat returns the step before step when step allows going back.
func (m *Machine) Retreat(step string) (string, error) {
	i, ok := m.index[step]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	if m.nodes[i].Terminal {
		return "", ErrAtTerminal
	}
	if !m.nodes[i].AllowBack || i == 0 {
		return "", ErrCannotRetreat
	}
	return m.nodes[i-1].Name, nil
}

// Steps returns a copy of the ordered step names.
func (m *Machine) Steps() []string {
	out := make([]string, len(m.nodes))
	for i, n := range m.nodes {
		out[i] = n.Name
	}
	return out
}

// Package lifecycle tracks the host-managed state of an agent instance.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"background-agents/internal/core"
)

// ErrInvalidTransition is returned when an event is not allowed in the current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// Event triggers a state change.
type Event string

const (
	EventStart Event = "start"
	EventStop  Event = "stop"
	EventFail  Event = "fail"
)

// Transition defines a state change caused by an event.
type Transition struct {
	From  core.State
	Event Event
	To    core.State
}

// Transitions is the table every agent instance follows.
var Transitions = []Transition{
	{From: core.StateRegistered, Event: EventStart, To: core.StateRunning},
	{From: core.StateRegistered, Event: EventStop, To: core.StateStopped},
	{From: core.StateRegistered, Event: EventFail, To: core.StateFailed},
	{From: core.StateRunning, Event: EventStop, To: core.StateStopped},
	{From: core.StateRunning, Event: EventFail, To: core.StateFailed},
}

// Machine is a small finite state machine over core.State.
type Machine struct {
	mu          sync.RWMutex
	initial     core.State
	current     core.State
	transitions map[core.State]map[Event]core.State
	onEnter     map[core.State]func(from core.State)
}

// New returns a Machine in the registered state using Transitions.
func New() *Machine {
	m := &Machine{
		initial:     core.StateRegistered,
		current:     core.StateRegistered,
		transitions: make(map[core.State]map[Event]core.State),
		onEnter:     make(map[core.State]func(core.State)),
	}
	for _, t := range Transitions {
		m.AddTransition(t)
	}
	return m
}

// AddTransition registers a transition.
func (m *Machine) AddTransition(t Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transitions[t.From]; !ok {
		m.transitions[t.From] = make(map[Event]core.State)
	}
	m.transitions[t.From][t.Event] = t.To
}

// OnEnter sets a callback run after the machine enters s.
func (m *Machine) OnEnter(s core.State, fn func(from core.State)) {
	m.mu.Lock()
	m.onEnter[s] = fn
	m.mu.Unlock()
}

// ValidateTransitions checks that every state with a callback or a
// transition is reachable from the initial state.
func (m *Machine) ValidateTransitions() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reachable := map[core.State]bool{m.initial: true}
	queue := []core.State{m.initial}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, to := range m.transitions[s] {
			if to == "" {
				return fmt.Errorf("lifecycle: empty target from %s", s)
			}
			if !reachable[to] {
				reachable[to] = true
				queue = append(queue, to)
			}
		}
	}
	for from := range m.transitions {
		if !reachable[from] {
			return fmt.Errorf("lifecycle: state %s unreachable", from)
		}
	}
	for s := range m.onEnter {
		if !reachable[s] {
			return fmt.Errorf("lifecycle: state %s unreachable", s)
		}
	}
	return nil
}

// Trigger applies e and returns the new state.
func (m *Machine) Trigger(e Event) (core.State, error) {
	m.mu.Lock()
	from := m.current
	to, ok := m.transitions[from][e]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, from)
	}
	m.current = to
	fn := m.onEnter[to]
	m.mu.Unlock()
	if fn != nil {
		fn(from)
	}
	return to, nil
}

// State returns the current state.
func (m *Machine) State() core.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

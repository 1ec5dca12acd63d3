package state

import (
	"errors"
	"sync"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine drives the load-level of a peer. Only registered transitions are
// allowed; a transition may carry a guard that can veto it.
type Machine struct {
	current     Level
	transitions map[Level]map[Level]func() bool // from -> to -> guard
	onEnter     map[Level][]func(from Level)
	mutex       sync.RWMutex
}

func NewMachine(initial Level) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[Level]map[Level]func() bool),
		onEnter:     make(map[Level][]func(from Level)),
	}
}

// NewLifecycle returns a machine with the standard step lifecycle:
// UNKNOWN -> LOADING -> LOADED -> PLAYING -> DONE, and back to LOADING from
// every level when a new step begins.
func NewLifecycle() *Machine {
	m := NewMachine(UNKNOWN)
	m.AddTransition(UNKNOWN, LOADING, nil)
	m.AddTransition(LOADING, LOADED, nil)
	m.AddTransition(LOADED, PLAYING, nil)
	m.AddTransition(PLAYING, DONE, nil)
	for _, from := range []Level{LOADING, LOADED, PLAYING, DONE} {
		m.AddTransition(from, LOADING, nil)
	}
	return m
}

// ChangeState moves to level to. Enter hooks run after the lock is released
// so they may trigger further transitions.
func (m *Machine) ChangeState(to Level) error {
	m.mutex.Lock()
	from := m.current

	conditions, exists := m.transitions[from]
	if !exists {
		m.mutex.Unlock()
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[to]
	if !exists {
		m.mutex.Unlock()
		return ErrTransitionNotAllowed
	}
	if condition != nil && !condition() {
		m.mutex.Unlock()
		return ErrTransitionNotAllowed
	}

	m.current = to
	hooks := append([]func(Level){}, m.onEnter[to]...)
	m.mutex.Unlock()

	for _, h := range hooks {
		h(from)
	}
	return nil
}

// Force sets the level without checking transitions or running hooks. Used
// when restoring a recovered session.
func (m *Machine) Force(level Level) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.current = level
}

func (m *Machine) Current() Level {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// AddTransition registers from -> to. A nil condition always allows it;
// registering the same pair again replaces the condition.
func (m *Machine) AddTransition(from, to Level, condition func() bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[Level]func() bool)
	}
	m.transitions[from][to] = condition
}

// OnEnter registers fn to run every time the machine enters level.
func (m *Machine) OnEnter(level Level, fn func(from Level)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onEnter[level] = append(m.onEnter[level], fn)
}

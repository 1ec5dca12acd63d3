// Package loop sequences a game through its stages, steps and rounds.
package loop

import (
	"errors"
	"fmt"

	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/state"
)

var ErrInvalidTable = errors.New("invalid game loop table")

// Step is one step of a stage. C is the context handed to callbacks,
// normally the game orchestrator.
type Step[C any] struct {
	Name string
	// Callback runs when the step starts. A non-nil error means the step
	// failed to start.
	Callback func(c C) error
	// Done, when set, must approve a DONE for this step.
	Done func(c C, args ...any) bool
}

// Stage groups steps that repeat Rounds times. Rounds < 1 means 1.
type Stage[C any] struct {
	Name   string
	Rounds int
	Steps  []Step[C]
}

type bounds struct {
	rounds int
	steps  int
}

// Loop is the sequencing table. State indices are 1-based: stage i of the
// table is state i+1.
type Loop[C any] struct {
	stages []Stage[C]
	limits []bounds
}

func New[C any](stages []Stage[C]) (*Loop[C], error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidTable)
	}
	l := &Loop[C]{
		stages: make([]Stage[C], len(stages)),
		limits: make([]bounds, len(stages)),
	}
	for i, st := range stages {
		if len(st.Steps) == 0 {
			return nil, fmt.Errorf("%w: stage %d (%s) has no steps", ErrInvalidTable, i+1, st.Name)
		}
		if st.Rounds < 0 {
			return nil, fmt.Errorf("%w: stage %d (%s) has negative rounds", ErrInvalidTable, i+1, st.Name)
		}
		if st.Rounds == 0 {
			st.Rounds = 1
		}
		st.Steps = append([]Step[C](nil), st.Steps...)
		l.stages[i] = st
		l.limits[i] = bounds{rounds: st.Rounds, steps: len(st.Steps)}
	}
	return l, nil
}

// Stages returns the number of states in the loop.
func (l *Loop[C]) Stages() int {
	return len(l.stages)
}

func (l *Loop[C]) valid(gs state.GameState) bool {
	if gs.State < 1 || gs.State > len(l.limits) {
		return false
	}
	b := l.limits[gs.State-1]
	return gs.Step >= 1 && gs.Step <= b.steps && gs.Round >= 1 && gs.Round <= b.rounds
}

// Exist reports whether gs is a position of the loop. Failures are logged.
func (l *Loop[C]) Exist(gs state.GameState) bool {
	if gs.State < 1 || gs.State > len(l.limits) {
		logger.Log.Warnf("game state %s does not exist: unknown state %d", gs, gs.State)
		return false
	}
	b := l.limits[gs.State-1]
	if gs.Step < 1 || gs.Step > b.steps {
		logger.Log.Warnf("game state %s does not exist: state %d has %d steps", gs, gs.State, b.steps)
		return false
	}
	if gs.Round < 1 || gs.Round > b.rounds {
		logger.Log.Warnf("game state %s does not exist: state %d has %d rounds", gs, gs.State, b.rounds)
		return false
	}
	return true
}

// Next returns the position following gs. The second result is false when
// gs is the last position (game over) or not part of the loop.
func (l *Loop[C]) Next(gs state.GameState) (state.GameState, bool) {
	if gs.State == 0 {
		return state.New(1, 1, 1), true
	}
	if !l.valid(gs) {
		return state.GameState{}, false
	}
	b := l.limits[gs.State-1]
	switch {
	case gs.Step < b.steps:
		return state.New(gs.State, gs.Step+1, gs.Round), true
	case gs.Round < b.rounds:
		return state.New(gs.State, 1, gs.Round+1), true
	case gs.State < len(l.limits):
		return state.New(gs.State+1, 1, 1), true
	}
	return state.GameState{}, false
}

// Previous is the inverse of Next. The first position (1.1.1) has no
// predecessor.
func (l *Loop[C]) Previous(gs state.GameState) (state.GameState, bool) {
	if !l.valid(gs) {
		return state.GameState{}, false
	}
	switch {
	case gs.Step > 1:
		return state.New(gs.State, gs.Step-1, gs.Round), true
	case gs.Round > 1:
		b := l.limits[gs.State-1]
		return state.New(gs.State, b.steps, gs.Round-1), true
	case gs.State > 1:
		b := l.limits[gs.State-2]
		return state.New(gs.State-1, b.steps, b.rounds), true
	}
	return state.GameState{}, false
}

// JumpTo moves n positions forward (n > 0) or backward (n < 0).
func (l *Loop[C]) JumpTo(gs state.GameState, n int) (state.GameState, bool) {
	move := l.Next
	if n < 0 {
		move = l.Previous
		n = -n
	}
	cur := gs.Position()
	if n == 0 {
		return cur, l.valid(cur)
	}
	for i := 0; i < n; i++ {
		next, ok := move(cur)
		if !ok {
			return state.GameState{}, false
		}
		cur = next
	}
	return cur, true
}

// StepsToGo counts the transitions left from gs until the game is over.
func (l *Loop[C]) StepsToGo(gs state.GameState) int {
	count := 0
	cur := gs.Position()
	for {
		next, ok := l.Next(cur)
		if !ok {
			return count
		}
		count++
		cur = next
	}
}

// Diff counts the transitions needed to go from a to b; it is negative if b
// comes before a. The second result is false if b cannot be reached.
func (l *Loop[C]) Diff(a, b state.GameState) (int, bool) {
	target := b.Position()
	if same(a, target) {
		return 0, true
	}
	if n, ok := l.walk(a, target, l.Next); ok {
		return n, true
	}
	if n, ok := l.walk(a, target, l.Previous); ok {
		return -n, true
	}
	return 0, false
}

func (l *Loop[C]) walk(from, target state.GameState, move func(state.GameState) (state.GameState, bool)) (int, bool) {
	count := 0
	cur := from.Position()
	for {
		next, ok := move(cur)
		if !ok {
			return 0, false
		}
		count++
		if same(next, target) {
			return count, true
		}
		cur = next
	}
}

func same(a, b state.GameState) bool {
	return a.State == b.State && a.Step == b.Step && a.Round == b.Round
}

// IndexOf returns how many transitions separate the initial position from
// gs: (1.1.1) is 1. It returns -1 for positions outside the loop.
func (l *Loop[C]) IndexOf(gs state.GameState) int {
	if gs.IsInitial() {
		return 0
	}
	if !l.valid(gs) {
		return -1
	}
	n, ok := l.walk(state.Initial, gs, l.Next)
	if !ok {
		return -1
	}
	return n
}

// Last returns the final position of the loop.
func (l *Loop[C]) Last() state.GameState {
	n := len(l.limits)
	b := l.limits[n-1]
	return state.New(n, b.steps, b.rounds)
}

// Step returns the step definition at gs.
func (l *Loop[C]) Step(gs state.GameState) (Step[C], bool) {
	if !l.valid(gs) {
		return Step[C]{}, false
	}
	return l.stages[gs.State-1].Steps[gs.Step-1], true
}

// Stage returns the stage definition at gs; step and round are ignored.
func (l *Loop[C]) Stage(gs state.GameState) (Stage[C], bool) {
	if gs.State < 1 || gs.State > len(l.stages) {
		return Stage[C]{}, false
	}
	return l.stages[gs.State-1], true
}

// Package event implements the in-process event bus of a peer.
//
// Dispatch is synchronous and depth-first: for one emitted event every
// global listener runs, then every local one, each in registration order. A
// listener that emits finishes the nested dispatch before the outer one
// resumes. Local listeners live in a frame that is dropped at each step
// boundary.
//
// An Emitter is not safe for concurrent use; its owner runs it on a single
// goroutine.
package event

import (
	"errors"

	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/state"
)

// ErrNoType is the panic value for emitting an event without a type.
var ErrNoType = errors.New("event has no type")

// Handler receives the emitter's context, usually the game orchestrator,
// followed by the emitted arguments.
type Handler[C any] func(c C, args ...any)

type ListenerID uint64

// Listener is a registered handler.
type Listener[C any] struct {
	ID         ListenerID
	Event      string
	Handler    Handler[C]
	Priority   int
	ScopeState state.GameState
	TTL        int // invocations left, 0 means unlimited

	local   bool
	removed bool
}

type frame[C any] struct {
	state     state.GameState
	listeners []*Listener[C]
}

// Event is a normalized emission.
type Event struct {
	Type   string
	Target any
	Args   []any
}

type Emitter[C any] struct {
	ctx     C
	current func() state.GameState

	global []*Listener[C]
	frames []*frame[C]
	nextID ListenerID

	history   *History
	recording bool
	replaying bool
}

// NewEmitter returns an emitter handing ctx to every listener. current
// reports the game state used to scope local listeners and key the history.
func NewEmitter[C any](ctx C, current func() state.GameState) *Emitter[C] {
	if current == nil {
		current = func() state.GameState { return state.Initial }
	}
	return &Emitter[C]{
		ctx:     ctx,
		current: current,
		history: NewHistory(),
	}
}

// SetContext replaces the value passed to handlers.
func (e *Emitter[C]) SetContext(ctx C) {
	e.ctx = ctx
}

// EnableHistory turns history recording on or off.
func (e *Emitter[C]) EnableHistory(on bool) {
	e.recording = on
}

func (e *Emitter[C]) History() *History {
	return e.history
}

// Replaying reports whether the event being dispatched comes from Replay.
func (e *Emitter[C]) Replaying() bool {
	return e.replaying
}

func (e *Emitter[C]) add(name string, h Handler[C], ttl int, local bool) ListenerID {
	e.nextID++
	l := &Listener[C]{
		ID:         e.nextID,
		Event:      name,
		Handler:    h,
		ScopeState: e.current(),
		TTL:        ttl,
		local:      local,
	}
	if !local {
		e.global = append(e.global, l)
		return l.ID
	}
	if len(e.frames) == 0 {
		e.PushFrame(e.current())
	}
	top := e.frames[len(e.frames)-1]
	top.listeners = append(top.listeners, l)
	return l.ID
}

// AddListener registers h for the whole session.
func (e *Emitter[C]) AddListener(name string, h Handler[C]) ListenerID {
	return e.add(name, h, 0, false)
}

// AddListenerTTL registers a global listener removed after ttl invocations.
func (e *Emitter[C]) AddListenerTTL(name string, h Handler[C], ttl int) ListenerID {
	return e.add(name, h, ttl, false)
}

// Once registers a global listener that runs a single time.
func (e *Emitter[C]) Once(name string, h Handler[C]) ListenerID {
	return e.add(name, h, 1, false)
}

// AddLocalListener registers h until the next step boundary.
func (e *Emitter[C]) AddLocalListener(name string, h Handler[C]) ListenerID {
	return e.add(name, h, 0, true)
}

// SetPriority records a priority on a registered listener. Dispatch order is
// still registration order; priority is kept for collaborators that inspect
// listeners.
func (e *Emitter[C]) SetPriority(id ListenerID, priority int) bool {
	if l := e.find(id); l != nil {
		l.Priority = priority
		return true
	}
	return false
}

func (e *Emitter[C]) find(id ListenerID) *Listener[C] {
	for _, l := range e.global {
		if l.ID == id {
			return l
		}
	}
	for _, f := range e.frames {
		for _, l := range f.listeners {
			if l.ID == id {
				return l
			}
		}
	}
	return nil
}

// PushFrame opens a new scope for local listeners.
func (e *Emitter[C]) PushFrame(gs state.GameState) {
	e.frames = append(e.frames, &frame[C]{state: gs})
}

// ClearLocalListeners drops every local listener. Global listeners are
// untouched.
func (e *Emitter[C]) ClearLocalListeners() {
	for _, f := range e.frames {
		for _, l := range f.listeners {
			l.removed = true
		}
	}
	e.frames = nil
}

// RemoveListener removes every handler registered for name, in both
// registries, and returns how many were removed.
func (e *Emitter[C]) RemoveListener(name string) int {
	return e.removeWhere(func(l *Listener[C]) bool { return l.Event == name })
}

// RemoveListenerID removes a single handler.
func (e *Emitter[C]) RemoveListenerID(id ListenerID) bool {
	return e.removeWhere(func(l *Listener[C]) bool { return l.ID == id }) > 0
}

func (e *Emitter[C]) removeWhere(match func(*Listener[C]) bool) int {
	n := 0
	keep := e.global[:0]
	for _, l := range e.global {
		if match(l) {
			l.removed = true
			n++
			continue
		}
		keep = append(keep, l)
	}
	e.global = keep

	for _, f := range e.frames {
		kept := f.listeners[:0]
		for _, l := range f.listeners {
			if match(l) {
				l.removed = true
				n++
				continue
			}
			kept = append(kept, l)
		}
		f.listeners = kept
	}
	return n
}

// Listeners counts the global and local handlers registered for name.
func (e *Emitter[C]) Listeners(name string) (global, local int) {
	for _, l := range e.global {
		if l.Event == name {
			global++
		}
	}
	for _, f := range e.frames {
		for _, l := range f.listeners {
			if l.Event == name {
				local++
			}
		}
	}
	return global, local
}

// Emit dispatches name with args. It panics if name is empty.
func (e *Emitter[C]) Emit(name string, args ...any) {
	e.EmitEvent(Event{Type: name, Target: e, Args: args})
}

// EmitEvent dispatches ev. It panics if ev has no type: that is a wiring
// bug, not a runtime condition.
func (e *Emitter[C]) EmitEvent(ev Event) {
	if ev.Type == "" {
		panic(ErrNoType)
	}
	if ev.Target == nil {
		ev.Target = e
	}
	if e.recording && !e.replaying {
		e.history.Add(e.current().HashKey(), ev.Type, ev.Args)
	}

	// Snapshot so handlers may add or remove listeners while we dispatch.
	var matched []*Listener[C]
	for _, l := range e.global {
		if l.Event == ev.Type {
			matched = append(matched, l)
		}
	}
	for _, f := range e.frames {
		for _, l := range f.listeners {
			if l.Event == ev.Type {
				matched = append(matched, l)
			}
		}
	}

	for _, l := range matched {
		if l.removed {
			continue
		}
		if l.TTL > 0 {
			l.TTL--
			if l.TTL == 0 {
				e.RemoveListenerID(l.ID)
			}
		}
		l.Handler(e.ctx, ev.Args...)
	}
}

// Replay re-emits, in their original order, the recorded events for hash
// that are Replayable. Replayed events are not recorded again. It returns
// the number of events re-emitted.
func (e *Emitter[C]) Replay(hash string) int {
	records := e.history.Select(hash)
	e.replaying = true
	defer func() { e.replaying = false }()

	n := 0
	for _, r := range records {
		if !Replayable(r.Type) {
			continue
		}
		logger.Log.Debugf("replaying %s recorded at %s", r.Type, r.Hash)
		e.EmitEvent(Event{Type: r.Type, Args: r.Args})
		n++
	}
	return n
}

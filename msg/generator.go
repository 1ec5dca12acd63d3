package msg

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wfunc/gamesync/state"
)

// Options describes a message to create. Action, Target and To are mandatory.
type Options struct {
	Action   Action
	Target   Target
	To       string
	Text     string
	Data     any
	State    *state.GameState // nil means the generator's current state
	Priority int
	Reliable *bool // nil means the default for Target
	Forward  bool
}

// Bool is a helper for Options.Reliable.
func Bool(b bool) *bool {
	return &b
}

// Generator stamps messages with the sender, the session and the sender's
// current game state.
type Generator struct {
	mutex   sync.Mutex
	session string
	from    string
	current func() state.GameState
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

func NewGenerator(from string, current func() state.GameState) *Generator {
	if current == nil {
		current = func() state.GameState { return state.Initial }
	}
	return &Generator{
		from:    from,
		current: current,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// SetClock replaces the time source.
func (g *Generator) SetClock(now func() time.Time) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.now = now
}

func (g *Generator) SetSession(session string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.session = session
}

func (g *Generator) SetFrom(from string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.from = from
}

func (g *Generator) Session() string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.session
}

// DefaultReliable reports whether messages for t are acknowledged by default.
func DefaultReliable(t Target) bool {
	return t != TXT && t != ACK
}

// Create builds a message from o.
func (g *Generator) Create(o Options) (GameMsg, error) {
	if !o.Action.Valid() {
		return GameMsg{}, fmt.Errorf("%w: action", ErrMissingField)
	}
	if !o.Target.Valid() {
		return GameMsg{}, fmt.Errorf("%w: target", ErrMissingField)
	}
	if o.To == "" {
		return GameMsg{}, fmt.Errorf("%w: to", ErrMissingField)
	}

	var data json.RawMessage
	if o.Data != nil {
		b, err := json.Marshal(o.Data)
		if err != nil {
			return GameMsg{}, fmt.Errorf("encode %s data: %w", o.Target, err)
		}
		data = b
	}

	reliable := DefaultReliable(o.Target)
	if o.Reliable != nil {
		reliable = *o.Reliable
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	gs := g.current()
	if o.State != nil {
		gs = *o.State
	}
	now := g.now()
	return GameMsg{
		ID:       ulid.MustNew(ulid.Timestamp(now), g.entropy).String(),
		Session:  g.session,
		State:    gs,
		Action:   o.Action,
		Target:   o.Target,
		From:     g.from,
		To:       o.To,
		Text:     o.Text,
		Data:     data,
		Priority: o.Priority,
		Reliable: reliable,
		Forward:  o.Forward,
		Created:  now,
	}, nil
}

// CreateHI announces player p.
func (g *Generator) CreateHI(p any, to string) (GameMsg, error) {
	if p == nil {
		return GameMsg{}, fmt.Errorf("%w: player", ErrMissingField)
	}
	return g.Create(Options{Action: SAY, Target: HI, To: to, Data: p})
}

// CreateSTATE carries gs in both the header and the payload.
func (g *Generator) CreateSTATE(action Action, gs state.GameState, to string) (GameMsg, error) {
	return g.Create(Options{Action: action, Target: STATE, To: to, Data: gs, State: &gs})
}

func (g *Generator) CreatePLIST(action Action, plist any, to string) (GameMsg, error) {
	if plist == nil && action != GET {
		return GameMsg{}, fmt.Errorf("%w: player list", ErrMissingField)
	}
	return g.Create(Options{Action: action, Target: PLIST, To: to, Data: plist})
}

func (g *Generator) CreateTXT(text, to string) (GameMsg, error) {
	if text == "" {
		return GameMsg{}, fmt.Errorf("%w: text", ErrMissingField)
	}
	return g.Create(Options{Action: SAY, Target: TXT, To: to, Text: text})
}

// CreateDATA sends data labelled with key (carried in Text).
func (g *Generator) CreateDATA(action Action, key string, data any, to string) (GameMsg, error) {
	if key == "" {
		return GameMsg{}, fmt.Errorf("%w: key", ErrMissingField)
	}
	return g.Create(Options{Action: action, Target: DATA, To: to, Text: key, Data: data})
}

// CreateACK acknowledges of. The acknowledged id travels in Text.
func (g *Generator) CreateACK(of GameMsg) (GameMsg, error) {
	if of.ID == "" {
		return GameMsg{}, fmt.Errorf("%w: acknowledged message id", ErrMissingField)
	}
	if of.From == "" {
		return GameMsg{}, fmt.Errorf("%w: acknowledged message sender", ErrMissingField)
	}
	return g.Create(Options{Action: SAY, Target: ACK, To: of.From, Text: of.ID, Forward: of.Forward})
}

// CreateGET requests target from to. For DATA, text is the key.
func (g *Generator) CreateGET(target Target, text, to string) (GameMsg, error) {
	return g.Create(Options{Action: GET, Target: target, To: to, Text: text})
}

// Package msg defines the wire protocol exchanged between peers and the
// coordinating server.
package msg

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wfunc/gamesync/state"
)

// Action is the verb of a message.
type Action string

const (
	SAY Action = "SAY" // event
	SET Action = "SET" // write
	GET Action = "GET" // request
)

func (a Action) Valid() bool {
	switch a {
	case SAY, SET, GET:
		return true
	}
	return false
}

// Target is the topic of a message.
type Target string

const (
	HI    Target = "HI"
	STATE Target = "STATE"
	PLIST Target = "PLIST"
	TXT   Target = "TXT"
	DATA  Target = "DATA"
	ACK   Target = "ACK"
)

func (t Target) Valid() bool {
	switch t {
	case HI, STATE, PLIST, TXT, DATA, ACK:
		return true
	}
	return false
}

// Well-known recipients. Anything else is a player id.
const (
	ToAll    = "ALL"
	ToServer = "SERVER"
)

var (
	ErrMissingField = errors.New("missing mandatory field")
	ErrDecode       = errors.New("decode failed")
)

// GameMsg is one protocol message. Build it with a Generator and treat it as
// a value: nothing changes a message after creation.
type GameMsg struct {
	ID       string          `json:"id"`
	Session  string          `json:"session"`
	State    state.GameState `json:"state"`
	Action   Action          `json:"action"`
	Target   Target          `json:"target"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority int             `json:"priority,omitempty"`
	Reliable bool            `json:"reliable"`
	Forward  bool            `json:"forward,omitempty"`
	Created  time.Time       `json:"created"`
}

// EventName maps the message to its internal event name, e.g.
// EventName("in") is "in.say.STATE".
func (m GameMsg) EventName(prefix string) string {
	return prefix + "." + strings.ToLower(string(m.Action)) + "." + string(m.Target)
}

// DecodeData unmarshals the payload into v.
func (m GameMsg) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: message %s has no data", ErrDecode, m.ID)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

func (m GameMsg) String() string {
	return fmt.Sprintf("%s.%s %s->%s %s", m.Action, m.Target, m.From, m.To, m.ID)
}

// Encode serializes m for the transport.
func Encode(m GameMsg) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a transport payload and checks the enumerations.
func Decode(b []byte) (GameMsg, error) {
	var m GameMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return GameMsg{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !m.Action.Valid() {
		return GameMsg{}, fmt.Errorf("%w: unknown action %q", ErrDecode, m.Action)
	}
	if !m.Target.Valid() {
		return GameMsg{}, fmt.Errorf("%w: unknown target %q", ErrDecode, m.Target)
	}
	return m, nil
}

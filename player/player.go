// Package player holds the roster of a game session.
package player

import (
	"encoding/json"

	"github.com/wfunc/gamesync/state"
)

// Player is one participant. ID, SID and Count are fixed at construction;
// Name, IP and State change as protocol messages arrive.
type Player struct {
	id    string
	sid   string
	count int

	IP    string
	Name  string
	State state.GameState
}

// New creates a player with its permanent id, its transport session id and
// its join ordinal (0 lets the roster assign one).
func New(id, sid string, count int) *Player {
	return &Player{id: id, sid: sid, count: count}
}

func (p *Player) ID() string  { return p.id }
func (p *Player) SID() string { return p.sid }
func (p *Player) Count() int  { return p.count }

// Rebind returns a copy of p attached to a new transport session, as after a
// reconnection.
func (p *Player) Rebind(sid string) *Player {
	cp := *p
	cp.sid = sid
	return &cp
}

// Clone returns an independent copy.
func (p *Player) Clone() *Player {
	cp := *p
	return &cp
}

type wirePlayer struct {
	ID    string          `json:"id"`
	SID   string          `json:"sid"`
	Count int             `json:"count"`
	IP    string          `json:"ip,omitempty"`
	Name  string          `json:"name,omitempty"`
	State state.GameState `json:"state"`
}

func (p *Player) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePlayer{
		ID: p.id, SID: p.sid, Count: p.count, IP: p.IP, Name: p.Name, State: p.State,
	})
}

func (p *Player) UnmarshalJSON(b []byte) error {
	var w wirePlayer
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = Player{id: w.ID, sid: w.SID, count: w.Count, IP: w.IP, Name: w.Name, State: w.State}
	return nil
}

package socket

import (
	"errors"
	"sync"

	"github.com/wfunc/gamesync/event"
	"github.com/wfunc/gamesync/gamedb"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/state"
)

var ErrNoSession = errors.New("no stored session")

// Session is what a peer saves on disconnect and restores when the server
// greets it again with the same session id.
type Session struct {
	ID      string           `json:"id"`
	Player  *player.Player   `json:"player"`
	Memory  []gamedb.GameBit `json:"memory"`
	State   state.GameState  `json:"state"`
	Game    map[string]any   `json:"game,omitempty"`
	History []event.Record   `json:"history,omitempty"`
}

// SessionKey names the stored session of playerID in a server session.
func SessionKey(session, playerID string) string {
	return session + "/" + playerID
}

type SessionStore interface {
	Load(key string) (*Session, error)
	Store(s Session) error
	IsEnabled() bool
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	sessions map[string]Session
	mutex    sync.RWMutex
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) Load(key string) (*Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}
	return &s, nil
}

func (m *MemorySessionStore) Store(s Session) error {
	if s.ID == "" {
		return errors.New("session has no id")
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessionStore) IsEnabled() bool { return true }

func (m *MemorySessionStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// room/room.go
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/session"
	"github.com/wfunc/gamesync/state"
)

var (
	ErrRoomFull   = errors.New("room is full")
	ErrRoomClosed = errors.New("room is closed")
)

// RoomStatus is derived from the roster.
type RoomStatus int

const (
	StatusIdle RoomStatus = iota
	StatusWaiting
	StatusGaming
)

func (s RoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusGaming:
		return "gaming"
	}
	return "idle"
}

// Room is one game session on the relay: a roster and the sessions of the
// players in it.
type Room struct {
	ID          string
	MaxPlayers  int
	CreatedAt   time.Time
	roster      *player.List
	sessions    map[string]*session.Session // sessionID -> session
	gen         *msg.Generator
	broadcaster Broadcaster
	mutex       sync.RWMutex
	closed      bool
}

func NewRoom(id string, maxPlayers int, broadcaster Broadcaster) *Room {
	gen := msg.NewGenerator(msg.ToServer, nil)
	gen.SetSession(id)
	return &Room{
		ID:          id,
		MaxPlayers:  maxPlayers,
		CreatedAt:   time.Now(),
		roster:      player.NewList(player.ListOptions{MaxPlayers: maxPlayers}),
		sessions:    make(map[string]*session.Session),
		gen:         gen,
		broadcaster: broadcaster,
	}
}

// Generator stamps the relay's own messages for this room.
func (r *Room) Generator() *msg.Generator {
	return r.gen
}

// AddPlayer puts p in the roster and binds it to s. A player id already
// present is refused, and so is any player once the room is closed.
func (r *Room) AddPlayer(s *session.Session, p *player.Player) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if err := r.roster.Add(p); err != nil {
		if errors.Is(err, player.ErrFull) {
			return ErrRoomFull
		}
		return err
	}
	r.sessions[s.ID] = s
	s.RoomID = r.ID
	s.PlayerID = p.ID()
	return nil
}

// RemovePlayer drops the session and its player. It returns the removed
// player, if any.
func (r *Room) RemovePlayer(sessionID string) (*player.Player, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	delete(r.sessions, sessionID)
	s.RoomID = ""

	p, ok := r.roster.Get(s.PlayerID)
	if !ok || p.SID() != sessionID {
		return nil, false
	}
	r.roster.Remove(p.ID())
	return p, true
}

// UpdateState records the state a player announced.
func (r *Room) UpdateState(playerID string, gs state.GameState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.roster.UpdatePlayerState(playerID, gs)
}

// Roster returns copies of the players, for sending.
func (r *Room) Roster() []*player.Player {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.roster.Snapshot()
}

// SessionFor returns the session of playerID.
func (r *Room) SessionFor(playerID string) (*session.Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.roster.Get(playerID)
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[p.SID()]
	return s, ok
}

// GetSessions returns a slice of all sessions in the room.
func (r *Room) GetSessions() []*session.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Room) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.roster.Size()
}

func (r *Room) Status() RoomStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	switch {
	case r.roster.Size() == 0:
		return StatusIdle
	case r.roster.Actives() > 0:
		return StatusGaming
	}
	return StatusWaiting
}

// Broadcast sends data to every session but the ones in except.
func (r *Room) Broadcast(data []byte, except ...string) error {
	return r.broadcaster.BroadcastToRoom(r.ID, data, except...)
}

// closeIfEmpty closes the room when its roster is empty. It reports whether
// the room is closed.
func (r *Room) closeIfEmpty() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.roster.Size() == 0 {
		r.closed = true
	}
	return r.closed
}

// Manager holds the open rooms.
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the open room id, creating it when missing.
func (m *Manager) GetOrCreate(id string, maxPlayers int, broadcaster Broadcaster) (*Room, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		return room, false
	}
	room := NewRoom(id, maxPlayers, broadcaster)
	m.rooms[id] = room
	return room, true
}

// RemoveIfEmpty closes the room when nobody is left in it.
func (m *Manager) RemoveIfEmpty(id string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[id]
	if !exists || !room.closeIfEmpty() {
		return false
	}
	delete(m.rooms, id)
	return true
}

func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// Rooms returns the open rooms.
func (m *Manager) Rooms() []*Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// FindAvailableRoom returns a room still waiting for players.
func (m *Manager) FindAvailableRoom() *Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, room := range m.rooms {
		if room.Status() == StatusWaiting && (room.MaxPlayers < 1 || room.Len() < room.MaxPlayers) {
			return room
		}
	}
	return nil
}

// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/room"
	"github.com/wfunc/gamesync/session"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrPlayerNotFound  = errors.New("player not found")
)

// RoomBroadcaster delivers frames to the sessions of the relay.
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

// BroadcastToRoom sends data to every session of the room except the ones
// listed. A failing session does not stop the others; the last error is
// returned.
func (b *RoomBroadcaster) BroadcastToRoom(roomID string, data []byte, except ...string) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}

	var lastErr error
	for _, s := range r.GetSessions() {
		if skipped(s.ID, except) {
			continue
		}
		if err := s.Send(data); err != nil {
			logger.Log.Warnf("broadcast to session %s in room %s failed: %v", s.ID, roomID, err)
			lastErr = err
		}
	}
	return lastErr
}

func (b *RoomBroadcaster) SendTo(sessionID string, data []byte) error {
	s, exists := b.sessionManager.Get(sessionID)
	if !exists {
		return ErrSessionNotFound
	}
	return s.Send(data)
}

// SendToPlayer sends data to the session of playerID in the room.
func (b *RoomBroadcaster) SendToPlayer(roomID, playerID string, data []byte) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}
	s, ok := r.SessionFor(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	return s.Send(data)
}

func skipped(id string, except []string) bool {
	for _, e := range except {
		if e == id {
			return true
		}
	}
	return false
}

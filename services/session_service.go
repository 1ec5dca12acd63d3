// services/session_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/gamesync/game"
	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/models"
	"github.com/wfunc/gamesync/persistence"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/socket"
)

// SessionService stores peer sessions and game records in a database. A
// service without a database is disabled: sessions are not saved and
// archiving is a no-op.
type SessionService struct {
	db  persistence.Database
	log *zap.SugaredLogger
}

func NewSessionService(db persistence.Database, log *zap.SugaredLogger) *SessionService {
	return &SessionService{db: db, log: logger.Or(log)}
}

func (s *SessionService) IsEnabled() bool {
	return s.db != nil
}

// Load returns the session stored under key, or socket.ErrNoSession.
func (s *SessionService) Load(key string) (*socket.Session, error) {
	if !s.IsEnabled() {
		return nil, socket.ErrNoSession
	}
	payload, err := s.db.LoadSession(key)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, socket.ErrNoSession
		}
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	var sess socket.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &sess, nil
}

func (s *SessionService) Store(sess socket.Session) error {
	if !s.IsEnabled() {
		return nil
	}
	if sess.ID == "" {
		return errors.New("session has no id")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.db.SaveSession(sess.ID, payload); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	s.log.Debugf("session %s saved at %s", sess.ID, sess.State)
	return nil
}

// Archive records a game a peer finished.
func (s *SessionService) Archive(r game.Record) error {
	if !s.IsEnabled() {
		return nil
	}
	players, err := json.Marshal(r.Players)
	if err != nil {
		return err
	}
	memory, err := json.Marshal(r.Memory)
	if err != nil {
		return err
	}
	return s.db.SaveGameRecord(models.GameRecord{
		Session:   r.Session,
		GameName:  r.Name,
		PlayerID:  r.Player,
		State:     r.State.HashKey(),
		Players:   players,
		Memory:    memory,
		StartedAt: r.Started,
		EndedAt:   r.Ended,
	})
}

// ArchiveRoom records the last roster of a room the relay closed.
func (s *SessionService) ArchiveRoom(roomID string, opened time.Time, players []*player.Player) error {
	if !s.IsEnabled() {
		return nil
	}
	b, err := json.Marshal(players)
	if err != nil {
		return err
	}
	return s.db.SaveGameRecord(models.GameRecord{
		Session:   roomID,
		GameName:  "room",
		State:     "closed",
		Players:   b,
		StartedAt: opened,
		EndedAt:   time.Now(),
	})
}

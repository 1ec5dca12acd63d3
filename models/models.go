// models/models.go
package models

import (
	"encoding/json"
	"time"
)

// GameRecord is the archived outcome of a game, written once when a peer
// reaches game over or when the relay closes a room.
type GameRecord struct {
	Session   string          `json:"session"`
	GameName  string          `json:"game_name"`
	PlayerID  string          `json:"player_id"`
	State     string          `json:"state"`
	Players   json.RawMessage `json:"players"`
	Memory    json.RawMessage `json:"memory,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

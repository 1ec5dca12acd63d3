// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionModel holds one stored peer session, keyed by session/player.
type SessionModel struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"uniqueIndex;not null"`
	Payload   []byte `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SessionModel) TableName() string { return "sessions" }

// GameRecordModel 游戏记录
type GameRecordModel struct {
	gorm.Model
	Session   string `gorm:"index;not null"`
	GameName  string `gorm:"not null"`
	PlayerID  string `gorm:"index"`
	State     string `gorm:"not null"`
	Players   []byte `gorm:"type:jsonb;not null"`
	Memory    []byte `gorm:"type:jsonb"`
	StartedAt time.Time
	EndedAt   time.Time
}

func (GameRecordModel) TableName() string { return "game_records" }

// FromRecord converts an archived record to its row.
func FromRecord(r GameRecord) GameRecordModel {
	return GameRecordModel{
		Session:   r.Session,
		GameName:  r.GameName,
		PlayerID:  r.PlayerID,
		State:     r.State,
		Players:   orEmpty(r.Players, "[]"),
		Memory:    orEmpty(r.Memory, "null"),
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

func orEmpty(b []byte, empty string) []byte {
	if len(b) == 0 {
		return []byte(empty)
	}
	return b
}

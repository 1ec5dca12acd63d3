// persistence/interface.go
package persistence

import (
	"fmt"
	"time"

	"github.com/wfunc/gamesync/models"
)

// Database stores peer sessions as opaque JSON payloads and archives game
// records.
type Database interface {
	SaveSession(key string, payload []byte) error
	LoadSession(key string) ([]byte, error)
	SaveGameRecord(record models.GameRecord) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

const queryTimeout = 5 * time.Second

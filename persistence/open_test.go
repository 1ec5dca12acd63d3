package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/gamesync/config"
)

func TestOpen_None(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		db, err := Open(config.DatabaseConfig{Driver: driver})
		require.NoError(t, err)
		assert.Nil(t, db)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver: "redis",
		Redis:  config.RedisConfig{Addr: "127.0.0.1:1"},
	})
	assert.Error(t, err)
	assert.Nil(t, db)
}

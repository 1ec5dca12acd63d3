package persistence

import (
	"fmt"

	"github.com/wfunc/gamesync/config"
)

// Open connects the backend named by cfg.Driver. The "none" driver returns a
// nil Database.
func Open(cfg config.DatabaseConfig) (Database, error) {
	pg := cfg.Postgres
	var (
		db  Database
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "gorm":
		db, err = NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "pq":
		db, err = NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "redis":
		db, err = NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

package game

import (
	"errors"
	"fmt"

	"github.com/wfunc/gamesync/config"
	"github.com/wfunc/gamesync/msg"
)

var ErrInvalidConfig = errors.New("invalid game configuration")

// Config holds the options recognised by the orchestrator.
type Config struct {
	Name        string
	Description string
	// Observer peers follow the game without counting toward quorums or
	// triggering automatic steps.
	Observer bool
	// AutoStep advances to the next step when every player is done.
	AutoStep bool
	// AutoWait holds a loaded step until the render surface is ready.
	AutoWait   bool
	MinPlayers int
	MaxPlayers int
	// Coordinator is the only sender allowed to move the game with
	// SET.STATE. Empty means the relay.
	Coordinator string
}

func DefaultConfig() Config {
	return Config{
		Name:       "gamesync",
		AutoStep:   true,
		MinPlayers: 1,
		MaxPlayers: 1000,
	}
}

// FromConfig converts the game section of the configuration file.
func FromConfig(c config.GameConfig) Config {
	return Config{
		Name:        c.Name,
		Description: c.Description,
		Observer:    c.Observer,
		AutoStep:    c.AutoStep,
		AutoWait:    c.AutoWait,
		MinPlayers:  c.MinPlayers,
		MaxPlayers:  c.MaxPlayers,
		Coordinator: c.Coordinator,
	}
}

func (c Config) coordinator() string {
	if c.Coordinator == "" {
		return msg.ToServer
	}
	return c.Coordinator
}

func (c Config) Validate() error {
	if c.MinPlayers < 1 {
		return fmt.Errorf("%w: min players %d < 1", ErrInvalidConfig, c.MinPlayers)
	}
	if c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("%w: max players %d < min players %d", ErrInvalidConfig, c.MaxPlayers, c.MinPlayers)
	}
	return nil
}

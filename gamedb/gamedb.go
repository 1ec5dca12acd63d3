// Package gamedb records the facts produced during a game, tagged with the
// player and the game state they belong to.
package gamedb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wfunc/gamesync/state"
	"github.com/wfunc/gamesync/store"
)

var ErrNoKey = errors.New("game bit has no key")

// Index names.
const (
	ByPlayerIndex = "player"
	ByStateIndex  = "state"
	ByKeyIndex    = "key"
)

// GameBit is one immutable fact.
type GameBit struct {
	State  state.GameState `json:"state"`
	Player string          `json:"player"`
	Key    string          `json:"key"`
	Value  any             `json:"value"`
	Time   time.Time       `json:"time"`
}

// Compare orders bits by game progress, then player, then key, and when
// strict by the printed value. Wall-clock time is ignored.
func Compare(a, b GameBit, strict bool) int {
	if c := state.Compare(a.State, b.State, false); c != 0 {
		return c
	}
	if c := strings.Compare(a.Player, b.Player); c != 0 {
		return c
	}
	if c := strings.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	if strict {
		return strings.Compare(fmt.Sprint(a.Value), fmt.Sprint(b.Value))
	}
	return 0
}

// DB is an append-only, indexed collection of GameBits.
type DB struct {
	*store.Indexed[GameBit]
	current func() state.GameState
	now     func() time.Time
}

// New returns an empty DB. current supplies the state used when Add is
// called without one.
func New(current func() state.GameState) *DB {
	if current == nil {
		current = func() state.GameState { return state.Initial }
	}
	db := &DB{
		Indexed: store.NewIndexed[GameBit](),
		current: current,
		now:     time.Now,
	}
	db.AddIndex(ByPlayerIndex, func(b GameBit) (string, bool) { return b.Player, b.Player != "" })
	db.AddIndex(ByStateIndex, func(b GameBit) (string, bool) { return b.State.HashKey(), true })
	db.AddIndex(ByKeyIndex, func(b GameBit) (string, bool) { return b.Key, true })
	return db
}

// SetClock replaces the time source.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Add records value under key for player. A zero gs means the current state.
func (db *DB) Add(key string, value any, player string, gs state.GameState) (GameBit, error) {
	if key == "" {
		return GameBit{}, ErrNoKey
	}
	if gs.IsInitial() {
		gs = db.current()
	}
	bit := GameBit{
		State:  gs.Position(),
		Player: player,
		Key:    key,
		Value:  value,
		Time:   db.now(),
	}
	db.Insert(bit)
	return bit, nil
}

func (db *DB) ByPlayer(player string) []GameBit {
	return db.Select(ByPlayerIndex, player)
}

func (db *DB) ByState(gs state.GameState) []GameBit {
	return db.Select(ByStateIndex, gs.HashKey())
}

func (db *DB) ByKey(key string) []GameBit {
	return db.Select(ByKeyIndex, key)
}

// Last returns the most recently added bit for key.
func (db *DB) Last(key string) (GameBit, bool) {
	bits := db.ByKey(key)
	if len(bits) == 0 {
		return GameBit{}, false
	}
	return bits[len(bits)-1], true
}

// Sorted returns all bits ordered by Compare (non strict), stable on
// insertion order.
func (db *DB) Sorted() []GameBit {
	c := store.NewIndexed[GameBit]()
	for _, b := range db.All() {
		c.Insert(b)
	}
	c.Sort(func(a, b GameBit) bool { return Compare(a, b, false) < 0 })
	return c.All()
}

// Import appends bits restored from a saved session as they are.
func (db *DB) Import(bits []GameBit) {
	for _, b := range bits {
		db.Insert(b)
	}
}

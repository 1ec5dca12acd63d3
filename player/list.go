package player

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/state"
	"github.com/wfunc/gamesync/store"
)

var (
	ErrDuplicateID = errors.New("duplicate player id")
	ErrAmbiguousID = errors.New("several players share the same id")
	ErrNotFound    = errors.New("player not found")
	ErrFull        = errors.New("player list is full")
	ErrNoID        = errors.New("player has no id")
)

const idIndex = "id"

// StateDone is the event emitted by CheckState.
const StateDone = "STATEDONE"

// Emitter is the part of the event bus the roster needs.
type Emitter interface {
	Emit(name string, args ...any)
}

type ListOptions struct {
	Emitter    Emitter
	MinPlayers int // quorum needs at least this many players; <1 means 1
	MaxPlayers int // Add refuses players beyond this; <1 means unlimited
	Log        *zap.SugaredLogger
}

// List is the roster, keyed by player id.
type List struct {
	*store.Indexed[*Player]
	opts      ListOptions
	nextCount int
	doneFor   map[string]bool
}

func NewList(opts ListOptions) *List {
	if opts.MinPlayers < 1 {
		opts.MinPlayers = 1
	}
	l := &List{
		Indexed: store.NewIndexed[*Player](),
		opts:    opts,
		doneFor: make(map[string]bool),
	}
	l.AddIndex(idIndex, func(p *Player) (string, bool) { return p.id, true })
	return l
}

func (l *List) log() *zap.SugaredLogger {
	return logger.Or(l.opts.Log)
}

// SetEmitter sets the bus used by CheckState.
func (l *List) SetEmitter(e Emitter) {
	l.opts.Emitter = e
}

// SetMinPlayers changes the quorum size.
func (l *List) SetMinPlayers(n int) {
	if n < 1 {
		n = 1
	}
	l.opts.MinPlayers = n
}

// Add inserts p. Duplicate ids are refused.
func (l *List) Add(p *Player) error {
	if p == nil || p.id == "" {
		l.log().Errorf("refusing to add player without id")
		return ErrNoID
	}
	if l.Count(idIndex, p.id) > 0 {
		l.log().Errorf("player %s already in the list", p.id)
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.id)
	}
	if l.opts.MaxPlayers > 0 && l.Len() >= l.opts.MaxPlayers {
		l.log().Warnf("player list full (%d), refusing %s", l.opts.MaxPlayers, p.id)
		return ErrFull
	}
	l.nextCount++
	if p.count == 0 {
		p.count = l.nextCount
	}
	l.Insert(p)
	return nil
}

// Remove deletes every entry with id.
func (l *List) Remove(id string) bool {
	return l.Indexed.Remove(func(p *Player) bool { return p.id == id }) > 0
}

// Lookup returns every entry with id. More than one entry is an integrity
// violation reported as ErrAmbiguousID together with all the entries.
func (l *List) Lookup(id string) ([]*Player, error) {
	matches := l.Select(idIndex, id)
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches, nil
	}
	l.log().Warnf("%d players share id %s", len(matches), id)
	return matches, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
}

// Get returns the single player with id. Ambiguous ids are logged by Lookup
// and reported as not found.
func (l *List) Get(id string) (*Player, bool) {
	matches, err := l.Lookup(id)
	if err != nil {
		return nil, false
	}
	return matches[0], true
}

func (l *List) Exist(id string) bool {
	return l.Count(idIndex, id) > 0
}

func (l *List) Size() int {
	return l.Len()
}

func (l *List) Players() []*Player {
	return l.All()
}

// Snapshot returns independent copies of the entries, for sending.
func (l *List) Snapshot() []*Player {
	out := make([]*Player, 0, l.Len())
	for _, p := range l.All() {
		out = append(out, p.Clone())
	}
	return out
}

// Replace swaps the roster for players, as received in a PLIST. Entries are
// inserted as given, duplicates included, so integrity problems stay visible
// to Lookup.
func (l *List) Replace(players []*Player) {
	l.Clear()
	for _, p := range players {
		if p == nil {
			continue
		}
		if l.Exist(p.id) {
			l.log().Warnf("player list contains id %s more than once", p.id)
		}
		if p.count > l.nextCount {
			l.nextCount = p.count
		}
		l.Insert(p)
	}
}

// UpdatePlayerState sets the state of the entry with id. It emits nothing.
func (l *List) UpdatePlayerState(id string, gs state.GameState) error {
	p, ok := l.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.State = gs
	return nil
}

// Actives counts the players that have left the initial position.
func (l *List) Actives() int {
	n := 0
	l.Each(func(p *Player) bool {
		if !p.State.IsInitial() {
			n++
		}
		return true
	})
	return n
}

// IsStateDone reports whether every active player (every player when
// strict) is DONE at gs, and there are at least MinPlayers of them.
func (l *List) IsStateDone(gs state.GameState, strict bool) bool {
	considered := 0
	done := true
	l.Each(func(p *Player) bool {
		if !strict && p.State.IsInitial() {
			return true
		}
		considered++
		if p.State.Is != state.DONE || state.Compare(p.State, gs, false) != 0 {
			done = false
			return false
		}
		return true
	})
	return done && considered >= l.opts.MinPlayers
}

// CheckState emits STATEDONE with gs the first time the quorum for gs is
// reached. It returns whether it emitted.
func (l *List) CheckState(gs state.GameState) bool {
	key := gs.HashKey()
	if l.doneFor[key] || !l.IsStateDone(gs, false) {
		return false
	}
	l.doneFor[key] = true
	if l.opts.Emitter != nil {
		l.opts.Emitter.Emit(StateDone, gs.Position())
	}
	return true
}

// ResetStateDone forgets which states already reached quorum, so a state
// visited again can emit STATEDONE again.
func (l *List) ResetStateDone() {
	l.doneFor = make(map[string]bool)
}

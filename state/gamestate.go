package state

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the load-level of a peer inside a step.
type Level int

const (
	UNKNOWN Level = iota
	LOADING
	LOADED
	PLAYING
	DONE
)

func (l Level) String() string {
	switch l {
	case UNKNOWN:
		return "UNKNOWN"
	case LOADING:
		return "LOADING"
	case LOADED:
		return "LOADED"
	case PLAYING:
		return "PLAYING"
	case DONE:
		return "DONE"
	default:
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
}

// GameState is a position in the game sequence plus the load-level reached
// there. It is a value type: every transition produces a new one.
//
// Step and Round are 1-based for positions that belong to a loop; the zero
// value is the fresh position before the game starts.
type GameState struct {
	State  int   `json:"state"`
	Step   int   `json:"step"`
	Round  int   `json:"round"`
	Is     Level `json:"is"`
	Paused bool  `json:"paused"`
}

// Initial is the all-zero position every peer starts from.
var Initial = GameState{}

// New returns the position (state, step, round) at level UNKNOWN.
func New(state, step, round int) GameState {
	return GameState{State: state, Step: step, Round: round}
}

// Parse reads "state.step.round". Round may be omitted and defaults to 1.
func Parse(s string) (GameState, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return GameState{}, fmt.Errorf("invalid game state %q", s)
	}
	nums := []int{0, 0, 1}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return GameState{}, fmt.Errorf("invalid game state %q", s)
		}
		nums[i] = n
	}
	return New(nums[0], nums[1], nums[2]), nil
}

func (gs GameState) WithIs(is Level) GameState {
	gs.Is = is
	return gs
}

func (gs GameState) WithPaused(paused bool) GameState {
	gs.Paused = paused
	return gs
}

// Position strips the load-level and the paused flag.
func (gs GameState) Position() GameState {
	return New(gs.State, gs.Step, gs.Round)
}

func (gs GameState) IsInitial() bool {
	return gs.State == 0 && gs.Step == 0 && gs.Round == 0
}

// Compare orders a and b by (state, round, step) and, when strict, by load
// level. Step and round only take part when both operands set them: a zero
// coordinate means "any", which makes the comparison coarser.
// The result is -1, 0 or 1.
func Compare(a, b GameState, strict bool) int {
	if c := cmpInt(a.State, b.State); c != 0 {
		return c
	}
	if a.Round != 0 && b.Round != 0 {
		if c := cmpInt(a.Round, b.Round); c != 0 {
			return c
		}
	}
	if a.Step != 0 && b.Step != 0 {
		if c := cmpInt(a.Step, b.Step); c != 0 {
			return c
		}
	}
	if strict {
		return cmpInt(int(a.Is), int(b.Is))
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Hash renders the fields selected by pattern. Letters: S state, s step,
// r round, i load-level, P paused. Any other rune is copied verbatim, so
// "S.s.r" gives "1.2.1".
func (gs GameState) Hash(pattern string) string {
	var b strings.Builder
	for _, c := range pattern {
		switch c {
		case 'S':
			b.WriteString(strconv.Itoa(gs.State))
		case 's':
			b.WriteString(strconv.Itoa(gs.Step))
		case 'r':
			b.WriteString(strconv.Itoa(gs.Round))
		case 'i':
			b.WriteString(strconv.Itoa(int(gs.Is)))
		case 'P':
			if gs.Paused {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// HashKey is the index key used by the event history and the fact store.
func (gs GameState) HashKey() string {
	return gs.Hash("S.s.r")
}

func (gs GameState) String() string {
	s := "(" + gs.HashKey() + ") " + gs.Is.String()
	if gs.Paused {
		s += " paused"
	}
	return s
}

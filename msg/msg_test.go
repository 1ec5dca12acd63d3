package msg

import (
	"errors"
	"testing"
	"time"

	"github.com/wfunc/gamesync/state"
)

func newTestGenerator() *Generator {
	current := state.New(1, 2, 1).WithIs(state.PLAYING)
	g := NewGenerator("p1", func() state.GameState { return current })
	g.SetSession("room-1")
	g.SetClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })
	return g
}

func TestCreate_StampsHeader(t *testing.T) {
	g := newTestGenerator()
	m, err := g.CreateSTATE(SAY, state.New(2, 1, 1), ToAll)
	if err != nil {
		t.Fatalf("CreateSTATE failed: %v", err)
	}
	if m.ID == "" || m.From != "p1" || m.Session != "room-1" || m.To != ToAll {
		t.Errorf("unexpected header: %+v", m)
	}
	if m.State != state.New(2, 1, 1) {
		t.Errorf("STATE message should carry the published state, got %s", m.State)
	}
	var gs state.GameState
	if err := m.DecodeData(&gs); err != nil || gs != state.New(2, 1, 1) {
		t.Errorf("payload = %s, %v", gs, err)
	}
}

func TestCreate_UsesCurrentState(t *testing.T) {
	g := newTestGenerator()
	m, err := g.CreateTXT("hello", ToAll)
	if err != nil {
		t.Fatal(err)
	}
	if m.State.HashKey() != "1.2.1" {
		t.Errorf("expected current state 1.2.1, got %s", m.State)
	}
}

func TestCreate_IDsAreOrdered(t *testing.T) {
	g := newTestGenerator()
	prev := ""
	for i := 0; i < 50; i++ {
		m, err := g.CreateTXT("x", ToAll)
		if err != nil {
			t.Fatal(err)
		}
		if m.ID <= prev {
			t.Fatalf("ids not increasing: %s after %s", m.ID, prev)
		}
		prev = m.ID
	}
}

func TestCreate_ReliabilityDefaults(t *testing.T) {
	g := newTestGenerator()
	tests := []struct {
		target Target
		want   bool
	}{
		{HI, true}, {STATE, true}, {PLIST, true}, {DATA, true}, {TXT, false}, {ACK, false},
	}
	for _, tt := range tests {
		m, err := g.Create(Options{Action: SAY, Target: tt.target, To: ToAll})
		if err != nil {
			t.Fatalf("Create %s failed: %v", tt.target, err)
		}
		if m.Reliable != tt.want {
			t.Errorf("%s reliable = %v, want %v", tt.target, m.Reliable, tt.want)
		}
	}

	m, _ := g.Create(Options{Action: SAY, Target: TXT, To: ToAll, Reliable: Bool(true)})
	if !m.Reliable {
		t.Error("explicit Reliable should override the TXT default")
	}
	m, _ = g.Create(Options{Action: SAY, Target: STATE, To: ToAll, Reliable: Bool(false)})
	if m.Reliable {
		t.Error("explicit Reliable should override the STATE default")
	}
}

func TestCreate_MissingFields(t *testing.T) {
	g := newTestGenerator()
	cases := map[string]func() (GameMsg, error){
		"no action":  func() (GameMsg, error) { return g.Create(Options{Target: TXT, To: ToAll}) },
		"no target":  func() (GameMsg, error) { return g.Create(Options{Action: SAY, To: ToAll}) },
		"no to":      func() (GameMsg, error) { return g.Create(Options{Action: SAY, Target: TXT}) },
		"no text":    func() (GameMsg, error) { return g.CreateTXT("", ToAll) },
		"no player":  func() (GameMsg, error) { return g.CreateHI(nil, ToAll) },
		"no key":     func() (GameMsg, error) { return g.CreateDATA(SET, "", 1, ToAll) },
		"no plist":   func() (GameMsg, error) { return g.CreatePLIST(SAY, nil, ToAll) },
		"ack no id":  func() (GameMsg, error) { return g.CreateACK(GameMsg{From: "p2"}) },
		"ack no src": func() (GameMsg, error) { return g.CreateACK(GameMsg{ID: "x"}) },
	}
	for name, fn := range cases {
		if _, err := fn(); !errors.Is(err, ErrMissingField) {
			t.Errorf("%s: expected ErrMissingField, got %v", name, err)
		}
	}
}

func TestCreateACK(t *testing.T) {
	g := newTestGenerator()
	orig := GameMsg{ID: "01ABC", From: "p2", Forward: true, Target: STATE, Action: SAY}
	ack, err := g.CreateACK(orig)
	if err != nil {
		t.Fatal(err)
	}
	if ack.Target != ACK || ack.Text != "01ABC" || ack.To != "p2" || !ack.Forward || ack.Reliable {
		t.Errorf("unexpected ACK: %+v", ack)
	}
}

func TestEncodeDecode(t *testing.T) {
	g := newTestGenerator()
	m, _ := g.CreateDATA(SET, "choice", map[string]int{"offer": 3}, ToAll)
	b, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != m.ID || got.Text != "choice" || got.EventName("in") != "in.set.DATA" {
		t.Errorf("decoded %+v", got)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"action":"JUMP","target":"TXT"}`, `{"action":"SAY","target":"NOPE"}`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrDecode) {
			t.Errorf("Decode(%q): expected ErrDecode, got %v", raw, err)
		}
	}
}

func TestEventName(t *testing.T) {
	m := GameMsg{Action: GET, Target: PLIST}
	if m.EventName("out") != "out.get.PLIST" {
		t.Errorf("EventName = %q", m.EventName("out"))
	}
}

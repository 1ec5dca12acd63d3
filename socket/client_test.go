package socket

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/gamesync/event"
	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/network"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/state"
	"github.com/wfunc/gamesync/timer"
)

// MockConnection is a test double for network.Connection.
type MockConnection struct {
	mu     sync.Mutex
	sent   [][]byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newMockConnection() *MockConnection {
	return &MockConnection{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (m *MockConnection) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *MockConnection) ReadMessage() ([]byte, error) {
	select {
	case d := <-m.in:
		return d, nil
	case <-m.closed:
		return nil, io.EOF
	}
}

func (m *MockConnection) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}

func (m *MockConnection) Sent() []msg.GameMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []msg.GameMsg
	for _, b := range m.sent {
		if g, err := msg.Decode(b); err == nil {
			out = append(out, g)
		}
	}
	return out
}

// fakeGame is a test double for Orchestrator.
type fakeGame struct {
	mu       sync.Mutex
	ready    bool
	events   []string
	args     [][]any
	player   *player.Player
	restored *Session
	gs       state.GameState
}

func (f *fakeGame) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeGame) setReady(r bool) {
	f.mu.Lock()
	f.ready = r
	f.mu.Unlock()
}

func (f *fakeGame) Emit(name string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
	f.args = append(f.args, args)
}

func (f *fakeGame) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeGame) CurrentState() state.GameState { return f.gs }

func (f *fakeGame) Player() *player.Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.player
}

func (f *fakeGame) SetPlayer(p *player.Player) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.player = p
}

func (f *fakeGame) Snapshot() Session {
	return Session{Player: f.Player(), State: f.gs}
}

func (f *fakeGame) Restore(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = &s
	f.player = s.Player
	f.gs = s.State
	return nil
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeGame, *MockConnection) {
	t.Helper()
	g := &fakeGame{player: player.New("p1", "", 0)}
	gen := msg.NewGenerator("p1", g.CurrentState)
	if opts.Timers == nil {
		opts.Timers = timer.NewTimerManagerWithResolution(5 * time.Millisecond)
		t.Cleanup(opts.Timers.Stop)
	}
	c := NewClient(g, gen, opts)
	conn := newMockConnection()
	c.Attach(conn)
	t.Cleanup(func() { conn.Close() })
	return c, g, conn
}

func serverHI(t *testing.T, session string, p *player.Player) []byte {
	t.Helper()
	gen := msg.NewGenerator(msg.ToServer, nil)
	gen.SetSession(session)
	hi, err := gen.CreateHI(p, p.ID())
	require.NoError(t, err)
	b, err := msg.Encode(hi)
	require.NoError(t, err)
	return b
}

func peerMsg(t *testing.T, gen *msg.Generator, m msg.GameMsg, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	b, err := msg.Encode(m)
	require.NoError(t, err)
	return b
}

func TestConnect_NoURL(t *testing.T) {
	g := &fakeGame{}
	c := NewClient(g, msg.NewGenerator("p1", nil), Options{})
	err := c.Connect(context.Background(), ConnectConfig{})
	assert.ErrorIs(t, err, network.ErrNoEndpoint)
	assert.Equal(t, Disconnected, c.State())
	assert.Empty(t, g.Events())
}

func TestParse_Malformed(t *testing.T) {
	c, g, _ := newTestClient(t, Options{})

	_, ok := c.Parse([]byte("not json"))
	assert.False(t, ok)
	_, ok = c.Parse([]byte(`{"action":"shout","target":"TXT","from":"p2","to":"ALL"}`))
	assert.False(t, ok)

	c.Receive([]byte(`{"action":`))
	assert.Empty(t, g.Events(), "a malformed payload must not emit")
	assert.Equal(t, AwaitingHandshake, c.State(), "and must not change the connection")
}

func TestIgnoredBeforeHandshake(t *testing.T) {
	c, g, conn := newTestClient(t, Options{})
	g.setReady(true)

	peer := msg.NewGenerator("p2", nil)
	m, err := peer.CreateSTATE(msg.SAY, state.New(1, 1, 1), msg.ToAll)
	c.Receive(peerMsg(t, peer, m, err))

	assert.Empty(t, g.Events())
	assert.Empty(t, conn.Sent(), "nothing is acknowledged before the handshake")
	assert.False(t, c.Buffering())
}

func TestHandshake_Fresh(t *testing.T) {
	c, g, conn := newTestClient(t, Options{Store: NewMemorySessionStore()})
	assigned := player.New("p1", "sid-9", 3)

	c.Receive(serverHI(t, "room1", assigned))

	assert.Equal(t, Active, c.State())
	assert.Equal(t, "room1", c.Session())
	assert.Equal(t, []string{event.SOCKET_CONNECT}, g.Events())
	assert.Equal(t, false, g.args[0][0], "fresh handshake is not a recovery")
	assert.Equal(t, "sid-9", g.Player().SID())

	require.NoError(t, c.SendTXT("hello", msg.ToAll))
	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "room1", sent[0].Session, "outbound messages carry the session")
}

func TestHandshake_Recover(t *testing.T) {
	store := NewMemorySessionStore()
	saved := Session{
		ID:     SessionKey("room1", "p1"),
		Player: player.New("p1", "old", 1),
		State:  state.New(2, 1, 1).WithIs(state.PLAYING),
	}
	require.NoError(t, store.Store(saved))

	c, g, _ := newTestClient(t, Options{Store: store})
	c.Receive(serverHI(t, "room1", player.New("p1", "new", 1)))

	require.NotNil(t, g.restored)
	assert.Equal(t, state.New(2, 1, 1).WithIs(state.PLAYING), g.gs)
	assert.Equal(t, []string{event.SOCKET_CONNECT}, g.Events())
	assert.Equal(t, true, g.args[0][0])
	assert.Equal(t, Active, c.State())
}

// Three messages arrive before the game is ready; they come out in order.
func TestBuffer_FIFO(t *testing.T) {
	c, g, _ := newTestClient(t, Options{})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))

	peer := msg.NewGenerator("p2", nil)
	peer.SetSession("room1")
	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		m, err := peer.CreateDATA(msg.SET, text, 1, "p1")
		ids = append(ids, m.ID)
		c.Receive(peerMsg(t, peer, m, err))
	}

	assert.True(t, c.Buffering())
	assert.Equal(t, 3, c.Buffered())
	assert.Equal(t, []string{event.SOCKET_CONNECT}, g.Events())

	g.setReady(true)
	c.ClearBuffer()
	assert.False(t, c.Buffering())
	require.Equal(t, []string{event.SOCKET_CONNECT, "in.set.DATA", "in.set.DATA", "in.set.DATA"}, g.Events())
	for i, id := range ids {
		assert.Equal(t, id, g.args[i+1][0].(msg.GameMsg).ID)
	}
}

func TestReliable_AckAndDedupe(t *testing.T) {
	c, g, conn := newTestClient(t, Options{})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))
	g.setReady(true)

	peer := msg.NewGenerator("p2", nil)
	peer.SetSession("room1")
	m, err := peer.CreateSTATE(msg.SAY, state.New(1, 1, 1), msg.ToAll)
	raw := peerMsg(t, peer, m, err)
	c.Receive(raw)
	c.Receive(raw)

	assert.Equal(t, []string{event.SOCKET_CONNECT, "in.say.STATE"}, g.Events(), "duplicate must be dropped")
	var acks []msg.GameMsg
	for _, s := range conn.Sent() {
		if s.Target == msg.ACK {
			acks = append(acks, s)
		}
	}
	require.Len(t, acks, 2, "every copy is acknowledged")
	assert.Equal(t, m.ID, acks[0].Text)
	assert.Equal(t, "p2", acks[0].To)
}

func TestForeignSessionDropped(t *testing.T) {
	c, g, _ := newTestClient(t, Options{})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))
	g.setReady(true)

	other := msg.NewGenerator("p9", nil)
	other.SetSession("room2")
	m, err := other.CreateTXT("hi", msg.ToAll)
	c.Receive(peerMsg(t, other, m, err))
	assert.Equal(t, []string{event.SOCKET_CONNECT}, g.Events())
}

func TestReliable_ResolvedByAck(t *testing.T) {
	c, _, conn := newTestClient(t, Options{AckTimeout: time.Hour})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))

	require.NoError(t, c.SendSTATE(msg.SAY, state.New(1, 1, 1), msg.ToAll))
	assert.Equal(t, 1, c.Pending())
	sent := conn.Sent()[0]

	peer := msg.NewGenerator("p2", nil)
	peer.SetSession("room1")
	ack, err := peer.CreateACK(sent)
	c.Receive(peerMsg(t, peer, ack, err))
	assert.Equal(t, 0, c.Pending())

	require.NoError(t, c.SendTXT("unreliable", msg.ToAll))
	assert.Equal(t, 0, c.Pending(), "TXT is not tracked")
}

func TestReliable_Retransmits(t *testing.T) {
	c, _, conn := newTestClient(t, Options{AckTimeout: 10 * time.Millisecond, AckRetries: 2})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))

	require.NoError(t, c.SendSTATE(msg.SAY, state.New(1, 1, 1), msg.ToAll))
	require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 5*time.Millisecond)

	sent := conn.Sent()
	assert.Len(t, sent, 3, "original plus two retries")
	for _, s := range sent {
		assert.Equal(t, sent[0].ID, s.ID)
	}
}

func TestDisconnect_StopsPrivateTimers(t *testing.T) {
	g := &fakeGame{player: player.New("p1", "", 0)}
	c := NewClient(g, msg.NewGenerator("p1", g.CurrentState), Options{AckTimeout: time.Hour})
	conn := newMockConnection()
	c.Attach(conn)
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))

	require.NoError(t, c.SendSTATE(msg.SAY, state.New(1, 1, 1), msg.ToAll))
	assert.Equal(t, 1, c.Pending())
	timers := c.acks.timers
	require.NotNil(t, timers)

	c.Disconnect()
	assert.Nil(t, c.acks.timers)
	assert.Equal(t, 0, c.Pending())

	fired := make(chan struct{}, 1)
	timers.AddTimer(time.Millisecond, 0, func() { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatal("the private timer manager should be stopped")
	case <-time.After(100 * time.Millisecond):
	}

	again := newMockConnection()
	c.Attach(again)
	t.Cleanup(c.Disconnect)
	assert.NotNil(t, c.acks.timers, "a new connection gets a new manager")
}

func TestDisconnect_SavesSession(t *testing.T) {
	store := NewMemorySessionStore()
	c, g, _ := newTestClient(t, Options{Store: store})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))
	g.gs = state.New(3, 1, 1)

	c.Disconnect()
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, event.SOCKET_DISCONN, g.Events()[len(g.Events())-1])

	saved, err := store.Load(SessionKey("room1", "p1"))
	require.NoError(t, err)
	assert.Equal(t, state.New(3, 1, 1), saved.State)

	assert.ErrorIs(t, c.SendTXT("late", msg.ToAll), ErrNotConnected)
	c.Disconnect()
	assert.Len(t, g.Events(), 2, "second Disconnect is a no-op")
}

func TestConnect_WebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{network.Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := network.NewWSConnection(conn)
		defer ws.Close()
		ws.Send(serverHI(t, "room7", player.New(r.URL.Query().Get("player"), "s1", 1)))
		for {
			if _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	g := &fakeGame{}
	c := NewClient(g, msg.NewGenerator("", nil), Options{
		Exec: func(fn func()) { mu.Lock(); defer mu.Unlock(); fn() },
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, c.Connect(context.Background(), ConnectConfig{
		URL: url,
		IO:  map[string]any{"query": map[string]any{"player": "ada"}},
	}))

	require.Eventually(t, func() bool { return c.State() == Active }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ada", g.Player().ID())

	mu.Lock()
	c.Disconnect()
	mu.Unlock()
	assert.Contains(t, g.Events(), event.SOCKET_DISCONN)
}

func TestSendGET_AsksTheRelay(t *testing.T) {
	c, _, conn := newTestClient(t, Options{AckTimeout: time.Hour})
	c.Receive(serverHI(t, "room1", player.New("p1", "", 1)))

	require.NoError(t, c.SendGET(msg.PLIST, "", msg.ToServer))
	sent := conn.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, msg.GET, last.Action)
	assert.Equal(t, msg.PLIST, last.Target)
	assert.Equal(t, msg.ToServer, last.To)
	assert.Equal(t, "room1", last.Session)
}

package server

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/gamesync/config"
	"github.com/wfunc/gamesync/monitor"
	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/network"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/state"
)

type archived struct {
	roomID  string
	players []*player.Player
}

type mockArchiver struct {
	mu    sync.Mutex
	rooms []archived
}

func (a *mockArchiver) ArchiveRoom(roomID string, opened time.Time, players []*player.Player) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms = append(a.rooms, archived{roomID: roomID, players: players})
	return nil
}

func (a *mockArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}

type relay struct {
	gs      *GameServer
	http    *httptest.Server
	mon     *monitor.Monitor
	archive *mockArchiver
}

func newRelay(t *testing.T, maxPlayers int) *relay {
	t.Helper()
	mon := monitor.NewMonitor("relay_test")
	archive := &mockArchiver{}
	gs, err := NewGameServer(config.ServerConfig{MaxPlayers: maxPlayers}, mon, archive)
	require.NoError(t, err)
	srv := httptest.NewServer(gs.Handler())
	t.Cleanup(srv.Close)
	return &relay{gs: gs, http: srv, mon: mon, archive: archive}
}

// peer is a raw protocol client.
type peer struct {
	t    *testing.T
	id   string
	conn *websocket.Conn
	gen  *msg.Generator
}

func (r *relay) dial(t *testing.T, roomID, playerID string) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws?player=" + playerID
	if roomID != "" {
		url += "&room=" + roomID
	}
	dialer := websocket.Dialer{Subprotocols: []string{network.Subprotocol}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, network.Subprotocol, conn.Subprotocol())

	gen := msg.NewGenerator(playerID, nil)
	gen.SetSession(roomID)
	return &peer{t: t, id: playerID, conn: conn, gen: gen}
}

func (p *peer) read() msg.GameMsg {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	m, err := msg.Decode(data)
	require.NoError(p.t, err)
	return m
}

func (p *peer) write(m msg.GameMsg, err error) {
	p.t.Helper()
	require.NoError(p.t, err)
	data, err := msg.Encode(m)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, data))
}

func (p *peer) expectRoster(ids ...string) {
	p.t.Helper()
	m := p.read()
	require.Equal(p.t, msg.PLIST, m.Target, "got %s", m)
	var list []*player.Player
	require.NoError(p.t, m.DecodeData(&list))
	got := make([]string, 0, len(list))
	for _, pl := range list {
		got = append(got, pl.ID())
	}
	assert.ElementsMatch(p.t, ids, got)
}

func (p *peer) handshake(roster ...string) {
	p.t.Helper()
	hi := p.read()
	require.Equal(p.t, msg.HI, hi.Target)
	assert.Equal(p.t, msg.ToServer, hi.From)
	var me player.Player
	require.NoError(p.t, hi.DecodeData(&me))
	assert.Equal(p.t, p.id, me.ID())
	p.expectRoster(roster...)
}

func TestJoin_GreetsAndBroadcastsRoster(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")

	bob := r.dial(t, "r1", "bob")
	bob.handshake("ada", "bob")
	ada.expectRoster("ada", "bob")

	rm, ok := r.gs.Rooms().GetRoom("r1")
	require.True(t, ok)
	assert.Equal(t, 2, rm.Len())
}

func TestRelay_AllExcludesSender(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")
	bob := r.dial(t, "r1", "bob")
	bob.handshake("ada", "bob")
	ada.expectRoster("ada", "bob")

	ada.write(ada.gen.CreateTXT("hello", msg.ToAll))
	got := bob.read()
	assert.Equal(t, msg.TXT, got.Target)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "ada", got.From)

	// ada's next frames answer her request; her own TXT never comes back.
	ada.write(ada.gen.CreateGET(msg.PLIST, "", msg.ToServer))
	ack := ada.read()
	require.Equal(t, msg.ACK, ack.Target)
	reply := ada.read()
	assert.Equal(t, msg.PLIST, reply.Target)
	assert.Equal(t, "ada", reply.To)
}

func TestRelay_DirectMessage(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")
	bob := r.dial(t, "r1", "bob")
	bob.handshake("ada", "bob")
	ada.expectRoster("ada", "bob")

	bob.write(bob.gen.CreateDATA(msg.SET, "choice", 3, "ada"))
	got := ada.read()
	assert.Equal(t, msg.DATA, got.Target)
	assert.Equal(t, "choice", got.Text)
	assert.Equal(t, "bob", got.From)
}

func TestRelay_DropsSpoofedSender(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")
	bob := r.dial(t, "r1", "bob")
	bob.handshake("ada", "bob")
	ada.expectRoster("ada", "bob")

	spoof := msg.NewGenerator("bob", nil)
	spoof.SetSession("r1")
	ada.write(spoof.CreateTXT("forged", msg.ToAll))
	ada.write(ada.gen.CreateTXT("genuine", msg.ToAll))

	assert.Equal(t, "genuine", bob.read().Text)
}

func TestRelay_StateUpdatesRoster(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")

	gs := state.New(1, 1, 1).WithIs(state.PLAYING)
	ada.write(ada.gen.CreateSTATE(msg.SAY, gs, msg.ToAll))

	rm, ok := r.gs.Rooms().GetRoom("r1")
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		roster := rm.Roster()
		return len(roster) == 1 && roster[0].State == gs
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLeave_BroadcastsRosterAndClosesEmptyRoom(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")
	bob := r.dial(t, "r1", "bob")
	bob.handshake("ada", "bob")
	ada.expectRoster("ada", "bob")

	bob.conn.Close()
	ada.expectRoster("ada")

	ada.conn.Close()
	assert.Eventually(t, func() bool {
		_, open := r.gs.Rooms().GetRoom("r1")
		return !open && r.archive.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	r.archive.mu.Lock()
	defer r.archive.mu.Unlock()
	assert.Equal(t, "r1", r.archive.rooms[0].roomID)
	require.Len(t, r.archive.rooms[0].players, 1)
	assert.Equal(t, "ada", r.archive.rooms[0].players[0].ID())
}

func TestJoin_ReconnectTakesOver(t *testing.T) {
	r := newRelay(t, 10)
	first := r.dial(t, "r1", "ada")
	first.handshake("ada")

	second := r.dial(t, "r1", "ada")
	second.handshake("ada")

	rm, ok := r.gs.Rooms().GetRoom("r1")
	require.True(t, ok)
	assert.Equal(t, 1, rm.Len())

	first.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.conn.ReadMessage()
	assert.Error(t, err, "the replaced connection should be closed")
}

func TestJoin_RoomFull(t *testing.T) {
	r := newRelay(t, 1)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")

	bob := r.dial(t, "r1", "bob")
	refusal := bob.read()
	assert.Equal(t, msg.TXT, refusal.Target)
	assert.Equal(t, "room is full", refusal.Text)

	bob.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := bob.conn.ReadMessage()
	assert.Error(t, err)
}

func TestMonitor_TracksPlayersAndRooms(t *testing.T) {
	r := newRelay(t, 10)
	ada := r.dial(t, "r1", "ada")
	ada.handshake("ada")
	bob := r.dial(t, "r2", "bob")
	bob.handshake("bob")

	assert.Equal(t, 2.0, gauge(t, r.mon, "relay_test_online_players"))
	assert.Equal(t, 2.0, gauge(t, r.mon, "relay_test_active_rooms"))

	bob.conn.Close()
	assert.Eventually(t, func() bool {
		return gauge(t, r.mon, "relay_test_online_players") == 1 &&
			gauge(t, r.mon, "relay_test_active_rooms") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func gauge(t *testing.T, mon *monitor.Monitor, name string) float64 {
	t.Helper()
	families, err := mon.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestJoin_WithoutRoomPicksWaitingRoom(t *testing.T) {
	r := newRelay(t, 10)
	first := r.dial(t, "", "ada")
	hi := first.read()
	require.Equal(t, msg.HI, hi.Target)
	assert.Equal(t, DefaultRoom, hi.Session)
	first.expectRoster("ada")

	r.gs.Rooms().GetOrCreate("empty", 10, r.gs.broadcaster)
	lobby := r.dial(t, "lobby", "bob")
	lobby.handshake("bob")

	// default and lobby both wait for players; the newcomer lands in one of them.
	cy := r.dial(t, "", "cy")
	hi = cy.read()
	require.Equal(t, msg.HI, hi.Target)
	assert.Contains(t, []string{DefaultRoom, "lobby"}, hi.Session)
	assert.NotEqual(t, "empty", hi.Session)
}

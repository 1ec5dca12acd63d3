package room

import (
	"net"
	"testing"
	"time"

	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/session"
	"github.com/wfunc/gamesync/state"
)

// MockBroadcaster is a test double for the Broadcaster interface.
type MockBroadcaster struct {
	calls  int
	except []string
}

func (m *MockBroadcaster) BroadcastToRoom(roomID string, data []byte, except ...string) error {
	m.calls++
	m.except = except
	return nil
}

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct{}

func (m *MockConnection) Send(data []byte) error              { return nil }
func (m *MockConnection) Close() error                        { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadMessage() ([]byte, error)        { return nil, nil }

func join(t *testing.T, r *Room, sid, playerID string) *session.Session {
	t.Helper()
	s := session.NewSession(sid, &MockConnection{})
	if err := r.AddPlayer(s, player.New(playerID, sid, 0)); err != nil {
		t.Fatalf("AddPlayer(%s): %v", playerID, err)
	}
	return s
}

func TestRoomManager_CreateAndGetRoom(t *testing.T) {
	manager := NewRoomManager()
	roomID := "test_room_1"
	room, created := manager.GetOrCreate(roomID, 4, &MockBroadcaster{})

	if room == nil || !created {
		t.Fatal("GetOrCreate should create the room")
	}
	if room.ID != roomID {
		t.Errorf("Expected room ID %s, got %s", roomID, room.ID)
	}
	retrievedRoom, exists := manager.GetRoom(roomID)
	if !exists {
		t.Fatal("GetRoom should find the created room")
	}
	if retrievedRoom != room {
		t.Error("GetRoom should return the same room instance")
	}
	if room.Generator().Session() != roomID {
		t.Errorf("relay messages should carry session %s", roomID)
	}
}

func TestRoomManager_GetOrCreate(t *testing.T) {
	manager := NewRoomManager()

	first, created := manager.GetOrCreate("r", 2, &MockBroadcaster{})
	if !created {
		t.Fatal("first call should create the room")
	}
	second, created := manager.GetOrCreate("r", 2, &MockBroadcaster{})
	if created || second != first {
		t.Fatal("second call should return the existing room")
	}
	if manager.Len() != 1 {
		t.Errorf("Expected 1 room, got %d", manager.Len())
	}
}

func TestRoomManager_RemoveIfEmpty(t *testing.T) {
	manager := NewRoomManager()
	room, _ := manager.GetOrCreate("r", 2, &MockBroadcaster{})
	s := join(t, room, "s1", "ada")

	if manager.RemoveIfEmpty("r") {
		t.Fatal("a room with players should stay open")
	}
	room.RemovePlayer(s.ID)
	if !manager.RemoveIfEmpty("r") {
		t.Fatal("an empty room should be removed")
	}
	if err := room.AddPlayer(session.NewSession("s2", &MockConnection{}), player.New("bob", "s2", 0)); err != ErrRoomClosed {
		t.Errorf("a removed room should refuse players, got %v", err)
	}
	if _, exists := manager.GetRoom("r"); exists {
		t.Error("removed room should not be found")
	}
}

func TestRoom_AddPlayer(t *testing.T) {
	room := NewRoom("test_room_2", 2, &MockBroadcaster{})
	s := join(t, room, "s1", "ada")

	if room.Len() != 1 {
		t.Errorf("Expected player count to be 1, got %d", room.Len())
	}
	if s.RoomID != room.ID || s.PlayerID != "ada" {
		t.Errorf("session not bound: room=%q player=%q", s.RoomID, s.PlayerID)
	}
	got, ok := room.SessionFor("ada")
	if !ok || got != s {
		t.Error("SessionFor should return the player's session")
	}
}

func TestRoom_AddPlayer_Full(t *testing.T) {
	room := NewRoom("test_room_3", 1, &MockBroadcaster{})
	join(t, room, "s1", "ada")

	err := room.AddPlayer(session.NewSession("s2", &MockConnection{}), player.New("bob", "s2", 0))
	if err != ErrRoomFull {
		t.Fatalf("Expected ErrRoomFull, got %v", err)
	}
	if room.Len() != 1 {
		t.Errorf("Expected player count to be 1 after trying to add to a full room, got %d", room.Len())
	}
}

func TestRoom_AddPlayer_DuplicateID(t *testing.T) {
	room := NewRoom("r", 4, &MockBroadcaster{})
	join(t, room, "s1", "ada")

	err := room.AddPlayer(session.NewSession("s2", &MockConnection{}), player.New("ada", "s2", 0))
	if err == nil {
		t.Fatal("a second player with the same id should be refused")
	}
	if s, ok := room.SessionFor("ada"); !ok || s.ID != "s1" {
		t.Error("the first session should keep the player")
	}
	if room.Len() != 1 {
		t.Errorf("Expected player count to be 1, got %d", room.Len())
	}
}

func TestRoom_RemovePlayer(t *testing.T) {
	room := NewRoom("test_room_4", 2, &MockBroadcaster{})
	s := join(t, room, "s1", "ada")

	p, ok := room.RemovePlayer(s.ID)
	if !ok || p.ID() != "ada" {
		t.Fatalf("RemovePlayer returned %v, %v", p, ok)
	}
	if room.Len() != 0 {
		t.Errorf("Expected player count to be 0 after removing player, got %d", room.Len())
	}
	if s.RoomID != "" {
		t.Error("session should be unbound from the room")
	}
	if _, ok := room.RemovePlayer(s.ID); ok {
		t.Error("removing twice should report nothing removed")
	}
}

func TestRoom_StatusFollowsRoster(t *testing.T) {
	room := NewRoom("r", 4, &MockBroadcaster{})
	if room.Status() != StatusIdle {
		t.Errorf("empty room should be idle, got %s", room.Status())
	}
	join(t, room, "s1", "ada")
	if room.Status() != StatusWaiting {
		t.Errorf("room with players at the initial state should be waiting, got %s", room.Status())
	}
	if err := room.UpdateState("ada", state.New(1, 1, 1).WithIs(state.PLAYING)); err != nil {
		t.Fatal(err)
	}
	if room.Status() != StatusGaming {
		t.Errorf("room with an active player should be gaming, got %s", room.Status())
	}
	if err := room.UpdateState("nobody", state.New(1, 1, 1)); err == nil {
		t.Error("updating an unknown player should fail")
	}
}

func TestRoom_RosterIsACopy(t *testing.T) {
	room := NewRoom("r", 4, &MockBroadcaster{})
	join(t, room, "s1", "ada")

	roster := room.Roster()
	roster[0].Name = "changed"
	if room.Roster()[0].Name == "changed" {
		t.Error("Roster should return copies")
	}
}

func TestRoom_BroadcastUsesBroadcaster(t *testing.T) {
	b := &MockBroadcaster{}
	room := NewRoom("r", 4, b)
	if err := room.Broadcast([]byte("x"), "s1"); err != nil {
		t.Fatal(err)
	}
	if b.calls != 1 || len(b.except) != 1 || b.except[0] != "s1" {
		t.Errorf("broadcaster got calls=%d except=%v", b.calls, b.except)
	}
}

func TestRoomManager_FindAvailableRoom(t *testing.T) {
	manager := NewRoomManager()
	if manager.FindAvailableRoom() != nil {
		t.Fatal("no room should be available without rooms")
	}

	full, _ := manager.GetOrCreate("full", 1, &MockBroadcaster{})
	join(t, full, "s1", "ada")
	playing, _ := manager.GetOrCreate("playing", 4, &MockBroadcaster{})
	join(t, playing, "s2", "bob")
	if err := playing.UpdateState("bob", state.New(1, 1, 1).WithIs(state.PLAYING)); err != nil {
		t.Fatal(err)
	}
	manager.GetOrCreate("empty", 4, &MockBroadcaster{})
	if got := manager.FindAvailableRoom(); got != nil {
		t.Fatalf("full, gaming and idle rooms are not available, got %s", got.ID)
	}

	waiting, _ := manager.GetOrCreate("waiting", 4, &MockBroadcaster{})
	join(t, waiting, "s3", "cy")
	if got := manager.FindAvailableRoom(); got != waiting {
		t.Errorf("expected the waiting room, got %v", got)
	}
}

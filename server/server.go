package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/gamesync/broadcast"
	"github.com/wfunc/gamesync/config"
	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/monitor"
	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/network"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/room"
	gamesync_rpc "github.com/wfunc/gamesync/rpc"
	"github.com/wfunc/gamesync/session"
	"github.com/wfunc/gamesync/state"
)

// DefaultRoom is used when a peer does not name a room and no room is
// waiting for players.
const DefaultRoom = "default"

// RoomArchiver keeps the final roster of a closed room.
type RoomArchiver interface {
	ArchiveRoom(roomID string, opened time.Time, players []*player.Player) error
}

// GameServer relays protocol messages between the peers of a room. It
// assigns player ids, keeps each room's roster and answers the requests
// addressed to SERVER.
type GameServer struct {
	addr           string
	maxPlayers     int
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	broadcaster    *broadcast.RoomBroadcaster
	rpcServer      *gamesync_rpc.Server
	monitor        *monitor.Monitor
	archiver       RoomArchiver
	httpServer     *http.Server
	shutdownChan   chan struct{}
}

// NewGameServer builds the relay. An empty RPC address disables the RPC
// listener; mon and archiver may be nil.
func NewGameServer(cfg config.ServerConfig, mon *monitor.Monitor, archiver RoomArchiver) (*GameServer, error) {
	s := &GameServer{
		addr:           cfg.HTTPAddress,
		maxPlayers:     cfg.MaxPlayers,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		monitor:        mon,
		archiver:       archiver,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{network.Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.broadcaster = broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager)

	if cfg.RPCAddress != "" {
		rpcServer, err := gamesync_rpc.NewServer(cfg.RPCAddress)
		if err != nil {
			return nil, err
		}
		if err := rpcServer.Register(gamesync_rpc.NewRoomService(s.roomManager)); err != nil {
			rpcServer.Stop()
			return nil, err
		}
		s.rpcServer = rpcServer
	}
	return s, nil
}

// Rooms exposes the room manager.
func (s *GameServer) Rooms() *room.Manager {
	return s.roomManager
}

// Handler serves the websocket endpoint at /ws.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *GameServer) Start() error {
	if s.rpcServer != nil {
		go s.rpcServer.Start()
	}
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown(ctx context.Context) error {
	close(s.shutdownChan)
	if s.rpcServer != nil {
		s.rpcServer.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = DefaultRoom
		if rm := s.roomManager.FindAvailableRoom(); rm != nil {
			roomID = rm.ID
		}
	}
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		playerID = uuid.New().String()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn), roomID, playerID)
}

func (s *GameServer) handleConnection(wsConn *network.WSConnection, roomID, playerID string) {
	wsConn.SetHeartbeat(network.HeartbeatInterval)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)

	rm, err := s.join(sess, roomID, playerID, wsConn.RemoteAddr())
	if err != nil {
		logger.Log.Warnf("Session %s cannot join room %s as %s: %v", sess.ID, roomID, playerID, err)
		s.sessionManager.Remove(sess.ID)
		wsConn.Close()
		return
	}
	logger.Log.Infof("New connection from %s, session ID: %s, player %s in room %s",
		wsConn.RemoteAddr(), sess.ID, playerID, roomID)

	done := make(chan struct{})
	go s.keepAlive(wsConn, done)

	defer func() {
		close(done)
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.ID)
		s.leave(sess, rm)
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}
		data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(sess, rm, data)
	}
}

// join binds the session to a player of the room, greets the player and
// broadcasts the new roster. A player id still bound to an older session
// takes over from it.
func (s *GameServer) join(sess *session.Session, roomID, playerID string, addr net.Addr) (*room.Room, error) {
	p := player.New(playerID, sess.ID, 0)
	if addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			p.IP = host
		}
	}

	var rm *room.Room
	var err error
	// A room closed between lookup and join is replaced by a fresh one.
	for attempt := 0; attempt < 3; attempt++ {
		rm, err = s.enter(sess, roomID, p)
		if !errors.Is(err, room.ErrRoomClosed) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.monitor.IncOnlinePlayers()
	s.monitor.SetActiveRooms(s.roomManager.Len())

	hi, err := rm.Generator().CreateHI(p, playerID)
	if err != nil {
		return nil, err
	}
	s.send(sess, hi)
	s.broadcastRoster(rm)
	return rm, nil
}

func (s *GameServer) enter(sess *session.Session, roomID string, p *player.Player) (*room.Room, error) {
	rm, _ := s.roomManager.GetOrCreate(roomID, s.maxPlayers, s.broadcaster)
	playerID := p.ID()

	if old, ok := rm.SessionFor(playerID); ok {
		logger.Log.Infof("Player %s reconnected, dropping session %s", playerID, old.ID)
		rm.RemovePlayer(old.ID)
		old.Close()
	}

	if err := rm.AddPlayer(sess, p); err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			if m, err := rm.Generator().CreateTXT("room is full", playerID); err == nil {
				s.send(sess, m)
			}
		}
		if !errors.Is(err, room.ErrRoomClosed) {
			s.roomManager.RemoveIfEmpty(roomID)
		}
		return nil, err
	}
	return rm, nil
}

func (s *GameServer) leave(sess *session.Session, rm *room.Room) {
	s.sessionManager.Remove(sess.ID)
	s.monitor.DecOnlinePlayers()

	last := rm.Roster()
	if _, removed := rm.RemovePlayer(sess.ID); !removed {
		return
	}
	if s.roomManager.RemoveIfEmpty(rm.ID) {
		logger.Log.Infof("Room %s closed", rm.ID)
		s.monitor.SetActiveRooms(s.roomManager.Len())
		if s.archiver != nil {
			if err := s.archiver.ArchiveRoom(rm.ID, rm.CreatedAt, last); err != nil {
				logger.Log.Errorf("Cannot archive room %s: %v", rm.ID, err)
			}
		}
		return
	}
	s.broadcastRoster(rm)
}

func (s *GameServer) keepAlive(wsConn *network.WSConnection, done <-chan struct{}) {
	ticker := time.NewTicker(network.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := wsConn.Ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *GameServer) handleMessage(sess *session.Session, rm *room.Room, data []byte) {
	m, err := msg.Decode(data)
	if err != nil {
		logger.Log.Warnf("Session %s sent a malformed message: %v", sess.ID, err)
		return
	}
	if m.From != sess.PlayerID {
		logger.Log.Warnf("Session %s of player %s sent a message from %q, dropped", sess.ID, sess.PlayerID, m.From)
		return
	}
	if m.Session != "" && m.Session != rm.ID {
		logger.Log.Warnf("Player %s sent a message for session %s in room %s, dropped", m.From, m.Session, rm.ID)
		return
	}
	s.monitor.IncMessagesReceived(string(m.Target))
	sess.Touch()

	if m.Action == msg.SAY && m.Target == msg.STATE {
		var gs state.GameState
		if err := m.DecodeData(&gs); err != nil {
			gs = m.State
		}
		if err := rm.UpdateState(m.From, gs); err != nil {
			logger.Log.Debugf("State of %s not recorded: %v", m.From, err)
		}
	}

	switch m.To {
	case msg.ToAll:
		if err := rm.Broadcast(data, sess.ID); err != nil {
			logger.Log.Warnf("Relay of %s in room %s incomplete: %v", m, rm.ID, err)
		}
		s.monitor.IncMessagesSent(string(m.Target))
	case msg.ToServer:
		s.handleServerMessage(sess, rm, m)
	default:
		if err := s.broadcaster.SendToPlayer(rm.ID, m.To, data); err != nil {
			logger.Log.Warnf("Relay of %s in room %s failed: %v", m, rm.ID, err)
			return
		}
		s.monitor.IncMessagesSent(string(m.Target))
	}
}

// handleServerMessage answers the messages addressed to the relay itself.
func (s *GameServer) handleServerMessage(sess *session.Session, rm *room.Room, m msg.GameMsg) {
	if m.Target == msg.ACK {
		return
	}
	if m.Reliable {
		if ack, err := rm.Generator().CreateACK(m); err == nil {
			s.send(sess, ack)
		}
	}
	switch {
	case m.Action == msg.GET && m.Target == msg.PLIST:
		reply, err := rm.Generator().CreatePLIST(msg.SAY, rm.Roster(), m.From)
		if err != nil {
			logger.Log.Errorf("Cannot build PLIST for %s: %v", m.From, err)
			return
		}
		s.send(sess, reply)
	default:
		logger.Log.Debugf("Ignoring %s addressed to the server", m)
	}
}

func (s *GameServer) send(sess *session.Session, m msg.GameMsg) {
	data, err := msg.Encode(m)
	if err != nil {
		logger.Log.Errorf("Cannot encode %s: %v", m, err)
		return
	}
	if err := s.broadcaster.SendTo(sess.ID, data); err != nil {
		logger.Log.Warnf("Send of %s to session %s failed: %v", m, sess.ID, err)
		return
	}
	s.monitor.IncMessagesSent(string(m.Target))
}

func (s *GameServer) broadcastRoster(rm *room.Room) {
	m, err := rm.Generator().CreatePLIST(msg.SAY, rm.Roster(), msg.ToAll)
	if err != nil {
		logger.Log.Errorf("Cannot build PLIST for room %s: %v", rm.ID, err)
		return
	}
	data, err := msg.Encode(m)
	if err != nil {
		logger.Log.Errorf("Cannot encode %s: %v", m, err)
		return
	}
	if err := rm.Broadcast(data); err != nil {
		logger.Log.Warnf("Roster broadcast in room %s incomplete: %v", rm.ID, err)
	}
	s.monitor.IncMessagesSent(string(msg.PLIST))
}

package rpc

import (
	"errors"
	"net"
	"net/rpc"
	"sort"
	"time"

	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/room"
)

var ErrRoomNotFound = errors.New("room not found")

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	rpc      *rpc.Server
}

// NewServer listens on addr. Services are added with Register.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		rpc:      rpc.NewServer(),
	}, nil
}

// Register publishes the exported methods of rcvr.
func (s *Server) Register(rcvr any) error {
	return s.rpc.Register(rcvr)
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.listener.Addr())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomService exposes the relay's rooms to operators.
type RoomService struct {
	rooms *room.Manager
}

func NewRoomService(rooms *room.Manager) *RoomService {
	return &RoomService{rooms: rooms}
}

type RoomInfo struct {
	ID      string
	Players int
	Status  string
}

type ListRoomsArgs struct{}

type ListRoomsReply struct {
	Rooms []RoomInfo
}

// ListRooms returns the open rooms sorted by id.
func (rs *RoomService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	rooms := rs.rooms.Rooms()
	reply.Rooms = make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		reply.Rooms = append(reply.Rooms, RoomInfo{ID: r.ID, Players: r.Len(), Status: r.Status().String()})
	}
	sort.Slice(reply.Rooms, func(i, j int) bool { return reply.Rooms[i].ID < reply.Rooms[j].ID })
	return nil
}

type GetRosterArgs struct {
	RoomID string
}

// PlayerInfo is the gob-friendly view of a player.
type PlayerInfo struct {
	ID    string
	SID   string
	Count int
	Name  string
	State string
	// Idle is the time since the player's connection last carried a frame.
	Idle time.Duration
}

type GetRosterReply struct {
	Players []PlayerInfo
}

func (rs *RoomService) GetRoster(args *GetRosterArgs, reply *GetRosterReply) error {
	r, exists := rs.rooms.GetRoom(args.RoomID)
	if !exists {
		return ErrRoomNotFound
	}
	for _, p := range r.Roster() {
		info := infoOf(p)
		if s, ok := r.SessionFor(p.ID()); ok {
			info.Idle = s.Idle()
		}
		reply.Players = append(reply.Players, info)
	}
	return nil
}

func infoOf(p *player.Player) PlayerInfo {
	return PlayerInfo{ID: p.ID(), SID: p.SID(), Count: p.Count(), Name: p.Name, State: p.State.String()}
}

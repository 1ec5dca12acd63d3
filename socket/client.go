// Package socket connects a peer to the relay server. It frames GameMsgs
// over a network.Connection, performs the handshake, acknowledges and
// deduplicates reliable messages, and holds inbound messages back until the
// game is ready for them.
package socket

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/gamesync/event"
	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/monitor"
	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/network"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/state"
	"github.com/wfunc/gamesync/timer"
)

var ErrNotConnected = errors.New("socket is not connected")

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	AwaitingHandshake
	Active
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingHandshake:
		return "awaiting handshake"
	case Active:
		return "active"
	}
	return "disconnected"
}

// Orchestrator is the game side of the socket.
type Orchestrator interface {
	IsReady() bool
	Emit(name string, args ...any)
	CurrentState() state.GameState
	Player() *player.Player
	SetPlayer(p *player.Player)
	Snapshot() Session
	Restore(s Session) error
}

type Options struct {
	Log     *zap.SugaredLogger
	Store   SessionStore
	Monitor *monitor.Monitor
	// Timers drives ACK retransmission. When nil the client runs a private
	// manager for each connection and stops it on Disconnect.
	Timers     *timer.TimerManager
	AckTimeout time.Duration
	AckRetries int
	// Exec runs fn on the game's goroutine. Everything the read loop
	// delivers goes through it. nil runs fn on the read loop.
	Exec func(fn func())
}

type ConnectConfig struct {
	URL string
	IO  map[string]any
}

type Client struct {
	opts Options
	o    Orchestrator
	gen  *msg.Generator
	log  *zap.SugaredLogger
	acks *ackTracker
	// ownTimers is set when the ACK timers belong to the client.
	ownTimers bool

	mutex     sync.Mutex
	conn      network.Connection
	connState ConnState

	// Touched on the game goroutine only.
	session   string
	handshake bool
	buffer    []msg.GameMsg
	seen      map[string]bool
}

func NewClient(o Orchestrator, gen *msg.Generator, opts Options) *Client {
	if opts.AckTimeout == 0 {
		opts.AckTimeout = 2 * time.Second
	}
	if opts.AckRetries == 0 {
		opts.AckRetries = 3
	}
	c := &Client{
		opts:      opts,
		o:         o,
		gen:       gen,
		log:       logger.Or(opts.Log),
		seen:      make(map[string]bool),
		ownTimers: opts.Timers == nil,
	}
	c.acks = newAckTracker(opts.Timers, opts.AckTimeout, opts.AckRetries)
	c.acks.resend = c.resend
	c.acks.giveUp = func(id string) {
		c.log.Warnf("no ACK for %s after %d retries, giving up", id, opts.AckRetries)
	}
	return c
}

func (c *Client) exec(fn func()) {
	if c.opts.Exec != nil {
		c.opts.Exec(fn)
		return
	}
	fn()
}

func (c *Client) State() ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connState
}

func (c *Client) setState(s ConnState) {
	c.mutex.Lock()
	c.connState = s
	c.mutex.Unlock()
}

func (c *Client) currentConn() network.Connection {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn
}

// Session is the id the server assigned in its HI.
func (c *Client) Session() string {
	return c.session
}

// Connect dials cfg.URL and starts reading. It returns once the channel is
// open; the handshake completes asynchronously.
func (c *Client) Connect(ctx context.Context, cfg ConnectConfig) error {
	if cfg.URL == "" {
		c.log.Errorf("cannot connect: %v", network.ErrNoEndpoint)
		return network.ErrNoEndpoint
	}
	c.setState(Connecting)
	c.log.Infof("connecting to %s", cfg.URL)
	conn, err := network.Dial(ctx, cfg.URL, cfg.IO)
	if err != nil {
		c.setState(Disconnected)
		c.log.Errorf("connect failed: %v", err)
		return err
	}
	c.Attach(conn)
	return nil
}

// Attach uses an already open channel.
func (c *Client) Attach(conn network.Connection) {
	c.mutex.Lock()
	c.conn = conn
	c.connState = AwaitingHandshake
	c.mutex.Unlock()
	if c.ownTimers {
		c.acks.useTimers(timer.NewTimerManager())
	}
	c.handshake = false
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn network.Connection) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.exec(func() { c.lost(conn, err) })
			return
		}
		c.exec(func() { c.Receive(data) })
	}
}

func (c *Client) lost(conn network.Connection, err error) {
	if c.currentConn() != conn {
		return
	}
	c.log.Infof("connection lost: %v", err)
	c.Disconnect()
}

// Parse decodes a raw payload. Malformed payloads are logged and reported
// with ok == false.
func (c *Client) Parse(raw []byte) (msg.GameMsg, bool) {
	m, err := msg.Decode(raw)
	if err != nil {
		c.log.Warnf("dropping malformed message: %v", err)
		return msg.GameMsg{}, false
	}
	return m, true
}

// Receive handles one raw inbound payload. It must run on the game
// goroutine.
func (c *Client) Receive(raw []byte) {
	m, ok := c.Parse(raw)
	if !ok {
		return
	}
	c.log.Debugf("<- %s", m)
	c.opts.Monitor.IncMessagesReceived(string(m.Target))
	if !m.Created.IsZero() {
		c.opts.Monitor.ObserveMessageLatency(time.Since(m.Created))
	}

	if !c.handshake {
		if m.Action == msg.SAY && m.Target == msg.HI && m.From == msg.ToServer {
			c.completeHandshake(m)
			return
		}
		c.log.Debugf("ignoring %s before handshake", m)
		return
	}
	c.dispatch(m)
}

func (c *Client) completeHandshake(hi msg.GameMsg) {
	c.session = hi.Session
	c.gen.SetSession(hi.Session)

	assigned := c.o.Player()
	var p player.Player
	if err := hi.DecodeData(&p); err == nil && p.ID() != "" {
		assigned = &p
	}

	recovered := false
	if c.opts.Store != nil && c.opts.Store.IsEnabled() && assigned != nil {
		key := SessionKey(hi.Session, assigned.ID())
		if sess, err := c.opts.Store.Load(key); err == nil {
			if err := c.o.Restore(*sess); err != nil {
				c.log.Warnf("could not restore session %s: %v", key, err)
			} else {
				recovered = true
				c.log.Infof("recovered session %s at %s", key, sess.State)
			}
		}
	}
	if !recovered && assigned != nil {
		c.o.SetPlayer(assigned)
	}
	if p := c.o.Player(); p != nil {
		c.gen.SetFrom(p.ID())
	}

	c.handshake = true
	c.setState(Active)
	c.log.Infof("handshake done, session %s", c.session)
	c.o.Emit(event.SOCKET_CONNECT, recovered)
}

func (c *Client) dispatch(m msg.GameMsg) {
	if c.session != "" && m.Session != "" && m.Session != c.session {
		c.log.Warnf("dropping %s from foreign session %s", m, m.Session)
		return
	}
	if m.Target == msg.ACK {
		if !c.acks.resolve(m.Text) {
			c.log.Debugf("ACK for unknown message %s", m.Text)
		}
		return
	}
	if m.Reliable {
		if err := c.SendACK(m); err != nil {
			c.log.Warnf("could not acknowledge %s: %v", m, err)
		}
		if c.seen[m.ID] {
			c.log.Debugf("dropping duplicate %s", m)
			return
		}
		c.seen[m.ID] = true
	}

	if !c.o.IsReady() {
		c.buffer = append(c.buffer, m)
		c.opts.Monitor.SetBuffered(len(c.buffer))
		return
	}
	c.o.Emit(m.EventName("in"), m)
}

// Buffering reports whether inbound messages are held back.
func (c *Client) Buffering() bool {
	return len(c.buffer) > 0
}

func (c *Client) Buffered() int {
	return len(c.buffer)
}

// ClearBuffer emits the held back messages in arrival order.
func (c *Client) ClearBuffer() {
	for len(c.buffer) > 0 {
		m := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.o.Emit(m.EventName("in"), m)
	}
	c.buffer = nil
	c.opts.Monitor.SetBuffered(0)
}

// Send is the single outbound primitive.
func (c *Client) Send(m msg.GameMsg) error {
	conn := c.currentConn()
	if conn == nil {
		c.log.Warnf("cannot send %s: %v", m, ErrNotConnected)
		return ErrNotConnected
	}
	data, err := msg.Encode(m)
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		c.log.Warnf("send %s failed: %v", m, err)
		return err
	}
	c.log.Debugf("-> %s", m)
	c.opts.Monitor.IncMessagesSent(string(m.Target))
	if m.Reliable && m.Target != msg.ACK {
		c.acks.track(m.ID, data)
	}
	return nil
}

func (c *Client) resend(id string, data []byte) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	c.log.Debugf("resending %s", id)
	c.opts.Monitor.IncAckRetransmits()
	return conn.Send(data)
}

// Pending is the number of reliable sends waiting for an ACK.
func (c *Client) Pending() int {
	return c.acks.len()
}

func (c *Client) create(m msg.GameMsg, err error) error {
	if err != nil {
		c.log.Warnf("not sending: %v", err)
		return err
	}
	return c.Send(m)
}

func (c *Client) SendHI(p *player.Player, to string) error {
	if p == nil {
		return c.create(msg.GameMsg{}, msg.ErrMissingField)
	}
	return c.create(c.gen.CreateHI(p, to))
}

func (c *Client) SendSTATE(action msg.Action, gs state.GameState, to string) error {
	return c.create(c.gen.CreateSTATE(action, gs, to))
}

func (c *Client) SendPLIST(action msg.Action, plist []*player.Player, to string) error {
	return c.create(c.gen.CreatePLIST(action, plist, to))
}

func (c *Client) SendTXT(text, to string) error {
	return c.create(c.gen.CreateTXT(text, to))
}

func (c *Client) SendDATA(action msg.Action, key string, data any, to string) error {
	return c.create(c.gen.CreateDATA(action, key, data, to))
}

func (c *Client) SendACK(of msg.GameMsg) error {
	return c.create(c.gen.CreateACK(of))
}

func (c *Client) SendGET(target msg.Target, text, to string) error {
	return c.create(c.gen.CreateGET(target, text, to))
}

// Disconnect saves the session when a store is enabled, closes the channel
// and emits SOCKET_DISCONNECT. It must run on the game goroutine.
func (c *Client) Disconnect() {
	c.mutex.Lock()
	conn := c.conn
	c.conn = nil
	c.connState = Disconnected
	c.mutex.Unlock()
	if conn == nil {
		return
	}

	if c.opts.Store != nil && c.opts.Store.IsEnabled() && c.session != "" {
		snap := c.o.Snapshot()
		if snap.Player != nil {
			snap.ID = SessionKey(c.session, snap.Player.ID())
			if err := c.opts.Store.Store(snap); err != nil {
				c.log.Warnf("could not save session %s: %v", snap.ID, err)
			}
		}
	}

	c.acks.reset()
	if c.ownTimers {
		c.acks.useTimers(nil)
	}
	c.handshake = false
	if err := conn.Close(); err != nil {
		c.log.Debugf("close: %v", err)
	}
	c.o.Emit(event.SOCKET_DISCONN)
}

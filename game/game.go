// Package game is the peer-side orchestrator. It walks the game loop step
// by step, publishes its progress to the other peers, and advances when the
// roster reports that everybody finished the current step.
//
// A Game is driven from a single goroutine: Run executes the tasks
// submitted by the socket read loop, and the public methods must be called
// from inside those tasks (or before Run starts).
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/gamesync/event"
	"github.com/wfunc/gamesync/gamedb"
	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/loop"
	"github.com/wfunc/gamesync/monitor"
	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/socket"
	"github.com/wfunc/gamesync/state"
)

var (
	ErrGameOver       = errors.New("game over")
	ErrNotInLoop      = errors.New("game state is not part of the game loop")
	ErrAlreadyStarted = errors.New("game already started")
	ErrStepFailed     = errors.New("step failed to start")
)

// Surface is the render surface a step may wait for (see Config.AutoWait).
type Surface interface {
	Ready() bool
}

// Record summarises a finished game.
type Record struct {
	Name    string           `json:"name"`
	Session string           `json:"session"`
	Player  string           `json:"player"`
	State   state.GameState  `json:"state"`
	Players []*player.Player `json:"players"`
	Memory  []gamedb.GameBit `json:"memory"`
	Started time.Time        `json:"started"`
	Ended   time.Time        `json:"ended"`
}

// Recorder archives finished games.
type Recorder interface {
	Archive(r Record) error
}

type Deps struct {
	Log      *zap.SugaredLogger
	Now      func() time.Time
	Monitor  *monitor.Monitor
	Socket   socket.Options
	Surface  Surface
	Recorder Recorder
	// Player is the local identity. nil creates one with a random id.
	Player *player.Player
}

type Game struct {
	cfg  Config
	deps Deps
	log  *zap.SugaredLogger

	loop    *loop.Loop[*Game]
	machine *state.Machine
	gs      state.GameState // position and paused flag; the level lives in machine

	emitter *event.Emitter[*Game]
	players *player.List
	memory  *gamedb.DB
	gen     *msg.Generator
	socket  *socket.Client
	me      *player.Player

	tasks   chan func()
	started time.Time
	over    bool
}

// New builds a game over l. Invalid configuration fails here.
func New(cfg Config, l *loop.Loop[*Game], deps Deps) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: no game loop", ErrInvalidConfig)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	g := &Game{
		cfg:     cfg,
		deps:    deps,
		log:     logger.Or(deps.Log),
		loop:    l,
		machine: state.NewLifecycle(),
		tasks:   make(chan func(), 1024),
	}

	g.me = deps.Player
	if g.me == nil {
		g.me = player.New(uuid.New().String(), "", 0)
	}

	g.emitter = event.NewEmitter(g, g.CurrentState)
	g.emitter.EnableHistory(true)

	g.players = player.NewList(player.ListOptions{
		Emitter:    g.emitter,
		MinPlayers: cfg.MinPlayers,
		MaxPlayers: cfg.MaxPlayers,
		Log:        g.log,
	})
	if !cfg.Observer {
		if err := g.players.Add(g.me); err != nil {
			return nil, err
		}
	}

	g.memory = gamedb.New(g.CurrentState)
	g.memory.SetClock(deps.Now)

	g.gen = msg.NewGenerator(g.me.ID(), g.CurrentState)
	g.gen.SetClock(deps.Now)

	sockOpts := deps.Socket
	if sockOpts.Log == nil {
		sockOpts.Log = g.log
	}
	if sockOpts.Monitor == nil {
		sockOpts.Monitor = deps.Monitor
	}
	if sockOpts.Exec == nil {
		sockOpts.Exec = g.Submit
	}
	g.socket = socket.NewClient(g, g.gen, sockOpts)

	// A paused game cannot finish its step.
	g.machine.AddTransition(state.PLAYING, state.DONE, func() bool { return !g.gs.Paused })
	g.machine.OnEnter(state.LOADED, func(state.Level) { g.Emit(event.LOADED) })

	g.registerInbound()
	g.registerOutbound()
	g.registerLifecycle()
	return g, nil
}

func (g *Game) Config() Config                 { return g.cfg }
func (g *Game) Loop() *loop.Loop[*Game]        { return g.loop }
func (g *Game) Emitter() *event.Emitter[*Game] { return g.emitter }
func (g *Game) Players() *player.List          { return g.players }
func (g *Game) Memory() *gamedb.DB             { return g.memory }
func (g *Game) Socket() *socket.Client         { return g.socket }
func (g *Game) Player() *player.Player         { return g.me }
func (g *Game) Level() state.Level             { return g.machine.Current() }
func (g *Game) IsOver() bool                   { return g.over }

// CurrentState is the position together with the load level.
func (g *Game) CurrentState() state.GameState {
	return g.gs.WithIs(g.machine.Current())
}

// IsReady reports whether inbound messages may be delivered right away.
func (g *Game) IsReady() bool {
	lvl := g.machine.Current()
	return (lvl == state.PLAYING || lvl == state.DONE) && !g.gs.Paused
}

func (g *Game) Emit(name string, args ...any) {
	g.emitter.Emit(name, args...)
}

// Submit queues fn for Run.
func (g *Game) Submit(fn func()) {
	g.tasks <- fn
}

// Run executes submitted tasks until ctx is done.
func (g *Game) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-g.tasks:
			fn()
		}
	}
}

// Connect opens the socket to the relay server.
func (g *Game) Connect(ctx context.Context, cfg socket.ConnectConfig) error {
	return g.socket.Connect(ctx, cfg)
}

// SetPlayer replaces the local identity, as assigned by the server.
func (g *Game) SetPlayer(p *player.Player) {
	if p == nil {
		return
	}
	if g.me != nil {
		g.players.Remove(g.me.ID())
	}
	p = p.Clone()
	p.State = g.CurrentState()
	g.me = p
	g.gen.SetFrom(p.ID())
	if !g.cfg.Observer {
		if err := g.players.Add(p); err != nil {
			g.log.Errorf("cannot add local player %s: %v", p.ID(), err)
		}
	}
}

// Start enters the first step.
func (g *Game) Start() error {
	if g.machine.Current() != state.UNKNOWN || !g.gs.IsInitial() {
		return ErrAlreadyStarted
	}
	g.started = g.deps.Now()
	g.log.Infof("starting game %s", g.cfg.Name)
	return g.Step()
}

// Step moves to the position after the current one, or ends the game.
func (g *Game) Step() error {
	next, ok := g.loop.Next(g.gs.Position())
	if !ok {
		g.GameOver()
		return ErrGameOver
	}
	return g.StepTo(next)
}

// StepTo enters target. Local listeners of the previous step are dropped,
// the new position is published as LOADING, and the step callback runs with
// the game as context.
func (g *Game) StepTo(target state.GameState) error {
	target = target.Position()
	if !g.loop.Exist(target) {
		text := fmt.Sprintf("cannot step to %s: not in the game loop", target)
		g.log.Warn(text)
		g.Emit(event.TXT, text)
		return fmt.Errorf("%w: %s", ErrNotInLoop, target)
	}

	if !g.gs.IsInitial() && state.Compare(target, g.gs.Position(), false) <= 0 {
		// Positions visited again must be able to reach quorum again.
		g.players.ResetStateDone()
	}
	g.emitter.ClearLocalListeners()
	g.gs = target.WithPaused(g.gs.Paused)
	g.emitter.PushFrame(target)
	if err := g.machine.ChangeState(state.LOADING); err != nil {
		g.machine.Force(state.LOADING)
	}
	g.deps.Monitor.IncStepTransitions()
	g.log.Infof("step %s", target)
	g.publishState()
	g.Emit(event.STATECHANGE, g.CurrentState())

	if err := g.enter(target); err != nil {
		return err
	}
	return nil
}

// enter runs the step callback and loads the step.
func (g *Game) enter(target state.GameState) error {
	step, ok := g.loop.Step(target)
	if ok && step.Callback != nil {
		if err := step.Callback(g); err != nil {
			g.log.Errorf("step %s (%s) failed to start: %v", target, step.Name, err)
			return fmt.Errorf("%w: %s: %v", ErrStepFailed, target, err)
		}
	}
	return g.machine.ChangeState(state.LOADED)
}

// SurfaceLoaded tells a game waiting on its render surface that the surface
// is ready.
func (g *Game) SurfaceLoaded() {
	if g.machine.Current() == state.LOADED && g.surfaceReady() {
		g.play()
	}
}

func (g *Game) surfaceReady() bool {
	if !g.cfg.AutoWait {
		return true
	}
	return g.deps.Surface != nil && g.deps.Surface.Ready()
}

func (g *Game) play() {
	if err := g.machine.ChangeState(state.PLAYING); err != nil {
		g.log.Warnf("cannot start playing %s: %v", g.gs, err)
		return
	}
	g.publishState()
	g.Emit(event.PLAYING)
	g.ready()
}

// ready signals readiness and delivers what arrived while not ready.
func (g *Game) ready() {
	if !g.IsReady() {
		return
	}
	g.Emit(event.NODEGAME_READY)
	g.socket.ClearBuffer()
}

// Done reports that the local player finished the current step. The step's
// Done predicate, when set, must approve it.
func (g *Game) Done(args ...any) {
	g.Emit(event.DONE, args...)
}

func (g *Game) Pause() {
	if g.gs.Paused {
		return
	}
	g.gs = g.gs.WithPaused(true)
	g.Emit(event.PAUSE)
	g.publishState()
}

func (g *Game) Resume() {
	if !g.gs.Paused {
		return
	}
	g.gs = g.gs.WithPaused(false)
	g.Emit(event.RESUME)
	g.publishState()
	if g.IsReady() {
		g.socket.ClearBuffer()
	}
}

// GameOver ends the game and archives it.
func (g *Game) GameOver() {
	if g.over {
		return
	}
	g.over = true
	g.log.Infof("game %s over at %s", g.cfg.Name, g.gs)
	g.Emit(event.GAMEOVER)
	if g.deps.Recorder != nil {
		if err := g.deps.Recorder.Archive(g.Record()); err != nil {
			g.log.Warnf("could not archive game: %v", err)
		}
	}
}

func (g *Game) Record() Record {
	return Record{
		Name:    g.cfg.Name,
		Session: g.socket.Session(),
		Player:  g.me.ID(),
		State:   g.CurrentState(),
		Players: g.players.Snapshot(),
		Memory:  g.memory.Sorted(),
		Started: g.started,
		Ended:   g.deps.Now(),
	}
}

// Set records a fact for the local player and shares it.
func (g *Game) Set(key string, value any) error {
	if _, err := g.memory.Add(key, value, g.me.ID(), state.GameState{}); err != nil {
		return err
	}
	g.Emit("out.set.DATA", key, value, msg.ToAll)
	return nil
}

// Say sends a chat line.
func (g *Game) Say(text, to string) {
	if to == "" {
		to = msg.ToAll
	}
	g.Emit("out.say.TXT", text, to)
}

// publishState keeps the local roster entry current and tells the peers.
func (g *Game) publishState() {
	cur := g.CurrentState()
	g.me.State = cur
	if !g.cfg.Observer {
		g.players.UpdatePlayerState(g.me.ID(), cur)
	}
	g.Emit("out.say.STATE", cur)
}

// Snapshot is what the socket saves on disconnect.
func (g *Game) Snapshot() socket.Session {
	return socket.Session{
		Player: g.me.Clone(),
		Memory: g.memory.All(),
		State:  g.CurrentState(),
		Game: map[string]any{
			"name":        g.cfg.Name,
			"description": g.cfg.Description,
		},
		History: g.emitter.History().Records(),
	}
}

// Restore resumes a saved session: identity, facts and history come back,
// the saved step is entered again and the events recorded for it are
// replayed so step listeners see them a second time.
func (g *Game) Restore(s socket.Session) error {
	pos := s.State.Position()
	if !g.loop.Exist(pos) {
		return fmt.Errorf("%w: %s", ErrNotInLoop, pos)
	}
	if s.Player != nil {
		g.SetPlayer(s.Player)
	}
	g.memory.Clear()
	g.memory.Import(s.Memory)
	g.emitter.History().Reset()
	g.emitter.History().Import(s.History)

	g.emitter.ClearLocalListeners()
	g.gs = pos.WithPaused(s.State.Paused)
	g.emitter.PushFrame(pos)
	g.machine.Force(state.LOADING)
	if err := g.enter(pos); err != nil {
		return err
	}

	n := g.emitter.Replay(pos.HashKey())
	g.log.Infof("restored %s, replayed %d events", pos, n)
	if s.State.Is == state.DONE && g.machine.Current() == state.PLAYING {
		g.machine.ChangeState(state.DONE)
		g.me.State = g.CurrentState()
		g.players.UpdatePlayerState(g.me.ID(), g.me.State)
	}
	return nil
}

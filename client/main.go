// Command client is a demo peer: it walks a game loop with the other peers
// of a room, finishing each step after a short delay.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wfunc/gamesync/config"
	"github.com/wfunc/gamesync/event"
	"github.com/wfunc/gamesync/game"
	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/loop"
	"github.com/wfunc/gamesync/persistence"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/services"
	"github.com/wfunc/gamesync/socket"
	"github.com/wfunc/gamesync/timer"
)

const defaultTable = `
stages:
  - name: instructions
    steps: [intro]
  - name: game
    rounds: 2
    steps: [offer, respond]
  - name: end
    steps: [goodbye]
`

func main() {
	room := flag.String("room", "default", "room to join")
	playerID := flag.String("player", "", "player id; empty lets the server pick one")
	think := flag.Duration("think", time.Second, "time spent in each step")
	flag.Parse()

	logger.Init("info")
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)

	l, err := buildLoop(cfg.Game.LoopFile)
	if err != nil {
		logger.Log.Fatalf("Failed to load game loop: %v", err)
	}

	db, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	var store socket.SessionStore = socket.NewMemorySessionStore()
	sessions := services.NewSessionService(db, logger.Log)
	if db != nil {
		defer db.Close()
		store = sessions
	}

	timers := timer.NewTimerManager()
	defer timers.Stop()

	var me *player.Player
	if *playerID != "" {
		me = player.New(*playerID, "", 0)
	}
	g, err := game.New(game.FromConfig(cfg.Game), l, game.Deps{
		Log:      logger.Log,
		Recorder: sessions,
		Player:   me,
		Socket: socket.Options{
			Store:      store,
			Timers:     timers,
			AckTimeout: cfg.Socket.AckTimeout,
			AckRetries: cfg.Socket.AckRetries,
		},
	})
	if err != nil {
		logger.Log.Fatalf("Invalid game: %v", err)
	}

	// Every step ends on its own after the think time.
	g.Emitter().AddListener(event.PLAYING, func(g *game.Game, _ ...any) {
		timers.AddTimer(*think, 0, func() {
			g.Submit(func() { g.Done() })
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g.Emitter().AddListener(event.GAMEOVER, func(g *game.Game, _ ...any) {
		logger.Log.Infof("Game over with %d facts recorded", g.Memory().Len())
		stop()
	})

	opts := map[string]any{}
	for k, v := range cfg.Socket.IO {
		opts[k] = v
	}
	query := map[string]any{"room": *room}
	if me != nil {
		query["player"] = me.ID()
	}
	opts["query"] = query

	if err := g.Connect(ctx, socket.ConnectConfig{URL: cfg.Socket.URL, IO: opts}); err != nil {
		logger.Log.Warnf("Playing offline: %v", err)
	}
	g.Submit(func() {
		if err := g.Start(); err != nil {
			logger.Log.Errorf("Cannot start: %v", err)
		}
	})

	g.Run(ctx)
	g.Socket().Disconnect()
}

// buildLoop binds every step of the table to a callback recording that the
// step was visited.
func buildLoop(path string) (*loop.Loop[*game.Game], error) {
	var src io.Reader = strings.NewReader(defaultTable)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	}
	t, err := loop.LoadTable(src)
	if err != nil {
		return nil, err
	}

	handlers := make(map[string]loop.Step[*game.Game])
	for _, st := range t.Stages {
		for _, name := range st.Steps {
			name := name
			handlers[name] = loop.Step[*game.Game]{
				Callback: func(g *game.Game) error {
					logger.Log.Infof("Entering %s at %s", name, g.CurrentState())
					return g.Set("visited", name)
				},
			}
		}
	}
	return loop.Bind(t, handlers)
}

package game

import (
	"github.com/wfunc/gamesync/event"
	"github.com/wfunc/gamesync/msg"
	"github.com/wfunc/gamesync/player"
	"github.com/wfunc/gamesync/socket"
	"github.com/wfunc/gamesync/state"
)

func inbound(args []any) (msg.GameMsg, bool) {
	if len(args) == 0 {
		return msg.GameMsg{}, false
	}
	m, ok := args[0].(msg.GameMsg)
	return m, ok
}

// on registers a global handler for an inbound message event.
func (g *Game) on(name string, fn func(m msg.GameMsg)) {
	g.emitter.AddListener(name, func(_ *Game, args ...any) {
		m, ok := inbound(args)
		if !ok {
			g.log.Warnf("%s emitted without a message", name)
			return
		}
		fn(m)
	})
}

func (g *Game) registerInbound() {
	g.on("in.say.HI", g.onHI)
	g.on("in.say.PLIST", g.onPLIST)
	g.on("in.set.PLIST", g.onPLIST)
	g.on("in.get.PLIST", func(m msg.GameMsg) {
		g.Emit("out.say.PLIST", m.From)
	})
	g.on("in.say.STATE", g.onPeerState)
	g.on("in.set.STATE", func(m msg.GameMsg) {
		if m.From != g.cfg.coordinator() {
			g.log.Warnf("%s may not move the game, only %s", m.From, g.cfg.coordinator())
			return
		}
		var gs state.GameState
		if err := m.DecodeData(&gs); err != nil {
			gs = m.State
		}
		g.log.Infof("%s moves the game to %s", m.From, gs)
		g.StepTo(gs)
	})
	g.on("in.set.DATA", func(m msg.GameMsg) {
		// Facts were restored with the session; replaying must not add them twice.
		if g.emitter.Replaying() {
			return
		}
		var value any
		if len(m.Data) > 0 {
			if err := m.DecodeData(&value); err != nil {
				g.log.Warnf("bad DATA from %s: %v", m.From, err)
				return
			}
		}
		if _, err := g.memory.Add(m.Text, value, m.From, m.State); err != nil {
			g.log.Warnf("cannot record DATA from %s: %v", m.From, err)
		}
	})
	g.on("in.get.DATA", func(m msg.GameMsg) {
		g.Emit("out.say.DATA", m.Text, g.memory.ByKey(m.Text), m.From)
	})
	g.on("in.say.TXT", func(m msg.GameMsg) {
		g.log.Infof("%s says: %s", m.From, m.Text)
	})
}

func (g *Game) onHI(m msg.GameMsg) {
	var p player.Player
	if err := m.DecodeData(&p); err != nil || p.ID() == "" {
		g.log.Warnf("bad HI from %s: %v", m.From, err)
		return
	}
	if p.ID() == g.me.ID() || g.players.Exist(p.ID()) {
		return
	}
	if err := g.players.Add(&p); err != nil {
		return
	}
	g.log.Infof("player %s joined", p.ID())
	g.Emit(event.UPDATED_PLIST)
}

func (g *Game) onPLIST(m msg.GameMsg) {
	var list []*player.Player
	if err := m.DecodeData(&list); err != nil {
		g.log.Warnf("bad PLIST from %s: %v", m.From, err)
		return
	}
	// The local entry is always more recent than the sender's copy.
	kept := list[:0]
	for _, p := range list {
		if p != nil && p.ID() != g.me.ID() {
			kept = append(kept, p)
		}
	}
	if !g.cfg.Observer {
		kept = append(kept, g.me)
	}
	g.players.Replace(kept)
	g.Emit(event.UPDATED_PLIST)
	g.checkQuorum()
}

func (g *Game) onPeerState(m msg.GameMsg) {
	if m.From == g.me.ID() {
		return
	}
	var gs state.GameState
	if err := m.DecodeData(&gs); err != nil {
		gs = m.State
	}
	if err := g.players.UpdatePlayerState(m.From, gs); err != nil {
		p := player.New(m.From, "", 0)
		p.State = gs
		if err := g.players.Add(p); err != nil {
			return
		}
		g.Emit(event.UPDATED_PLIST)
	}
	g.checkQuorum()
}

func (g *Game) checkQuorum() {
	if g.gs.IsInitial() {
		return
	}
	g.players.CheckState(g.gs.Position())
}

// connected gates outbound sends; offline games skip them.
func (g *Game) connected() bool {
	return g.socket.State() == socket.Active
}

func (g *Game) registerOutbound() {
	g.emitter.AddListener("out.say.STATE", func(_ *Game, args ...any) {
		if g.cfg.Observer || !g.connected() || len(args) == 0 {
			return
		}
		if gs, ok := args[0].(state.GameState); ok {
			g.socket.SendSTATE(msg.SAY, gs, msg.ToAll)
		}
	})
	g.emitter.AddListener("out.say.HI", func(_ *Game, args ...any) {
		if !g.connected() {
			return
		}
		g.socket.SendHI(g.me, msg.ToAll)
	})
	g.emitter.AddListener("out.say.TXT", func(_ *Game, args ...any) {
		if !g.connected() || len(args) < 2 {
			return
		}
		text, _ := args[0].(string)
		to, _ := args[1].(string)
		g.socket.SendTXT(text, to)
	})
	g.emitter.AddListener("out.set.DATA", func(_ *Game, args ...any) {
		g.sendData(msg.SET, args)
	})
	g.emitter.AddListener("out.say.DATA", func(_ *Game, args ...any) {
		g.sendData(msg.SAY, args)
	})
	g.emitter.AddListener("out.say.PLIST", func(_ *Game, args ...any) {
		if !g.connected() {
			return
		}
		to := msg.ToAll
		if len(args) > 0 {
			if s, ok := args[0].(string); ok && s != "" {
				to = s
			}
		}
		g.socket.SendPLIST(msg.SAY, g.players.Snapshot(), to)
	})
}

// sendData expects key, value, recipient.
func (g *Game) sendData(action msg.Action, args []any) {
	if !g.connected() || len(args) < 3 {
		return
	}
	key, _ := args[0].(string)
	to, _ := args[2].(string)
	g.socket.SendDATA(action, key, args[1], to)
}

func (g *Game) registerLifecycle() {
	g.emitter.AddListener(event.LOADED, func(_ *Game, _ ...any) {
		if g.surfaceReady() {
			g.play()
		}
	})
	g.emitter.AddListener(event.DONE, func(_ *Game, args ...any) {
		g.onDone(args...)
	})
	g.emitter.AddListener(event.STATEDONE, func(_ *Game, args ...any) {
		g.onStateDone(args...)
	})
	g.emitter.AddListener(event.SOCKET_CONNECT, func(_ *Game, args ...any) {
		recovered := len(args) > 0 && args[0] == true
		if recovered {
			g.Emit(event.NODEGAME_RECOVER, g.CurrentState())
		}
		g.Emit("out.say.HI", g.me)
		if recovered || !g.gs.IsInitial() {
			g.publishState()
		}
		g.ready()
	})
	g.emitter.AddListener(event.SOCKET_DISCONN, func(_ *Game, _ ...any) {
		g.log.Infof("disconnected at %s", g.CurrentState())
	})
}

func (g *Game) onDone(args ...any) {
	if g.machine.Current() != state.PLAYING {
		g.log.Debugf("DONE ignored at %s", g.CurrentState())
		return
	}
	if step, ok := g.loop.Step(g.gs); ok && step.Done != nil && !step.Done(g, args...) {
		g.log.Infof("DONE rejected by step %s", step.Name)
		return
	}
	g.Emit(event.BEFORE_DONE, args...)
	if err := g.machine.ChangeState(state.DONE); err != nil {
		g.log.Warnf("cannot finish %s: %v", g.gs, err)
		return
	}
	g.publishState()
	g.checkQuorum()
}

// onStateDone advances when the quorum for the current step is reached.
func (g *Game) onStateDone(args ...any) {
	if len(args) > 0 {
		if gs, ok := args[0].(state.GameState); ok && state.Compare(gs, g.gs.Position(), false) != 0 {
			g.log.Debugf("stale STATEDONE for %s at %s", gs, g.gs)
			return
		}
	}
	if !g.cfg.AutoStep || g.cfg.Observer {
		return
	}
	if g.players.Size() < g.cfg.MinPlayers {
		g.log.Debugf("waiting for players: %d/%d", g.players.Size(), g.cfg.MinPlayers)
		return
	}
	g.Step()
}

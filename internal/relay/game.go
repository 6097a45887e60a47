package relay

import (
	"slices"

	"github.com/rallypoint/rallypoint/internal/game"
	"github.com/rallypoint/rallypoint/internal/msg"
)

// relayGame passes the turn around order. It is only ever called with its
// game locked.
type relayGame struct {
	table game.Table
	cfg   *Configuration

	order []msg.PlayerRef
	turn  int
	round int
	over  bool
}

func (g *relayGame) current() msg.PlayerRef { return g.order[g.turn] }

func (g *relayGame) Start() {
	g.round = 1
	g.table.Logger().Infof("relay started with %d players", len(g.order))
	g.beginTurn()
}

func (g *relayGame) HandleAction(from msg.PlayerRef, a msg.Action) error {
	if g.over {
		g.table.Send(from, msg.NewCantAct("the game is over"))
		return nil
	}

	switch a.(type) {
	case *msg.EndTurn:
		if from != g.current() {
			g.table.Send(from, msg.NewUnauthorizedAction(a.Kind()))
			return nil
		}
		g.advance()
	default:
		g.table.Send(from, msg.NewUnsupportedAction(a.Kind()))
	}
	return nil
}

func (g *relayGame) PlayerJoined(p msg.PlayerInfo) {
	g.order = append(g.order, p.Player)
}

func (g *relayGame) PlayerLeft(ref msg.PlayerRef) {
	i := slices.Index(g.order, ref)
	if i < 0 {
		return
	}
	wasCurrent := !g.over && i == g.turn
	g.order = slices.Delete(g.order, i, i+1)

	if g.over {
		return
	}
	if len(g.order) < 2 {
		g.over = true
		g.table.End("not enough players left")
		return
	}
	if i < g.turn {
		g.turn--
	}
	if wasCurrent {
		if g.turn == len(g.order) {
			g.turn = 0
			g.round++
		}
		g.beginTurn()
	}
}

func (g *relayGame) TimeoutReached() {
	if g.over {
		return
	}
	late := g.current()
	g.table.Broadcast(func() msg.Event { return msg.NewTurnTimeout(late) })
	g.advance()
}

func (g *relayGame) IsJoinable() bool { return !g.over }

func (g *relayGame) advance() {
	g.turn++
	if g.turn == len(g.order) {
		g.turn = 0
		g.round++
	}
	g.beginTurn()
}

// beginTurn hands the turn to the current player. AI players pass at once.
func (g *relayGame) beginTurn() {
	for g.round <= g.cfg.Rounds {
		p := g.current()
		if !p.IsAI() {
			g.table.Send(p, msg.NewYourTurn(g.round, g.cfg.TurnDuration()))
			g.table.StartTurnTimer(g.cfg.TurnDuration())
			return
		}
		g.table.Logger().Debugf("%s passes", p)
		g.turn++
		if g.turn == len(g.order) {
			g.turn = 0
			g.round++
		}
	}

	g.over = true
	g.table.StopTurnTimer()
	g.table.Broadcast(func() msg.Event { return NewGameOver(g.cfg.Rounds) })
	g.table.Logger().Info("relay finished")
}

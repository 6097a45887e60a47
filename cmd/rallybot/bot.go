package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/client"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/relay"
)

// bot drives a single local player.
type bot struct {
	logger *logrus.Entry
	player *client.Player
	// A created game starts once this many players are in and ready.
	startAt int
	started bool
}

// play reacts to the player's events until it leaves its game or ctx is
// cancelled.
func (b *bot) play(ctx context.Context) {
	events := b.player.Events()
	for {
		select {
		case <-ctx.Done():
			_ = b.player.Leave()
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !b.handle(e) {
				return
			}
		}
	}
}

// handle returns false once the player is out of its game.
func (b *bot) handle(e msg.Event) bool {
	b.logger.Debugf("received %s", e.Kind())

	switch e := e.(type) {
	case *msg.GameCreationStarted:
		b.logger.Infof("created game %d", e.Game.ID)
	case *msg.GameJoined:
		b.logger.Infof("joined game %d", e.Game.ID)
		b.act(b.player.SetReady(true))
	case *msg.PlayerListUpdate:
		if b.player.IsCreator() && !b.started && b.everyoneReady(e.Players) {
			b.started = true
			b.act(b.player.StartGame())
		}
	case *msg.PlayersNotReady:
		b.started = false
	case *msg.GameStarted:
		b.logger.Info("game started")
	case *msg.YourTurn:
		b.logger.Infof("round %d: ending turn", e.Round)
		b.act(b.player.EndTurn())
	case *msg.ActionRejected:
		b.logger.Warnf("action rejected: %s", e.Reason)
	case *relay.GameOver:
		b.logger.Infof("finished after %d rounds", e.Rounds)
		b.act(b.player.Leave())
		return false
	case *msg.GameDestroyed:
		b.logger.Infof("game over: %s", e.Reason)
		return false
	case *msg.KickedFromGame, *msg.GameLeft, *msg.GameFull:
		b.logger.Infof("left the game (%s)", e.Kind())
		return false
	}
	return true
}

func (b *bot) everyoneReady(players []msg.PlayerInfo) bool {
	if len(players) < b.startAt {
		return false
	}
	for _, p := range players {
		if !p.Ready && !p.Creator {
			return false
		}
	}
	return true
}

func (b *bot) act(err error) {
	if err != nil {
		b.logger.Warnf("error sending action: %v", err)
	}
}

func logServerEvents(ctx context.Context, events <-chan client.ServerEvent, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case se := <-events:
			if state, ok := se.Event.(*msg.ServerState); ok {
				logger.Infof("%s: %d clients, %d games in creation, %d active",
					se.Server, state.Clients, len(state.Creating), len(state.Active))
				for _, g := range state.Creating {
					logger.Infof("  joinable game %d (%s)", g.ID, g.Plugin)
				}
			}
		}
	}
}

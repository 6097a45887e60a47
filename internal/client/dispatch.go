package client

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/msg"
)

var errDropped = errors.New("event dropped")

// Receiving one of these ends the player's participation in its game.
var terminalEvents = map[msg.EventKind]bool{
	msg.KindKickedFromGame: true,
	msg.KindGameLeft:       true,
	msg.KindGameDestroyed:  true,
	msg.KindGameFull:       true,
}

// deliver routes an event received from server. Events that do not match
// the state of the local players are logged and dropped.
func (c *Client) deliver(server string, e msg.Event) {
	log := c.logger.WithFields(logrus.Fields{"server": server, "game": e.Target().GameID, "player": e.Target().PlayerID})

	spec, err := c.catalog.CheckEvent(e)
	if err != nil {
		log.Warnf("dropping event: %v", err)
		return
	}

	if spec.Family == msg.FamilyControl {
		if err := c.control.Dispatch(server, e); err != nil {
			log.Warnf("dropping %s: %v", e.Kind(), err)
		}
		return
	}

	if e.Casting() == msg.Multicast {
		players := c.playersIn(server, e.Target().GameID)
		if len(players) == 0 {
			log.Warnf("dropping %s: no local player in this game", e.Kind())
		}
		for _, p := range players {
			c.deliverTo(log, p, server, spec.Family, e)
		}
		return
	}

	p := c.Player(e.Target().PlayerID)
	if p == nil {
		log.Warnf("dropping %s: unknown player", e.Kind())
		return
	}
	c.deliverTo(log, p, server, spec.Family, e)
}

func (c *Client) deliverTo(log *logrus.Entry, p *Player, server string, family msg.Family, e msg.Event) {
	var started GameFactory

	p.mu.Lock()
	if err := p.accepts(server, family, e.Target().GameID); err != nil {
		p.mu.Unlock()
		log.Warnf("dropping %s: %v", e.Kind(), err)
		return
	}
	if e.Kind() == msg.KindGameStarted {
		p.phase = PhaseActive
		started = p.factory
	}
	p.publish(e)
	p.mu.Unlock()

	if terminalEvents[e.Kind()] {
		log.Infof("player left the game (%s)", e.Kind())
		c.removePlayer(p)
	}
	if started != nil {
		c.ui.GameRequested(started)
	}
}

// enter moves a pending player into the game the server accepted it in.
func (c *Client) enter(server string, e msg.Event, game msg.GameDescription, isCreator bool) error {
	t := e.Target()
	p := c.Player(t.PlayerID)
	if p == nil {
		return errors.New("unknown player")
	}

	f := c.newFactory(game.Plugin)

	p.mu.Lock()
	if p.server != server || p.phase != PhasePending {
		p.mu.Unlock()
		return errDropped
	}
	if !isCreator && p.gameID != t.GameID {
		p.mu.Unlock()
		return errDropped
	}

	f.Init(isCreator, c, server, t.GameID)
	p.gameID = t.GameID
	p.isCreator = isCreator
	p.factory = f
	p.phase = PhaseCreation
	if game.Active {
		p.phase = PhaseActive
	}
	p.publish(e)
	active := p.phase == PhaseActive
	p.mu.Unlock()

	if active {
		c.ui.GameRequested(f)
	} else {
		c.ui.GameCreationRequested(f, isCreator)
	}
	return nil
}

func (c *Client) gameCreationStarted(server string, e *msg.GameCreationStarted) error {
	return c.enter(server, e, e.Game, true)
}

func (c *Client) gameJoined(server string, e *msg.GameJoined) error {
	return c.enter(server, e, e.Game, false)
}

func (c *Client) serverState(server string, e *msg.ServerState) error {
	c.publish(server, e)
	return nil
}

// actionRejected reports a rejection to the subscribers. A pending player
// whose request was rejected never joins a game and is dropped.
func (c *Client) actionRejected(server string, e *msg.ActionRejected) error {
	c.publish(server, e)

	p := c.Player(e.Target().PlayerID)
	if p == nil || p.Server() != server {
		return nil
	}
	p.mu.Lock()
	pending := p.phase == PhasePending
	p.publish(e)
	p.mu.Unlock()

	if pending {
		c.removePlayer(p)
	}
	return nil
}

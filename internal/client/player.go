package client

import (
	"fmt"
	"sync"

	"github.com/rallypoint/rallypoint/internal/msg"
)

// Phase is where a local player stands in the life of its game.
type Phase uint8

const (
	// PhasePending players have asked to create or join a game and wait
	// for the answer.
	PhasePending Phase = iota
	PhaseCreation
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCreation:
		return "in creation"
	case PhaseActive:
		return "active"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Events buffered per listener before new ones are dropped.
const listenerBuffer = 64

// Player is the local proxy of a player on a remote server. Events for it are
// published to its listeners.
type Player struct {
	id     uint64
	name   string
	server string
	client *Client

	mu        sync.Mutex
	phase     Phase
	gameID    uint64
	isCreator bool
	factory   GameFactory
	events    chan msg.Event
	listeners []chan msg.Event
	gone      bool
}

func (p *Player) ID() uint64     { return p.id }
func (p *Player) Name() string   { return p.name }
func (p *Player) Server() string { return p.server }

func (p *Player) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Player) GameID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gameID
}

func (p *Player) IsCreator() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isCreator
}

// Factory is nil until the server accepted the player into a game.
func (p *Player) Factory() GameFactory {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.factory
}

// Events is the subscription the player was created with, so that nothing
// sent in answer to the request that created it is missed.
func (p *Player) Events() <-chan msg.Event { return p.events }

// Subscribe returns a channel receiving every event delivered to the player.
// The channel is closed once the player has left its game.
func (p *Player) Subscribe() <-chan msg.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan msg.Event, listenerBuffer)
	if p.gone {
		close(ch)
		return ch
	}
	p.listeners = append(p.listeners, ch)
	return ch
}

// Act sends a to the player's game.
func (p *Player) Act(a msg.Action) error {
	p.mu.Lock()
	gone, gameID := p.gone, p.gameID
	p.mu.Unlock()
	if gone {
		return ErrPlayerGone
	}
	a.Address(msg.Target{GameID: gameID, PlayerID: p.id})
	return p.client.send(p.server, a)
}

func (p *Player) SetReady(ready bool) error { return p.Act(msg.NewUpdateStatus(ready)) }

func (p *Player) Leave() error { return p.Act(msg.NewLeaveGame()) }

func (p *Player) StartGame() error { return p.Act(msg.NewStartGame()) }

func (p *Player) EndTurn() error { return p.Act(msg.NewEndTurn()) }

// accepts checks an event against the player's state. The caller holds p.mu.
func (p *Player) accepts(server string, family msg.Family, gameID uint64) error {
	if p.server != server {
		return fmt.Errorf("player %d plays on %s, not %s", p.id, p.server, server)
	}
	if p.gameID != gameID {
		return fmt.Errorf("player %d is in game %d, not %d", p.id, p.gameID, gameID)
	}
	switch family {
	case msg.FamilyGameCreation:
		if p.phase != PhaseCreation {
			return fmt.Errorf("player %d is %s, %s events need a game in creation", p.id, p.phase, family)
		}
	case msg.FamilyGame:
		if p.phase != PhaseActive {
			return fmt.Errorf("player %d is %s, %s events need an active game", p.id, p.phase, family)
		}
	}
	return nil
}

// publish hands e to every listener without blocking. The caller holds p.mu.
func (p *Player) publish(e msg.Event) {
	for _, ch := range p.listeners {
		select {
		case ch <- e:
		default:
			p.client.logger.Warnf("player %d listener is full, dropping %s", p.id, e.Kind())
		}
	}
}

// close ends every subscription. The caller holds p.mu.
func (p *Player) close() {
	if p.gone {
		return
	}
	p.gone = true
	for _, ch := range p.listeners {
		close(ch)
	}
	p.listeners = nil
}

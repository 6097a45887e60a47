package game

import (
	"encoding/json"
	"sync"

	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/timer"
)

type phase int

const (
	phaseCreation phase = iota
	phaseActive
	phaseDestroyed
)

func (p phase) String() string {
	switch p {
	case phaseCreation:
		return "in creation"
	case phaseActive:
		return "active"
	default:
		return "destroyed"
	}
}

// Player is a member of a game as the server knows it.
type Player struct {
	Ref    msg.PlayerRef
	Name   string
	Ready  bool
	AI     bool
	Config json.RawMessage
}

// Game is one game, from creation until it is destroyed. Every field is
// guarded by mu; actions on one game are handled one at a time in the order
// they acquire it.
type Game struct {
	mu sync.Mutex

	phase     phase
	desc      msg.GameDescription
	plugin    Plugin
	config    Configuration
	rawConfig json.RawMessage
	creator   msg.PlayerRef
	players   []*Player
	// Number of players each hosting client has in the game. AI players are
	// not counted.
	clients map[string]int

	instance Instance
	turn     *timer.Handle
	turnGen  uint64
}

func (g *Game) find(ref msg.PlayerRef) *Player {
	for _, p := range g.players {
		if p.Ref == ref {
			return p
		}
	}
	return nil
}

func (g *Game) isFull() bool {
	return len(g.players) >= g.config.MaxPlayers()
}

func (g *Game) humans() int {
	n := 0
	for _, c := range g.clients {
		n += c
	}
	return n
}

func (g *Game) infos() []msg.PlayerInfo {
	infos := make([]msg.PlayerInfo, 0, len(g.players))
	for _, p := range g.players {
		infos = append(infos, msg.PlayerInfo{
			Player:  p.Ref,
			Name:    p.Name,
			Ready:   p.Ready,
			AI:      p.AI,
			Creator: p.Ref == g.creator,
			Config:  p.Config,
		})
	}
	return infos
}

func (g *Game) describe() msg.GameDescription {
	return g.desc
}

package game

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/msg"
)

// Configuration is a plugin's game configuration. The registry only needs to
// know how many players it admits.
type Configuration interface {
	MaxPlayers() int
}

// Plugin supplies everything that is specific to one game.
type Plugin interface {
	Name() string
	// RegisterMessages adds the plugin's own action and event kinds.
	RegisterMessages(c *msg.Catalog) error

	NewGameConfiguration() Configuration
	DecodeGameConfiguration(raw json.RawMessage) (Configuration, error)
	NewPlayerConfiguration() json.RawMessage
	ValidatePlayerConfiguration(raw json.RawMessage) error
	// Describe summarizes a configuration for game listings.
	Describe(cfg Configuration) string
	// NewAIName names the AI player with the given server-assigned id.
	NewAIName(id uint64) string
	// NewGame builds the active game once every player is ready.
	NewGame(t Table, cfg Configuration, players []msg.PlayerInfo) (Instance, error)
}

// Instance is the game-specific state of an active game. Every method is
// called with the game locked, so implementations need no synchronization of
// their own, but they must not block.
type Instance interface {
	Start()
	// HandleAction receives every game-family action sent by a member.
	HandleAction(from msg.PlayerRef, a msg.Action) error
	PlayerJoined(p msg.PlayerInfo)
	PlayerLeft(p msg.PlayerRef)
	// TimeoutReached fires when the turn timer started through the Table expires.
	TimeoutReached()
	IsJoinable() bool
}

// Table is an active game's view of its surroundings. It may only be used
// from within Instance callbacks.
type Table interface {
	ID() uint64
	Logger() *logrus.Entry
	Players() []msg.PlayerInfo
	// Send delivers e to a single player. Events for AI players are dropped.
	Send(to msg.PlayerRef, e msg.Event)
	// Broadcast sends a fresh event from build to every human player.
	Broadcast(build func() msg.Event)
	// StartTurnTimer replaces any running turn timer.
	StartTurnTimer(d time.Duration)
	StopTurnTimer()
	// End destroys the game, notifying every player with reason.
	End(reason string)
}

type table struct {
	r *Registry
	g *Game
}

func (t table) ID() uint64                         { return t.g.desc.ID }
func (t table) Logger() *logrus.Entry              { return t.r.logger.WithField("game", t.g.desc.ID) }
func (t table) Players() []msg.PlayerInfo          { return t.g.infos() }
func (t table) Send(to msg.PlayerRef, e msg.Event) { t.r.send(t.g, to, e) }
func (t table) Broadcast(build func() msg.Event)   { t.r.broadcast(t.g, build) }
func (t table) StartTurnTimer(d time.Duration)     { t.r.startTurnTimer(t.g, d) }
func (t table) StopTurnTimer()                     { t.r.stopTurnTimer(t.g) }
func (t table) End(reason string)                  { t.r.destroy(t.g, reason) }

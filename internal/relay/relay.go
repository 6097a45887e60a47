// Package relay is a small game in which players pass the turn around the
// table for a fixed number of rounds.
package relay

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rallypoint/rallypoint/internal/game"
	"github.com/rallypoint/rallypoint/internal/msg"
)

const Name = "relay"

const KindGameOver msg.EventKind = "relay.game_over"

// GameOver is sent to every player once the last round is complete.
type GameOver struct {
	msg.EventHeader
	Rounds int `json:"rounds"`
}

func NewGameOver(rounds int) *GameOver {
	return &GameOver{EventHeader: msg.EventHeader{Tag: KindGameOver}, Rounds: rounds}
}

type Configuration struct {
	Players     int `json:"max_players"`
	Rounds      int `json:"rounds"`
	TurnSeconds int `json:"turn_seconds"`
}

func (c *Configuration) MaxPlayers() int { return c.Players }

func (c *Configuration) TurnDuration() time.Duration {
	return time.Duration(c.TurnSeconds) * time.Second
}

func (c *Configuration) validate() error {
	switch {
	case c.Players < 2 || c.Players > 16:
		return fmt.Errorf("max_players must be between 2 and 16, got %d", c.Players)
	case c.Rounds < 1:
		return fmt.Errorf("rounds must be positive, got %d", c.Rounds)
	case c.TurnSeconds < 1:
		return fmt.Errorf("turn_seconds must be positive, got %d", c.TurnSeconds)
	}
	return nil
}

// PlayerConfiguration is what a player may choose for themself.
type PlayerConfiguration struct {
	Color string `json:"color"`
}

var colors = []string{"red", "green", "blue", "yellow", "purple", "orange"}

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return Name }

func (*Plugin) RegisterMessages(c *msg.Catalog) error {
	return c.RegisterEvent(KindGameOver, msg.FamilyGame, "relay.GameOver", &GameOver{})
}

func (*Plugin) NewGameConfiguration() game.Configuration {
	return &Configuration{Players: 4, Rounds: 3, TurnSeconds: 30}
}

func (*Plugin) DecodeGameConfiguration(raw json.RawMessage) (game.Configuration, error) {
	cfg := &Configuration{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (*Plugin) NewPlayerConfiguration() json.RawMessage {
	return json.RawMessage(`{"color":"red"}`)
}

func (*Plugin) ValidatePlayerConfiguration(raw json.RawMessage) error {
	var pc PlayerConfiguration
	if err := json.Unmarshal(raw, &pc); err != nil {
		return err
	}
	if !slices.Contains(colors, pc.Color) {
		return fmt.Errorf("unknown color %q", pc.Color)
	}
	return nil
}

func (*Plugin) Describe(cfg game.Configuration) string {
	c := cfg.(*Configuration)
	return fmt.Sprintf("%d rounds, %ds turns", c.Rounds, c.TurnSeconds)
}

func (*Plugin) NewAIName(id uint64) string { return fmt.Sprintf("Runner %d", id) }

func (*Plugin) NewGame(t game.Table, cfg game.Configuration, players []msg.PlayerInfo) (game.Instance, error) {
	c, ok := cfg.(*Configuration)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration %T", cfg)
	}
	if len(players) < 2 {
		return nil, fmt.Errorf("relay needs at least 2 players, got %d", len(players))
	}

	g := &relayGame{table: t, cfg: c}
	for _, p := range players {
		g.order = append(g.order, p.Player)
	}
	return g, nil
}

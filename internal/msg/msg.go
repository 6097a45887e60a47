// Package msg defines the typed Actions (client to server) and Events (server
// to client) exchanged once a session is authenticated, the catalog that pairs
// every kind tag with its concrete payload type and the routers that dispatch
// them.
package msg

import (
	"encoding/json"
	"fmt"
)

// Family groups message kinds by the phase of a game in which they are valid.
type Family uint8

const (
	// FamilyControl messages are server scoped rather than game scoped.
	FamilyControl Family = iota + 1
	// FamilyGameCreation messages are only valid while a game is being created.
	FamilyGameCreation
	// FamilyGameCtrl messages are valid both in creation and once active.
	FamilyGameCtrl
	// FamilyGame messages are only valid once a game is active.
	FamilyGame
)

func (f Family) String() string {
	switch f {
	case FamilyControl:
		return "control"
	case FamilyGameCreation:
		return "game-creation"
	case FamilyGameCtrl:
		return "game-ctrl"
	case FamilyGame:
		return "game"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Target is the routing key of a game-scoped message.
type Target struct {
	GameID   uint64 `json:"game_id,omitempty"`
	PlayerID uint64 `json:"player_id,omitempty"`
}

// PlayerRef names a player across clients: player ids are only unique per
// hosting client. AI players are hosted by the server and have an empty Client.
type PlayerRef struct {
	Client string `json:"client"`
	ID     uint64 `json:"id"`
}

func (p PlayerRef) IsAI() bool { return p.Client == "" }

func (p PlayerRef) String() string {
	if p.IsAI() {
		return fmt.Sprintf("ai/%d", p.ID)
	}
	return fmt.Sprintf("%s/%d", p.Client, p.ID)
}

// Cast tells the receiving client whether an event is meant for a single
// player or for all of its players in the game.
type Cast uint8

const (
	Unicast Cast = iota
	Multicast
)

// ActionKind is the declared type tag of an Action.
type ActionKind string

// EventKind is the declared type tag of an Event.
type EventKind string

// Action is a client to server message. The tag is set by the sender
// independently of the payload type, so it has to be checked against the
// catalog before the payload is used.
type Action interface {
	Kind() ActionKind
	Target() Target
	Address(t Target)
}

// Event is a server to client message.
type Event interface {
	Kind() EventKind
	Target() Target
	Casting() Cast
	Address(t Target, c Cast)
}

// ActionHeader is embedded by every Action payload.
type ActionHeader struct {
	Tag ActionKind `json:"tag"`
	To  Target     `json:"to"`
}

func (h ActionHeader) Kind() ActionKind { return h.Tag }
func (h ActionHeader) Target() Target   { return h.To }

func (h *ActionHeader) Address(t Target)      { h.To = t }
func (h *ActionHeader) header() *ActionHeader { return h }

// EventHeader is embedded by every Event payload.
type EventHeader struct {
	Tag  EventKind `json:"tag"`
	To   Target    `json:"to"`
	Cast Cast      `json:"cast,omitempty"`
}

func (h EventHeader) Kind() EventKind { return h.Tag }
func (h EventHeader) Target() Target  { return h.To }
func (h EventHeader) Casting() Cast   { return h.Cast }

func (h *EventHeader) Address(t Target, c Cast) {
	h.To = t
	h.Cast = c
}

func (h *EventHeader) header() *EventHeader { return h }

// GameDescription is the public summary of a game. Only the player count
// changes after creation.
type GameDescription struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	Plugin     string `json:"plugin"`
	Summary    string `json:"summary,omitempty"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Active     bool   `json:"active"`
}

// SetNumberOfPlayers is the only mutation a description allows.
func (d *GameDescription) SetNumberOfPlayers(n int) { d.Players = n }

// PlayerInfo is a player as seen by the other members of a game.
type PlayerInfo struct {
	Player  PlayerRef       `json:"player"`
	Name    string          `json:"name"`
	Ready   bool            `json:"ready"`
	AI      bool            `json:"ai,omitempty"`
	Creator bool            `json:"creator,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
}

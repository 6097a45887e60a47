package msg

import (
	"encoding/json"
	"time"
)

const (
	KindGameCreationStarted EventKind = "game_creation_started"
	KindGameJoined          EventKind = "game_joined"
	KindServerState         EventKind = "server_state"
	KindActionRejected      EventKind = "action_rejected"

	KindConfigurationUpdate EventKind = "configuration_update"
	KindGameStarted         EventKind = "game_started"
	KindPlayersNotReady     EventKind = "players_not_ready"

	KindPlayerListUpdate EventKind = "player_list_update"
	KindKickedFromGame   EventKind = "kicked_from_game"
	KindGameLeft         EventKind = "game_left"
	KindGameDestroyed    EventKind = "game_destroyed"
	KindGameFull         EventKind = "game_full"

	KindYourTurn           EventKind = "your_turn"
	KindTurnTimeout        EventKind = "turn_timeout"
	KindUnauthorizedAction EventKind = "unauthorized_action"
	KindUnsupportedAction  EventKind = "unsupported_action"
	KindCantAct            EventKind = "cant_act"
)

// GameCreationStarted answers a CreateGame. The client resolves its game
// creator factory from Game.Plugin.
type GameCreationStarted struct {
	EventHeader
	Game GameDescription `json:"game"`
}

func NewGameCreationStarted(game GameDescription) *GameCreationStarted {
	return &GameCreationStarted{EventHeader: EventHeader{Tag: KindGameCreationStarted}, Game: game}
}

type GameJoined struct {
	EventHeader
	Game GameDescription `json:"game"`
}

func NewGameJoined(game GameDescription) *GameJoined {
	return &GameJoined{EventHeader: EventHeader{Tag: KindGameJoined}, Game: game}
}

type ServerState struct {
	EventHeader
	Clients  int               `json:"clients"`
	Creating []GameDescription `json:"creating"`
	Active   []GameDescription `json:"active"`
}

func NewServerState(clients int, creating, active []GameDescription) *ServerState {
	return &ServerState{
		EventHeader: EventHeader{Tag: KindServerState},
		Clients:     clients,
		Creating:    creating,
		Active:      active,
	}
}

// ActionRejected tells the sender an action could not be routed or was not
// valid in the current phase of its game.
type ActionRejected struct {
	EventHeader
	Action ActionKind `json:"action"`
	Reason string     `json:"reason"`
}

func NewActionRejected(action ActionKind, reason string) *ActionRejected {
	return &ActionRejected{EventHeader: EventHeader{Tag: KindActionRejected}, Action: action, Reason: reason}
}

type ConfigurationUpdate struct {
	EventHeader
	Config     json.RawMessage `json:"config"`
	MaxPlayers int             `json:"max_players"`
}

func NewConfigurationUpdate(config json.RawMessage, maxPlayers int) *ConfigurationUpdate {
	return &ConfigurationUpdate{
		EventHeader: EventHeader{Tag: KindConfigurationUpdate},
		Config:      config,
		MaxPlayers:  maxPlayers,
	}
}

type GameStarted struct {
	EventHeader
}

func NewGameStarted() *GameStarted {
	return &GameStarted{EventHeader: EventHeader{Tag: KindGameStarted}}
}

type PlayersNotReady struct {
	EventHeader
	Players []PlayerRef `json:"players"`
}

func NewPlayersNotReady(players []PlayerRef) *PlayersNotReady {
	return &PlayersNotReady{EventHeader: EventHeader{Tag: KindPlayersNotReady}, Players: players}
}

// PlayerListUpdate is multicast: one event per client, delivered to all of
// that client's players in the game.
type PlayerListUpdate struct {
	EventHeader
	Players []PlayerInfo `json:"players"`
}

func NewPlayerListUpdate(players []PlayerInfo) *PlayerListUpdate {
	return &PlayerListUpdate{EventHeader: EventHeader{Tag: KindPlayerListUpdate}, Players: players}
}

type KickedFromGame struct {
	EventHeader
}

func NewKickedFromGame() *KickedFromGame {
	return &KickedFromGame{EventHeader: EventHeader{Tag: KindKickedFromGame}}
}

type GameLeft struct {
	EventHeader
}

func NewGameLeft() *GameLeft {
	return &GameLeft{EventHeader: EventHeader{Tag: KindGameLeft}}
}

type GameDestroyed struct {
	EventHeader
	Reason string `json:"reason"`
}

func NewGameDestroyed(reason string) *GameDestroyed {
	return &GameDestroyed{EventHeader: EventHeader{Tag: KindGameDestroyed}, Reason: reason}
}

type GameFull struct {
	EventHeader
}

func NewGameFull() *GameFull {
	return &GameFull{EventHeader: EventHeader{Tag: KindGameFull}}
}

type YourTurn struct {
	EventHeader
	Round     int           `json:"round"`
	TimeLimit time.Duration `json:"time_limit"`
}

func NewYourTurn(round int, limit time.Duration) *YourTurn {
	return &YourTurn{EventHeader: EventHeader{Tag: KindYourTurn}, Round: round, TimeLimit: limit}
}

type TurnTimeout struct {
	EventHeader
	Player PlayerRef `json:"player"`
}

func NewTurnTimeout(player PlayerRef) *TurnTimeout {
	return &TurnTimeout{EventHeader: EventHeader{Tag: KindTurnTimeout}, Player: player}
}

type UnauthorizedAction struct {
	EventHeader
	Action ActionKind `json:"action"`
}

func NewUnauthorizedAction(action ActionKind) *UnauthorizedAction {
	return &UnauthorizedAction{EventHeader: EventHeader{Tag: KindUnauthorizedAction}, Action: action}
}

type UnsupportedAction struct {
	EventHeader
	Action ActionKind `json:"action"`
}

func NewUnsupportedAction(action ActionKind) *UnsupportedAction {
	return &UnsupportedAction{EventHeader: EventHeader{Tag: KindUnsupportedAction}, Action: action}
}

type CantAct struct {
	EventHeader
	Reason string `json:"reason"`
}

func NewCantAct(reason string) *CantAct {
	return &CantAct{EventHeader: EventHeader{Tag: KindCantAct}, Reason: reason}
}

var builtinEvents = []struct {
	kind   EventKind
	family Family
	name   string
	sample Event
}{
	{KindGameCreationStarted, FamilyControl, "GameCreationStarted", &GameCreationStarted{}},
	{KindGameJoined, FamilyControl, "GameJoined", &GameJoined{}},
	{KindServerState, FamilyControl, "ServerState", &ServerState{}},
	{KindActionRejected, FamilyControl, "ActionRejected", &ActionRejected{}},
	{KindConfigurationUpdate, FamilyGameCreation, "ConfigurationUpdate", &ConfigurationUpdate{}},
	{KindGameStarted, FamilyGameCreation, "GameStarted", &GameStarted{}},
	{KindPlayersNotReady, FamilyGameCreation, "PlayersNotReady", &PlayersNotReady{}},
	{KindPlayerListUpdate, FamilyGameCtrl, "PlayerListUpdate", &PlayerListUpdate{}},
	{KindKickedFromGame, FamilyGameCtrl, "KickedFromGame", &KickedFromGame{}},
	{KindGameLeft, FamilyGameCtrl, "GameLeft", &GameLeft{}},
	{KindGameDestroyed, FamilyGameCtrl, "GameDestroyed", &GameDestroyed{}},
	{KindGameFull, FamilyGameCtrl, "GameFull", &GameFull{}},
	{KindYourTurn, FamilyGame, "YourTurn", &YourTurn{}},
	{KindTurnTimeout, FamilyGame, "TurnTimeout", &TurnTimeout{}},
	{KindUnauthorizedAction, FamilyGame, "UnauthorizedAction", &UnauthorizedAction{}},
	{KindUnsupportedAction, FamilyGame, "UnsupportedAction", &UnsupportedAction{}},
	{KindCantAct, FamilyGame, "CantAct", &CantAct{}},
}

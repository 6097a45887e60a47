package msg

import "encoding/json"

const (
	KindCreateGame     ActionKind = "create_game"
	KindAskServerState ActionKind = "ask_server_state"

	KindStartGame      ActionKind = "start_game"
	KindSendGameConf   ActionKind = "send_game_conf"
	KindSendPlayerConf ActionKind = "send_player_conf"
	KindUpdateStatus   ActionKind = "update_status"

	KindJoinGame   ActionKind = "join_game"
	KindLeaveGame  ActionKind = "leave_game"
	KindKickPlayer ActionKind = "kick_player"
	KindAddAI      ActionKind = "add_ai"

	KindEndTurn ActionKind = "end_turn"
)

// CreateGame asks the server to stage a new game of the named plugin with the
// sender's player (Target.PlayerID) as its creator.
type CreateGame struct {
	ActionHeader
	Plugin     string `json:"plugin"`
	PlayerName string `json:"player_name"`
}

func NewCreateGame(plugin, playerName string) *CreateGame {
	return &CreateGame{ActionHeader: ActionHeader{Tag: KindCreateGame}, Plugin: plugin, PlayerName: playerName}
}

type AskServerState struct {
	ActionHeader
}

func NewAskServerState() *AskServerState {
	return &AskServerState{ActionHeader: ActionHeader{Tag: KindAskServerState}}
}

type StartGame struct {
	ActionHeader
}

func NewStartGame() *StartGame {
	return &StartGame{ActionHeader: ActionHeader{Tag: KindStartGame}}
}

// SendGameConf replaces the configuration of a game in creation. Only the
// creator may send it.
type SendGameConf struct {
	ActionHeader
	Config json.RawMessage `json:"config"`
}

func NewSendGameConf(config json.RawMessage) *SendGameConf {
	return &SendGameConf{ActionHeader: ActionHeader{Tag: KindSendGameConf}, Config: config}
}

type SendPlayerConf struct {
	ActionHeader
	Config json.RawMessage `json:"config"`
}

func NewSendPlayerConf(config json.RawMessage) *SendPlayerConf {
	return &SendPlayerConf{ActionHeader: ActionHeader{Tag: KindSendPlayerConf}, Config: config}
}

type UpdateStatus struct {
	ActionHeader
	Ready bool `json:"ready"`
}

func NewUpdateStatus(ready bool) *UpdateStatus {
	return &UpdateStatus{ActionHeader: ActionHeader{Tag: KindUpdateStatus}, Ready: ready}
}

// JoinGame adds a new player, with the client-assigned Target.PlayerID, to
// the game Target.GameID.
type JoinGame struct {
	ActionHeader
	PlayerName string `json:"player_name"`
}

func NewJoinGame(playerName string) *JoinGame {
	return &JoinGame{ActionHeader: ActionHeader{Tag: KindJoinGame}, PlayerName: playerName}
}

type LeaveGame struct {
	ActionHeader
}

func NewLeaveGame() *LeaveGame {
	return &LeaveGame{ActionHeader: ActionHeader{Tag: KindLeaveGame}}
}

type KickPlayer struct {
	ActionHeader
	Player PlayerRef `json:"player"`
}

func NewKickPlayer(player PlayerRef) *KickPlayer {
	return &KickPlayer{ActionHeader: ActionHeader{Tag: KindKickPlayer}, Player: player}
}

type AddAI struct {
	ActionHeader
}

func NewAddAI() *AddAI {
	return &AddAI{ActionHeader: ActionHeader{Tag: KindAddAI}}
}

type EndTurn struct {
	ActionHeader
}

func NewEndTurn() *EndTurn {
	return &EndTurn{ActionHeader: ActionHeader{Tag: KindEndTurn}}
}

var builtinActions = []struct {
	kind   ActionKind
	family Family
	name   string
	sample Action
}{
	{KindCreateGame, FamilyControl, "CreateGame", &CreateGame{}},
	{KindAskServerState, FamilyControl, "AskServerState", &AskServerState{}},
	{KindStartGame, FamilyGameCreation, "StartGame", &StartGame{}},
	{KindSendGameConf, FamilyGameCreation, "SendGameConf", &SendGameConf{}},
	{KindSendPlayerConf, FamilyGameCreation, "SendPlayerConf", &SendPlayerConf{}},
	{KindUpdateStatus, FamilyGameCreation, "UpdateStatus", &UpdateStatus{}},
	{KindJoinGame, FamilyGameCtrl, "JoinGame", &JoinGame{}},
	{KindLeaveGame, FamilyGameCtrl, "LeaveGame", &LeaveGame{}},
	{KindKickPlayer, FamilyGameCtrl, "KickPlayer", &KickPlayer{}},
	{KindAddAI, FamilyGameCtrl, "AddAI", &AddAI{}},
	{KindEndTurn, FamilyGame, "EndTurn", &EndTurn{}},
}

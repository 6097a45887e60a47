package game

import (
	"encoding/json"
	"fmt"

	"github.com/rallypoint/rallypoint/internal/msg"
)

// member resolves the sender of a request among the players of its game.
func (req *request) member() (*Player, error) {
	p := req.game.find(req.from)
	if p == nil {
		return nil, fmt.Errorf("%w: %s in game %d", ErrPlayerNotFound, req.from, req.game.desc.ID)
	}
	return p, nil
}

func (r *Registry) joinGame(req *request, a *msg.JoinGame) error {
	g := req.game
	if req.from.ID == 0 {
		return ErrInvalidPlayer
	}
	if g.find(req.from) != nil {
		return ErrPlayerBusy
	}
	if g.isFull() || (g.phase == phaseActive && !g.instance.IsJoinable()) {
		r.send(g, req.from, msg.NewGameFull())
		return nil
	}

	p := &Player{
		Ref:    req.from,
		Name:   playerName(a.PlayerName, req.from.Client),
		Ready:  g.phase == phaseActive,
		Config: g.plugin.NewPlayerConfiguration(),
	}
	if err := r.addPlayer(g, p); err != nil {
		return err
	}

	r.gameLogger(g, p.Ref).Info("player joined")
	r.send(g, p.Ref, msg.NewGameJoined(g.describe()))
	if g.phase == phaseCreation {
		r.send(g, p.Ref, msg.NewConfigurationUpdate(g.rawConfig, g.config.MaxPlayers()))
	}
	r.broadcastPlayerList(g)
	if g.phase == phaseActive {
		g.instance.PlayerJoined(g.infos()[len(g.players)-1])
	}
	return nil
}

func (r *Registry) addAI(req *request, _ *msg.AddAI) error {
	g := req.game
	if _, err := req.member(); err != nil {
		return err
	}
	if g.isFull() || (g.phase == phaseActive && !g.instance.IsJoinable()) {
		r.send(g, req.from, msg.NewGameFull())
		return nil
	}

	id := r.aiIDs.Next()
	p := &Player{
		Ref:    msg.PlayerRef{ID: id},
		Name:   g.plugin.NewAIName(id),
		Ready:  true,
		AI:     true,
		Config: g.plugin.NewPlayerConfiguration(),
	}
	if err := r.addPlayer(g, p); err != nil {
		return err
	}

	r.gameLogger(g, p.Ref).Info("AI player added")
	r.broadcastPlayerList(g)
	if g.phase == phaseActive {
		g.instance.PlayerJoined(g.infos()[len(g.players)-1])
	}
	return nil
}

func (r *Registry) leaveGame(req *request, _ *msg.LeaveGame) error {
	if _, err := req.member(); err != nil {
		return err
	}
	r.gameLogger(req.game, req.from).Info("player left")
	r.leave(req.game, req.from, msg.NewGameLeft())
	return nil
}

func (r *Registry) kickPlayer(req *request, a *msg.KickPlayer) error {
	g := req.game
	if _, err := req.member(); err != nil {
		return err
	}
	if req.from != g.creator {
		if g.phase == phaseActive {
			r.send(g, req.from, msg.NewUnauthorizedAction(a.Kind()))
			return nil
		}
		return ErrNotCreator
	}
	if g.find(a.Player) == nil {
		return fmt.Errorf("%w: %s in game %d", ErrPlayerNotFound, a.Player, g.desc.ID)
	}

	r.gameLogger(g, a.Player).Info("player kicked")
	r.leave(g, a.Player, msg.NewKickedFromGame())
	return nil
}

func (r *Registry) updateStatus(req *request, a *msg.UpdateStatus) error {
	p, err := req.member()
	if err != nil {
		return err
	}
	p.Ready = a.Ready
	r.broadcastPlayerList(req.game)
	return nil
}

func (r *Registry) sendGameConf(req *request, a *msg.SendGameConf) error {
	g := req.game
	if _, err := req.member(); err != nil {
		return err
	}
	if req.from != g.creator {
		return ErrNotCreator
	}

	cfg, err := g.plugin.DecodeGameConfiguration(a.Config)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if cfg.MaxPlayers() < len(g.players) {
		return fmt.Errorf("%w: %d players already joined", ErrInvalidConfiguration, len(g.players))
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	g.config = cfg
	g.rawConfig = raw
	g.desc.MaxPlayers = cfg.MaxPlayers()
	g.desc.Summary = g.plugin.Describe(cfg)

	r.broadcast(g, func() msg.Event { return msg.NewConfigurationUpdate(raw, cfg.MaxPlayers()) })
	return nil
}

func (r *Registry) sendPlayerConf(req *request, a *msg.SendPlayerConf) error {
	p, err := req.member()
	if err != nil {
		return err
	}
	if err := req.game.plugin.ValidatePlayerConfiguration(a.Config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	p.Config = append(json.RawMessage(nil), a.Config...)
	r.broadcastPlayerList(req.game)
	return nil
}

// startGame promotes the game once every player is ready. The creator is
// considered ready by asking.
func (r *Registry) startGame(req *request, _ *msg.StartGame) error {
	g := req.game
	creator, err := req.member()
	if err != nil {
		return err
	}
	if req.from != g.creator {
		return ErrNotCreator
	}

	changed := !creator.Ready
	creator.Ready = true

	var unready []msg.PlayerRef
	for _, p := range g.players {
		if !p.Ready {
			unready = append(unready, p.Ref)
		}
	}
	if len(unready) > 0 {
		if changed {
			r.broadcastPlayerList(g)
		}
		r.send(g, g.creator, msg.NewPlayersNotReady(unready))
		return nil
	}

	instance, err := g.plugin.NewGame(table{r: r, g: g}, g.config, g.infos())
	if err != nil {
		return fmt.Errorf("starting %s game: %w", g.plugin.Name(), err)
	}
	r.promote(g, instance)

	r.logger.WithField("game", g.desc.ID).Infof("game started with %d players", len(g.players))
	r.broadcast(g, func() msg.Event { return msg.NewGameStarted() })
	instance.Start()
	return nil
}

// playAction hands game-family actions to the active game.
func (r *Registry) playAction(req *request, a msg.Action) error {
	if _, err := req.member(); err != nil {
		return err
	}
	return req.game.instance.HandleAction(req.from, a)
}

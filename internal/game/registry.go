// Package game owns the server-side set of games and every transition of a
// game's lifecycle, from creation through activity to destruction.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/core/auth"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/timer"
)

var (
	ErrGameNotFound         = errors.New("game not found")
	ErrPlayerNotFound       = errors.New("player is not a member of this game")
	ErrPlayerBusy           = errors.New("player already belongs to a game")
	ErrInvalidPlayer        = errors.New("player id must be non-zero")
	ErrWrongPhase           = errors.New("action not valid in the current phase of the game")
	ErrNotCreator           = errors.New("only the creator of the game may do this")
	ErrUnknownPlugin        = errors.New("unknown game")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Outbox delivers events to clients by name. It must not block and must not
// call back into the registry.
type Outbox interface {
	Send(client string, e msg.Event)
}

type Options struct {
	Catalog *msg.Catalog
	Outbox  Outbox
	Timers  *timer.Scheduler
	Logger  *logrus.Logger
	// GameIDs and AIIDs default to fresh Counters.
	GameIDs Sequence
	AIIDs   Sequence
}

// Registry holds the games in creation and the active games. Games are
// looked up by id and players are resolved to their game through an index,
// so games, players and clients never reference each other directly.
type Registry struct {
	logger  *logrus.Logger
	catalog *msg.Catalog
	outbox  Outbox
	timers  *timer.Scheduler
	gameIDs Sequence
	aiIDs   Sequence

	mu       sync.RWMutex
	plugins  map[string]Plugin
	creating map[uint64]*Game
	active   map[uint64]*Game
	players  map[msg.PlayerRef]uint64

	ctrl     *msg.Router[msg.ActionKind, msg.Action, *request]
	creation *msg.Router[msg.ActionKind, msg.Action, *request]
	play     *msg.Router[msg.ActionKind, msg.Action, *request]
}

// request is the context of an action being handled with its game locked.
type request struct {
	game *Game
	from msg.PlayerRef
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		logger:   opts.Logger,
		catalog:  opts.Catalog,
		outbox:   opts.Outbox,
		timers:   opts.Timers,
		gameIDs:  opts.GameIDs,
		aiIDs:    opts.AIIDs,
		plugins:  make(map[string]Plugin),
		creating: make(map[uint64]*Game),
		active:   make(map[uint64]*Game),
		players:  make(map[msg.PlayerRef]uint64),
	}
	if r.gameIDs == nil {
		r.gameIDs = NewCounter()
	}
	if r.aiIDs == nil {
		r.aiIDs = NewCounter()
	}

	r.ctrl = msg.NewActionRouter[*request](r.catalog, msg.FamilyGameCtrl)
	msg.On(r.ctrl, msg.KindJoinGame, r.joinGame)
	msg.On(r.ctrl, msg.KindLeaveGame, r.leaveGame)
	msg.On(r.ctrl, msg.KindKickPlayer, r.kickPlayer)
	msg.On(r.ctrl, msg.KindAddAI, r.addAI)

	r.creation = msg.NewActionRouter[*request](r.catalog, msg.FamilyGameCreation)
	msg.On(r.creation, msg.KindStartGame, r.startGame)
	msg.On(r.creation, msg.KindSendGameConf, r.sendGameConf)
	msg.On(r.creation, msg.KindSendPlayerConf, r.sendPlayerConf)
	msg.On(r.creation, msg.KindUpdateStatus, r.updateStatus)

	r.play = msg.NewActionRouter[*request](r.catalog, msg.FamilyGame)
	r.play.Fallback(r.playAction)

	return r
}

// RegisterPlugin makes a game available for creation.
func (r *Registry) RegisterPlugin(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[p.Name()]; ok {
		return fmt.Errorf("game %q already registered", p.Name())
	}
	if err := p.RegisterMessages(r.catalog); err != nil {
		return fmt.Errorf("registering messages of %q: %w", p.Name(), err)
	}
	r.plugins[p.Name()] = p
	return nil
}

func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateGame stages a new game with the sender's player as its creator.
func (r *Registry) CreateGame(client string, a *msg.CreateGame) error {
	r.mu.RLock()
	plugin, ok := r.plugins[a.Plugin]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlugin, a.Plugin)
	}

	ref := msg.PlayerRef{Client: client, ID: a.Target().PlayerID}
	if ref.ID == 0 {
		return ErrInvalidPlayer
	}

	cfg := plugin.NewGameConfiguration()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding default configuration: %w", err)
	}

	id := r.gameIDs.Next()
	g := &Game{
		phase: phaseCreation,
		desc: msg.GameDescription{
			ID:         id,
			Creator:    client,
			Plugin:     plugin.Name(),
			Summary:    plugin.Describe(cfg),
			MaxPlayers: cfg.MaxPlayers(),
		},
		plugin:    plugin,
		config:    cfg,
		rawConfig: raw,
		creator:   ref,
		clients:   make(map[string]int),
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r.mu.Lock()
	if _, busy := r.players[ref]; busy {
		r.mu.Unlock()
		return ErrPlayerBusy
	}
	r.creating[id] = g
	r.mu.Unlock()

	if err := r.addPlayer(g, &Player{
		Ref:    ref,
		Name:   playerName(a.PlayerName, client),
		Config: plugin.NewPlayerConfiguration(),
	}); err != nil {
		r.destroy(g, "creation failed")
		return err
	}

	r.gameLogger(g, ref).Infof("%s game created", plugin.Name())
	r.send(g, ref, msg.NewGameCreationStarted(g.describe()))
	r.send(g, ref, msg.NewConfigurationUpdate(g.rawConfig, cfg.MaxPlayers()))
	r.broadcastPlayerList(g)
	return nil
}

// Dispatch routes a game-scoped action to the game it targets. The game is
// looked up among the games in creation first, then among the active ones.
func (r *Registry) Dispatch(client string, a msg.Action) error {
	spec, err := r.catalog.CheckAction(a)
	if err != nil {
		return err
	}
	if spec.Family == msg.FamilyControl {
		return fmt.Errorf("%w: %s messages are not game scoped", msg.ErrWrongFamily, spec.Family)
	}

	target := a.Target()
	g := r.lookup(target.GameID)
	if g == nil {
		return fmt.Errorf("%w: %d", ErrGameNotFound, target.GameID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// The game may have been destroyed while waiting for the lock.
	if g.phase == phaseDestroyed {
		return fmt.Errorf("%w: %d", ErrGameNotFound, target.GameID)
	}

	req := &request{game: g, from: msg.PlayerRef{Client: client, ID: target.PlayerID}}
	switch spec.Family {
	case msg.FamilyGameCtrl:
		return r.ctrl.Dispatch(req, a)
	case msg.FamilyGameCreation:
		if g.phase != phaseCreation {
			return fmt.Errorf("%w: game %d is %s", ErrWrongPhase, g.desc.ID, g.phase)
		}
		return r.creation.Dispatch(req, a)
	default:
		if g.phase != phaseActive {
			return fmt.Errorf("%w: game %d is %s", ErrWrongPhase, g.desc.ID, g.phase)
		}
		return r.play.Dispatch(req, a)
	}
}

func (r *Registry) lookup(id uint64) *Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.creating[id]; ok {
		return g
	}
	return r.active[id]
}

// ClientLost removes every player hosted by client from its game, as if each
// of them had left.
func (r *Registry) ClientLost(client string) {
	r.mu.RLock()
	var refs []msg.PlayerRef
	for ref := range r.players {
		if ref.Client == client {
			refs = append(refs, ref)
		}
	}
	r.mu.RUnlock()

	for _, ref := range refs {
		r.mu.RLock()
		id, ok := r.players[ref]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		g := r.lookup(id)
		if g == nil {
			continue
		}

		g.mu.Lock()
		if g.phase != phaseDestroyed && g.find(ref) != nil {
			r.gameLogger(g, ref).Info("removing player of lost client")
			r.leave(g, ref, msg.NewGameLeft())
		}
		g.mu.Unlock()
	}
}

// Snapshot describes every game, in creation and active, ordered by id.
func (r *Registry) Snapshot() (creating, active []msg.GameDescription) {
	r.mu.RLock()
	games := make([]*Game, 0, len(r.creating)+len(r.active))
	for _, g := range r.creating {
		games = append(games, g)
	}
	for _, g := range r.active {
		games = append(games, g)
	}
	r.mu.RUnlock()

	creating, active = []msg.GameDescription{}, []msg.GameDescription{}
	for _, g := range games {
		g.mu.Lock()
		switch g.phase {
		case phaseCreation:
			creating = append(creating, g.describe())
		case phaseActive:
			active = append(active, g.describe())
		}
		g.mu.Unlock()
	}
	sort.Slice(creating, func(i, j int) bool { return creating[i].ID < creating[j].ID })
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return creating, active
}

// Describe returns the description of a live game.
func (r *Registry) Describe(id uint64) (msg.GameDescription, bool) {
	g := r.lookup(id)
	if g == nil {
		return msg.GameDescription{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase == phaseDestroyed {
		return msg.GameDescription{}, false
	}
	return g.describe(), true
}

// addPlayer binds p to g. The caller holds g.mu.
func (r *Registry) addPlayer(g *Game, p *Player) error {
	r.mu.Lock()
	if _, busy := r.players[p.Ref]; busy {
		r.mu.Unlock()
		return ErrPlayerBusy
	}
	r.players[p.Ref] = g.desc.ID
	r.mu.Unlock()

	g.players = append(g.players, p)
	if !p.AI {
		g.clients[p.Ref.Client]++
	}
	g.desc.SetNumberOfPlayers(len(g.players))
	return nil
}

// removePlayer unbinds ref from g. The caller holds g.mu.
func (r *Registry) removePlayer(g *Game, ref msg.PlayerRef) *Player {
	var removed *Player
	for i, p := range g.players {
		if p.Ref == ref {
			removed = p
			g.players = append(g.players[:i], g.players[i+1:]...)
			break
		}
	}
	if removed == nil {
		return nil
	}

	if !removed.AI {
		if g.clients[ref.Client]--; g.clients[ref.Client] <= 0 {
			delete(g.clients, ref.Client)
		}
	}
	g.desc.SetNumberOfPlayers(len(g.players))

	r.mu.Lock()
	delete(r.players, ref)
	r.mu.Unlock()
	return removed
}

// leave removes ref from g and sends it notice. Losing the creator, or the
// last human player, destroys the game. The caller holds g.mu.
func (r *Registry) leave(g *Game, ref msg.PlayerRef, notice msg.Event) {
	if r.removePlayer(g, ref) == nil {
		return
	}
	r.send(g, ref, notice)

	if ref == g.creator {
		r.destroy(g, "the creator left the game")
		return
	}
	if g.humans() == 0 {
		r.destroy(g, "no players left")
		return
	}
	if g.phase == phaseActive {
		g.instance.PlayerLeft(ref)
		if g.phase == phaseDestroyed {
			return
		}
	}
	r.broadcastPlayerList(g)
}

// destroy removes g from the registry and notifies every remaining player.
// The caller holds g.mu.
func (r *Registry) destroy(g *Game, reason string) {
	if g.phase == phaseDestroyed {
		return
	}
	r.stopTurnTimer(g)

	for _, p := range g.players {
		r.send(g, p.Ref, msg.NewGameDestroyed(reason))
	}

	r.mu.Lock()
	delete(r.creating, g.desc.ID)
	delete(r.active, g.desc.ID)
	for _, p := range g.players {
		delete(r.players, p.Ref)
	}
	r.mu.Unlock()

	r.logger.WithField("game", g.desc.ID).Infof("game destroyed: %s", reason)
	g.phase = phaseDestroyed
	g.players = nil
	g.clients = make(map[string]int)
	g.desc.SetNumberOfPlayers(0)
}

// promote moves g from the games in creation to the active games. The
// caller holds g.mu.
func (r *Registry) promote(g *Game, instance Instance) {
	g.instance = instance
	g.phase = phaseActive
	g.desc.Active = true

	r.mu.Lock()
	delete(r.creating, g.desc.ID)
	r.active[g.desc.ID] = g
	r.mu.Unlock()
}

func (r *Registry) send(g *Game, to msg.PlayerRef, e msg.Event) {
	if to.IsAI() {
		return
	}
	e.Address(msg.Target{GameID: g.desc.ID, PlayerID: to.ID}, msg.Unicast)
	r.outbox.Send(to.Client, e)
}

func (r *Registry) broadcast(g *Game, build func() msg.Event) {
	for _, p := range g.players {
		r.send(g, p.Ref, build())
	}
}

// broadcastPlayerList multicasts the player list once to every client with
// players in g.
func (r *Registry) broadcastPlayerList(g *Game) {
	infos := g.infos()
	clients := make([]string, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	sort.Strings(clients)

	for _, c := range clients {
		e := msg.NewPlayerListUpdate(infos)
		e.Address(msg.Target{GameID: g.desc.ID}, msg.Multicast)
		r.outbox.Send(c, e)
	}
}

func (r *Registry) startTurnTimer(g *Game, d time.Duration) {
	r.stopTurnTimer(g)
	g.turnGen++
	gen := g.turnGen
	g.turn = r.timers.After(d, func() { r.turnTimeout(g, gen) })
}

func (r *Registry) stopTurnTimer(g *Game) {
	if g.turn != nil {
		r.timers.Cancel(g.turn)
		g.turn = nil
	}
}

// turnTimeout runs on a timer worker. A timer replaced after it was handed
// to the worker is recognized by its generation and ignored.
func (r *Registry) turnTimeout(g *Game, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != phaseActive || g.turnGen != gen {
		return
	}
	g.turn = nil
	g.instance.TimeoutReached()
}

func (r *Registry) gameLogger(g *Game, ref msg.PlayerRef) *logrus.Entry {
	return r.logger.WithFields(logrus.Fields{"game": g.desc.ID, "player": ref.String()})
}

func playerName(requested, client string) string {
	if name := auth.SanitizeName(requested); name != "" {
		return name
	}
	return client
}

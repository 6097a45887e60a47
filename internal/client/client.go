// Package client implements the client role: connections to game servers and
// the local mirror of the players taking part in their games.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
)

var (
	ErrUnknownServer = errors.New("unknown server")
	ErrNotConnected  = errors.New("not connected")
	ErrPlayerGone    = errors.New("player is no longer in a game")
	ErrUnknownGame   = errors.New("unknown game")
)

// ServerEvent is a server-scoped event, such as a server state report.
type ServerEvent struct {
	Server string
	Event  msg.Event
}

type Options struct {
	// Name presented to the servers.
	Name string
	// Password authenticates a registered identity. Blank authenticates
	// anonymously.
	Password        string
	Catalog         *msg.Catalog
	Logger          *logrus.Logger
	UI              UI
	Keepalive       session.Keepalive
	ConnectThrottle time.Duration
	PacketLogging   bool
}

// OptionsFromConfig reads the client section of cfg.
func OptionsFromConfig(cfg *core.Config) Options {
	return Options{
		Name:     cfg.Client.Name,
		Password: cfg.Client.Password,
		Keepalive: session.Keepalive{
			Interval: cfg.Keepalive.Interval,
			Timeout:  cfg.Keepalive.Timeout,
		},
		ConnectThrottle: cfg.Client.ConnectThrottle,
		PacketLogging:   cfg.Debugging.PacketLoggingEnabled,
	}
}

// Client is one local user connected to any number of servers. Local players
// are kept in a single registry keyed by an id this client assigns.
type Client struct {
	opts    Options
	catalog *msg.Catalog
	codec   *protocol.Codec
	logger  *logrus.Logger
	ui      UI
	nextID  atomic.Uint64

	mu         sync.RWMutex
	games      map[string]Game
	connectors map[string]*Connector
	// Every local player, whichever server hosts its game. Servers run in
	// their own processes, so there is no registry of server-hosted players
	// here; Player.Server tells which connector a player acts through.
	players   map[uint64]*Player
	listeners []chan ServerEvent

	control *msg.Router[msg.EventKind, msg.Event, string]
}

func New(opts Options) *Client {
	c := &Client{
		opts:       opts,
		catalog:    opts.Catalog,
		codec:      protocol.NewCodec(opts.Catalog),
		logger:     opts.Logger,
		ui:         opts.UI,
		games:      make(map[string]Game),
		connectors: make(map[string]*Connector),
		players:    make(map[uint64]*Player),
	}
	if c.ui == nil {
		c.ui = noUI{}
	}

	c.control = msg.NewEventRouter[string](c.catalog, msg.FamilyControl)
	msg.On(c.control, msg.KindGameCreationStarted, c.gameCreationStarted)
	msg.On(c.control, msg.KindGameJoined, c.gameJoined)
	msg.On(c.control, msg.KindServerState, c.serverState)
	msg.On(c.control, msg.KindActionRejected, c.actionRejected)
	return c
}

func (c *Client) Name() string { return c.opts.Name }

// RegisterGame makes the messages and factory of a game known locally.
func (c *Client) RegisterGame(g Game) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.games[g.Name()]; ok {
		return fmt.Errorf("game %q already registered", g.Name())
	}
	if err := g.RegisterMessages(c.catalog); err != nil {
		return fmt.Errorf("registering messages of %q: %w", g.Name(), err)
	}
	c.games[g.Name()] = g
	return nil
}

func (c *Client) newFactory(plugin string) GameFactory {
	c.mu.RLock()
	g, ok := c.games[plugin]
	c.mu.RUnlock()
	if maker, isMaker := g.(FactoryMaker); ok && isMaker {
		return maker.NewFactory()
	}
	return &BasicFactory{Plugin: plugin}
}

// Connect starts maintaining a connection to target until ctx is cancelled.
func (c *Client) Connect(ctx context.Context, wg *sync.WaitGroup, target core.ServerTarget) (*Connector, error) {
	c.mu.Lock()
	if _, ok := c.connectors[target.Name]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("already connected to %s", target.Name)
	}
	conn := newConnector(c, target)
	c.connectors[target.Name] = conn
	c.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := conn.Run(ctx); err != nil {
			conn.logger.Errorf("giving up on server: %v", err)
		}
	}()
	return conn, nil
}

func (c *Client) Connector(server string) *Connector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectors[server]
}

func (c *Client) send(server string, a msg.Action) error {
	conn := c.Connector(server)
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return conn.Send(a)
}

// CreateGame asks server to stage a new game of plugin with a new local
// player as its creator.
func (c *Client) CreateGame(server, plugin, playerName string) (*Player, error) {
	p := c.addPlayer(server, playerName, 0)
	a := msg.NewCreateGame(plugin, playerName)
	a.Address(msg.Target{PlayerID: p.id})
	if err := c.send(server, a); err != nil {
		c.removePlayer(p)
		return nil, err
	}
	return p, nil
}

// JoinGame asks server to add a new local player to a game.
func (c *Client) JoinGame(server string, gameID uint64, playerName string) (*Player, error) {
	if gameID == 0 {
		return nil, ErrUnknownGame
	}
	p := c.addPlayer(server, playerName, gameID)
	a := msg.NewJoinGame(playerName)
	a.Address(msg.Target{GameID: gameID, PlayerID: p.id})
	if err := c.send(server, a); err != nil {
		c.removePlayer(p)
		return nil, err
	}
	return p, nil
}

// AskServerState requests a ServerState event from server. It is published
// to the Subscribe channels.
func (c *Client) AskServerState(server string) error {
	return c.send(server, msg.NewAskServerState())
}

// Subscribe returns a channel receiving the server-scoped events of every
// server.
func (c *Client) Subscribe() <-chan ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan ServerEvent, listenerBuffer)
	c.listeners = append(c.listeners, ch)
	return ch
}

func (c *Client) Player(id uint64) *Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.players[id]
}

// Players lists the local players, by id.
func (c *Client) Players() []*Player {
	c.mu.RLock()
	players := make([]*Player, 0, len(c.players))
	for _, p := range c.players {
		players = append(players, p)
	}
	c.mu.RUnlock()
	sort.Slice(players, func(i, j int) bool { return players[i].id < players[j].id })
	return players
}

func (c *Client) addPlayer(server, name string, gameID uint64) *Player {
	p := &Player{
		id:     c.nextID.Add(1),
		name:   name,
		server: server,
		client: c,
		gameID: gameID,
		events: make(chan msg.Event, listenerBuffer),
	}
	p.listeners = []chan msg.Event{p.events}
	c.mu.Lock()
	c.players[p.id] = p
	c.mu.Unlock()
	return p
}

func (c *Client) removePlayer(p *Player) {
	c.mu.Lock()
	if c.players[p.id] == p {
		delete(c.players, p.id)
	}
	c.mu.Unlock()

	p.mu.Lock()
	p.close()
	p.mu.Unlock()
}

// dropPlayers removes every local player playing on server and returns how
// many there were.
func (c *Client) dropPlayers(server string) int {
	c.mu.RLock()
	var players []*Player
	for _, p := range c.players {
		if p.server == server {
			players = append(players, p)
		}
	}
	c.mu.RUnlock()

	for _, p := range players {
		c.removePlayer(p)
	}
	return len(players)
}

func (c *Client) playersIn(server string, gameID uint64) []*Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var players []*Player
	for _, p := range c.players {
		if p.server == server && p.GameID() == gameID {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].id < players[j].id })
	return players
}

func (c *Client) publish(server string, e msg.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.listeners {
		select {
		case ch <- ServerEvent{Server: server, Event: e}:
		default:
			c.logger.Warnf("client listener is full, dropping %s from %s", e.Kind(), server)
		}
	}
}

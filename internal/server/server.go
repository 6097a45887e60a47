// Package server implements the server role: accepting sessions, binding
// them to client identities and routing their actions to the games.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/game"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
	"github.com/rallypoint/rallypoint/internal/timer"
)

var ErrServerFull = errors.New("server is full")

type Options struct {
	Config   *core.Config
	Logger   *logrus.Logger
	Catalog  *msg.Catalog
	Accounts Accounts
	Timers   *timer.Scheduler
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server accepts sessions over any transport, authenticates them and hands
// the actions of authenticated clients to the game registry.
type Server struct {
	cfg       *core.Config
	logger    *logrus.Logger
	catalog   *msg.Catalog
	codec     *protocol.Codec
	accounts  Accounts
	timers    *timer.Scheduler
	now       func() time.Time
	keepalive session.Keepalive

	peers    *Registry
	games    *game.Registry
	control  *msg.Router[msg.ActionKind, msg.Action, *Client]
	throttle *cache.Cache

	idMu             sync.Mutex
	lastConnectionID uint64
}

func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		logger:   opts.Logger,
		catalog:  opts.Catalog,
		codec:    protocol.NewCodec(opts.Catalog),
		accounts: opts.Accounts,
		timers:   opts.Timers,
		now:      opts.Now,
		keepalive: session.Keepalive{
			Interval: opts.Config.Keepalive.Interval,
			Timeout:  opts.Config.Keepalive.Timeout,
		},
		peers:    NewRegistry(opts.Logger),
		throttle: cache.New(opts.Config.ConnectionThrottle, time.Minute),
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.games = game.NewRegistry(game.Options{
		Catalog: opts.Catalog,
		Outbox:  outbox{peers: s.peers, logger: opts.Logger},
		Timers:  opts.Timers,
		Logger:  opts.Logger,
	})

	s.control = msg.NewActionRouter[*Client](opts.Catalog, msg.FamilyControl)
	msg.On(s.control, msg.KindCreateGame, s.createGame)
	msg.On(s.control, msg.KindAskServerState, s.askServerState)
	return s
}

// outbox delivers game events to clients by name.
type outbox struct {
	peers  *Registry
	logger *logrus.Logger
}

func (o outbox) Send(client string, e msg.Event) {
	c := o.peers.Client(client)
	if c == nil {
		o.logger.Debugf("dropping %s event for unknown client %s", e.Kind(), client)
		return
	}
	c.Send(e)
}

func (s *Server) RegisterPlugin(p game.Plugin) error { return s.games.RegisterPlugin(p) }

func (s *Server) Codec() *protocol.Codec { return s.codec }

func (s *Server) Peers() *Registry { return s.peers }

func (s *Server) Games() *game.Registry { return s.games }

// Start schedules the disconnection sweep on the shared timer.
func (s *Server) Start() {
	s.timers.Every(s.cfg.SweepInterval(), func() { s.Sweep(s.now()) })
}

// Sweep purges the clients whose grace period ended before now and removes
// their players from the games.
func (s *Server) Sweep(now time.Time) []*Client {
	return s.peers.Sweep(now, s.cfg.ClientConnectionTimeout, func(c *Client) error {
		s.games.ClientLost(c.name)
		return nil
	})
}

// Admit reports whether a connection from remote may proceed. An address
// gets one connection per throttle interval.
func (s *Server) Admit(remote string) bool {
	if s.cfg.ConnectionThrottle <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	return s.throttle.Add(host, struct{}{}, cache.DefaultExpiration) == nil
}

// HandleTransport runs a session over t until it closes or ctx is cancelled.
func (s *Server) HandleTransport(ctx context.Context, t session.Transport) error {
	if s.cfg.MaxClients > 0 && s.peers.SessionCount() >= s.cfg.MaxClients {
		_ = t.Close()
		return ErrServerFull
	}

	sess := session.New(t, s.codec, s.logger, s.cfg.Debugging.PacketLoggingEnabled)
	s.peers.AddSession(sess)
	sess.Logger().Info("session opened")

	ctx, cancel := context.WithCancel(ctx)
	go s.keepalive.Watch(ctx, sess)
	go func() {
		<-ctx.Done()
		_ = sess.Close()
	}()

	var c *Client
	defer func() {
		cancel()
		s.closeSessionAndRecover(sess, c)
	}()

	s.requestAuthentication(sess)
	for {
		m, err := sess.Receive()
		if errors.Is(err, session.ErrDecode) {
			sess.Logger().Warnf("dropping message: %v", err)
			if c == nil {
				s.requestAuthentication(sess)
			} else {
				_ = sess.Send(&protocol.UnexpectedMessage{})
			}
			continue
		}
		if err != nil {
			return nil
		}

		if c == nil {
			c = s.handshake(sess, m)
			continue
		}

		switch m := m.(type) {
		case *protocol.GameAction:
			s.handleAction(c, m.Action)
		case *protocol.Authenticate, *protocol.Register:
			sess.Logger().Warnf("%s received after authentication", m.Category())
			_ = sess.Send(&protocol.UnexpectedMessage{Received: m.Category()})
		default:
			_ = sess.Send(&protocol.UnexpectedMessage{Received: m.Category()})
		}
	}
}

// closeSessionAndRecover is the failsafe that catches any panics, closes the
// session and starts the grace period of the client it was bound to.
func (s *Server) closeSessionAndRecover(sess *session.Session, c *Client) {
	if err := recover(); err != nil {
		sess.Logger().Errorf("error in client communication: error=%s, trace: %s", err, debug.Stack())
	}

	_ = sess.Close()
	s.peers.RemoveSession(sess.ID())

	if c != nil && s.peers.MarkDisconnected(c, sess, s.now()) {
		sess.Logger().Infof("client disconnected, purging in %s unless it reconnects", s.cfg.ClientConnectionTimeout)
		return
	}
	sess.Logger().Info("session closed")
}

// handleAction routes a client action. Failures are reported back to the
// client as ActionRejected, except inconsistent payloads, which are dropped.
func (s *Server) handleAction(c *Client, a msg.Action) {
	spec, err := s.catalog.CheckAction(a)
	if err == nil {
		if spec.Family == msg.FamilyControl {
			err = s.control.Dispatch(c, a)
		} else {
			err = s.games.Dispatch(c.name, a)
		}
	}
	if err == nil {
		return
	}

	log := c.logger.WithField("game", a.Target().GameID).WithField("player", a.Target().PlayerID)
	if errors.Is(err, msg.ErrInconsistentType) {
		log.Warnf("dropping action: %v", err)
		return
	}
	log.Infof("rejected %s: %v", a.Kind(), err)

	rejection := msg.NewActionRejected(a.Kind(), err.Error())
	rejection.Address(a.Target(), msg.Unicast)
	c.Send(rejection)
}

func (s *Server) createGame(c *Client, a *msg.CreateGame) error {
	return s.games.CreateGame(c.name, a)
}

func (s *Server) askServerState(c *Client, a *msg.AskServerState) error {
	creating, active := s.games.Snapshot()
	state := msg.NewServerState(s.peers.ConnectedCount(), creating, active)
	state.Address(a.Target(), msg.Unicast)
	c.Send(state)
	return nil
}

// DisconnectedClient describes a client in its grace period.
type DisconnectedClient struct {
	Name  string    `json:"name"`
	Since time.Time `json:"since"`
}

type Status struct {
	Clients      int                   `json:"clients"`
	Sessions     int                   `json:"sessions"`
	Plugins      []string              `json:"plugins"`
	Creating     []msg.GameDescription `json:"creating"`
	Active       []msg.GameDescription `json:"active"`
	Disconnected []DisconnectedClient  `json:"disconnected"`
}

func (s *Server) Status() Status {
	creating, active := s.games.Snapshot()
	st := Status{
		Clients:      s.peers.ConnectedCount(),
		Sessions:     s.peers.SessionCount(),
		Plugins:      s.games.Plugins(),
		Creating:     creating,
		Active:       active,
		Disconnected: []DisconnectedClient{},
	}
	for _, c := range s.peers.Disconnected() {
		st.Disconnected = append(st.Disconnected, DisconnectedClient{Name: c.name, Since: c.DisconnectedAt()})
	}
	return st
}

func (s *Server) Game(id uint64) (msg.GameDescription, error) {
	desc, ok := s.games.Describe(id)
	if !ok {
		return msg.GameDescription{}, fmt.Errorf("%w: %d", game.ErrGameNotFound, id)
	}
	return desc, nil
}

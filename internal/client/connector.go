package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
)

// ErrRejected is returned when a server refuses the client's identity.
// Reconnecting would not change the answer.
var ErrRejected = errors.New("authentication rejected")

// Connector keeps a client connected to one server, reconnecting after
// unexpected disconnections and resuming the anonymous identity it was given.
type Connector struct {
	client  *Client
	target  core.ServerTarget
	limiter *rate.Limiter
	logger  *logrus.Entry

	mu           sync.Mutex
	sess         *session.Session
	connectionID uint64
	registration core.RegistrationType
	ready        chan struct{}
}

func newConnector(c *Client, target core.ServerTarget) *Connector {
	limit := rate.Inf
	if c.opts.ConnectThrottle > 0 {
		limit = rate.Every(c.opts.ConnectThrottle)
	}
	return &Connector{
		client:  c,
		target:  target,
		limiter: rate.NewLimiter(limit, 1),
		logger:  c.logger.WithFields(logrus.Fields{"server": target.Name, "address": target.Address}),
		ready:   make(chan struct{}),
	}
}

func (c *Connector) Server() string { return c.target.Name }

// ConnectionID is the resumption token handed out by the server, zero for
// registered identities.
func (c *Connector) ConnectionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Registration is the registration policy the server announced.
func (c *Connector) Registration() core.RegistrationType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registration
}

// WaitReady blocks until the connector is authenticated.
func (c *Connector) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a to the server.
func (c *Connector) Send(a msg.Action) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w to %s", ErrNotConnected, c.target.Name)
	}
	return sess.Send(&protocol.GameAction{Action: a})
}

// Run connects to the server and keeps reconnecting, at most once per
// connect throttle, until ctx is cancelled or the server rejects the
// client's identity.
func (c *Connector) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		c.logger.Warnf("connection lost, reconnecting: %v", err)
	}
}

// connect runs a single session until it closes.
func (c *Connector) connect(ctx context.Context) error {
	transport, err := session.Dial(ctx, c.target.Address)
	if err != nil {
		return err
	}
	sess := session.New(transport, c.client.codec, c.client.logger, c.client.opts.PacketLogging)
	defer sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = sess.Close()
	}()

	if err := c.authenticate(sess); err != nil {
		return err
	}
	sess.Bind(c.target.Name)
	sess.Logger().Info("connected")

	if c.client.opts.Keepalive.Interval > 0 {
		go c.client.opts.Keepalive.Watch(ctx, sess)
	}
	defer c.detach(sess)

	for {
		m, err := sess.Receive()
		if errors.Is(err, session.ErrDecode) {
			sess.Logger().Warnf("dropping message: %v", err)
			continue
		}
		if err != nil {
			return err
		}

		switch m := m.(type) {
		case *protocol.GameEvent:
			c.client.deliver(c.target.Name, m.Event)
		case *protocol.UnexpectedMessage:
			sess.Logger().Warnf("server did not expect our %s", m.Received)
		default:
			sess.Logger().Warnf("unexpected %s from server", m.Category())
			_ = sess.Send(&protocol.UnexpectedMessage{Received: m.Category()})
		}
	}
}

// authenticate answers the server's challenge and waits for the verdict.
func (c *Connector) authenticate(sess *session.Session) error {
	challenged := false
	for {
		m, err := sess.Receive()
		if errors.Is(err, session.ErrDecode) {
			continue
		}
		if err != nil {
			return err
		}

		switch m := m.(type) {
		case *protocol.RequestAuthentication:
			c.mu.Lock()
			c.registration = m.Registration
			c.mu.Unlock()
			if challenged {
				continue
			}
			challenged = true
			if err := sess.Send(c.credentials()); err != nil {
				return err
			}
		case *protocol.AuthenticationSuccessful:
			if !m.Resumed {
				// The server keeps nothing of an earlier identity, and the
				// notices for its players went to the purged record.
				if n := c.client.dropPlayers(c.target.Name); n > 0 {
					sess.Logger().Infof("identity was not resumed, dropped %d local players", n)
				}
			}
			c.attach(sess, m.ConnectionID)
			return nil
		case *protocol.WrongAuthentication:
			return fmt.Errorf("%w: %s", ErrRejected, m.Reason)
		case *protocol.RegistrationError:
			return fmt.Errorf("%w: %s", ErrRejected, m.Reason)
		default:
			sess.Logger().Warnf("unexpected %s before authentication", m.Category())
		}
	}
}

func (c *Connector) credentials() *protocol.Authenticate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client.opts.Password != "" {
		return &protocol.Authenticate{
			ID:   c.client.opts.Name,
			Auth: &protocol.Credentials{Password: c.client.opts.Password},
		}
	}
	return &protocol.Authenticate{ID: c.client.opts.Name, ConnectionID: c.connectionID}
}

func (c *Connector) attach(sess *session.Session, connectionID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = sess
	c.connectionID = connectionID
	close(c.ready)
}

func (c *Connector) detach(sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == sess {
		c.sess = nil
		c.ready = make(chan struct{})
	}
}

package server

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"

	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
)

// Events held for a disconnected client before new ones are dropped.
const pendingLimit = 256

// nameKey is the identity of a client name: names differing only by case
// collide.
func nameKey(name string) string { return cases.Fold().String(name) }

// Client is the connection record of an authenticated peer in the client
// role. It outlives its sessions for the duration of the client connection
// timeout.
type Client struct {
	name         string
	key          string
	registered   bool
	connectionID uint64
	logger       *logrus.Entry
	// Set by the sweep while its players are being removed. Guarded by the
	// Registry's lock.
	purging bool

	mu             sync.Mutex
	session        *session.Session
	disconnectedAt time.Time
	pending        []msg.Event
}

func newClient(name string, registered bool, connectionID uint64, logger *logrus.Logger) *Client {
	return &Client{
		name:         name,
		key:          nameKey(name),
		registered:   registered,
		connectionID: connectionID,
		logger:       logger.WithField("peer", name),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Registered() bool { return c.registered }

// ConnectionID is the resumption token of an unregistered client, zero for
// registered ones.
func (c *Client) ConnectionID() uint64 { return c.connectionID }

func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// DisconnectedAt is the zero time while the client is connected.
func (c *Client) DisconnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectedAt
}

// Send delivers e, holding it back while the client is disconnected.
func (c *Client) Send(e msg.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.disconnectedAt.IsZero() {
		if err := c.session.Send(&protocol.GameEvent{Event: e}); err == nil {
			return
		}
	}
	if len(c.pending) >= pendingLimit {
		c.logger.Warnf("dropping %s event, %d events already held", e.Kind(), len(c.pending))
		return
	}
	c.pending = append(c.pending, e)
}

// attach binds s to the client, sends greeting on it followed by every held
// event and returns the session it replaces.
func (c *Client) attach(s *session.Session, greeting protocol.Message) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.session
	c.session = s
	c.disconnectedAt = time.Time{}

	if err := s.Send(greeting); err != nil {
		c.logger.Warnf("failed to greet session: %v", err)
	}
	for _, e := range c.pending {
		if err := s.Send(&protocol.GameEvent{Event: e}); err != nil {
			c.logger.Warnf("failed to flush held events: %v", err)
			break
		}
	}
	c.pending = nil
	return old
}

// detach records the loss of s. It reports false when s is no longer the
// client's session.
func (c *Client) detach(s *session.Session, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return false
	}
	c.disconnectedAt = at
	return true
}

// expired reports whether the client has been disconnected for longer than
// timeout.
func (c *Client) expired(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnectedAt.IsZero() && now.Sub(c.disconnectedAt) > timeout
}

// live reports whether the client's session is up despite the client being
// marked disconnected.
func (c *Client) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.Alive()
}

func (c *Client) markConnected() {
	c.mu.Lock()
	c.disconnectedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) heldEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

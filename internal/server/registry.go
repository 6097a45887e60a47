package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
)

var ErrNameTaken = errors.New("name already in use")

// Registry tracks live sessions, authenticated clients and the clients in
// their disconnection grace period.
type Registry struct {
	logger *logrus.Logger

	mu           sync.RWMutex
	sessions     map[string]*session.Session
	clients      map[string]*Client
	unregistered map[uint64]*Client
	disconnected map[string]*Client
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:       logger,
		sessions:     make(map[string]*session.Session),
		clients:      make(map[string]*Client),
		unregistered: make(map[uint64]*Client),
		disconnected: make(map[string]*Client),
	}
}

// AddSession registers a live session. Adding the same session twice is
// logged and otherwise ignored.
func (r *Registry) AddSession(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		r.logger.Errorf("session %s added twice", s.ID())
		return
	}
	r.sessions[s.ID()] = s
}

// RemoveSession is idempotent.
func (r *Registry) RemoveSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AddClient registers c and binds s to it, greeting the session first. It
// fails when the name is already taken.
func (r *Registry) AddClient(c *Client, s *session.Session, greeting protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.key]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, c.name)
	}
	r.clients[c.key] = c
	if !c.registered {
		r.unregistered[c.connectionID] = c
	}
	c.attach(s, greeting)
	return nil
}

// Reattach binds a new session to a client that is still registered and
// returns the session it replaces. It reports false once the client is being
// purged.
func (r *Registry) Reattach(c *Client, s *session.Session, greeting protocol.Message) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[c.key] != c || c.purging {
		return nil, false
	}
	delete(r.disconnected, c.key)
	return c.attach(s, greeting), true
}

// RemoveClient drops c from every index.
func (r *Registry) RemoveClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeClient(c)
}

func (r *Registry) removeClient(c *Client) {
	if r.clients[c.key] == c {
		delete(r.clients, c.key)
	}
	if r.unregistered[c.connectionID] == c {
		delete(r.unregistered, c.connectionID)
	}
	if r.disconnected[c.key] == c {
		delete(r.disconnected, c.key)
	}
}

func (r *Registry) Client(name string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[nameKey(name)]
}

func (r *Registry) UnregisteredClientByConnectionID(id uint64) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unregistered[id]
}

// MarkDisconnected starts the grace period of c if s is still its session.
func (r *Registry) MarkDisconnected(c *Client, s *session.Session, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[c.key] != c || !c.detach(s, at) {
		return false
	}
	r.disconnected[c.key] = c
	return true
}

// UnmarkDisconnected is idempotent.
func (r *Registry) UnmarkDisconnected(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected[c.key] == c {
		delete(r.disconnected, c.key)
	}
	c.markConnected()
}

func (r *Registry) IsClientConnected(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := nameKey(name)
	_, known := r.clients[key]
	_, away := r.disconnected[key]
	return known && !away
}

// ConnectedCount is the number of clients not in their grace period.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) - len(r.disconnected)
}

// Disconnected lists the clients in their grace period, by name.
func (r *Registry) Disconnected() []*Client {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.disconnected))
	for _, c := range r.disconnected {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].key < clients[j].key })
	return clients
}

// Sweep purges the clients that have been disconnected for longer than
// timeout. lost is called for each of them while the record still holds its
// name, so neither a resume nor a new client can claim the name until the
// client's players are gone. The record is then removed from every index.
// Clients whose session turns out to be alive are unmarked. A failure for one
// client is logged and does not stop the sweep.
func (r *Registry) Sweep(now time.Time, timeout time.Duration, lost func(*Client) error) []*Client {
	var purged []*Client

	r.mu.Lock()
	for key, c := range r.disconnected {
		if c.purging {
			continue
		}
		if c.live() {
			delete(r.disconnected, key)
			c.markConnected()
			continue
		}
		if c.expired(now, timeout) {
			c.purging = true
			purged = append(purged, c)
		}
	}
	r.mu.Unlock()

	for _, c := range purged {
		r.purge(c, lost)
	}
	return purged
}

func (r *Registry) purge(c *Client, lost func(*Client) error) {
	defer r.RemoveClient(c)
	defer func() {
		if err := recover(); err != nil {
			r.logger.Errorf("error purging client %s: error=%s, trace: %s", c.name, err, debug.Stack())
		}
	}()

	c.logger.Infof("client did not reconnect within the timeout, purging")
	if err := lost(c); err != nil {
		c.logger.Errorf("error purging client: %v", err)
	}
}

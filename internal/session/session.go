// Package session wraps a transport connection with message encoding, an
// asynchronous write queue and the heartbeat exchange.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rallypoint/rallypoint/internal/protocol"
)

const defaultQueueSize = 128

var (
	ErrClosed    = errors.New("session closed")
	ErrQueueFull = errors.New("session send queue full")
	// ErrDecode wraps messages that arrived intact but could not be decoded.
	// The session stays usable after one.
	ErrDecode = errors.New("undecodable message")
)

// Session is a live connection to a peer. Sends never block: messages are
// queued for a dedicated writer and a peer that cannot keep up is
// disconnected.
type Session struct {
	id        string
	transport Transport
	codec     *protocol.Codec
	debug     bool

	mu     sync.Mutex
	logger *logrus.Entry

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64
	now       func() time.Time
}

// New starts a session over t. When packetLogging is set every message is
// dumped at debug level.
func New(t Transport, codec *protocol.Codec, logger *logrus.Logger, packetLogging bool) *Session {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		transport: t,
		codec:     codec,
		debug:     packetLogging,
		logger:    logger.WithFields(logrus.Fields{"session": id[:8], "remote": t.RemoteAddr()}),
		out:       make(chan []byte, defaultQueueSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	s.touch()
	go s.writeLoop()
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

func (s *Session) Logger() *logrus.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Bind tags the session's logs with the peer it was authenticated as.
func (s *Session) Bind(peer string) {
	s.mu.Lock()
	s.logger = s.logger.WithField("peer", peer)
	s.mu.Unlock()
}

// Send encodes m and queues it for writing.
func (s *Session) Send(m protocol.Message) error {
	data, err := s.codec.Marshal(m)
	if err != nil {
		return err
	}
	if s.debug {
		s.Logger().Debugf("send %s\n%s", m.Category(), spew.Sdump(m))
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.out <- data:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		s.Logger().Warn("send queue is full, disconnecting")
		s.Close()
		return ErrQueueFull
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.out:
			if err := s.transport.WriteMessage(data); err != nil {
				s.Logger().Debugf("write failed: %v", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Receive blocks until the next message that is not part of the heartbeat
// exchange. Heartbeat requests are answered here. Errors wrapping ErrDecode
// leave the session usable; any other error means the connection is gone.
func (s *Session) Receive() (protocol.Message, error) {
	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil, ErrClosed
			default:
			}
			return nil, err
		}
		s.touch()

		m, err := s.codec.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if s.debug {
			s.Logger().Debugf("received %s\n%s", m.Category(), spew.Sdump(m))
		}

		switch m.(type) {
		case *protocol.KeepAliveRequest:
			if err := s.Send(protocol.KeepAliveResponseMessage); err != nil {
				return nil, err
			}
			continue
		case *protocol.KeepAliveResponse:
			continue
		}
		return m, nil
	}
}

// Close is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.transport.Close()
	})
	return err
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Idle is the time elapsed since anything was last received.
func (s *Session) Idle() time.Duration {
	return s.now().Sub(time.Unix(0, s.lastSeen.Load()))
}

func (s *Session) touch() { s.lastSeen.Store(s.now().UnixNano()) }

// Keepalive sends heartbeat requests on a session and closes it when the
// peer stays silent for longer than Timeout.
type Keepalive struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Watch blocks until ctx is cancelled or the session is closed.
func (k Keepalive) Watch(ctx context.Context, s *Session) {
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-ticker.C:
			if idle := s.Idle(); idle > k.Timeout {
				s.Logger().Infof("no heartbeat for %s, closing session", idle.Truncate(time.Millisecond))
				s.Close()
				return
			}
			_ = s.Send(protocol.KeepAliveRequestMessage)
		}
	}
}

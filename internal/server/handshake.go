package server

import (
	"errors"
	"math/rand"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/core/auth"
	"github.com/rallypoint/rallypoint/internal/core/data"
	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
)

const (
	reasonRegistrationRequired = "this server requires registration"
	reasonRegistrationDisabled = "this server does not accept registered identities"
	reasonNameTaken            = "name already in use"
)

// Accounts verifies and creates registered identities.
type Accounts interface {
	VerifyAccount(username, password string) (*data.Account, error)
	RegisterAccount(username, password string) (*data.Account, error)
}

// handshake handles a message received on a session that is not bound to a
// client yet. It returns the client the session was bound to, if any.
func (s *Server) handshake(sess *session.Session, m protocol.Message) *Client {
	switch m := m.(type) {
	case *protocol.Authenticate:
		if m.Auth == nil {
			return s.authenticateAnonymous(sess, m)
		}
		return s.authenticateRegistered(sess, m)
	case *protocol.Register:
		return s.register(sess, m)
	default:
		sess.Logger().Debugf("%s received before authentication, asking again", m.Category())
		s.requestAuthentication(sess)
		return nil
	}
}

func (s *Server) requestAuthentication(sess *session.Session) {
	_ = sess.Send(&protocol.RequestAuthentication{Registration: s.cfg.RegistrationType})
}

func (s *Server) authenticateAnonymous(sess *session.Session, m *protocol.Authenticate) *Client {
	if s.cfg.RegistrationType == core.RegistrationMandatory {
		s.reject(sess, reasonRegistrationRequired)
		return nil
	}

	name := auth.SanitizeName(m.ID)
	if err := auth.ValidateName(name); err != nil {
		s.reject(sess, err.Error())
		return nil
	}

	if m.ConnectionID != 0 {
		c := s.peers.UnregisteredClientByConnectionID(m.ConnectionID)
		if c != nil && c.key == nameKey(name) {
			if s.resume(sess, c, &protocol.AuthenticationSuccessful{ConnectionID: c.connectionID, Resumed: true}) {
				return c
			}
		}
		sess.Logger().Infof("cannot resume connection %d as %s, authenticating as a new client", m.ConnectionID, name)
	}

	c := newClient(name, false, s.nextConnectionID(), s.logger)
	if err := s.peers.AddClient(c, sess, &protocol.AuthenticationSuccessful{ConnectionID: c.connectionID}); err != nil {
		s.reject(sess, reasonNameTaken)
		return nil
	}
	s.bound(sess, c, "authenticated anonymously")
	return c
}

func (s *Server) authenticateRegistered(sess *session.Session, m *protocol.Authenticate) *Client {
	if s.cfg.RegistrationType == core.RegistrationNone {
		s.reject(sess, reasonRegistrationDisabled)
		return nil
	}

	account, err := s.accounts.VerifyAccount(m.ID, m.Auth.Password)
	if err != nil {
		sess.Logger().Infof("failed login for %s: %v", m.ID, err)
		s.reject(sess, err.Error())
		return nil
	}

	if c := s.peers.Client(account.Username); c != nil {
		if !c.registered {
			s.reject(sess, reasonNameTaken)
			return nil
		}
		if s.resume(sess, c, &protocol.AuthenticationSuccessful{Resumed: true}) {
			return c
		}
	}

	c := newClient(account.Username, true, 0, s.logger)
	if err := s.peers.AddClient(c, sess, &protocol.AuthenticationSuccessful{}); err != nil {
		s.reject(sess, reasonNameTaken)
		return nil
	}
	s.bound(sess, c, "authenticated")
	return c
}

func (s *Server) register(sess *session.Session, m *protocol.Register) *Client {
	if s.cfg.RegistrationType == core.RegistrationNone {
		_ = sess.Send(&protocol.RegistrationError{Reason: reasonRegistrationDisabled})
		return nil
	}
	if s.peers.Client(m.ID) != nil {
		_ = sess.Send(&protocol.RegistrationError{Reason: reasonNameTaken})
		return nil
	}

	account, err := s.accounts.RegisterAccount(m.ID, m.Auth.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrUsernameTaken) && !errors.Is(err, auth.ErrInvalidUsername) && !errors.Is(err, auth.ErrInvalidPassword) {
			sess.Logger().Errorf("registering %s: %v", m.ID, err)
			err = auth.ErrUnknown
		}
		_ = sess.Send(&protocol.RegistrationError{Reason: err.Error()})
		return nil
	}

	c := newClient(account.Username, true, 0, s.logger)
	if err := s.peers.AddClient(c, sess, &protocol.AuthenticationSuccessful{}); err != nil {
		_ = sess.Send(&protocol.RegistrationError{Reason: reasonNameTaken})
		return nil
	}
	s.bound(sess, c, "registered")
	return c
}

// resume reattaches c to sess, closing the session it previously used.
func (s *Server) resume(sess *session.Session, c *Client, greeting protocol.Message) bool {
	old, ok := s.peers.Reattach(c, sess, greeting)
	if !ok {
		return false
	}
	if old != nil && old != sess {
		_ = old.Close()
	}
	s.bound(sess, c, "resumed")
	return true
}

func (s *Server) bound(sess *session.Session, c *Client, how string) {
	sess.Bind(c.name)
	sess.Logger().Infof("client %s", how)
}

func (s *Server) reject(sess *session.Session, reason string) {
	_ = sess.Send(&protocol.WrongAuthentication{Reason: reason})
}

// nextConnectionID hands out resumption tokens that keep increasing but are
// hard to guess from the previous one.
func (s *Server) nextConnectionID() uint64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.lastConnectionID += 1 + uint64(rand.Int63n(1<<16))
	return s.lastConnectionID
}

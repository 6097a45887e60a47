package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/protocol"
	"github.com/rallypoint/rallypoint/internal/session"
)

var testCodec = protocol.NewCodec(msg.NewCatalog())

// newPipeSession returns a session over one end of an in-memory connection.
// The other end is drained so that writes never block.
func newPipeSession(t *testing.T) *session.Session {
	local, remote := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	s := session.New(session.NewTCPTransport(local), testCodec, core.DiscardLogger(), false)
	t.Cleanup(func() {
		s.Close()
		remote.Close()
	})
	return s
}

func addTestClient(t *testing.T, r *Registry, name string, connectionID uint64) (*Client, *session.Session) {
	t.Helper()
	s := newPipeSession(t)
	c := newClient(name, connectionID == 0, connectionID, core.DiscardLogger())
	if err := r.AddClient(c, s, &protocol.AuthenticationSuccessful{ConnectionID: connectionID}); err != nil {
		t.Fatalf("AddClient() returned an unexpected error: %v", err)
	}
	return c, s
}

func TestRegistry_Sessions(t *testing.T) {
	r := NewRegistry(core.DiscardLogger())
	s := newPipeSession(t)

	r.AddSession(s)
	r.AddSession(s)
	if got := r.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() want = 1, got = %d", got)
	}

	r.RemoveSession(s.ID())
	r.RemoveSession(s.ID())
	if got := r.SessionCount(); got != 0 {
		t.Fatalf("SessionCount() want = 0, got = %d", got)
	}
}

func TestRegistry_AddClient(t *testing.T) {
	r := NewRegistry(core.DiscardLogger())
	alice, _ := addTestClient(t, r, "Alice", 42)

	if got := r.Client("alice"); got != alice {
		t.Errorf("Client(alice) want = %p, got = %p", alice, got)
	}
	if got := r.UnregisteredClientByConnectionID(42); got != alice {
		t.Errorf("UnregisteredClientByConnectionID(42) want = %p, got = %p", alice, got)
	}
	if !r.IsClientConnected("ALICE") {
		t.Error("expected ALICE to be connected")
	}

	other := newClient("aLiCe", true, 0, core.DiscardLogger())
	err := r.AddClient(other, newPipeSession(t), &protocol.AuthenticationSuccessful{})
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("AddClient() with a colliding name want = %v, got = %v", ErrNameTaken, err)
	}

	r.RemoveClient(alice)
	if r.Client("alice") != nil || r.UnregisteredClientByConnectionID(42) != nil {
		t.Error("expected alice to be gone from every index")
	}
}

func TestRegistry_SweepTiming(t *testing.T) {
	const timeout = 120 * time.Second
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	r := NewRegistry(core.DiscardLogger())
	x, s := addTestClient(t, r, "x", 7)
	s.Close()
	if !r.MarkDisconnected(x, s, t0) {
		t.Fatal("MarkDisconnected() did not mark the client")
	}
	if r.IsClientConnected("x") {
		t.Error("expected x to be disconnected")
	}

	var lost []string
	recordLost := func(c *Client) error {
		lost = append(lost, c.Name())
		return nil
	}

	if purged := r.Sweep(t0.Add(119*time.Second), timeout, recordLost); len(purged) != 0 {
		t.Fatalf("sweep at t0+119s purged %d clients", len(purged))
	}
	if r.UnregisteredClientByConnectionID(7) != x {
		t.Fatal("expected x to still be resumable at t0+119s")
	}

	purged := r.Sweep(t0.Add(121*time.Second), timeout, recordLost)
	if len(purged) != 1 || purged[0] != x {
		t.Fatalf("sweep at t0+121s want = [x], got = %v", purged)
	}
	if len(lost) != 1 || lost[0] != "x" {
		t.Errorf("lost callback want = [x], got = %v", lost)
	}
	if r.UnregisteredClientByConnectionID(7) != nil || r.Client("x") != nil {
		t.Error("expected x to be purged from every index")
	}
	if len(r.Disconnected()) != 0 {
		t.Error("expected the disconnected set to be empty")
	}

	if _, ok := r.Reattach(x, newPipeSession(t), &protocol.AuthenticationSuccessful{}); ok {
		t.Error("Reattach() succeeded for a purged client")
	}
}

func TestRegistry_SweepSkipsLiveSessions(t *testing.T) {
	t0 := time.Now()
	r := NewRegistry(core.DiscardLogger())
	c, s := addTestClient(t, r, "spurious", 3)

	// The session is still up: the mark is stale.
	r.MarkDisconnected(c, s, t0)
	if purged := r.Sweep(t0.Add(time.Hour), time.Minute, func(*Client) error { return nil }); len(purged) != 0 {
		t.Fatalf("Sweep() purged a client with a live session")
	}
	if !r.IsClientConnected("spurious") {
		t.Error("expected the stale mark to be cleared")
	}
	if !c.DisconnectedAt().IsZero() {
		t.Error("expected the disconnection time to be reset")
	}
}

func TestRegistry_SweepContinuesAfterFailures(t *testing.T) {
	t0 := time.Now()
	r := NewRegistry(core.DiscardLogger())

	names := []string{"a", "b", "c"}
	for i, name := range names {
		c, s := addTestClient(t, r, name, uint64(i+1))
		s.Close()
		r.MarkDisconnected(c, s, t0)
	}

	seen := map[string]bool{}
	purged := r.Sweep(t0.Add(time.Hour), time.Minute, func(c *Client) error {
		seen[c.Name()] = true
		switch c.Name() {
		case "a":
			return errors.New("boom")
		case "b":
			panic("kaboom")
		}
		return nil
	})

	if len(purged) != 3 {
		t.Fatalf("Sweep() want = 3 purged clients, got = %d", len(purged))
	}
	for _, name := range names {
		if !seen[name] {
			t.Errorf("lost callback was not called for %s", name)
		}
	}
}

func TestRegistry_SweepHoldsNameUntilLostReturns(t *testing.T) {
	t0 := time.Now()
	r := NewRegistry(core.DiscardLogger())
	old, s := addTestClient(t, r, "alice", 5)
	s.Close()
	r.MarkDisconnected(old, s, t0)

	var claimErr error
	var resumed bool
	purged := r.Sweep(t0.Add(time.Hour), time.Minute, func(c *Client) error {
		// A new identity and a resume both race the removal of the players.
		fresh := newClient("Alice", false, 6, core.DiscardLogger())
		claimErr = r.AddClient(fresh, newPipeSession(t), &protocol.AuthenticationSuccessful{ConnectionID: 6})
		_, resumed = r.Reattach(c, newPipeSession(t), &protocol.AuthenticationSuccessful{ConnectionID: 5})
		if r.IsClientConnected("alice") {
			t.Error("expected the client being purged to be reported as disconnected")
		}
		return nil
	})

	if len(purged) != 1 || purged[0] != old {
		t.Fatalf("Sweep() want = [alice], got = %v", purged)
	}
	if !errors.Is(claimErr, ErrNameTaken) {
		t.Errorf("AddClient() during the purge want = ErrNameTaken, got = %v", claimErr)
	}
	if resumed {
		t.Error("Reattach() succeeded for a client being purged")
	}
	if r.Client("alice") != nil || r.UnregisteredClientByConnectionID(5) != nil {
		t.Error("expected alice to be removed from every index after the sweep")
	}

	fresh, _ := addTestClient(t, r, "alice", 7)
	if r.Client("alice") != fresh {
		t.Error("expected the name to be free once the sweep returned")
	}
}

func TestRegistry_SweepRemovesClientWhenLostPanics(t *testing.T) {
	t0 := time.Now()
	r := NewRegistry(core.DiscardLogger())
	c, s := addTestClient(t, r, "fragile", 8)
	s.Close()
	r.MarkDisconnected(c, s, t0)

	r.Sweep(t0.Add(time.Hour), time.Minute, func(*Client) error { panic("kaboom") })
	if r.Client("fragile") != nil {
		t.Error("expected the client to be removed even though lost panicked")
	}
}

func TestRegistry_MarkDisconnectedIgnoresReplacedSessions(t *testing.T) {
	r := NewRegistry(core.DiscardLogger())
	c, old := addTestClient(t, r, "moving", 9)

	replaced, ok := r.Reattach(c, newPipeSession(t), &protocol.AuthenticationSuccessful{ConnectionID: 9})
	if !ok || replaced != old {
		t.Fatalf("Reattach() want = (old session, true), got = (%v, %t)", replaced, ok)
	}
	if r.MarkDisconnected(c, old, time.Now()) {
		t.Error("MarkDisconnected() marked the client for a session it no longer uses")
	}
	if !r.IsClientConnected("moving") {
		t.Error("expected the client to stay connected")
	}
}

func TestClient_HoldsEventsWhileDisconnected(t *testing.T) {
	r := NewRegistry(core.DiscardLogger())
	c, s := addTestClient(t, r, "held", 11)
	s.Close()
	r.MarkDisconnected(c, s, time.Now())

	c.Send(msg.NewGameLeft())
	c.Send(msg.NewGameFull())
	if got := c.heldEvents(); got != 2 {
		t.Fatalf("heldEvents() want = 2, got = %d", got)
	}

	if _, ok := r.Reattach(c, newPipeSession(t), &protocol.AuthenticationSuccessful{ConnectionID: 11}); !ok {
		t.Fatal("Reattach() failed")
	}
	if got := c.heldEvents(); got != 0 {
		t.Errorf("heldEvents() after reattaching want = 0, got = %d", got)
	}

	s2 := c.Session()
	s2.Close()
	r.MarkDisconnected(c, s2, time.Now())
	for i := 0; i < pendingLimit+10; i++ {
		c.Send(msg.NewGameLeft())
	}
	if got := c.heldEvents(); got != pendingLimit {
		t.Errorf("heldEvents() want = %d, got = %d", pendingLimit, got)
	}
}

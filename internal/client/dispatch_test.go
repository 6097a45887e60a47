package client

import (
	"encoding/json"
	"testing"

	"github.com/go-test/deep"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
)

func addressed[E msg.Event](e E, gameID, playerID uint64) E {
	e.Address(msg.Target{GameID: gameID, PlayerID: playerID}, msg.Unicast)
	return e
}

// drain returns the kinds of the events waiting on ch.
func drain(ch <-chan msg.Event) []msg.EventKind {
	var kinds []msg.EventKind
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return kinds
			}
			kinds = append(kinds, e.Kind())
		default:
			return kinds
		}
	}
}

func newOfflineClient(ui UI) *Client {
	return New(Options{Name: "alice", Catalog: msg.NewCatalog(), Logger: core.DiscardLogger(), UI: ui})
}

func TestDeliver_Validation(t *testing.T) {
	ui := &recordingUI{}
	c := newOfflineClient(ui)
	p := c.addPlayer("home", "Alice", 0)
	events := p.Subscribe()
	game := msg.GameDescription{ID: 5, Plugin: "relay"}

	c.deliver("home", addressed(msg.NewGameCreationStarted(game), 5, p.ID()))
	if p.Phase() != PhaseCreation || p.GameID() != 5 {
		t.Fatalf("unexpected player state: phase=%s game=%d", p.Phase(), p.GameID())
	}

	inconsistent := addressed(msg.NewGameLeft(), 5, p.ID())
	inconsistent.Tag = msg.KindGameDestroyed

	dropped := map[string]msg.Event{
		"game_event_in_creation": addressed(msg.NewYourTurn(1, 0), 5, p.ID()),
		"other_game":             addressed(msg.NewConfigurationUpdate(json.RawMessage(`{}`), 4), 6, p.ID()),
		"unknown_player":         addressed(msg.NewConfigurationUpdate(json.RawMessage(`{}`), 4), 5, p.ID()+1),
		"inconsistent_type":      inconsistent,
	}
	for name, e := range dropped {
		c.deliver("home", e)
		if c.Player(p.ID()) == nil {
			t.Fatalf("%s: the player was dropped", name)
		}
	}
	if diff := deep.Equal(drain(events), []msg.EventKind{msg.KindGameCreationStarted}); diff != nil {
		t.Fatalf("mismatched events were delivered: %v", diff)
	}

	// Same ids, other server.
	c.deliver("away", addressed(msg.NewConfigurationUpdate(json.RawMessage(`{}`), 4), 5, p.ID()))
	if kinds := drain(events); len(kinds) != 0 {
		t.Errorf("an event from another server was delivered: %v", kinds)
	}

	list := msg.NewPlayerListUpdate(nil)
	list.Address(msg.Target{GameID: 5}, msg.Multicast)
	c.deliver("home", list)
	c.deliver("home", addressed(msg.NewGameStarted(), 5, p.ID()))
	c.deliver("home", addressed(msg.NewYourTurn(1, 0), 5, p.ID()))
	want := []msg.EventKind{msg.KindPlayerListUpdate, msg.KindGameStarted, msg.KindYourTurn}
	if diff := deep.Equal(drain(events), want); diff != nil {
		t.Errorf("unexpected events: %v", diff)
	}
	if p.Phase() != PhaseActive {
		t.Errorf("Phase() want = %s, got = %s", PhaseActive, p.Phase())
	}
	if creation, games := ui.snapshot(); len(creation) != 1 || games != 1 {
		t.Errorf("unexpected UI calls: creation=%v games=%d", creation, games)
	}

	c.deliver("home", addressed(msg.NewGameDestroyed("over"), 5, p.ID()))
	if diff := deep.Equal(drain(events), []msg.EventKind{msg.KindGameDestroyed}); diff != nil {
		t.Errorf("unexpected events: %v", diff)
	}
	if c.Player(p.ID()) != nil {
		t.Error("expected the player to be dropped after GameDestroyed")
	}
}

func TestDeliver_TerminalEvents(t *testing.T) {
	terminal := map[string]func() msg.Event{
		"kicked":    func() msg.Event { return msg.NewKickedFromGame() },
		"left":      func() msg.Event { return msg.NewGameLeft() },
		"destroyed": func() msg.Event { return msg.NewGameDestroyed("bye") },
		"full":      func() msg.Event { return msg.NewGameFull() },
	}
	for name, build := range terminal {
		t.Run(name, func(t *testing.T) {
			c := newOfflineClient(nil)
			// A pending joiner already knows the game it asked for.
			p := c.addPlayer("home", "Bob", 9)
			events := p.Subscribe()

			e := build()
			e.Address(msg.Target{GameID: 9, PlayerID: p.ID()}, msg.Unicast)
			c.deliver("home", e)

			if c.Player(p.ID()) != nil {
				t.Error("expected the player to be dropped")
			}
			if diff := deep.Equal(drain(events), []msg.EventKind{e.Kind()}); diff != nil {
				t.Errorf("unexpected events: %v", diff)
			}
			if _, ok := <-p.Subscribe(); ok {
				t.Error("subscribing to a dropped player should yield a closed channel")
			}
		})
	}
}

func TestDeliver_JoinedActiveGame(t *testing.T) {
	ui := &recordingUI{}
	c := newOfflineClient(ui)
	p := c.addPlayer("home", "Bob", 3)

	c.deliver("home", addressed(msg.NewGameJoined(msg.GameDescription{ID: 3, Active: true}), 3, p.ID()))
	if p.Phase() != PhaseActive || p.IsCreator() {
		t.Errorf("unexpected player state: phase=%s creator=%t", p.Phase(), p.IsCreator())
	}
	if creation, games := ui.snapshot(); len(creation) != 0 || games != 1 {
		t.Errorf("unexpected UI calls: creation=%v games=%d", creation, games)
	}

	// A second answer for the same request is ignored.
	c.deliver("home", addressed(msg.NewGameJoined(msg.GameDescription{ID: 3}), 3, p.ID()))
	if p.Phase() != PhaseActive {
		t.Errorf("a duplicate GameJoined changed the phase to %s", p.Phase())
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		PhasePending:  "pending",
		PhaseCreation: "in creation",
		PhaseActive:   "active",
		Phase(9):      "Phase(9)",
	}
	for phase, want := range tests {
		if got := phase.String(); got != want {
			t.Errorf("String() want = %s, got = %s", want, got)
		}
	}
}

package msg

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// swapPayload returns a payload of another type carrying kind as its tag.
func swapAction(t *testing.T, c *Catalog, kind ActionKind) Action {
	t.Helper()
	kinds := c.ActionKinds()
	want, _ := c.Action(kind)
	for _, k := range kinds {
		spec, _ := c.Action(k)
		if spec.Type == want.Type {
			continue
		}
		a, err := c.NewAction(k)
		if err != nil {
			t.Fatalf("NewAction(%q) returned an unexpected error: %v", k, err)
		}
		a.(interface{ header() *ActionHeader }).header().Tag = kind
		return a
	}
	t.Fatalf("no other payload type than %v registered", want.Type)
	return nil
}

func swapEvent(t *testing.T, c *Catalog, kind EventKind) Event {
	t.Helper()
	want, _ := c.Event(kind)
	for _, k := range c.EventKinds() {
		spec, _ := c.Event(k)
		if spec.Type == want.Type {
			continue
		}
		e, err := c.NewEvent(k)
		if err != nil {
			t.Fatalf("NewEvent(%q) returned an unexpected error: %v", k, err)
		}
		e.(interface{ header() *EventHeader }).header().Tag = kind
		return e
	}
	t.Fatalf("no other payload type than %v registered", want.Type)
	return nil
}

func TestActionRouter_InconsistentType(t *testing.T) {
	catalog := NewCatalog()
	router := NewActionRouter[*int](catalog)

	calls := 0
	router.Fallback(func(_ *int, _ Action) error {
		calls++
		return nil
	})
	On(router, KindJoinGame, func(_ *int, _ *JoinGame) error {
		calls++
		return nil
	})

	for _, kind := range catalog.ActionKinds() {
		t.Run(string(kind), func(t *testing.T) {
			a := swapAction(t, catalog, kind)
			err := router.Dispatch(nil, a)
			if !errors.Is(err, ErrInconsistentType) {
				t.Fatalf("expected ErrInconsistentType dispatching %T as %q, got %v", a, kind, err)
			}
			if calls != 0 {
				t.Fatalf("expected no handler to be invoked, got %d calls", calls)
			}
		})
	}
}

func TestEventRouter_InconsistentType(t *testing.T) {
	catalog := NewCatalog()
	router := NewEventRouter[string](catalog)

	calls := 0
	router.Fallback(func(_ string, _ Event) error {
		calls++
		return nil
	})

	for _, kind := range catalog.EventKinds() {
		t.Run(string(kind), func(t *testing.T) {
			e := swapEvent(t, catalog, kind)
			if _, err := catalog.CheckEvent(e); !errors.Is(err, ErrInconsistentType) {
				t.Fatalf("CheckEvent() expected ErrInconsistentType, got %v", err)
			}
			if err := router.Dispatch("server", e); !errors.Is(err, ErrInconsistentType) {
				t.Fatalf("Dispatch() expected ErrInconsistentType, got %v", err)
			}
			if calls != 0 {
				t.Fatalf("expected no handler to be invoked, got %d calls", calls)
			}
		})
	}
}

func TestRouter_Dispatch(t *testing.T) {
	catalog := NewCatalog()
	router := NewActionRouter[string](catalog, FamilyGameCtrl, FamilyGameCreation)

	var got []string
	On(router, KindJoinGame, func(client string, a *JoinGame) error {
		got = append(got, client+":"+a.PlayerName)
		return nil
	})
	On(router, KindUpdateStatus, func(client string, a *UpdateStatus) error {
		if a.Ready {
			got = append(got, client+":ready")
		}
		return nil
	})

	join := NewJoinGame("bob")
	join.Address(Target{GameID: 1, PlayerID: 7})

	tests := []struct {
		name    string
		action  Action
		wantErr error
	}{
		{"join", join, nil},
		{"ready", NewUpdateStatus(true), nil},
		{"no_handler", NewLeaveGame(), ErrNoHandler},
		{"wrong_family", NewEndTurn(), ErrWrongFamily},
		{"control_family", NewCreateGame("relay", "alice"), ErrWrongFamily},
		{"unknown_kind", &LeaveGame{ActionHeader: ActionHeader{Tag: "teleport"}}, ErrUnknownKind},
		{"nil_payload", (*LeaveGame)(nil), ErrInconsistentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := router.Dispatch("bob", tt.action)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Dispatch() returned an unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Dispatch() expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if diff := cmp.Diff([]string{"bob:bob", "bob:ready"}, got); diff != "" {
		t.Errorf("unexpected handler calls; diff:\n%s", diff)
	}
	if join.Target() != (Target{GameID: 1, PlayerID: 7}) {
		t.Errorf("unexpected target %+v", join.Target())
	}
}

func TestOn_PanicsOnMismatchedHandler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected On() to panic")
		}
	}()
	router := NewActionRouter[string](NewCatalog())
	On(router, KindJoinGame, func(_ string, _ *LeaveGame) error { return nil })
}

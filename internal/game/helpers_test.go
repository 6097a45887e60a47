package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/timer"
)

// recorder is an Outbox keeping every event per client.
type recorder struct {
	mu     sync.Mutex
	events map[string][]msg.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]msg.Event)}
}

func (o *recorder) Send(client string, e msg.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[client] = append(o.events[client], e)
}

func (o *recorder) kinds(client string) []msg.EventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var kinds []msg.EventKind
	for _, e := range o.events[client] {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}

func (o *recorder) count(client string, kind msg.EventKind) int {
	n := 0
	for _, k := range o.kinds(client) {
		if k == kind {
			n++
		}
	}
	return n
}

func (o *recorder) last(client string) msg.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	events := o.events[client]
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func (o *recorder) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = make(map[string][]msg.Event)
}

type testConfig struct {
	Max int `json:"max_players"`
}

func (c *testConfig) MaxPlayers() int { return c.Max }

type testPlugin struct {
	max int

	mu        sync.Mutex
	instances []*testInstance
}

func (p *testPlugin) Name() string                          { return "test" }
func (p *testPlugin) RegisterMessages(_ *msg.Catalog) error { return nil }
func (p *testPlugin) NewGameConfiguration() Configuration   { return &testConfig{Max: p.max} }
func (p *testPlugin) NewPlayerConfiguration() json.RawMessage {
	return json.RawMessage(`{}`)
}
func (p *testPlugin) Describe(cfg Configuration) string { return fmt.Sprintf("up to %d", cfg.MaxPlayers()) }
func (p *testPlugin) NewAIName(id uint64) string        { return fmt.Sprintf("ai-%d", id) }

func (p *testPlugin) DecodeGameConfiguration(raw json.RawMessage) (Configuration, error) {
	cfg := &testConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if cfg.Max < 1 {
		return nil, errors.New("max_players must be positive")
	}
	return cfg, nil
}

func (p *testPlugin) ValidatePlayerConfiguration(raw json.RawMessage) error {
	if !json.Valid(raw) {
		return errors.New("not JSON")
	}
	return nil
}

func (p *testPlugin) NewGame(t Table, _ Configuration, _ []msg.PlayerInfo) (Instance, error) {
	inst := &testInstance{table: t, joinable: true, timeouts: make(chan struct{}, 8)}
	p.mu.Lock()
	p.instances = append(p.instances, inst)
	p.mu.Unlock()
	return inst, nil
}

func (p *testPlugin) instance(i int) *testInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instances[i]
}

// testInstance ends the turn of whoever sends EndTurn and restarts the
// turn timer.
type testInstance struct {
	table    Table
	joinable bool
	started  bool
	actions  []msg.Action
	joined   []msg.PlayerInfo
	left     []msg.PlayerRef
	timeouts chan struct{}
}

func (i *testInstance) Start() { i.started = true }

func (i *testInstance) HandleAction(from msg.PlayerRef, a msg.Action) error {
	i.actions = append(i.actions, a)
	i.table.Send(from, msg.NewYourTurn(1, 0))
	return nil
}

func (i *testInstance) PlayerJoined(p msg.PlayerInfo) { i.joined = append(i.joined, p) }
func (i *testInstance) PlayerLeft(p msg.PlayerRef)    { i.left = append(i.left, p) }
func (i *testInstance) IsJoinable() bool              { return i.joinable }

func (i *testInstance) TimeoutReached() {
	i.table.Broadcast(func() msg.Event { return msg.NewTurnTimeout(msg.PlayerRef{}) })
	i.timeouts <- struct{}{}
}

type fixture struct {
	registry *Registry
	outbox   *recorder
	plugin   *testPlugin
	timers   *timer.Scheduler
}

func newFixture(t *testing.T, maxPlayers int) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	timers := timer.NewScheduler(2, 16, core.DiscardLogger())
	timers.Start(ctx)
	t.Cleanup(func() {
		cancel()
		timers.Wait()
	})

	f := &fixture{outbox: newRecorder(), plugin: &testPlugin{max: maxPlayers}, timers: timers}
	f.registry = NewRegistry(Options{
		Catalog: msg.NewCatalog(),
		Outbox:  f.outbox,
		Timers:  timers,
		Logger:  core.DiscardLogger(),
	})
	if err := f.registry.RegisterPlugin(f.plugin); err != nil {
		t.Fatalf("RegisterPlugin() returned an unexpected error: %v", err)
	}
	return f
}

func (f *fixture) create(t *testing.T, client string, playerID uint64) uint64 {
	t.Helper()
	a := msg.NewCreateGame("test", client)
	a.Address(msg.Target{PlayerID: playerID})
	if err := f.registry.CreateGame(client, a); err != nil {
		t.Fatalf("CreateGame() returned an unexpected error: %v", err)
	}
	started, ok := f.outbox.last(client).(*msg.PlayerListUpdate)
	if !ok {
		t.Fatalf("expected a PlayerListUpdate after creating a game, got %T", f.outbox.last(client))
	}
	return started.Target().GameID
}

func (f *fixture) do(t *testing.T, client string, gameID, playerID uint64, a msg.Action) {
	t.Helper()
	if err := f.try(client, gameID, playerID, a); err != nil {
		t.Fatalf("Dispatch(%s) returned an unexpected error: %v", a.Kind(), err)
	}
}

func (f *fixture) try(client string, gameID, playerID uint64, a msg.Action) error {
	a.Address(msg.Target{GameID: gameID, PlayerID: playerID})
	return f.registry.Dispatch(client, a)
}

// start readies every listed player and starts the game as its creator.
func (f *fixture) start(t *testing.T, gameID uint64, creator msg.PlayerRef, others ...msg.PlayerRef) {
	t.Helper()
	for _, p := range others {
		f.do(t, p.Client, gameID, p.ID, msg.NewUpdateStatus(true))
	}
	f.do(t, creator.Client, gameID, creator.ID, msg.NewStartGame())
	if d, ok := f.registry.Describe(gameID); !ok || !d.Active {
		t.Fatalf("expected game %d to be active, got %+v", gameID, d)
	}
}

package client

import (
	"sync"

	"github.com/rallypoint/rallypoint/internal/msg"
)

// Game is the client side of a game plugin.
type Game interface {
	Name() string
	RegisterMessages(c *msg.Catalog) error
}

// FactoryMaker is implemented by games that need their own GameFactory.
type FactoryMaker interface {
	NewFactory() GameFactory
}

// GameFactory holds the client-side state of one game a local player takes
// part in. It is handed to the UI hooks.
type GameFactory interface {
	Init(isCreator bool, c *Client, server string, gameID uint64)
}

// BasicFactory records its initialization and nothing else. Games that do
// not provide a factory of their own get one.
type BasicFactory struct {
	Plugin string

	mu        sync.Mutex
	isCreator bool
	client    *Client
	server    string
	gameID    uint64
}

func (f *BasicFactory) Init(isCreator bool, c *Client, server string, gameID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isCreator = isCreator
	f.client = c
	f.server = server
	f.gameID = gameID
}

func (f *BasicFactory) IsCreator() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isCreator
}

func (f *BasicFactory) Server() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server
}

func (f *BasicFactory) GameID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gameID
}

// UI is notified when a game needs to be shown. Hooks are called from the
// connection goroutine and must not block.
type UI interface {
	GameCreationRequested(f GameFactory, isCreator bool)
	GameRequested(f GameFactory)
}

type noUI struct{}

func (noUI) GameCreationRequested(GameFactory, bool) {}
func (noUI) GameRequested(GameFactory)               {}

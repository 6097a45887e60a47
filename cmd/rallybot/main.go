// Command rallybot is a scripted client. It connects to the servers listed in
// the client section of the config and can create or join a game, readying
// up and ending its turns as soon as they start.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rallypoint/rallypoint/internal/client"
	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/relay"
)

type flags struct {
	config  string
	server  string
	player  string
	create  string
	join    uint64
	players int
}

func (f *flags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.config, "config", "c", ".", "Path to the directory containing config.yaml")
	fs.StringVarP(&f.server, "server", "s", "", "Server to play on (defaults to the first configured server)")
	fs.StringVarP(&f.player, "player", "p", "", "Name of the local player (defaults to the client name)")
	fs.StringVar(&f.create, "create", "", "Plugin of a game to create")
	fs.Uint64Var(&f.join, "join", 0, "ID of a game to join")
	fs.IntVar(&f.players, "players", 2, "Number of players to wait for before starting a created game")
}

func main() {
	var f flags
	rootCmd := &cobra.Command{
		Use:   "rallybot",
		Short: "Scripted Rallypoint client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&f)
		},
	}
	f.bind(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(f *flags) error {
	cfg, err := core.LoadConfig(f.config)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", f.config, err)
	}
	if len(cfg.Client.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}
	logger, err := core.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	opts := client.OptionsFromConfig(cfg)
	opts.Catalog = msg.NewCatalog()
	opts.Logger = logger
	c := client.New(opts)
	if err := c.RegisterGame(relay.New()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, target := range cfg.Client.Servers {
		if _, err := c.Connect(ctx, &wg, target); err != nil {
			return err
		}
	}

	server := f.server
	if server == "" {
		server = cfg.Client.Servers[0].Name
	}
	conn := c.Connector(server)
	if conn == nil {
		return fmt.Errorf("%w: %s", client.ErrUnknownServer, server)
	}
	if err := conn.WaitReady(ctx); err != nil {
		return err
	}

	name := f.player
	if name == "" {
		name = cfg.Client.Name
	}
	b := &bot{logger: logger.WithField("player", name), startAt: f.players}
	switch {
	case f.create != "":
		b.player, err = c.CreateGame(server, f.create, name)
	case f.join != 0:
		b.player, err = c.JoinGame(server, f.join, name)
	default:
		go logServerEvents(ctx, c.Subscribe(), logger)
		err = c.AskServerState(server)
	}
	if err != nil {
		return err
	}

	if b.player != nil {
		b.play(ctx)
		stop()
	}
	<-ctx.Done()
	return nil
}

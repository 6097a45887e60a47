package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/core/auth"
	"github.com/rallypoint/rallypoint/internal/core/data"
	"github.com/rallypoint/rallypoint/internal/core/debug"
	"github.com/rallypoint/rallypoint/internal/game"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/relay"
	"github.com/rallypoint/rallypoint/internal/server"
	"github.com/rallypoint/rallypoint/internal/timer"
	"github.com/rallypoint/rallypoint/internal/web"
)

// Controller is the main entrypoint for a game server. It's responsible for
// initializing any shared resources (such as database and logging), defining
// the endpoints, and launching everything.
type Controller struct {
	Config *core.Config
	// Plugins served in addition to the built-in relay game.
	Plugins []game.Plugin

	logger *logrus.Logger
	db     *gorm.DB
	timers *timer.Scheduler
	wg     sync.WaitGroup

	server   *server.Server
	frontend *server.Frontend
}

// Start blocks until ctx is cancelled and every endpoint has stopped.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be used by all components.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	c.db, err = data.Open(c.Config)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	// Anything started below stops when Start returns.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.Config.Debugging.PprofPort > 0 {
		debug.StartPprofServer(ctx, &c.wg, c.logger, c.Config.Debugging.PprofPort)
	}

	c.timers = timer.NewScheduler(c.Config.TurnWorkers, 64, c.logger)
	c.timers.Start(ctx)

	if err := c.declareServer(); err != nil {
		return err
	}
	return c.run(ctx)
}

func (c *Controller) declareServer() error {
	c.server = server.New(server.Options{
		Config:   c.Config,
		Logger:   c.logger,
		Catalog:  msg.NewCatalog(),
		Accounts: auth.NewService(c.db, c.logger),
		Timers:   c.timers,
	})

	plugins := append([]game.Plugin{relay.New()}, c.Plugins...)
	for _, p := range plugins {
		if err := c.server.RegisterPlugin(p); err != nil {
			return fmt.Errorf("error registering plugin %s: %w", p.Name(), err)
		}
	}

	c.frontend = &server.Frontend{
		Address: c.Config.ListenAddress(),
		Server:  c.server,
	}
	return nil
}

func (c *Controller) run(ctx context.Context) error {
	// Failure to open one of the endpoints is considered terminal.
	if err := c.frontend.Start(ctx, &c.wg); err != nil {
		return err
	}
	c.logger.Infof("registration policy is %s", c.Config.RegistrationType)

	if c.Config.Web.HTTPPort > 0 {
		status := web.New(ctx, c.server, c.logger)
		if err := status.Start(ctx, &c.wg, c.buildAddress(c.Config.Web.HTTPPort)); err != nil {
			return err
		}
	}

	c.server.Start()
	c.wg.Wait()
	return nil
}

func (c *Controller) buildAddress(port int) string {
	return fmt.Sprintf("%s:%v", c.Config.Hostname, port)
}

// Shutdown waits for the endpoints and timer workers to stop before
// releasing the database.
func (c *Controller) Shutdown() {
	c.wg.Wait()
	if c.timers != nil {
		c.timers.Wait()
	}
	if err := data.Close(c.db); err != nil {
		c.logger.Errorf("error closing database: %v", err)
	}
}

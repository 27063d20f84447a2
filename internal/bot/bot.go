// Package bot owns the configured server connections, the event loop they
// share and the plugin registry.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iobot/iobot/internal/config"
	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/plugin"
	"github.com/iobot/iobot/internal/plugins/admin"
	"github.com/iobot/iobot/internal/plugins/echo"
	"github.com/iobot/iobot/internal/plugins/links"
	"github.com/iobot/iobot/internal/plugins/relay"
	"github.com/iobot/iobot/internal/sched"
	"github.com/iobot/iobot/internal/storage"
	"github.com/iobot/iobot/internal/telemetry"
)

const (
	quitMessage = "shutting down"
	quitGrace   = 2 * time.Second
)

// Bot runs every configured connection until its context is done.
type Bot struct {
	cfg      *config.Config
	log      *slog.Logger
	dial     irc.DialFunc
	loop     *sched.Loop
	registry *plugin.Registry
	journal  *storage.Journal
	conns    []*irc.Connection

	stopping atomic.Bool
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.log = l }
}

// WithDialer replaces the network dialer of every connection.
func WithDialer(d irc.DialFunc) Option {
	return func(b *Bot) { b.dial = d }
}

// New builds the bot, registers the bundled plugins and loads the ones named
// in cfg.Plugins.
func New(cfg *config.Config, opts ...Option) (*Bot, error) {
	b := &Bot{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}

	journal, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	b.journal = journal
	b.loop = sched.New(b.log)
	b.registry = plugin.NewRegistry(plugin.WithLogger(b.log), plugin.WithAuditor(journal))

	b.registry.Register("admin", admin.Factory(b.registry, journal))
	b.registry.Register("echo", echo.Factory(b.loop, 0))
	b.registry.Register("links", links.Factory(b.loop, 0))
	if len(cfg.Relay.Brokers) > 0 {
		b.registry.Register("relay", relay.Factory(cfg.Relay))
	}

	for _, name := range cfg.Plugins {
		if err := b.registry.Load(name); err != nil {
			return nil, fmt.Errorf("plugin %s: %w", name, err)
		}
	}

	for _, name := range cfg.ServerNames() {
		connOpts := []irc.Option{
			irc.WithDispatcher(b),
			irc.WithExecutor(b.loop),
			irc.WithLogger(b.log),
		}
		if b.dial != nil {
			connOpts = append(connOpts, irc.WithDialer(b.dial))
		}
		b.conns = append(b.conns, irc.NewConnection(cfg.Servers[name], connOpts...))
	}
	return b, nil
}

// Register makes an extra plugin available to Load.
func (b *Bot) Register(name string, f plugin.Factory) {
	b.registry.Register(name, f)
}

// Load loads a registered plugin into the shared registry.
func (b *Bot) Load(name string) error { return b.registry.Load(name) }

// Unload removes a plugin's commands and hooks.
func (b *Bot) Unload(name string) error { return b.registry.Unload(name) }

// Reload replaces a loaded plugin with a fresh instance.
func (b *Bot) Reload(name string) error { return b.registry.Reload(name) }

// Connections returns the managed connections in server-name order.
func (b *Bot) Connections() []*irc.Connection {
	return b.conns
}

// Run drives the event loop and every connection. Once ctx is done the bot
// says QUIT, gives the servers a moment to close, then tears everything down.
func (b *Bot) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return b.loop.Run(gctx) })

	if b.cfg.MetricsAddr != "" {
		g.Go(func() error { return telemetry.Serve(gctx, b.cfg.MetricsAddr, telemetry.NewMux(b)) })
	}

	var wg sync.WaitGroup
	for _, c := range b.conns {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			b.runConnection(gctx, c)
			return nil
		})
	}
	connsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(connsDone)
	}()

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gctx.Done():
			return nil
		}
		b.quit(quitMessage)
		timer := time.NewTimer(quitGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-connsDone:
		case <-gctx.Done():
		}
		cancel()
		return nil
	})

	err := g.Wait()
	for _, name := range b.registry.Loaded() {
		if uerr := b.registry.Unload(name); uerr != nil {
			b.log.Warn("unload on shutdown failed", "plugin", name, "err", uerr)
		}
	}
	return err
}

// runConnection keeps one connection alive, reconnecting after the
// configured delay. A failing connection never stops its siblings.
func (b *Bot) runConnection(ctx context.Context, c *irc.Connection) {
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil || b.stopping.Load() {
			return
		}
		b.journal.Notice(c.Name, fmt.Sprintf("disconnected: %v", err))

		delay := c.Config().ReconnectDelay
		if delay <= 0 {
			c.Logger().Error("connection ended, reconnect disabled", "err", err)
			return
		}
		c.Logger().Info("reconnecting", "in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (b *Bot) quit(reason string) {
	b.stopping.Store(true)
	for _, c := range b.conns {
		if c.State() == irc.StateDisconnected {
			continue
		}
		if err := c.Quit(reason); err != nil {
			c.Logger().Warn("quit failed", "err", err)
		}
	}
}

// Dispatch records notable server events and hands every event to the
// plugin registry.
func (b *Bot) Dispatch(ctx context.Context, c *irc.Connection, ev *irc.Event) {
	switch ev.Type {
	case "001":
		b.journal.Notice(c.Name, "connected as "+c.Nick())
	case "KICK":
		if len(ev.Parameters) > 0 && strings.EqualFold(ev.Parameters[0], c.Nick()) {
			b.journal.Notice(c.Name, fmt.Sprintf("kicked from %s by %s: %s", ev.Destination, ev.Nick, ev.Text))
		}
	case "ERROR":
		b.journal.Notice(c.Name, "server error: "+ev.Text)
	}
	b.registry.Dispatch(ctx, c, ev)
}

// Ready reports whether any connection is registered.
func (b *Bot) Ready() bool {
	for _, c := range b.conns {
		if c.State() == irc.StateReady {
			return true
		}
	}
	return false
}

// Status is the JSON body of /status.
type Status struct {
	Plugins     []string     `json:"plugins"`
	Connections []irc.Status `json:"connections"`
}

// Snapshot reports connection states and loaded plugins.
func (b *Bot) Snapshot() any {
	return b.Status()
}

// Status snapshots the bot.
func (b *Bot) Status() Status {
	s := Status{Plugins: b.registry.Loaded()}
	for _, c := range b.conns {
		s.Connections = append(s.Connections, c.Status())
	}
	return s
}

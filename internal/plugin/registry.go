package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/telemetry"
)

var (
	ErrUnknownPlugin    = errors.New("unknown plugin")
	ErrAlreadyLoaded    = errors.New("plugin already loaded")
	ErrNotLoaded        = errors.New("plugin not loaded")
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrInvalidPlugin    = errors.New("invalid plugin")
)

type commandEntry struct {
	owner string
	cmd   Command
}

type hookEntry struct {
	owner string
	hook  Hook
}

// Registry is the bot-wide plugin registry. Load, Unload and Reload take an
// exclusive lock; Dispatch works from a snapshot taken under a read lock, so
// an event never observes a registry that is half way through a reload.
type Registry struct {
	log   *slog.Logger
	audit Auditor

	mu        sync.RWMutex
	factories map[string]Factory
	loaded    map[string]Plugin
	commands  map[string]commandEntry
	hooks     map[string][]hookEntry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithAuditor records every dispatched command to a.
func WithAuditor(a Auditor) Option {
	return func(r *Registry) { r.audit = a }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:       slog.Default(),
		factories: make(map[string]Factory),
		loaded:    make(map[string]Plugin),
		commands:  make(map[string]commandEntry),
		hooks:     make(map[string][]hookEntry),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(slog.String("component", "plugins"))
	return r
}

// Register makes a plugin available under name. It does not load it.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Load instantiates the named plugin and registers its commands and hooks.
// A command name already owned by a loaded plugin rejects the whole load.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(name)
}

// Unload removes every command and hook owned by the named plugin.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.detach(name)
	if err != nil {
		return err
	}
	closePlugin(r.log, name, p)
	r.log.Info("plugin unloaded", "plugin", name)
	return nil
}

// Reload replaces the named plugin with a fresh instance. When the new
// instance fails to load the previous one is put back.
func (r *Registry) Reload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.detach(name)
	if err != nil {
		return errors.Wrap(err, "reload")
	}
	if err := r.load(name); err != nil {
		r.attach(name, old)
		return errors.Wrap(err, "reload")
	}
	closePlugin(r.log, name, old)
	return nil
}

func (r *Registry) load(name string) error {
	f, ok := r.factories[name]
	if !ok {
		return errors.Wrapf(ErrUnknownPlugin, "load %s", name)
	}

	p, err := instantiate(f)
	if err != nil {
		return errors.Wrapf(err, "load %s", name)
	}

	seen := make(map[string]bool)
	for _, cmd := range p.Commands() {
		if cmd.Name == "" || cmd.Handler == nil || strings.ContainsAny(cmd.Name, " \t") {
			closePlugin(r.log, name, p)
			return errors.Wrapf(ErrInvalidPlugin, "load %s: bad command %q", name, cmd.Name)
		}
		if existing, ok := r.commands[cmd.Name]; ok {
			closePlugin(r.log, name, p)
			return errors.Wrapf(ErrDuplicateCommand, "load %s: %s is provided by %s", name, cmd.Name, existing.owner)
		}
		if seen[cmd.Name] {
			closePlugin(r.log, name, p)
			return errors.Wrapf(ErrDuplicateCommand, "load %s: %s declared twice", name, cmd.Name)
		}
		seen[cmd.Name] = true
	}
	for _, h := range p.Hooks() {
		if h.Type == "" || h.Handler == nil {
			closePlugin(r.log, name, p)
			return errors.Wrapf(ErrInvalidPlugin, "load %s: bad hook", name)
		}
	}
	if _, ok := r.loaded[name]; ok {
		closePlugin(r.log, name, p)
		return errors.Wrapf(ErrAlreadyLoaded, "load %s", name)
	}

	r.attach(name, p)
	r.log.Info("plugin loaded", "plugin", name, "commands", len(seen))
	return nil
}

func (r *Registry) attach(name string, p Plugin) {
	r.loaded[name] = p
	for _, cmd := range p.Commands() {
		r.commands[cmd.Name] = commandEntry{owner: name, cmd: cmd}
	}
	for _, h := range p.Hooks() {
		t := strings.ToUpper(h.Type)
		r.hooks[t] = append(r.hooks[t], hookEntry{owner: name, hook: h})
	}
	telemetry.PluginsLoaded.Set(float64(len(r.loaded)))
}

func (r *Registry) detach(name string) (Plugin, error) {
	p, ok := r.loaded[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotLoaded, "unload %s", name)
	}
	delete(r.loaded, name)
	for cmdName, e := range r.commands {
		if e.owner == name {
			delete(r.commands, cmdName)
		}
	}
	for t, hs := range r.hooks {
		kept := hs[:0:0]
		for _, h := range hs {
			if h.owner != name {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(r.hooks, t)
		} else {
			r.hooks[t] = kept
		}
	}
	telemetry.PluginsLoaded.Set(float64(len(r.loaded)))
	return p, nil
}

func instantiate(f Factory) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("constructor panicked: %v", rec)
		}
	}()
	p = f()
	if p == nil {
		return nil, errors.Wrap(ErrInvalidPlugin, "constructor returned nil")
	}
	return p, nil
}

func closePlugin(log *slog.Logger, name string, p Plugin) {
	if c, ok := p.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn("closing plugin failed", "plugin", name, "err", err)
		}
	}
}

// Loaded lists loaded plugin names, sorted.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.loaded)
}

// Available lists registered plugin names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.factories)
}

// Commands lists the currently routable command names, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.commands)
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.commands[name]
	return e.cmd, e.owner, ok
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the hooks registered for ev.Type and then, if ev carries a
// command, the command's handler. Failures never escape: the first one is
// reported back to the sender as a single reply, the rest are logged.
func (r *Registry) Dispatch(ctx context.Context, c *irc.Connection, ev *irc.Event) {
	start := time.Now()
	defer func() { telemetry.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	r.mu.RLock()
	hooks := append([]hookEntry(nil), r.hooks[ev.Type]...)
	entry, found := r.commands[ev.Command]
	r.mu.RUnlock()
	if ev.Command == "" {
		found = false
	}
	if len(hooks) == 0 && !found {
		return
	}

	log := telemetry.Logger(ctx, c.Logger())
	replied := false
	report := func(err error) {
		if replied || ev.Type != "PRIVMSG" {
			return
		}
		replied = true
		if rerr := c.Reply(ev, "Error: "+err.Error()); rerr != nil {
			log.Warn("error reply failed", "err", rerr)
		}
	}

	for _, h := range hooks {
		if err := invoke(ctx, h.hook.Handler, c, ev); err != nil {
			telemetry.HookErrors.WithLabelValues(ev.Type).Inc()
			log.Error("hook failed", "plugin", h.owner, "type", ev.Type, "err", fmt.Sprintf("%+v", err))
			report(err)
		}
	}

	if !found {
		return
	}
	r.runCommand(ctx, log, c, ev, entry, report)
}

func (r *Registry) runCommand(ctx context.Context, log *slog.Logger, c *irc.Connection, ev *irc.Event, e commandEntry, report func(error)) {
	ctx, span := telemetry.StartSpan(ctx, "command "+e.cmd.Name,
		attribute.String("plugin", e.owner),
		attribute.String("server", c.Name),
		attribute.String("nick", ev.Nick),
	)
	defer span.End()

	if r.audit != nil {
		r.audit.RecordCommand(c.Name, ev.Hostmask(), strings.TrimSpace(e.cmd.Name+" "+ev.CommandParamsRaw))
	}

	handler := e.cmd.Handler
	if e.cmd.Admin {
		handler = RequireOwner(handler)
	}

	err := invoke(ctx, handler, c, ev)
	switch {
	case err == nil:
		telemetry.Commands.WithLabelValues(e.cmd.Name, "ok").Inc()
	case errors.Is(err, errDenied):
		telemetry.Commands.WithLabelValues(e.cmd.Name, "denied").Inc()
		log.Warn("command denied", "command", e.cmd.Name, "nick", ev.Nick)
	default:
		telemetry.Commands.WithLabelValues(e.cmd.Name, "error").Inc()
		telemetry.RecordError(span, err)
		log.Error("command failed", "command", e.cmd.Name, "plugin", e.owner, "err", fmt.Sprintf("%+v", err))
		report(err)
	}
}

func invoke(ctx context.Context, h HandlerFunc, c *irc.Connection, ev *irc.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("%v", rec)
		}
	}()
	return h(ctx, c, ev)
}

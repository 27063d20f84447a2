package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ergochat/irc-go/ircmsg"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/iobot/iobot/internal/config"
	"github.com/iobot/iobot/internal/telemetry"
)

// ErrNotConnected is returned by outbound actions while no socket is open.
var ErrNotConnected = errors.New("irc: not connected")

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateReady
)

var stateNames = [...]string{"disconnected", "connecting", "registering", "ready"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dispatcher receives every parsed event after built-in handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Connection, ev *Event)
}

// Executor serializes event processing. Do runs fn and returns once it has
// completed.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// DialFunc opens the byte stream for one session.
type DialFunc func(ctx context.Context, cfg *config.Server) (io.ReadWriteCloser, error)

type inline struct{}

func (inline) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Connection is one server session: socket lifecycle, registration, the
// sequential read loop, built-in protocol handlers and outbound actions.
type Connection struct {
	Name string

	cfg        *config.Server
	log        *slog.Logger
	tracker    *Tracker
	dispatcher Dispatcher
	exec       Executor
	dial       DialFunc
	owners     map[string]bool

	state atomic.Int32

	mu       sync.RWMutex
	nick     string
	welcomed bool
	out      sender

	protocol map[string]func(*Event) error
}

// Option configures a Connection.
type Option func(*Connection)

// WithDispatcher routes parsed events to d after built-in handling.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Connection) { c.dispatcher = d }
}

// WithExecutor runs event processing through e.
func WithExecutor(e Executor) Option {
	return func(c *Connection) { c.exec = e }
}

// WithDialer replaces the network dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Connection) { c.dial = d }
}

// WithLogger sets the parent logger; a server attribute is added.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// NewConnection creates a disconnected session for cfg.
func NewConnection(cfg *config.Server, opts ...Option) *Connection {
	c := &Connection{
		Name:    cfg.Name,
		cfg:     cfg,
		log:     slog.Default(),
		tracker: NewTracker(),
		exec:    inline{},
		dial:    Dial,
		owners:  make(map[string]bool),
		nick:    cfg.Nick,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(slog.String("server", c.Name))
	for _, o := range cfg.Owners {
		c.owners[strings.ToLower(o)] = true
	}
	c.registerHandlers()
	c.setState(StateDisconnected)
	return c
}

// Run connects, registers and processes lines until the stream fails or ctx
// is done. It always returns with the state back at Disconnected and may be
// called again to reconnect.
func (c *Connection) Run(ctx context.Context) error {
	c.reset()
	c.setState(StateConnecting)
	defer c.setState(StateDisconnected)

	c.log.Info("connecting", "address", c.cfg.Address, "port", c.cfg.Port, "tls", c.cfg.TLS)
	stream, err := c.dial(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.Name, err)
	}

	var limiter *rate.Limiter
	if c.cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.SendRate), max(c.cfg.SendBurst, 1))
	}
	w := newWriter(stream, limiter, c.Name)
	c.setSender(w)
	defer c.setSender(nil)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error { return w.run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		stream.Close()
		return nil
	})

	if err := c.register(); err != nil {
		cancel()
		g.Wait()
		return err
	}

	lr := NewLineReader(stream)
	g.Go(func() error { return c.readLoop(gctx, lr) })

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.log.Warn("disconnected", "err", err)
	return err
}

func (c *Connection) readLoop(ctx context.Context, lr *LineReader) error {
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return err
		}
		telemetry.LinesRead.WithLabelValues(c.Name).Inc()
		if err := c.exec.Do(ctx, func() { c.handleLine(ctx, line) }); err != nil {
			return err
		}
	}
}

// handleLine parses one line, runs the built-in handler for its type and then
// hands the event to the dispatcher.
func (c *Connection) handleLine(ctx context.Context, line string) {
	c.log.Debug("read", "line", line)

	ev, err := ParseEvent(line, c.addressing())
	if err != nil {
		telemetry.ParseErrors.WithLabelValues(c.Name).Inc()
		c.log.Warn("dropping line", "err", err)
		return
	}

	if h, ok := c.protocol[ev.Type]; ok {
		if err := h(ev); err != nil {
			telemetry.Desyncs.WithLabelValues(c.Name, ev.Type).Inc()
			c.log.Warn("protocol handler failed", "type", ev.Type, "err", err)
		}
	}

	if c.dispatcher != nil {
		c.dispatcher.Dispatch(telemetry.NewCorrelation(ctx), c, ev)
	}
}

func (c *Connection) register() error {
	c.setState(StateRegistering)
	if c.cfg.Password != "" {
		if err := c.write(ircmsg.MakeMessage(nil, "", "PASS", c.cfg.Password), false); err != nil {
			return err
		}
	}
	if err := c.SetNick(c.cfg.Nick); err != nil {
		return err
	}
	user := ircmsg.MakeMessage(nil, "", "USER", c.cfg.User, "0", "*", c.cfg.RealName)
	user.ForceTrailing()
	return c.write(user, false)
}

func (c *Connection) reset() {
	c.tracker.Reset()
	c.mu.Lock()
	c.nick = c.cfg.Nick
	c.welcomed = false
	c.mu.Unlock()
}

func (c *Connection) addressing() Addressing {
	return Addressing{Nick: c.Nick(), Prefix: c.cfg.Prefix}
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	for i, name := range stateNames {
		v := 0.0
		if State(i) == s {
			v = 1
		}
		telemetry.ConnectionState.WithLabelValues(c.Name, name).Set(v)
	}
}

func (c *Connection) setSender(s sender) {
	c.mu.Lock()
	c.out = s
	c.mu.Unlock()
}

func (c *Connection) setNick(nick string) {
	c.mu.Lock()
	c.nick = nick
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Nick is the bot's current nick on this server.
func (c *Connection) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

// Tracker exposes the membership tracker.
func (c *Connection) Tracker() *Tracker {
	return c.tracker
}

// Logger is the connection's logger.
func (c *Connection) Logger() *slog.Logger {
	return c.log
}

// Config returns the server configuration.
func (c *Connection) Config() *config.Server {
	return c.cfg
}

// IsOwner reports whether nick is one of the connection's privileged
// identities.
func (c *Connection) IsOwner(nick string) bool {
	return nick != "" && c.owners[strings.ToLower(nick)]
}

func (c *Connection) isSelf(nick string) bool {
	return nick != "" && strings.EqualFold(nick, c.Nick())
}

// Status is a point-in-time summary for health and status endpoints.
type Status struct {
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Nick     string   `json:"nick"`
	Channels []string `json:"channels"`
}

// Status snapshots the connection.
func (c *Connection) Status() Status {
	return Status{
		Name:     c.Name,
		State:    c.State().String(),
		Nick:     c.Nick(),
		Channels: c.tracker.Channels(),
	}
}

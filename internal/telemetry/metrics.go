// Package telemetry provides Prometheus metrics, tracing and correlation-id
// aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesRead counts inbound lines per server.
	LinesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iobot_lines_read_total",
		Help: "Inbound IRC lines read",
	}, []string{"server"})

	// LinesWritten counts outbound lines per server.
	LinesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iobot_lines_written_total",
		Help: "Outbound IRC lines written",
	}, []string{"server"})

	// ParseErrors counts lines that did not fit the message grammar.
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iobot_parse_errors_total",
		Help: "Inbound lines rejected by the parser",
	}, []string{"server"})

	// Desyncs counts built-in handler failures (state disagreeing with the server).
	Desyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iobot_protocol_desyncs_total",
		Help: "Protocol handler errors by event type",
	}, []string{"server", "type"})

	// Commands counts dispatched commands by outcome (ok, error, denied).
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iobot_commands_total",
		Help: "Plugin commands dispatched",
	}, []string{"command", "result"})

	// HookErrors counts failed hook invocations.
	HookErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iobot_hook_errors_total",
		Help: "Plugin hook failures by event type",
	}, []string{"type"})

	// DispatchDuration observes time spent in plugin dispatch per event.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "iobot_dispatch_duration_seconds",
		Help:    "Time spent dispatching one event to plugins",
		Buckets: prometheus.DefBuckets,
	})

	// ConnectionState is 1 for the current state of each server, 0 otherwise.
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iobot_connection_state",
		Help: "Connection state per server (1 = current)",
	}, []string{"server", "state"})

	// PluginsLoaded is the number of currently loaded plugins.
	PluginsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iobot_plugins_loaded",
		Help: "Currently loaded plugins",
	})
)

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context carrying id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation returns a context carrying a fresh random id.
func NewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns the correlation id or an empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// Logger returns base with a corr attribute when ctx carries one.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}

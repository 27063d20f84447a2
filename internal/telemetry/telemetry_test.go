package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iobot/iobot/internal/config"
)

type fakeProbe struct {
	ready bool
}

func (p *fakeProbe) Ready() bool   { return p.ready }
func (p *fakeProbe) Snapshot() any { return map[string]string{"nick": "testie"} }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	p := &fakeProbe{}
	mux := NewMux(p)

	if rec := get(t, mux, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz: expected 200, got %d", rec.Code)
	}
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready: expected 503, got %d", rec.Code)
	}
	p.ready = true
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz: expected 200, got %d", rec.Code)
	}

	rec := get(t, mux, "/status")
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("status is not json: %v", err)
	}
	if body["nick"] != "testie" {
		t.Errorf("unexpected status %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	LinesRead.WithLabelValues("metrics-test").Add(3)
	if got := testutil.ToFloat64(LinesRead.WithLabelValues("metrics-test")); got != 3 {
		t.Errorf("Expected 3 lines, got %v", got)
	}

	rec := get(t, NewMux(&fakeProbe{}), "/metrics")
	if !strings.Contains(rec.Body.String(), `iobot_lines_read_total{server="metrics-test"} 3`) {
		t.Error("/metrics should expose iobot_lines_read_total")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("empty context should carry no id")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("Expected abc, got %q", GetCorrelation(ctx))
	}
	if id := GetCorrelation(NewCorrelation(context.Background())); len(id) != 36 {
		t.Errorf("Expected a uuid, got %q", id)
	}

	var sb strings.Builder
	Logger(ctx, slog.New(slog.NewTextHandler(&sb, nil))).Info("hi")
	if !strings.Contains(sb.String(), "corr=abc") {
		t.Errorf("log line should carry the correlation id: %q", sb.String())
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(WithCorrelation(context.Background(), "abc"), "test")
	defer span.End()
	if ctx == nil {
		t.Fatal("StartSpan must return a context")
	}
	RecordError(span, nil)
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.Tracing{Service: "iobot"}, "test")
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown failed: %v", err)
	}
}

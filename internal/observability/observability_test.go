package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"invalid", false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: tt.level, Format: "json", Output: &buf})

			logger.Debug("debug message")
			logger.Info("info message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(out, "info message"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}

func TestLoggerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := WithCallSID(context.Background(), "CA123")
	ctx = WithTurnID(ctx, "turn-1")
	logger.InfoContext(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["call_sid"] != "CA123" {
		t.Errorf("call_sid = %v, want CA123", record["call_sid"])
	}
	if record["turn_id"] != "turn-1" {
		t.Errorf("turn_id = %v, want turn-1", record["turn_id"])
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.Info("calling upstream",
		"api_key", "xi-should-not-appear",
		"error", errors.New("request failed: api_key=abcdefghijklmnopqrstuvwxyz"),
		"detail", "Bearer abcdefghijklmnopqrstuvwxyz012345",
	)

	out := buf.String()
	for _, secret := range []string{"xi-should-not-appear", "abcdefghijklmnopqrstuvwxyz"} {
		if strings.Contains(out, secret) {
			t.Errorf("log output leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in %s", out)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})
	logger.With("component", "router").Info("hello")

	if !strings.Contains(buf.String(), "component=router") {
		t.Fatalf("expected text output with attrs, got %q", buf.String())
	}
}

func TestMetricsHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Turn("delivered")
	m.Turn("delivered")
	m.Turn("empty")
	m.Fragment("accept")
	m.Webhook("/transcribe", "ok")
	m.ObserveUpstream("twilio", "play_in_conference", 0.2, errors.New("boom"))
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("delivered")); got != 2 {
		t.Errorf("delivered turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.UpstreamErrors.WithLabelValues("twilio", "play_in_conference")); got != 1 {
		t.Errorf("upstream errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Turn("delivered")
	m.Fragment("accept")
	m.Webhook("/twiml", "ok")
	m.ObserveUpstream("openai", "chat", 1, nil)
	m.SetActiveSessions(1)
}

func TestNoopTracer(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	ctx, span := tracer.TraceTurnStep(WithCallSID(context.Background(), "CA1"), "model", "conference:CF1")
	EndSpan(span, nil)
	if ctx == nil {
		t.Fatal("expected context")
	}

	var nilTracer *Tracer
	_, span = nilTracer.TraceTurnStep(context.Background(), "synthesize", "call:CA1")
	EndSpan(span, errors.New("failed"))
}

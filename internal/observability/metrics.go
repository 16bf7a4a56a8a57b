package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the call assistant's Prometheus metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.TurnCounter.WithLabelValues("delivered").Inc()
type Metrics struct {
	// WebhookCounter counts inbound webhooks.
	// Labels: route, status (ok|error|rejected)
	WebhookCounter *prometheus.CounterVec

	// FragmentCounter counts transcription fragments by gate decision.
	// Labels: decision (accept|interim|parity|stale|duplicate|debounce|empty)
	FragmentCounter *prometheus.CounterVec

	// TurnCounter counts conversation turns by outcome.
	// Labels: outcome (delivered|responded|empty|superseded|lookup_miss|model_error|synthesis_error|telephony_error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: loop (live|gather)
	TurnDuration *prometheus.HistogramVec

	// UpstreamDuration measures upstream call latency in seconds.
	// Labels: upstream (openai|elevenlabs|twilio), operation
	UpstreamDuration *prometheus.HistogramVec

	// UpstreamErrors counts failed upstream calls.
	// Labels: upstream, operation
	UpstreamErrors *prometheus.CounterVec

	// ActiveSessions tracks call sessions that have not reached a terminal status.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callassist_webhooks_total",
				Help: "Total number of telephony webhooks by route and status",
			},
			[]string{"route", "status"},
		),

		FragmentCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callassist_transcript_fragments_total",
				Help: "Total number of transcription fragments by gate decision",
			},
			[]string{"decision"},
		),

		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callassist_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callassist_turn_duration_seconds",
				Help:    "Duration of conversation turns from utterance to delivery",
				Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 30},
			},
			[]string{"loop"},
		),

		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callassist_upstream_duration_seconds",
				Help:    "Duration of upstream API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"upstream", "operation"},
		),

		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callassist_upstream_errors_total",
				Help: "Total number of failed upstream API calls",
			},
			[]string{"upstream", "operation"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callassist_active_sessions",
				Help: "Current number of non-terminal call sessions",
			},
		),
	}
}

// ObserveUpstream records the latency and outcome of one upstream call.
// Safe to call on a nil *Metrics.
func (m *Metrics) ObserveUpstream(upstream, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(upstream, operation).Observe(seconds)
	if err != nil {
		m.UpstreamErrors.WithLabelValues(upstream, operation).Inc()
	}
}

// Turn records a turn outcome. Safe to call on a nil *Metrics.
func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
}

// Fragment records a gate decision. Safe to call on a nil *Metrics.
func (m *Metrics) Fragment(decision string) {
	if m == nil {
		return
	}
	m.FragmentCounter.WithLabelValues(decision).Inc()
}

// Webhook records an inbound webhook. Safe to call on a nil *Metrics.
func (m *Metrics) Webhook(route, status string) {
	if m == nil {
		return
	}
	m.WebhookCounter.WithLabelValues(route, status).Inc()
}

// SetActiveSessions updates the active session gauge. Safe to call on a nil *Metrics.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

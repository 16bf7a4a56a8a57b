package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

const (
	headerRequestID = "X-Request-ID"
	headerSignature = "X-Twilio-Signature"
)

// statusRecorder captures the response status for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// withRequestID tags every request with an id, reusing an inbound
// X-Request-ID when present.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

// webhook wraps a telephony webhook handler: it bounds and parses the form
// body, checks the provider signature when enabled, and records the
// outcome.
func (s *Server) webhook(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			s.logger.WarnContext(r.Context(), "malformed webhook body", "route", route, "error", err)
			s.cfg.Metrics.Webhook(route, "error")
			http.Error(rec, "Malformed request body", http.StatusBadRequest)
			return
		}

		if s.cfg.SignatureToken != "" {
			signature := r.Header.Get(headerSignature)
			if !voice.VerifySignature(s.cfg.SignatureToken, s.publicURL(r), r.PostForm, signature) {
				s.logger.WarnContext(r.Context(), "rejected webhook signature", "route", route)
				s.cfg.Metrics.Webhook(route, "rejected")
				http.Error(rec, "Unauthorized Twilio signature", http.StatusUnauthorized)
				return
			}
		}

		next(rec, r)

		status := "ok"
		if rec.status >= http.StatusBadRequest {
			status = "error"
		}
		s.cfg.Metrics.Webhook(route, status)
		s.logger.DebugContext(r.Context(), "webhook handled",
			"route", route,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// noCache keeps the provider from replaying a stale copy of the single
// audio asset.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		next.ServeHTTP(w, r)
	})
}

// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the call assistant.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for webhook request IDs.
	RequestIDKey ContextKey = "request_id"

	// CallSIDKey is the context key for the provider call identifier.
	CallSIDKey ContextKey = "call_sid"

	// TurnIDKey is the context key for a conversation turn.
	TurnIDKey ContextKey = "turn_id"
)

var contextKeys = []ContextKey{RequestIDKey, CallSIDKey, TurnIDKey}

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey|xi-api-key)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|auth_token)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// OpenAI API keys
	`sk-[a-zA-Z0-9_-]{32,}`,

	// Twilio auth tokens are 32 hex chars
	`(?i)(auth|token)[\s:=]+["\']?([a-f0-9]{32})["\']?`,
}

// NewLogger creates a *slog.Logger that redacts secrets and copies the
// well-known context fields onto every record.
//
// Example:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.WithCallSID(ctx, "CA123")
//	logger.InfoContext(ctx, "turn started") // includes call_sid=CA123
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var base slog.Handler
	if strings.EqualFold(config.Format, "text") {
		base = slog.NewTextHandler(config.Output, opts)
	} else {
		base = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return slog.New(&redactingHandler{next: base, redacts: redacts})
}

// redactingHandler scrubs secrets from messages and string attributes and
// adds context fields before handing the record to the wrapped handler.
type redactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(key), v))
		}
	}
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	if isSensitiveKey(attr.Key) {
		return slog.String(attr.Key, "[REDACTED]")
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redact(value.String()))
	case slog.KindGroup:
		group := value.Group()
		redacted := make([]any, len(group))
		for i, a := range group {
			redacted[i] = h.redactAttr(a)
		}
		return slog.Group(attr.Key, redacted...)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return slog.String(attr.Key, h.redact(err.Error()))
		}
	}
	return attr
}

func (h *redactingHandler) redact(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.ReplaceAll(key, "-", "_")) {
	case "password", "secret", "token", "auth_token", "api_key", "apikey",
		"xi_api_key", "authorization":
		return true
	}
	return false
}

// WithRequestID adds a webhook request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithCallSID adds a provider call SID to the context.
func WithCallSID(ctx context.Context, callSID string) context.Context {
	return context.WithValue(ctx, CallSIDKey, callSID)
}

// WithTurnID adds a conversation turn ID to the context.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// CallSID retrieves the call SID from the context.
func CallSID(ctx context.Context) string {
	id, _ := ctx.Value(CallSIDKey).(string)
	return id
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

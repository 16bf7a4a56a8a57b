package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// ConferenceFinder looks up a live conference by friendly name.
type ConferenceFinder interface {
	FindConferenceByName(ctx context.Context, name string) (*voice.Conference, error)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Gate *Gate

	// Live runs turns for accepted transcription fragments.
	Live *ConversationLoop

	// Gather answers single-utterance gather webhooks (optional).
	Gather *ConversationLoop

	Sessions *voice.SessionRegistry

	// Conferences and ConferenceName enable the best-effort conference
	// lookup on call status webhooks.
	Conferences    ConferenceFinder
	ConferenceName string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Router dispatches telephony webhooks to the conversation loops.
//
// Live turns run in background goroutines detached from the webhook's
// request context; Wait blocks until they have all finished.
type Router struct {
	gate           *Gate
	live           *ConversationLoop
	gather         *ConversationLoop
	sessions       *voice.SessionRegistry
	conferences    ConferenceFinder
	conferenceName string

	metrics *observability.Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Gate == nil {
		return nil, errors.New("conversation: gate is required")
	}
	if cfg.Live == nil {
		return nil, errors.New("conversation: live loop is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = voice.NewSessionRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		gate:           cfg.Gate,
		live:           cfg.Live,
		gather:         cfg.Gather,
		sessions:       cfg.Sessions,
		conferences:    cfg.Conferences,
		conferenceName: cfg.ConferenceName,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "event-router"),
	}, nil
}

// Sessions returns the session registry.
func (r *Router) Sessions() *voice.SessionRegistry {
	return r.sessions
}

// HandleTranscription handles one transcription webhook. Content events
// that pass the gate start a live turn in the background; the returned
// decision is empty for lifecycle events.
func (r *Router) HandleTranscription(ctx context.Context, ev TranscriptionEvent) Decision {
	ctx = observability.WithCallSID(ctx, ev.CallSID)
	logger := r.logger.With("transcription_sid", ev.TranscriptionSID)

	switch ev.Event {
	case EventTranscriptionStarted:
		logger.InfoContext(ctx, "transcription started")
		return ""
	case EventTranscriptionStopped:
		r.gate.Forget(ev.TranscriptionSID)
		logger.InfoContext(ctx, "transcription stopped")
		return ""
	case EventTranscriptionError:
		logger.WarnContext(ctx, "transcription error reported",
			"error", ev.ErrorMessage,
			"error_code", ev.ErrorCode,
		)
		return ""
	case EventTranscriptionContent:
	default:
		logger.WarnContext(ctx, "unhandled transcription event", "event", ev.Event)
		return ""
	}

	fragment, err := ParseFragment(ev)
	if err != nil {
		r.metrics.Fragment(string(DecisionInvalid))
		logger.WarnContext(ctx, "dropping malformed transcription fragment", "error", err)
		return DecisionInvalid
	}

	decision := r.gate.Evaluate(fragment)
	r.metrics.Fragment(string(decision))
	logger.DebugContext(ctx, "transcription fragment",
		"sequence", fragment.Sequence,
		"final", fragment.Final,
		"confidence", fragment.Confidence,
		"decision", decision,
	)
	if decision != DecisionAccept {
		return decision
	}

	turnCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Errors are logged and counted by the processor; the live call
		// hears silence.
		_, _ = r.live.Run(turnCtx, fragment.CallSID, fragment.Text)
	}()
	return decision
}

// HandleCallStatus records a call status webhook and, for live calls,
// attaches the well-known conference to the session when it exists.
func (r *Router) HandleCallStatus(ctx context.Context, callSID, status string) voice.CallSession {
	ctx = observability.WithCallSID(ctx, callSID)
	session := r.sessions.UpdateStatus(callSID, voice.CallStatus(status))
	r.metrics.SetActiveSessions(r.sessions.Active())
	r.logger.InfoContext(ctx, "call status", "status", status)

	if r.conferences == nil || r.conferenceName == "" || session.Status.IsTerminal() {
		return session
	}

	conf, err := r.conferences.FindConferenceByName(ctx, r.conferenceName)
	switch {
	case errors.Is(err, voice.ErrConferenceNotFound):
		r.logger.DebugContext(ctx, "conference not started yet", "conference", r.conferenceName)
	case err != nil:
		r.logger.WarnContext(ctx, "conference lookup failed", "conference", r.conferenceName, "error", err)
	default:
		r.sessions.AttachConference(callSID, conf.SID)
		session.ConferenceSID = conf.SID
	}
	return session
}

// HandleGather runs a gather turn synchronously and returns the
// instruction document for the gather webhook.
func (r *Router) HandleGather(ctx context.Context, callSID, speech string) string {
	if r.gather == nil {
		return voice.NewResponse().Hangup().String()
	}
	return r.gather.Respond(observability.WithCallSID(ctx, callSID), callSID, speech)
}

// PostDial returns the document that starts the gather loop after a dial.
func (r *Router) PostDial() string {
	if r.gather == nil {
		return voice.NewResponse().Hangup().String()
	}
	return r.gather.Prompt()
}

// Wait blocks until all background turns have finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

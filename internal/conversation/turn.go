package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gl-pgege/gl-fraud-mobile/internal/llm"
	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// ErrEmptyUtterance is returned for turns started with no text.
var ErrEmptyUtterance = errors.New("conversation: utterance is empty")

// Responder produces an assistant reply for one utterance.
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Synthesizer writes speech for text to the shared audio asset slot.
type Synthesizer interface {
	SynthesizeToAsset(ctx context.Context, text, voiceID, dir string) (string, error)
	AssetName() string
}

// Telephony delivers audio into live calls and conferences.
type Telephony interface {
	PlayInCall(ctx context.Context, callSID, audioURL string) error
	PlayInConference(ctx context.Context, conferenceSID, audioURL string) error
	FindConferenceByName(ctx context.Context, name string) (*voice.Conference, error)
}

// TurnRecorder persists finished turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn *TurnResult) error
}

// TargetKind says how a turn's audio reaches the caller.
type TargetKind string

const (
	// TargetConference announces into a conference looked up by name at
	// delivery time.
	TargetConference TargetKind = "conference"

	// TargetCall replaces the instructions of a single call leg.
	TargetCall TargetKind = "call"

	// TargetResponse hands the asset URL back to the caller of RunTurn,
	// which returns it in a webhook response.
	TargetResponse TargetKind = "response"
)

// Target is a turn's delivery target.
type Target struct {
	Kind TargetKind
	// Name is the conference friendly name for TargetConference.
	Name string
	// CallSID is the call leg for TargetCall and TargetResponse.
	CallSID string
}

// Key identifies the target for sequencing.
func (t Target) Key() string {
	if t.Kind == TargetConference {
		return string(t.Kind) + ":" + t.Name
	}
	return string(t.Kind) + ":" + t.CallSID
}

func (t Target) String() string {
	return t.Key()
}

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeResponded      Outcome = "responded"
	OutcomeEmpty          Outcome = "empty"
	OutcomeSuperseded     Outcome = "superseded"
	OutcomeLookupMiss     Outcome = "lookup_miss"
	OutcomeModelError     Outcome = "model_error"
	OutcomeSynthesisError Outcome = "synthesis_error"
	OutcomeTelephonyError Outcome = "telephony_error"
)

// TurnInput starts one turn.
type TurnInput struct {
	// Loop names the conversation loop, for metrics and the journal.
	Loop    string
	Text    string
	CallSID string
	Target  Target

	// VoiceID is the session's voice. Empty falls back to the process-wide
	// selection.
	VoiceID string
}

// TurnResult describes one utterance-in, audio-out cycle.
type TurnResult struct {
	ID        string
	Loop      string
	CallSID   string
	Target    Target
	Token     uint64
	Utterance string
	Reply     string
	VoiceID   string
	AssetURL  string
	Outcome   Outcome
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Responder   Responder
	Synthesizer Synthesizer
	Telephony   Telephony

	// Voices is the fallback voice selection.
	Voices *VoiceSelection

	// AssetDir is where the synthesized asset is written.
	AssetDir string

	// AssetBaseURL is the public URL the asset directory is served under.
	AssetBaseURL string

	// Recorder is optional.
	Recorder TurnRecorder

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// Processor runs conversation turns. Synthesis and delivery share one
// process-wide asset slot, so they run under a single lock; model calls run
// concurrently.
type Processor struct {
	responder   Responder
	synthesizer Synthesizer
	telephony   Telephony
	voices      *VoiceSelection
	recorder    TurnRecorder

	assetDir     string
	assetBaseURL string

	sequencer *Sequencer
	assetMu   sync.Mutex

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Responder == nil {
		return nil, errors.New("conversation: responder is required")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("conversation: synthesizer is required")
	}
	if cfg.Telephony == nil {
		return nil, errors.New("conversation: telephony is required")
	}
	if cfg.AssetBaseURL == "" {
		return nil, errors.New("conversation: asset base URL is required")
	}
	if cfg.Voices == nil {
		cfg.Voices = NewVoiceSelection("")
	}
	if cfg.AssetDir == "" {
		cfg.AssetDir = "public"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		responder:    cfg.Responder,
		synthesizer:  cfg.Synthesizer,
		telephony:    cfg.Telephony,
		voices:       cfg.Voices,
		recorder:     cfg.Recorder,
		assetDir:     cfg.AssetDir,
		assetBaseURL: strings.TrimRight(cfg.AssetBaseURL, "/"),
		sequencer:    NewSequencer(),
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       logger.With("component", "turn-processor"),
	}, nil
}

// Voices returns the fallback voice selection.
func (p *Processor) Voices() *VoiceSelection {
	return p.voices
}

// RunTurn takes one utterance through model, synthesis, and delivery.
// Lookup misses and superseded turns are not errors; they end the turn
// without audio and are reported through the result's Outcome.
func (p *Processor) RunTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	res := &TurnResult{
		ID:        uuid.NewString(),
		Loop:      in.Loop,
		CallSID:   in.CallSID,
		Target:    in.Target,
		Utterance: strings.TrimSpace(in.Text),
		StartedAt: time.Now(),
	}
	ctx = observability.WithTurnID(observability.WithCallSID(ctx, in.CallSID), res.ID)

	key := in.Target.Key()
	res.Token = p.sequencer.Next(key)
	defer p.sequencer.Release(key, res.Token)

	err := p.run(ctx, in, res, key)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Error = err.Error()
	}
	p.finish(ctx, res, err)
	return res, err
}

func (p *Processor) run(ctx context.Context, in TurnInput, res *TurnResult, key string) error {
	if res.Utterance == "" {
		res.Outcome = OutcomeEmpty
		return ErrEmptyUtterance
	}

	reply, err := p.reply(ctx, key, res.Utterance)
	if err != nil {
		res.Outcome = OutcomeModelError
		if errors.Is(err, llm.ErrEmptyReply) {
			res.Outcome = OutcomeEmpty
		}
		return err
	}
	res.Reply = reply

	res.VoiceID = in.VoiceID
	if res.VoiceID == "" {
		res.VoiceID = p.voices.Current()
	}

	p.assetMu.Lock()
	defer p.assetMu.Unlock()

	if !p.sequencer.IsCurrent(key, res.Token) {
		res.Outcome = OutcomeSuperseded
		return nil
	}

	var conferenceSID string
	if in.Target.Kind == TargetConference {
		conf, err := p.findConference(ctx, key, in.Target.Name)
		if errors.Is(err, voice.ErrConferenceNotFound) {
			res.Outcome = OutcomeLookupMiss
			return nil
		}
		if err != nil {
			res.Outcome = OutcomeTelephonyError
			return err
		}
		conferenceSID = conf.SID
	}

	if err := p.synthesize(ctx, key, reply, res.VoiceID); err != nil {
		res.Outcome = OutcomeSynthesisError
		return err
	}
	res.AssetURL = p.assetURL(res.ID)

	if !p.sequencer.IsCurrent(key, res.Token) {
		res.Outcome = OutcomeSuperseded
		return nil
	}

	switch in.Target.Kind {
	case TargetConference:
		err = p.deliver(ctx, key, "play_in_conference", func(ctx context.Context) error {
			return p.telephony.PlayInConference(ctx, conferenceSID, res.AssetURL)
		})
	case TargetCall:
		err = p.deliver(ctx, key, "play_in_call", func(ctx context.Context) error {
			return p.telephony.PlayInCall(ctx, in.Target.CallSID, res.AssetURL)
		})
	case TargetResponse:
		res.Outcome = OutcomeResponded
		return nil
	default:
		err = fmt.Errorf("conversation: unknown target kind %q", in.Target.Kind)
	}
	if err != nil {
		res.Outcome = OutcomeTelephonyError
		return err
	}
	res.Outcome = OutcomeDelivered
	return nil
}

func (p *Processor) reply(ctx context.Context, key, text string) (string, error) {
	ctx, span := p.tracer.TraceTurnStep(ctx, "model", key)
	start := time.Now()
	reply, err := p.responder.Reply(ctx, text)
	p.metrics.ObserveUpstream("openai", "chat_completion", time.Since(start).Seconds(), err)
	observability.EndSpan(span, err)
	return reply, err
}

func (p *Processor) findConference(ctx context.Context, key, name string) (*voice.Conference, error) {
	ctx, span := p.tracer.TraceTurnStep(ctx, "lookup", key)
	start := time.Now()
	conf, err := p.telephony.FindConferenceByName(ctx, name)
	upstreamErr := err
	if errors.Is(err, voice.ErrConferenceNotFound) {
		upstreamErr = nil
	}
	p.metrics.ObserveUpstream("twilio", "find_conference", time.Since(start).Seconds(), upstreamErr)
	observability.EndSpan(span, upstreamErr)
	return conf, err
}

func (p *Processor) synthesize(ctx context.Context, key, text, voiceID string) error {
	ctx, span := p.tracer.TraceTurnStep(ctx, "synthesize", key)
	start := time.Now()
	_, err := p.synthesizer.SynthesizeToAsset(ctx, text, voiceID, p.assetDir)
	p.metrics.ObserveUpstream("elevenlabs", "synthesize", time.Since(start).Seconds(), err)
	observability.EndSpan(span, err)
	return err
}

func (p *Processor) deliver(ctx context.Context, key, op string, fn func(context.Context) error) error {
	ctx, span := p.tracer.TraceTurnStep(ctx, "deliver", key)
	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveUpstream("twilio", op, time.Since(start).Seconds(), err)
	observability.EndSpan(span, err)
	return err
}

// assetURL returns the public URL of the asset slot. The turn id query
// keeps the provider from replaying a cached copy of an earlier reply.
func (p *Processor) assetURL(turnID string) string {
	return p.assetBaseURL + "/" + url.PathEscape(p.synthesizer.AssetName()) + "?turn=" + url.QueryEscape(turnID)
}

func (p *Processor) finish(ctx context.Context, res *TurnResult, err error) {
	p.metrics.Turn(string(res.Outcome))
	if p.metrics != nil {
		p.metrics.TurnDuration.WithLabelValues(res.Loop).Observe(res.Duration.Seconds())
	}

	attrs := []any{
		"loop", res.Loop,
		"target", res.Target.Key(),
		"outcome", res.Outcome,
		"duration_ms", res.Duration.Milliseconds(),
	}
	switch {
	case err != nil && res.Outcome != OutcomeEmpty:
		p.logger.ErrorContext(ctx, "turn failed", append(attrs, "error", err)...)
	case res.Outcome == OutcomeDelivered || res.Outcome == OutcomeResponded:
		p.logger.InfoContext(ctx, "turn completed", append(attrs, "voice_id", res.VoiceID)...)
	default:
		p.logger.InfoContext(ctx, "turn ended without audio", attrs...)
	}

	if p.recorder != nil {
		if err := p.recorder.RecordTurn(ctx, res); err != nil {
			p.logger.WarnContext(ctx, "failed to record turn", "error", err)
		}
	}
}

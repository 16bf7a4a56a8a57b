package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gl-pgege/gl-fraud-mobile/internal/config"
	"github.com/gl-pgege/gl-fraud-mobile/internal/conversation"
	"github.com/gl-pgege/gl-fraud-mobile/internal/gateway"
	"github.com/gl-pgege/gl-fraud-mobile/internal/journal"
	"github.com/gl-pgege/gl-fraud-mobile/internal/llm"
	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/routing"
	"github.com/gl-pgege/gl-fraud-mobile/internal/tts"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// app holds the wired components of a running server.
type app struct {
	cfg      *config.Config
	server   *gateway.Server
	sessions *voice.SessionRegistry
	metrics  *observability.Metrics
	journal  *journal.Store
	logger   *slog.Logger

	shutdownTracing func(context.Context) error
}

func newTelephony(cfg *config.Config) (*voice.TwilioGateway, error) {
	return voice.NewTwilioGateway(voice.TwilioConfig{
		AccountSID:   cfg.Twilio.AccountSID,
		AuthToken:    cfg.Twilio.AuthToken,
		BaseURL:      cfg.Twilio.BaseURL,
		PauseSeconds: cfg.Conversation.Pause(),
		Timeout:      cfg.Twilio.Timeout,
	})
}

func newSynthesizer(cfg *config.Config) (*tts.Gateway, error) {
	return tts.New(tts.Config{
		APIKey:          cfg.ElevenLabs.APIKey,
		BaseURL:         cfg.ElevenLabs.BaseURL,
		ModelID:         cfg.ElevenLabs.ModelID,
		OutputFormat:    cfg.ElevenLabs.OutputFormat,
		Stability:       cfg.ElevenLabs.Stability,
		SimilarityBoost: cfg.ElevenLabs.SimilarityBoost,
		AssetName:       cfg.ElevenLabs.AssetName,
		Timeout:         cfg.ElevenLabs.Timeout,
	})
}

func newResponder(cfg *config.Config) (*llm.Responder, error) {
	return llm.NewResponder(llm.Config{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Model:        cfg.OpenAI.Model,
		SystemPrompt: cfg.OpenAI.SystemPrompt,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		Timeout:      cfg.OpenAI.Timeout,
	})
}

// buildApp wires configuration into a ready-to-start server.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	if cfg.Server.PublicURL == "" {
		return nil, errors.New("server.public_url is required to receive webhooks")
	}
	if err := os.MkdirAll(cfg.Server.AssetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.metrics = observability.NewMetrics(reg)

	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "callassist",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	a.shutdownTracing = shutdownTracing

	telephony, err := newTelephony(cfg)
	if err != nil {
		return nil, err
	}
	synth, err := newSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	responder, err := newResponder(cfg)
	if err != nil {
		return nil, err
	}

	var recorder conversation.TurnRecorder
	if cfg.Journal.Enabled {
		store, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		a.journal = store
		recorder = store
	}

	voices := conversation.NewVoiceSelection(cfg.ElevenLabs.DefaultVoiceID)
	a.sessions = voice.NewSessionRegistry()

	processor, err := conversation.NewProcessor(conversation.ProcessorConfig{
		Responder:    responder,
		Synthesizer:  synth,
		Telephony:    telephony,
		Voices:       voices,
		AssetDir:     cfg.Server.AssetDir,
		AssetBaseURL: cfg.Server.PublicURL,
		Recorder:     recorder,
		Metrics:      a.metrics,
		Tracer:       tracer,
		Logger:       logger,
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}

	topology := routing.Topology(cfg.Conversation.Topology)
	resolver := conversation.CallTarget()
	if topology == routing.TopologyConference {
		resolver = conversation.ConferenceTarget(cfg.Conversation.ConferenceName)
	}
	live, err := conversation.NewConversationLoop(conversation.LoopConfig{
		Name:      "live",
		Processor: processor,
		Resolver:  resolver,
		Sessions:  a.sessions,
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}

	var (
		gather      *conversation.ConversationLoop
		postDialURL string
	)
	if cfg.Conversation.GatherLoop {
		gather, err = conversation.NewConversationLoop(conversation.LoopConfig{
			Name:      "gather",
			Processor: processor,
			Resolver:  conversation.ResponseTarget(),
			Rearm: conversation.RearmGather{
				ActionURL: cfg.PublicURLFor(gateway.PathGatherResponse),
				Timeout:   cfg.Conversation.GatherTimeout,
			},
			Sessions: a.sessions,
		})
		if err != nil {
			return nil, a.closeOnError(err)
		}
		postDialURL = cfg.PublicURLFor(gateway.PathPostDial)
	}

	gate, err := conversation.NewGate(conversation.GateConfig{
		Mode:           conversation.GateMode(cfg.Conversation.GateMode),
		DebounceWindow: cfg.Conversation.DebounceWindow,
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}

	router, err := conversation.NewRouter(conversation.RouterConfig{
		Gate:           gate,
		Live:           live,
		Gather:         gather,
		Sessions:       a.sessions,
		Conferences:    telephony,
		ConferenceName: cfg.Conversation.ConferenceName,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}

	decider, err := routing.NewDecider(routing.Config{
		CallerID:          cfg.Twilio.CallerID,
		Topology:          topology,
		ConferenceName:    cfg.Conversation.ConferenceName,
		TranscribeURL:     cfg.PublicURLFor(gateway.PathTranscribe),
		PostDialURL:       postDialURL,
		StatusCallbackURL: cfg.PublicURLFor(gateway.PathCallStatus),
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}

	var signatureToken string
	if cfg.Twilio.ValidateSignatures {
		signatureToken = cfg.Twilio.AuthToken
	}
	a.server, err = gateway.NewServer(gateway.Config{
		Addr:           cfg.Addr(),
		PublicURL:      cfg.Server.PublicURL,
		AssetDir:       cfg.Server.AssetDir,
		SignatureToken: signatureToken,
		Decider:        decider,
		Router:         router,
		Voices:         voices,
		Catalog:        synth,
		Originator:     telephony,
		Metrics:        a.metrics,
		Gatherer:       gatherer,
		Logger:         logger,
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}
	return a, nil
}

// closeOnError releases the journal opened before a later wiring step failed.
func (a *app) closeOnError(err error) error {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	return err
}

// pruneSessions drops ended sessions older than the retention window until
// ctx is done.
func (a *app) pruneSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Prune(a.cfg.Conversation.SessionRetention); n > 0 {
				a.logger.Debug("pruned ended call sessions", "count", n)
			}
			a.metrics.SetActiveSessions(a.sessions.Active())
		}
	}
}

// shutdown stops the server, waits for turns, then flushes traces and
// closes the journal.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal close: %w", err))
	}
	return errors.Join(errs...)
}

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gl-pgege/gl-fraud-mobile/internal/llm"
	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

func TestNewProcessorValidation(t *testing.T) {
	base := ProcessorConfig{
		Responder:    &fakeResponder{},
		Synthesizer:  &fakeSynthesizer{},
		Telephony:    &fakeTelephony{},
		AssetBaseURL: "https://assist.example.com",
	}
	tests := []struct {
		name   string
		mutate func(*ProcessorConfig)
	}{
		{"no responder", func(c *ProcessorConfig) { c.Responder = nil }},
		{"no synthesizer", func(c *ProcessorConfig) { c.Synthesizer = nil }},
		{"no telephony", func(c *ProcessorConfig) { c.Telephony = nil }},
		{"no asset url", func(c *ProcessorConfig) { c.AssetBaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewProcessor(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunTurnDeliversToConference(t *testing.T) {
	h := newHarness(t)

	res, err := h.processor.RunTurn(context.Background(), TurnInput{
		Loop:    "live",
		Text:    "what's the weather",
		CallSID: "CA1",
		Target:  Target{Kind: TargetConference, Name: testConference},
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if res.Outcome != OutcomeDelivered {
		t.Fatalf("Outcome = %q, want delivered", res.Outcome)
	}

	if got := h.responder.calls(); len(got) != 1 || got[0] != "what's the weather" {
		t.Fatalf("model prompts = %v", got)
	}
	synth := h.synth.calls()
	if len(synth) != 1 || synth[0].Text != "reply to what's the weather" {
		t.Fatalf("synthesis calls = %+v", synth)
	}
	if synth[0].VoiceID != "default-voice" {
		t.Errorf("VoiceID = %q, want fallback default-voice", synth[0].VoiceID)
	}

	plays := h.telephony.conferencePlays()
	if len(plays) != 1 {
		t.Fatalf("conference plays = %d, want 1", len(plays))
	}
	if plays[0].SID != "CF100" {
		t.Errorf("conference SID = %q", plays[0].SID)
	}
	if !strings.HasPrefix(plays[0].URL, "https://assist.example.com/voice.mp3?turn=") {
		t.Errorf("asset URL = %q", plays[0].URL)
	}
	if plays[0].URL != res.AssetURL {
		t.Errorf("played %q, result has %q", plays[0].URL, res.AssetURL)
	}
	if len(h.telephony.callPlays()) != 0 {
		t.Error("unexpected call-leg delivery")
	}
}

func TestRunTurnCallTarget(t *testing.T) {
	h := newHarness(t)

	res, err := h.processor.RunTurn(context.Background(), TurnInput{
		Text:    "hello",
		CallSID: "CA1",
		Target:  Target{Kind: TargetCall, CallSID: "CA1"},
		VoiceID: "session-voice",
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	plays := h.telephony.callPlays()
	if len(plays) != 1 || plays[0].SID != "CA1" {
		t.Fatalf("call plays = %+v", plays)
	}
	if res.VoiceID != "session-voice" {
		t.Errorf("VoiceID = %q, want session-voice", res.VoiceID)
	}
	if h.telephony.lookups != 0 {
		t.Errorf("call delivery looked up a conference")
	}
}

func TestRunTurnLookupMissIsSilent(t *testing.T) {
	h := newHarness(t)

	res, err := h.processor.RunTurn(context.Background(), TurnInput{
		Text:   "hello",
		Target: Target{Kind: TargetConference, Name: "NoSuchRoom"},
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v, want nil for lookup miss", err)
	}
	if res.Outcome != OutcomeLookupMiss {
		t.Fatalf("Outcome = %q, want lookup_miss", res.Outcome)
	}
	if len(h.synth.calls()) != 0 || len(h.telephony.conferencePlays()) != 0 {
		t.Fatal("lookup miss should not synthesize or deliver")
	}
}

func TestRunTurnFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(h *harness)
		text        string
		wantOutcome Outcome
		wantErr     error
		wantSynth   int
		wantPlays   int
	}{
		{
			name:        "empty utterance",
			setup:       func(h *harness) {},
			text:        "   ",
			wantOutcome: OutcomeEmpty,
			wantErr:     ErrEmptyUtterance,
		},
		{
			name:        "empty model reply",
			setup:       func(h *harness) { h.responder.err = llm.ErrEmptyReply },
			text:        "hello",
			wantOutcome: OutcomeEmpty,
			wantErr:     llm.ErrEmptyReply,
		},
		{
			name:        "model error",
			setup:       func(h *harness) { h.responder.err = &llm.UpstreamModelError{StatusCode: 500, Err: errBoom} },
			text:        "hello",
			wantOutcome: OutcomeModelError,
			wantErr:     errBoom,
		},
		{
			name:        "synthesis error",
			setup:       func(h *harness) { h.synth.err = errBoom },
			text:        "hello",
			wantOutcome: OutcomeSynthesisError,
			wantErr:     errBoom,
			wantSynth:   1,
		},
		{
			name:        "lookup error",
			setup:       func(h *harness) { h.telephony.lookupErr = errBoom },
			text:        "hello",
			wantOutcome: OutcomeTelephonyError,
			wantErr:     errBoom,
		},
		{
			name:        "delivery error",
			setup:       func(h *harness) { h.telephony.playErr = &voice.UpstreamTelephonyError{Op: "play_in_conference", Err: errBoom} },
			text:        "hello",
			wantOutcome: OutcomeTelephonyError,
			wantErr:     errBoom,
			wantSynth:   1,
			wantPlays:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			res, err := h.processor.RunTurn(context.Background(), TurnInput{
				Text:   tt.text,
				Target: Target{Kind: TargetConference, Name: testConference},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", res.Outcome, tt.wantOutcome)
			}
			if got := len(h.synth.calls()); got != tt.wantSynth {
				t.Errorf("synthesis calls = %d, want %d", got, tt.wantSynth)
			}
			if got := len(h.telephony.conferencePlays()); got != tt.wantPlays {
				t.Errorf("plays = %d, want %d", got, tt.wantPlays)
			}
			if res.Error == "" {
				t.Error("expected Error to be recorded on the result")
			}
		})
	}
}

func TestRunTurnSupersededTurnIsDropped(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.responder.block["first"] = release

	target := Target{Kind: TargetConference, Name: testConference}

	var wg sync.WaitGroup
	var first *TurnResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = h.processor.RunTurn(context.Background(), TurnInput{Text: "first", Target: target})
	}()

	// Wait until the first turn is blocked inside the model call.
	for len(h.responder.calls()) == 0 {
		waitBriefly()
	}

	second, err := h.processor.RunTurn(context.Background(), TurnInput{Text: "second", Target: target})
	if err != nil {
		t.Fatalf("second RunTurn() error = %v", err)
	}
	close(release)
	wg.Wait()

	if second.Outcome != OutcomeDelivered {
		t.Errorf("second Outcome = %q, want delivered", second.Outcome)
	}
	if first.Outcome != OutcomeSuperseded {
		t.Errorf("first Outcome = %q, want superseded", first.Outcome)
	}
	if first.Token >= second.Token {
		t.Errorf("tokens out of order: first %d, second %d", first.Token, second.Token)
	}

	plays := h.telephony.conferencePlays()
	if len(plays) != 1 || plays[0].URL != second.AssetURL {
		t.Fatalf("plays = %+v, want only the newest reply", plays)
	}
}

func TestRunTurnRecordsAndCounts(t *testing.T) {
	h := newHarness(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h.processor.metrics = metrics

	_, _ = h.processor.RunTurn(context.Background(), TurnInput{
		Loop:    "live",
		Text:    "hello",
		CallSID: "CA1",
		Target:  Target{Kind: TargetConference, Name: testConference},
	})
	h.responder.err = llm.ErrEmptyReply
	_, _ = h.processor.RunTurn(context.Background(), TurnInput{
		Loop:   "live",
		Text:   "again",
		Target: Target{Kind: TargetConference, Name: testConference},
	})

	if got := testutil.ToFloat64(metrics.TurnCounter.WithLabelValues("delivered")); got != 1 {
		t.Errorf("delivered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.TurnCounter.WithLabelValues("empty")); got != 1 {
		t.Errorf("empty = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.UpstreamDuration); got == 0 {
		t.Error("expected upstream latency observations")
	}

	if len(h.recorder.turns) != 2 {
		t.Fatalf("recorded %d turns, want 2", len(h.recorder.turns))
	}
	rec := h.recorder.turns[0]
	if rec.ID == "" || rec.CallSID != "CA1" || rec.Reply != "reply to hello" || rec.Loop != "live" {
		t.Errorf("recorded turn = %+v", rec)
	}
}

func TestRunTurnRecorderFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errBoom

	res, err := h.processor.RunTurn(context.Background(), TurnInput{
		Text:   "hello",
		Target: Target{Kind: TargetConference, Name: testConference},
	})
	if err != nil || res.Outcome != OutcomeDelivered {
		t.Fatalf("RunTurn() = %+v, %v", res, err)
	}
}

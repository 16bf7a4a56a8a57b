package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

type fakeResponder struct {
	mu      sync.Mutex
	prompts []string

	reply string
	err   error

	// block, when set for a prompt, holds that call until the channel closes.
	block map[string]chan struct{}
}

func (f *fakeResponder) Reply(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	wait := f.block[text]
	f.mu.Unlock()

	if wait != nil {
		<-wait
	}
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return "reply to " + text, nil
	}
	return f.reply, nil
}

func (f *fakeResponder) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type synthCall struct {
	Text    string
	VoiceID string
	Dir     string
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	called []synthCall
	err    error
}

func (f *fakeSynthesizer) SynthesizeToAsset(ctx context.Context, text, voiceID, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, synthCall{Text: text, VoiceID: voiceID, Dir: dir})
	if f.err != nil {
		return "", f.err
	}
	return dir + "/voice.mp3", nil
}

func (f *fakeSynthesizer) AssetName() string { return "voice.mp3" }

func (f *fakeSynthesizer) calls() []synthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]synthCall(nil), f.called...)
}

type playCall struct {
	SID string
	URL string
}

type fakeTelephony struct {
	mu          sync.Mutex
	conferences map[string]string // name -> sid
	lookups     int
	lookupErr   error
	playErr     error
	conference  []playCall
	call        []playCall
}

func (f *fakeTelephony) PlayInCall(ctx context.Context, callSID, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call = append(f.call, playCall{SID: callSID, URL: audioURL})
	return f.playErr
}

func (f *fakeTelephony) PlayInConference(ctx context.Context, conferenceSID, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conference = append(f.conference, playCall{SID: conferenceSID, URL: audioURL})
	return f.playErr
}

func (f *fakeTelephony) FindConferenceByName(ctx context.Context, name string) (*voice.Conference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	sid, ok := f.conferences[name]
	if !ok {
		return nil, voice.ErrConferenceNotFound
	}
	return &voice.Conference{SID: sid, FriendlyName: name, Status: "in-progress"}, nil
}

func (f *fakeTelephony) conferencePlays() []playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playCall(nil), f.conference...)
}

func (f *fakeTelephony) callPlays() []playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playCall(nil), f.call...)
}

type fakeRecorder struct {
	mu    sync.Mutex
	turns []TurnResult
	err   error
}

func (f *fakeRecorder) RecordTurn(ctx context.Context, turn *TurnResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, *turn)
	return f.err
}

const testConference = "GatherConferenceRoom"

type harness struct {
	responder *fakeResponder
	synth     *fakeSynthesizer
	telephony *fakeTelephony
	recorder  *fakeRecorder
	sessions  *voice.SessionRegistry
	voices    *VoiceSelection
	processor *Processor
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		responder: &fakeResponder{block: map[string]chan struct{}{}},
		synth:     &fakeSynthesizer{},
		telephony: &fakeTelephony{conferences: map[string]string{testConference: "CF100"}},
		recorder:  &fakeRecorder{},
		sessions:  voice.NewSessionRegistry(),
		voices:    NewVoiceSelection("default-voice"),
	}
	p, err := NewProcessor(ProcessorConfig{
		Responder:    h.responder,
		Synthesizer:  h.synth,
		Telephony:    h.telephony,
		Voices:       h.voices,
		AssetDir:     t.TempDir(),
		AssetBaseURL: "https://assist.example.com/",
		Recorder:     h.recorder,
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	h.processor = p
	return h
}

func (h *harness) loop(t *testing.T, name string, resolver TargetResolver, rearm RearmPolicy) *ConversationLoop {
	t.Helper()
	l, err := NewConversationLoop(LoopConfig{
		Name:      name,
		Processor: h.processor,
		Resolver:  resolver,
		Rearm:     rearm,
		Sessions:  h.sessions,
	})
	if err != nil {
		t.Fatalf("NewConversationLoop() error = %v", err)
	}
	return l
}

var errBoom = errors.New("boom")

func waitBriefly() {
	time.Sleep(time.Millisecond)
}

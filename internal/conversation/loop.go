package conversation

import (
	"context"
	"errors"

	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// TargetResolver picks the delivery target for a turn on callSID.
type TargetResolver interface {
	ResolveTarget(callSID string) Target
}

// TargetResolverFunc adapts a function to TargetResolver.
type TargetResolverFunc func(callSID string) Target

// ResolveTarget calls f(callSID).
func (f TargetResolverFunc) ResolveTarget(callSID string) Target {
	return f(callSID)
}

// ConferenceTarget delivers every turn to the named conference.
func ConferenceTarget(name string) TargetResolver {
	return TargetResolverFunc(func(string) Target {
		return Target{Kind: TargetConference, Name: name}
	})
}

// CallTarget delivers each turn to the call leg it came from.
func CallTarget() TargetResolver {
	return TargetResolverFunc(func(callSID string) Target {
		return Target{Kind: TargetCall, CallSID: callSID}
	})
}

// ResponseTarget returns each turn's audio in the webhook response.
func ResponseTarget() TargetResolver {
	return TargetResolverFunc(func(callSID string) Target {
		return Target{Kind: TargetResponse, CallSID: callSID}
	})
}

// RearmPolicy decides what the call does after a turn.
type RearmPolicy interface {
	// Rearm returns the instruction document answering the webhook that
	// started the turn, or "" when the loop does not answer with one.
	Rearm(res *TurnResult, err error) string

	// Prompt returns the document that opens the loop, or "".
	Prompt() string
}

// RearmNone leaves the call alone after a turn. The live loop keeps
// listening through transcription.
type RearmNone struct{}

func (RearmNone) Rearm(*TurnResult, error) string { return "" }
func (RearmNone) Prompt() string                  { return "" }

// RearmGather plays the reply and listens for the next utterance. A turn
// superseded by a newer one on the same leg listens again without audio;
// any other turn without audio hangs up.
type RearmGather struct {
	// ActionURL receives the next SpeechResult.
	ActionURL string
	// Timeout is the silence timeout in seconds.
	Timeout int
}

func (g RearmGather) gather() voice.Gather {
	return voice.Gather{Input: "speech", Action: g.ActionURL, Timeout: g.Timeout}
}

func (g RearmGather) Rearm(res *TurnResult, err error) string {
	if err == nil && res != nil && res.Outcome == OutcomeSuperseded {
		return g.Prompt()
	}
	if err != nil || res == nil || res.AssetURL == "" || res.Outcome != OutcomeResponded {
		return voice.NewResponse().Hangup().String()
	}
	return voice.NewResponse().Play(res.AssetURL).Gather(g.gather()).String()
}

func (g RearmGather) Prompt() string {
	return voice.NewResponse().Gather(g.gather()).String()
}

// LoopConfig configures a ConversationLoop.
type LoopConfig struct {
	Name      string
	Processor *Processor
	Resolver  TargetResolver
	Rearm     RearmPolicy

	// Sessions supplies per-call voice snapshots (optional).
	Sessions *voice.SessionRegistry
}

// ConversationLoop binds the turn processor to a delivery target and a
// re-arm policy. The live transcription loop and the gather loop are both
// instances of it.
type ConversationLoop struct {
	name      string
	processor *Processor
	resolver  TargetResolver
	rearm     RearmPolicy
	sessions  *voice.SessionRegistry
}

// NewConversationLoop creates a loop.
func NewConversationLoop(cfg LoopConfig) (*ConversationLoop, error) {
	if cfg.Processor == nil {
		return nil, errors.New("conversation: processor is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("conversation: target resolver is required")
	}
	if cfg.Rearm == nil {
		cfg.Rearm = RearmNone{}
	}
	return &ConversationLoop{
		name:      cfg.Name,
		processor: cfg.Processor,
		resolver:  cfg.Resolver,
		rearm:     cfg.Rearm,
		sessions:  cfg.Sessions,
	}, nil
}

// Name returns the loop name.
func (l *ConversationLoop) Name() string {
	return l.name
}

// Run executes one turn for an utterance on callSID.
func (l *ConversationLoop) Run(ctx context.Context, callSID, text string) (*TurnResult, error) {
	return l.processor.RunTurn(ctx, TurnInput{
		Loop:    l.name,
		Text:    text,
		CallSID: callSID,
		Target:  l.resolver.ResolveTarget(callSID),
		VoiceID: l.sessionVoice(callSID),
	})
}

// Respond runs a turn and returns the re-arm document for it.
func (l *ConversationLoop) Respond(ctx context.Context, callSID, text string) string {
	res, err := l.Run(ctx, callSID, text)
	return l.rearm.Rearm(res, err)
}

// Prompt returns the document that opens the loop.
func (l *ConversationLoop) Prompt() string {
	return l.rearm.Prompt()
}

func (l *ConversationLoop) sessionVoice(callSID string) string {
	if l.sessions == nil {
		return ""
	}
	session, ok := l.sessions.Get(callSID)
	if !ok {
		return ""
	}
	return session.VoiceID
}

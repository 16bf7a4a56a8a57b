// Package routing decides how a new call is connected: which caller id it
// presents, where transcription events are sent, and whether the callee is
// bridged directly or joined through a conference.
package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// ErrInvalidRequest is returned for setup requests that cannot be routed.
var ErrInvalidRequest = errors.New("routing: invalid setup request")

// TranscriptionTrack is the audio track transcribed on the caller leg.
const TranscriptionTrack = "inbound_track"

// Topology selects how the caller and callee are bridged.
type Topology string

const (
	// TopologyConference joins both legs to a well-known conference so replies
	// can be announced to everyone at once.
	TopologyConference Topology = "conference"

	// TopologyDirect bridges the caller straight to the callee with <Dial>.
	TopologyDirect Topology = "direct"
)

// Config holds the fixed inputs of every routing decision.
type Config struct {
	// CallerID is presented when dialing phone numbers.
	CallerID string

	Topology Topology

	// ConferenceName is the well-known room used by TopologyConference.
	ConferenceName string

	// TranscribeURL receives live transcription events.
	TranscribeURL string

	// PostDialURL, when set, becomes the <Dial> action so the caller drops
	// into the gather loop once the bridge ends.
	PostDialURL string

	// StatusCallbackURL receives status webhooks for originated callee legs.
	StatusCallbackURL string
}

// SetupRequest is the call-setup webhook payload.
type SetupRequest struct {
	CallSID       string
	To            string
	From          string
	RecipientType string
}

// Decision is the outcome of routing one call.
type Decision struct {
	Recipient voice.RecipientKind
	To        string
	CallerID  string
	Topology  Topology

	// Twiml is the instruction document returned to the caller leg.
	Twiml string

	// Originate is set when the callee has to be dialed into the conference
	// separately. Nil for TopologyDirect.
	Originate *voice.OriginateInput
}

// Decider builds routing decisions. It never touches call state.
type Decider struct {
	cfg Config
}

// NewDecider creates a Decider.
func NewDecider(cfg Config) (*Decider, error) {
	switch cfg.Topology {
	case "":
		cfg.Topology = TopologyConference
	case TopologyConference, TopologyDirect:
	default:
		return nil, fmt.Errorf("routing: unknown topology %q", cfg.Topology)
	}
	if cfg.Topology == TopologyConference && cfg.ConferenceName == "" {
		return nil, errors.New("routing: conference topology requires a conference name")
	}
	if cfg.TranscribeURL == "" {
		return nil, errors.New("routing: transcribe URL is required")
	}
	return &Decider{cfg: cfg}, nil
}

// Topology returns the configured topology.
func (d *Decider) Topology() Topology {
	return d.cfg.Topology
}

// Decide validates req and produces the caller-leg instructions.
func (d *Decider) Decide(req SetupRequest) (*Decision, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		return nil, fmt.Errorf("%w: missing \"To\"", ErrInvalidRequest)
	}
	recipient := voice.RecipientKind(req.RecipientType)
	if !recipient.Valid() {
		return nil, fmt.Errorf("%w: invalid \"recipientType\" %q", ErrInvalidRequest, req.RecipientType)
	}

	callerID := req.From
	if recipient == voice.RecipientNumber {
		callerID = d.cfg.CallerID
		if callerID == "" {
			return nil, errors.New("routing: caller id is not configured")
		}
	}

	decision := &Decision{
		Recipient: recipient,
		To:        to,
		CallerID:  callerID,
		Topology:  d.cfg.Topology,
	}

	doc := voice.NewResponse().StartTranscription(d.cfg.TranscribeURL, TranscriptionTrack)
	dial := voice.Dial{
		AnswerOnBridge: true,
		CallerID:       callerID,
		Action:         d.cfg.PostDialURL,
	}

	switch d.cfg.Topology {
	case TopologyDirect:
		dial.Nouns = []any{recipientNoun(recipient, to)}
	case TopologyConference:
		dial.Nouns = []any{voice.DialConference{Name: d.cfg.ConferenceName}}

		calleeDoc, err := voice.NewResponse().
			Dial(voice.Dial{Nouns: []any{voice.DialConference{Name: d.cfg.ConferenceName}}}).
			Render()
		if err != nil {
			return nil, err
		}
		decision.Originate = &voice.OriginateInput{
			To:             dialAddress(recipient, to),
			From:           callerID,
			Twiml:          calleeDoc,
			StatusCallback: d.cfg.StatusCallbackURL,
		}
	}

	twiml, err := doc.Dial(dial).Render()
	if err != nil {
		return nil, err
	}
	decision.Twiml = twiml
	return decision, nil
}

func recipientNoun(kind voice.RecipientKind, to string) any {
	if kind == voice.RecipientClient {
		return voice.DialClient{Identity: to}
	}
	return voice.DialNumber{Number: to}
}

// dialAddress formats a recipient for the REST origination API.
func dialAddress(kind voice.RecipientKind, to string) string {
	if kind == voice.RecipientClient && !strings.HasPrefix(to, "client:") {
		return "client:" + to
	}
	return to
}

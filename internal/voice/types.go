// Package voice provides the telephony side of the call assistant: the
// Twilio REST gateway, TwiML instruction documents, webhook signature
// checks, and the in-memory registry of call sessions.
package voice

import (
	"errors"
	"fmt"
	"time"
)

// ErrConferenceNotFound is returned when no in-progress conference matches
// a lookup. Callers treat it as a lookup miss rather than a failure.
var ErrConferenceNotFound = errors.New("voice: conference not found")

// CallStatus is the provider-reported status of a call leg.
type CallStatus string

const (
	StatusInitiated  CallStatus = "initiated"
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"

	// Terminal statuses
	StatusCompleted CallStatus = "completed"
	StatusBusy      CallStatus = "busy"
	StatusFailed    CallStatus = "failed"
	StatusNoAnswer  CallStatus = "no-answer"
	StatusCanceled  CallStatus = "canceled"
)

// IsTerminal returns true if no further transitions are expected.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// CallDirection indicates if a call is inbound or outbound.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// RecipientKind identifies how the callee is addressed.
type RecipientKind string

const (
	// RecipientClient is an application endpoint identity.
	RecipientClient RecipientKind = "client"
	// RecipientNumber is a phone number.
	RecipientNumber RecipientKind = "number"
)

// Valid reports whether k is a known recipient kind.
func (k RecipientKind) Valid() bool {
	return k == RecipientClient || k == RecipientNumber
}

// CallSession is the server's view of one call leg.
type CallSession struct {
	CallSID       string        `json:"call_sid"`
	Direction     CallDirection `json:"direction,omitempty"`
	Recipient     RecipientKind `json:"recipient,omitempty"`
	From          string        `json:"from,omitempty"`
	To            string        `json:"to,omitempty"`
	ConferenceSID string        `json:"conference_sid,omitempty"`
	Status        CallStatus    `json:"status"`

	// VoiceID is the voice selection captured when the session was opened.
	VoiceID string `json:"voice_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Conference is a snapshot of a provider-side conference. It is fetched on
// demand and never cached.
type Conference struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// Participant is one call leg inside a conference.
type Participant struct {
	CallSID string `json:"call_sid"`
	Muted   bool   `json:"muted"`
	Hold    bool   `json:"hold"`
	Status  string `json:"status"`
}

// OriginateInput contains parameters for placing an outbound call.
type OriginateInput struct {
	To   string
	From string

	// Twiml is executed when the callee answers.
	Twiml string

	// StatusCallback receives call status webhooks (optional).
	StatusCallback string
}

// UpstreamTelephonyError reports a failed Twilio REST operation.
type UpstreamTelephonyError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *UpstreamTelephonyError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("twilio: %s: %v", e.Op, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("twilio: %s: status %d (code %d): %s", e.Op, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("twilio: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
}

func (e *UpstreamTelephonyError) Unwrap() error {
	return e.Err
}

// Package conversation runs the assistant's conversation turns. It filters
// live transcription into turn-worthy utterances, asks the model for a
// reply, synthesizes it, and injects the audio into the call or conference.
package conversation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Transcription webhook event names.
const (
	EventTranscriptionStarted = "transcription-started"
	EventTranscriptionContent = "transcription-content"
	EventTranscriptionStopped = "transcription-stopped"
	EventTranscriptionError   = "transcription-error"
)

// TranscriptionEvent is one real-time transcription webhook as posted by
// the telephony provider. Values are kept as received.
type TranscriptionEvent struct {
	Event            string
	TranscriptionSID string
	CallSID          string
	SequenceID       string
	Final            string
	Data             string // TranscriptionData JSON
	Track            string
	Timestamp        string

	// ErrorMessage and ErrorCode are set on transcription-error events.
	ErrorMessage string
	ErrorCode    string
}

// Fragment is one unit of transcription output, interim or final.
type Fragment struct {
	StreamSID  string
	CallSID    string
	Sequence   int
	Text       string
	Confidence float64
	Final      bool
}

// ParseFragment decodes a transcription-content event.
func ParseFragment(ev TranscriptionEvent) (Fragment, error) {
	seq, err := strconv.Atoi(strings.TrimSpace(ev.SequenceID))
	if err != nil {
		return Fragment{}, fmt.Errorf("conversation: invalid SequenceId %q: %w", ev.SequenceID, err)
	}

	var data struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	}
	if strings.TrimSpace(ev.Data) != "" {
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			return Fragment{}, fmt.Errorf("conversation: invalid TranscriptionData: %w", err)
		}
	}

	return Fragment{
		StreamSID:  ev.TranscriptionSID,
		CallSID:    ev.CallSID,
		Sequence:   seq,
		Text:       strings.TrimSpace(data.Transcript),
		Confidence: data.Confidence,
		Final:      parseBool(ev.Final),
	}, nil
}

// parseBool accepts the provider's "true"/"false" strings. Anything
// unrecognised is false.
func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gl-pgege/gl-fraud-mobile/internal/conversation"
	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/routing"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// handleTwiml answers the call setup webhook with the caller-leg
// instructions. In conference topology it also dials the callee into the
// conference.
func (s *Server) handleTwiml(w http.ResponseWriter, r *http.Request) {
	req := routing.SetupRequest{
		CallSID:       r.PostFormValue("CallSid"),
		To:            r.PostFormValue("To"),
		From:          r.PostFormValue("From"),
		RecipientType: r.PostFormValue("recipientType"),
	}
	ctx := observability.WithCallSID(r.Context(), req.CallSID)

	decision, err := s.cfg.Decider.Decide(req)
	if errors.Is(err, routing.ErrInvalidRequest) {
		s.logger.WarnContext(ctx, "rejected call setup", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "call routing failed", "error", err)
		http.Error(w, "Call routing failed", http.StatusInternalServerError)
		return
	}

	sessions := s.cfg.Router.Sessions()
	voiceID := s.cfg.Voices.Current()
	if req.CallSID != "" {
		sessions.Open(voice.CallSession{
			CallSID:   req.CallSID,
			Direction: voice.DirectionInbound,
			Recipient: decision.Recipient,
			From:      req.From,
			To:        decision.To,
			VoiceID:   voiceID,
		})
	}

	if decision.Originate != nil {
		calleeSID, err := s.cfg.Originator.OriginateCall(ctx, *decision.Originate)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to dial callee into conference",
				"to", decision.Originate.To,
				"error", err,
			)
			writeTwiml(w, voice.NewResponse().Hangup().String())
			return
		}
		sessions.Open(voice.CallSession{
			CallSID:   calleeSID,
			Direction: voice.DirectionOutbound,
			Recipient: decision.Recipient,
			From:      decision.CallerID,
			To:        decision.To,
			VoiceID:   voiceID,
		})
		s.logger.InfoContext(ctx, "callee dialed into conference", "callee_sid", calleeSID)
	}
	s.cfg.Metrics.SetActiveSessions(sessions.Active())

	s.logger.InfoContext(ctx, "call routed",
		"recipient", decision.Recipient,
		"topology", decision.Topology,
		"voice_id", voiceID,
	)
	writeTwiml(w, decision.Twiml)
}

// handleTranscribe acknowledges a transcription webhook. Accepted
// fragments run as background turns.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ev := conversation.TranscriptionEvent{
		Event:            r.PostFormValue("TranscriptionEvent"),
		TranscriptionSID: r.PostFormValue("TranscriptionSid"),
		CallSID:          r.PostFormValue("CallSid"),
		SequenceID:       r.PostFormValue("SequenceId"),
		Final:            r.PostFormValue("Final"),
		Data:             r.PostFormValue("TranscriptionData"),
		Track:            r.PostFormValue("Track"),
		Timestamp:        r.PostFormValue("Timestamp"),
		ErrorMessage:     r.PostFormValue("TranscriptionError"),
		ErrorCode:        r.PostFormValue("TranscriptionErrorCode"),
	}
	s.cfg.Router.HandleTranscription(r.Context(), ev)
	writeText(w, "Event Received")
}

func (s *Server) handleGatherResponse(w http.ResponseWriter, r *http.Request) {
	doc := s.cfg.Router.HandleGather(r.Context(), r.PostFormValue("CallSid"), r.PostFormValue("SpeechResult"))
	writeTwiml(w, doc)
}

func (s *Server) handlePostDial(w http.ResponseWriter, r *http.Request) {
	writeTwiml(w, s.cfg.Router.PostDial())
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callSID == "" {
		http.Error(w, `Missing "CallSid".`, http.StatusBadRequest)
		return
	}
	s.cfg.Router.HandleCallStatus(r.Context(), callSID, r.PostFormValue("CallStatus"))
	writeText(w, "Status received")
}

func writeTwiml(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc)) //nolint:errcheck
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body)) //nolint:errcheck
}

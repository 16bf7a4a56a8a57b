package gateway

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/gl-pgege/gl-fraud-mobile/internal/tts"
)

type setVoiceRequest struct {
	VoiceID string `json:"voiceId"`
}

type setVoiceResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// handleVoiceData lists the synthesis voices in upstream order.
func (s *Server) handleVoiceData(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "voice catalog unavailable"})
		return
	}
	voices, err := s.cfg.Catalog.ListVoices(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list voices", "error", err)
		respondJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to list voices"})
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	respondJSON(w, http.StatusOK, voices)
}

// handleSetVoice replaces the process-wide voice. Calls already set up keep
// the voice they started with.
func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var req setVoiceRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, setVoiceResponse{Error: "invalid JSON body"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			respondJSON(w, http.StatusBadRequest, setVoiceResponse{Error: "invalid form body"})
			return
		}
		req.VoiceID = r.PostFormValue("voiceId")
	}

	if err := s.cfg.Voices.Set(req.VoiceID); err != nil {
		respondJSON(w, http.StatusBadRequest, setVoiceResponse{Error: err.Error()})
		return
	}
	s.logger.InfoContext(r.Context(), "voice selected", "voice_id", s.cfg.Voices.Current())
	respondJSON(w, http.StatusOK, setVoiceResponse{Success: true})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

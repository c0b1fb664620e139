package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/inkwell-labs/inkwell/internal/provider"
	"github.com/inkwell-labs/inkwell/internal/store"
)

const maxVoiceUpload = 16 << 20

type voiceUpload struct {
	sessionID string
	userID    string
	page      int
	audio     []byte
}

func parseVoiceUpload(r *http.Request) (voiceUpload, error) {
	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
		return voiceUpload{}, err
	}
	up := voiceUpload{
		sessionID: strings.TrimSpace(r.FormValue("session_id")),
		userID:    strings.TrimSpace(r.FormValue("user_id")),
		page:      1,
	}
	if v := strings.TrimSpace(r.FormValue("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			up.page = n
		}
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return up, nil
		}
		return voiceUpload{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxVoiceUpload))
	if err != nil {
		return voiceUpload{}, err
	}
	up.audio = data
	return up, nil
}

// transcribeUpload runs STT on the clip and records the utterance as a
// voice stroke row. Returns the transcript.
func (s *Server) transcribeUpload(r *http.Request, up voiceUpload) (string, error) {
	text, err := s.stt.Transcribe(r.Context(), up.audio)
	if err != nil {
		s.countProviderError(err)
		return "", err
	}

	if _, err := s.store.InsertStrokeLog(r.Context(), store.StrokeLog{
		SessionID: up.sessionID,
		Page:      up.page,
		Strokes:   json.RawMessage("[]"),
		EventType: store.EventVoice,
		Message:   text,
		UserID:    up.userID,
	}); err != nil {
		log.Printf("[voice] (%s, page=%d): voice row insert failed: %v", up.sessionID, up.page, err)
	}
	_ = s.registry.Touch(up.sessionID)

	log.Printf("[voice] (%s, page=%d): transcribed %d bytes -> %q", up.sessionID, up.page, len(up.audio), text)
	return text, nil
}

func (s *Server) handleVoiceTranscribe(w http.ResponseWriter, r *http.Request) {
	up, err := parseVoiceUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if up.sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "form field session_id is required")
		return
	}
	if len(up.audio) == 0 {
		respondJSON(w, http.StatusOK, map[string]string{"error": "No audio received"})
		return
	}

	text, err := s.transcribeUpload(r, up)
	if err != nil {
		respondError(w, http.StatusBadGateway, "stt_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

// handleVoiceQuestion transcribes the clip, acknowledges immediately, and
// answers in the background: the reasoning event names a stream handle
// whose audio fills in sentence by sentence.
func (s *Server) handleVoiceQuestion(w http.ResponseWriter, r *http.Request) {
	up, err := parseVoiceUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if up.sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "form field session_id is required")
		return
	}
	if len(up.audio) == 0 {
		respondJSON(w, http.StatusOK, map[string]string{"error": "No audio received"})
		return
	}

	text, err := s.transcribeUpload(r, up)
	if err != nil {
		respondError(w, http.StatusBadGateway, "stt_failed", err.Error())
		return
	}

	if strings.TrimSpace(text) != "" {
		id := s.pipeline.AskQuestion(up.sessionID, up.page, text)
		log.Printf("[voice] (%s, page=%d): question accepted, tts_id=%s", up.sessionID, up.page, id)
	}

	respondJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

func (s *Server) countProviderError(err error) {
	if s.metrics == nil {
		return
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		s.metrics.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Kind)).Inc()
	}
}

package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
)

// The simulation endpoints let a scripted student exercise the tutor
// without a tablet: set up a problem, write work as ready-made
// transcriptions, ask questions, and read the decisions synchronously.
// Debounce and delayed delivery are skipped on this path.

type answerKeyEntry struct {
	PartLabel string `json:"part_label"`
	Answer    string `json:"answer"`
}

type simulationStartRequest struct {
	ProblemText    string           `json:"problem_text"`
	AnswerKey      []answerKeyEntry `json:"answer_key"`
	Label          string           `json:"label"`
	QuestionNumber int              `json:"question_number"`
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	var req simulationStartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ProblemText) == "" {
		respondError(w, http.StatusBadRequest, "missing_problem_text", "problem_text is required")
		return
	}
	if req.QuestionNumber <= 0 {
		req.QuestionNumber = 1
	}
	if strings.TrimSpace(req.Label) == "" {
		req.Label = fmt.Sprintf("Problem %d", req.QuestionNumber)
	}

	sessionID := "sim_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	docID, err := s.store.InsertDocument(r.Context(), sessionID, 1, 1)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	questionID, err := s.store.InsertQuestion(r.Context(), store.Question{
		DocumentID: docID,
		Number:     req.QuestionNumber,
		Label:      req.Label,
		Text:       req.ProblemText,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	for _, key := range req.AnswerKey {
		if err := s.store.InsertAnswerKey(r.Context(), questionID, key.PartLabel, key.Answer); err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
	}
	if err := s.store.CacheSessionQuestion(r.Context(), sessionID, questionID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	s.registry.Connect(session.Session{
		ID:             sessionID,
		UserID:         "simulation",
		DocumentName:   sessionID,
		QuestionNumber: req.QuestionNumber,
		Simulated:      true,
	})
	s.setActiveSessions()
	s.countSessionEvent("sim_started")

	log.Printf("[sim] started session %s (doc=%d, q=%d)", sessionID, docID, req.QuestionNumber)
	respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "ready"})
}

type simulationWriteRequest struct {
	SessionID     string `json:"session_id"`
	Transcription string `json:"transcription"`
}

func (s *Server) handleSimulationWrite(w http.ResponseWriter, r *http.Request) {
	var req simulationWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, ok := s.simSession(r, req.SessionID); !ok {
		respondError(w, http.StatusNotFound, "unknown_session", "unknown simulation session: "+req.SessionID)
		return
	}

	if err := s.store.UpsertTranscription(r.Context(), store.PageTranscription{
		SessionID:  req.SessionID,
		Page:       1,
		LaTeX:      req.Transcription,
		Text:       req.Transcription,
		Confidence: 1.0,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	dec, err := s.pipeline.RunReasoningNow(r.Context(), req.SessionID, 1)
	if err != nil {
		respondError(w, http.StatusBadGateway, "reasoning_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

type simulationAskRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

func (s *Server) handleSimulationAsk(w http.ResponseWriter, r *http.Request) {
	var req simulationAskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "missing_question", "question is required")
		return
	}
	if _, ok := s.simSession(r, req.SessionID); !ok {
		respondError(w, http.StatusNotFound, "unknown_session", "unknown simulation session: "+req.SessionID)
		return
	}

	dec, err := s.pipeline.RunQuestionNow(r.Context(), req.SessionID, 1, req.Question)
	if err != nil {
		respondError(w, http.StatusBadGateway, "reasoning_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

type simulationResetRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSimulationReset(w http.ResponseWriter, r *http.Request) {
	var req simulationResetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	questionID, ok := s.simSession(r, req.SessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_session", "unknown simulation session: "+req.SessionID)
		return
	}

	if q, err := s.store.QuestionByID(r.Context(), questionID); err == nil {
		if err := s.store.DeleteDocument(r.Context(), q.DocumentID); err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
	}
	if _, err := s.store.PurgeSession(r.Context(), req.SessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	if _, err := s.registry.Disconnect(req.SessionID); err == nil {
		s.setActiveSessions()
	}
	s.pipeline.CleanupSession(req.SessionID)

	log.Printf("[sim] reset session %s", req.SessionID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleaned up"})
}

// simSession reports whether the id names a live simulation session and
// returns its bound question. The binding outlives registry eviction, so
// reset keeps working after another session connects.
func (s *Server) simSession(r *http.Request, sessionID string) (int64, bool) {
	if !strings.HasPrefix(sessionID, "sim_") {
		return 0, false
	}
	questionID, err := s.store.CachedQuestionID(r.Context(), sessionID)
	if err != nil {
		return 0, false
	}
	return questionID, true
}

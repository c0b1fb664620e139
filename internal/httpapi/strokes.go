package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/tutor"
)

type connectRequest struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	DocumentName   string `json:"document_name"`
	QuestionNumber int    `json:"question_number"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	sess := s.registry.Connect(session.Session{
		ID:             req.SessionID,
		UserID:         req.UserID,
		DocumentName:   strings.TrimSpace(req.DocumentName),
		QuestionNumber: req.QuestionNumber,
	})
	s.setActiveSessions()
	s.countSessionEvent("connected")

	if _, err := s.store.InsertStrokeLog(r.Context(), store.StrokeLog{
		SessionID: sess.ID,
		Page:      0,
		Strokes:   json.RawMessage("[]"),
		EventType: store.EventSystem,
		Message:   "session started",
		UserID:    sess.UserID,
	}); err != nil {
		log.Printf("[strokes] (%s): system row insert failed: %v", sess.ID, err)
	}

	// Bind the declared problem up front so reconnects keep it even after
	// the registry record is gone.
	if sess.DocumentName != "" && sess.QuestionNumber > 0 {
		if q, err := s.store.QuestionByNumber(r.Context(), sess.DocumentName, sess.QuestionNumber); err == nil {
			if err := s.store.CacheSessionQuestion(r.Context(), sess.ID, q.ID); err != nil {
				log.Printf("[strokes] (%s): question cache failed: %v", sess.ID, err)
			}
		}
	}

	log.Printf("[strokes] session %s connected (doc=%q, q=%d)", sess.ID, sess.DocumentName, sess.QuestionNumber)
	respondJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

type disconnectRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	if _, err := s.registry.Disconnect(req.SessionID); err == nil {
		s.countSessionEvent("disconnected")
	}
	s.setActiveSessions()
	s.pipeline.CleanupSession(req.SessionID)

	log.Printf("[strokes] session %s disconnected", req.SessionID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type strokesRequest struct {
	SessionID    string          `json:"session_id"`
	UserID       string          `json:"user_id"`
	Page         int             `json:"page"`
	Strokes      json.RawMessage `json:"strokes"`
	EventType    string          `json:"event_type"`
	DeletedCount int             `json:"deleted_count"`
	PartLabel    *string         `json:"part_label"`
	ContentMode  *string         `json:"content_mode"`
}

func (s *Server) handleStrokes(w http.ResponseWriter, r *http.Request) {
	var req strokesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.EventType == "" {
		req.EventType = store.EventDraw
	}
	if len(req.Strokes) == 0 {
		req.Strokes = json.RawMessage("[]")
	}

	if _, err := s.store.InsertStrokeLog(r.Context(), store.StrokeLog{
		SessionID:    req.SessionID,
		Page:         req.Page,
		Strokes:      req.Strokes,
		EventType:    req.EventType,
		DeletedCount: req.DeletedCount,
		UserID:       req.UserID,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	if req.EventType == store.EventDraw || req.EventType == store.EventErase {
		s.pipeline.OnStrokeEvent(req.SessionID, req.Page)
	}

	if req.PartLabel != nil {
		_ = s.registry.SetPartLabel(req.SessionID, *req.PartLabel)
	}
	if req.ContentMode != nil {
		if err := s.registry.SetContentMode(req.SessionID, *req.ContentMode); err != nil && !errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusBadRequest, "invalid_content_mode", err.Error())
			return
		}
	}
	_ = s.registry.Touch(req.SessionID)

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type clearRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page"`
}

func (s *Server) handleClearPage(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}

	if err := s.store.ClearPage(r.Context(), req.SessionID, req.Page); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.pipeline.InvalidatePage(req.SessionID, req.Page)

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type strokeLogsResponse struct {
	Logs                 []store.StrokeLog `json:"logs"`
	Total                int64             `json:"total"`
	ActiveConnections    int               `json:"active_connections"`
	ActiveSessions       int               `json:"active_sessions"`
	DocumentName         string            `json:"document_name"`
	QuestionNumber       int               `json:"question_number"`
	MatchedQuestionLabel string            `json:"matched_question_label"`
}

func (s *Server) handleStrokeLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.StrokeFilter{
		SessionID: strings.TrimSpace(q.Get("session_id")),
		Limit:     clampLimit(intQuery(r, "limit", 50)),
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Page = &n
		}
	}

	logs, total, err := s.store.StrokeLogs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if logs == nil {
		logs = []store.StrokeLog{}
	}

	resp := strokeLogsResponse{
		Logs:              logs,
		Total:             total,
		ActiveConnections: s.broker.SubscriberCount(),
		ActiveSessions:    s.registry.ActiveCount(),
	}

	sess := s.lookupSession(filter.SessionID)
	if sess != nil {
		resp.DocumentName = sess.DocumentName
		resp.QuestionNumber = sess.QuestionNumber
		if sess.QuestionNumber > 0 {
			resp.MatchedQuestionLabel = fmt.Sprintf("Q%d", sess.QuestionNumber)
			if question, err := s.store.QuestionByNumber(r.Context(), sess.DocumentName, sess.QuestionNumber); err == nil && question.Label != "" {
				resp.MatchedQuestionLabel = question.Label
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// lookupSession resolves the session named in a query, falling back to the
// most recently active one so the debug view works without parameters.
func (s *Server) lookupSession(sessionID string) *session.Session {
	if sessionID != "" {
		sess, err := s.registry.Get(sessionID)
		if err != nil {
			return nil
		}
		return sess
	}
	return s.registry.Latest()
}

func (s *Server) handleDeleteStrokeLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	var deleted int64
	var err error
	if sessionID != "" {
		deleted, err = s.store.PurgeSession(r.Context(), sessionID)
	} else {
		deleted, err = s.store.PurgeAll(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type reasoningLogsResponse struct {
	Logs  []store.ReasoningLog `json:"logs"`
	Usage store.Usage          `json:"usage"`
}

func (s *Server) handleReasoningLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	limit := clampLimit(intQuery(r, "limit", 50))

	logs, err := s.store.ReasoningLogs(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if logs == nil {
		logs = []store.ReasoningLog{}
	}
	usage, err := s.store.ReasoningUsage(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, reasoningLogsResponse{Logs: logs, Usage: usage})
}

func (s *Server) handlePageTranscription(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	page := intQuery(r, "page", 1)

	rec, err := s.store.Transcription(r.Context(), sessionID, page)
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusOK, store.PageTranscription{SessionID: sessionID, Page: page})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type reasoningPreviewResponse struct {
	SystemPrompt string          `json:"system_prompt"`
	Sections     []tutor.Section `json:"sections"`
}

func (s *Server) handleReasoningPreview(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	page := intQuery(r, "page", 1)

	cx, err := s.pipeline.BuildContext(r.Context(), sessionID, page)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "context_error", err.Error())
		return
	}
	sections := cx.Sections
	if sections == nil {
		sections = []tutor.Section{}
	}

	respondJSON(w, http.StatusOK, reasoningPreviewResponse{
		SystemPrompt: tutor.SystemPrompt(),
		Sections:     sections,
	})
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > 200 {
		return 200
	}
	return n
}

func (s *Server) setActiveSessions() {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
}

func (s *Server) countSessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

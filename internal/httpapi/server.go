// Package httpapi exposes the service over HTTP: stroke ingestion,
// audit queries, the SSE event stream, voice uploads, TTS delivery and
// the simulation endpoints used by scripted students.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/events"
	"github.com/inkwell-labs/inkwell/internal/observability"
	"github.com/inkwell-labs/inkwell/internal/provider"
	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/ttsstream"
	"github.com/inkwell-labs/inkwell/internal/tutor"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store    store.Store
	Registry *session.Registry
	Broker   *events.Broker
	Handles  *ttsstream.Registry
	Pipeline *tutor.Pipeline
	STT      provider.STTProvider
	TTS      provider.TTSProvider
	Metrics  *observability.Metrics
}

type Server struct {
	cfg      config.Config
	store    store.Store
	registry *session.Registry
	broker   *events.Broker
	handles  *ttsstream.Registry
	pipeline *tutor.Pipeline
	stt      provider.STTProvider
	tts      provider.TTSProvider
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		registry: deps.Registry,
		broker:   deps.Broker,
		handles:  deps.Handles,
		pipeline: deps.Pipeline,
		stt:      deps.STT,
		tts:      deps.TTS,
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another site cannot burn the TTS quota if
				// the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/strokes/connect", s.handleConnect)
	r.Post("/strokes/disconnect", s.handleDisconnect)
	r.Post("/strokes", s.handleStrokes)
	r.Post("/strokes/clear", s.handleClearPage)
	r.Get("/stroke-logs", s.handleStrokeLogs)
	r.Delete("/stroke-logs", s.handleDeleteStrokeLogs)
	r.Get("/reasoning-logs", s.handleReasoningLogs)
	r.Get("/page-transcription", s.handlePageTranscription)
	r.Get("/reasoning-preview", s.handleReasoningPreview)

	r.Get("/events", s.handleEvents)

	r.Get("/tts/stream/{tts_id}", s.handleTTSStream)
	r.Post("/tts/preview", s.handleTTSPreview)
	r.Get("/ws/tts", s.handleTTSSocket)

	r.Post("/voice/transcribe", s.handleVoiceTranscribe)
	r.Post("/voice/question", s.handleVoiceQuestion)

	r.Post("/simulation/start", s.handleSimulationStart)
	r.Post("/simulation/write", s.handleSimulationWrite)
	r.Post("/simulation/ask", s.handleSimulationAsk)
	r.Post("/simulation/reset", s.handleSimulationReset)

	r.Get("/stats/latency", s.handleStatsLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.ActiveCount(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

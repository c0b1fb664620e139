package httpapi

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// sseKeepalive is how long the stream may sit idle before a comment frame
// is sent to keep proxies from closing it.
const sseKeepalive = 25 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}

	sub := s.broker.Subscribe(sessionID)
	defer s.broker.Unsubscribe(sessionID, sub)
	if s.metrics != nil {
		s.metrics.SSESubscribers.Inc()
		defer s.metrics.SSESubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("[sse] connected: session=%s", sessionID)
	defer log.Printf("[sse] disconnected: session=%s", sessionID)

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
				return
			}
			flusher.Flush()
			keepalive.Reset(sseKeepalive)
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

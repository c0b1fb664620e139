package httpapi

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/inkwell-labs/inkwell/internal/audio"
	"github.com/inkwell-labs/inkwell/internal/protocol"
	"github.com/inkwell-labs/inkwell/internal/provider"
	"github.com/inkwell-labs/inkwell/internal/ttsstream"
)

const (
	socketChunkSize   = 8 * 1024
	socketIdleLimit   = 120 * time.Second
	socketWriteLimit  = 10 * time.Second
	socketMessageSize = 1 << 20
)

// handleTTSStream delivers the audio for a registered handle as raw PCM.
// Take is destructive, so a replayed URL gets a 404.
func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tts_id")
	h, ok := s.handles.Take(id)
	if !ok {
		respondError(w, http.StatusNotFound, "tts_not_found", "tts id not found or already consumed")
		return
	}
	s.countTTSHandle("taken")

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Sample-Rate", strconv.Itoa(provider.TTSSampleRate))
	w.Header().Set("X-Channels", strconv.Itoa(provider.TTSChannels))
	w.Header().Set("X-Sample-Width", strconv.Itoa(provider.TTSSampleWidth))
	w.WriteHeader(http.StatusOK)

	first := true
	sink := func(pcm []byte) error {
		if first {
			first = false
			if h.Streamed() && s.metrics != nil {
				s.metrics.ObserveFirstAudioLatency(time.Since(h.CreatedAt))
			}
		}
		if _, err := w.Write(pcm); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	var err error
	if h.Streamed() {
		err = ttsstream.Pump(r.Context(), s.tts, h.Stream, sink)
	} else {
		err = ttsstream.PumpText(r.Context(), s.tts, h.Text, sink)
	}
	if err != nil {
		log.Printf("[tts] (%s): stream ended early: %v", id, err)
	}
}

type previewRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// handleTTSPreview synthesizes one utterance and returns it as a WAV clip
// a browser can play directly.
func (s *Server) handleTTSPreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if req.Speed < 0 {
		respondError(w, http.StatusBadRequest, "invalid_speed", "speed must be positive")
		return
	}

	pcm, err := s.tts.Synthesize(r.Context(), provider.SpeechRequest{
		Text:  text,
		Voice: strings.TrimSpace(req.Voice),
		Speed: req.Speed,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.EncodeWAV(pcm, provider.TTSSampleRate))
}

// handleTTSSocket serves synthesis over a websocket: the client sends
// synthesize requests and receives a format announcement, binary PCM
// frames, and an end marker per utterance.
func (s *Server) handleTTSSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(socketMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(socketIdleLimit))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(socketIdleLimit))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(socketIdleLimit))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if writeErr := writeSocketJSON(conn, protocol.ErrorFrame{Type: protocol.TypeError, Detail: err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		req, ok := parsed.(protocol.SynthesizeRequest)
		if !ok {
			continue
		}
		if err := s.speakOnSocket(r.Context(), conn, req); err != nil {
			log.Printf("[tts] socket synthesis aborted: %v", err)
			return
		}
	}
}

func (s *Server) speakOnSocket(ctx context.Context, conn *websocket.Conn, req protocol.SynthesizeRequest) error {
	var synth provider.TTSProvider = s.tts
	if req.Voice != "" || req.Speed > 0 {
		synth = overrideSynth{base: s.tts, voice: req.Voice, speed: req.Speed}
	}

	if err := writeSocketJSON(conn, protocol.TTSStart{
		Type:        protocol.TypeTTSStart,
		SampleRate:  provider.TTSSampleRate,
		Channels:    provider.TTSChannels,
		SampleWidth: provider.TTSSampleWidth,
	}); err != nil {
		return err
	}

	err := ttsstream.PumpText(ctx, synth, req.Text, func(pcm []byte) error {
		for len(pcm) > 0 {
			n := len(pcm)
			if n > socketChunkSize {
				n = socketChunkSize
			}
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteLimit))
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm[:n]); err != nil {
				return err
			}
			pcm = pcm[n:]
		}
		return nil
	})
	if err != nil {
		return err
	}

	return writeSocketJSON(conn, protocol.TTSEnd{Type: protocol.TypeTTSEnd})
}

func writeSocketJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteLimit))
	return conn.WriteJSON(v)
}

// overrideSynth applies per-request voice and speed on top of the pool
// defaults; the pump itself always asks for defaults.
type overrideSynth struct {
	base  provider.TTSProvider
	voice string
	speed float64
}

func (o overrideSynth) Synthesize(ctx context.Context, req provider.SpeechRequest) ([]byte, error) {
	if o.voice != "" {
		req.Voice = o.voice
	}
	if o.speed > 0 {
		req.Speed = o.speed
	}
	return o.base.Synthesize(ctx, req)
}

func (s *Server) countTTSHandle(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.TTSHandles.WithLabelValues(event).Inc()
}

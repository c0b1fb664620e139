// Package provider holds the adapters for the external services the tutor
// depends on: handwriting recognition, speech-to-text, chat completion and
// speech synthesis. Every adapter returns *Error so callers can apply one
// retry policy regardless of which backend failed.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an adapter failure for retry decisions.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindRateLimited Kind = "rate_limited"
	KindBadRequest  Kind = "bad_request"
	KindTransient   Kind = "transient"
	KindFatal       Kind = "fatal"
)

// Error wraps an adapter failure with the provider name and its kind.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified adapter error.
func Errorf(providerName string, kind Kind, format string, args ...any) *Error {
	return &Error{Provider: providerName, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ClassifyStatus maps an HTTP status to a failure kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindUnavailable
	case status >= 400 && status < 500:
		return KindBadRequest
	case status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// Retryable reports whether a failed call may be attempted again.
// Cancellation is never retryable; a superseded task must stay dead.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient || pe.Kind == KindRateLimited
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the delay before retry attempt n (0-based), doubling from
// base up to cap.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base << uint(attempt)
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

// Retry runs fn up to attempts times, sleeping Backoff between tries, and
// stops early on non-retryable errors or context cancellation.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(i, base, 5*time.Second)):
		}
	}
	return err
}

// PCM format produced by TTS providers.
const (
	TTSSampleRate  = 24000
	TTSChannels    = 1
	TTSSampleWidth = 2
)

// Ink is one page's visible strokes in recognizer wire order: parallel
// per-stroke coordinate arrays.
type Ink struct {
	X [][]float64
	Y [][]float64
}

// InkSession is a short-lived recognizer session bound to one page.
type InkSession struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the session can no longer accept strokes.
func (s InkSession) Expired(now time.Time) bool {
	return s.ID == "" || !now.Before(s.ExpiresAt)
}

// Recognition is the recognizer's reading of a page.
type Recognition struct {
	LaTeX       string
	Text        string
	Confidence  float64
	Handwritten bool
	LineData    json.RawMessage
	Remark      string // recognizer-reported per-result error, not transport
}

// InkRecognizer converts raw strokes into LaTeX and plain text.
type InkRecognizer interface {
	NewSession(ctx context.Context) (InkSession, error)
	Recognize(ctx context.Context, sess InkSession, ink Ink) (Recognition, error)
}

// STTProvider converts spoken audio into text.
type STTProvider interface {
	// Transcribe accepts a complete WAV clip and returns its transcript.
	Transcribe(ctx context.Context, audioWAV []byte) (string, error)
}

// Image is an inline attachment for a chat turn.
type Image struct {
	Data []byte
	MIME string
}

// ResponseSchema constrains a chat completion to a JSON shape.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

// ChatRequest is a single system+user exchange, optionally with images
// attached to the user turn and a schema constraining the reply.
type ChatRequest struct {
	System      string
	User        string
	Images      []Image
	Schema      *ResponseSchema
	Temperature float64
	MaxTokens   int64
}

// ChatUsage is token accounting as reported by the backend.
type ChatUsage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// ChatResult is the completed reply.
type ChatResult struct {
	Content string
	Usage   ChatUsage
}

// DeltaFunc receives streamed content fragments. Returning ErrStopStream
// ends the stream early without failing it; any other error aborts.
type DeltaFunc func(delta string) error

// ErrStopStream tells Stream to stop reading and return what accumulated.
var ErrStopStream = errors.New("stop stream")

// LLMProvider runs chat completions.
type LLMProvider interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResult, error)
	Stream(ctx context.Context, req ChatRequest, onDelta DeltaFunc) (ChatResult, error)
}

// SpeechRequest is one utterance to synthesize.
type SpeechRequest struct {
	Text  string
	Voice string  // empty uses the provider default
	Speed float64 // zero uses the provider default
}

// TTSProvider renders text to raw PCM (TTSSampleRate Hz, mono, s16le).
type TTSProvider interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

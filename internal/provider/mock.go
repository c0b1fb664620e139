package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mock providers give deterministic local behavior when a backend is not
// configured, so the rest of the pipeline stays exercisable in dev.

type MockRecognizer struct{}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (r *MockRecognizer) NewSession(ctx context.Context) (InkSession, error) {
	select {
	case <-ctx.Done():
		return InkSession{}, ctx.Err()
	default:
	}
	return InkSession{
		ID:        "mock-" + uuid.NewString(),
		Token:     "mock-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (r *MockRecognizer) Recognize(ctx context.Context, _ InkSession, ink Ink) (Recognition, error) {
	select {
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	default:
	}
	return Recognition{
		Text:        fmt.Sprintf("simulated ink (%d strokes)", len(ink.X)),
		Confidence:  0.99,
		Handwritten: true,
	}, nil
}

type MockSTT struct{}

func NewMockSTT() *MockSTT { return &MockSTT{} }

func (p *MockSTT) Transcribe(ctx context.Context, audioWAV []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if len(audioWAV) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

// MockLLM always produces a silent, schema-shaped decision. The message is
// populated so flows that force speech still have something to say.
type MockLLM struct{}

func NewMockLLM() *MockLLM { return &MockLLM{} }

const mockDecision = `{"internal_reasoning":"simulated evaluation","action":"silent","level":1,"error_type":"","delay_ms":0,"message":"I am running without a reasoning backend right now."}`

func (p *MockLLM) Complete(ctx context.Context, _ ChatRequest) (ChatResult, error) {
	select {
	case <-ctx.Done():
		return ChatResult{}, ctx.Err()
	default:
	}
	return ChatResult{Content: mockDecision}, nil
}

func (p *MockLLM) Stream(ctx context.Context, _ ChatRequest, onDelta DeltaFunc) (ChatResult, error) {
	select {
	case <-ctx.Done():
		return ChatResult{}, ctx.Err()
	default:
	}
	if onDelta != nil {
		// Fragment the reply so streaming consumers see multiple deltas.
		for _, part := range splitMock(mockDecision, 3) {
			if err := onDelta(part); err != nil {
				if err == ErrStopStream {
					return ChatResult{Content: mockDecision}, nil
				}
				return ChatResult{}, err
			}
		}
	}
	return ChatResult{Content: mockDecision}, nil
}

func splitMock(s string, parts int) []string {
	if parts <= 1 || len(s) <= parts {
		return []string{s}
	}
	size := len(s) / parts
	out := make([]string, 0, parts)
	for i := 0; i < parts; i++ {
		start := i * size
		end := start + size
		if i == parts-1 {
			end = len(s)
		}
		out = append(out, s[start:end])
	}
	return out
}

// MockTTS returns the utterance bytes themselves as fake PCM, which keeps
// transport paths testable without an audio backend.
type MockTTS struct{}

func NewMockTTS() *MockTTS { return &MockTTS{} }

func (p *MockTTS) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if req.Text == "" {
		return nil, Errorf("mock", KindBadRequest, "empty text")
	}
	return []byte(req.Text), nil
}

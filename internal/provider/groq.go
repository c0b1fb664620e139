package provider

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GroqConfig configures the speech-to-text adapter. Groq exposes Whisper
// behind an OpenAI-compatible audio endpoint.
type GroqConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GroqSTT transcribes complete WAV clips.
type GroqSTT struct {
	cfg    GroqConfig
	client openai.Client
}

func NewGroqSTT(cfg GroqConfig) *GroqSTT {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GroqSTT{
		cfg: cfg,
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			option.WithMaxRetries(0),
		),
	}
}

func (p *GroqSTT) Transcribe(ctx context.Context, audioWAV []byte) (string, error) {
	if p.cfg.APIKey == "" {
		return "", Errorf("groq", KindUnavailable, "api key not configured")
	}
	if len(audioWAV) == 0 {
		return "", Errorf("groq", KindBadRequest, "empty audio")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(p.cfg.Model),
		File:  openai.File(bytes.NewReader(audioWAV), "recording.wav", "audio/wav"),
	})
	if err != nil {
		return "", wrapOpenAI("groq", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

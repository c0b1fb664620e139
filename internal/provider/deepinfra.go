package provider

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DeepInfraConfig configures speech synthesis. DeepInfra serves Kokoro
// behind an OpenAI-compatible speech endpoint returning raw PCM.
type DeepInfraConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Speed   float64
	Timeout time.Duration
}

// DeepInfraTTS renders text to 24 kHz mono s16le PCM.
type DeepInfraTTS struct {
	cfg    DeepInfraConfig
	client openai.Client
}

func NewDeepInfraTTS(cfg DeepInfraConfig) *DeepInfraTTS {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.deepinfra.com/v1/openai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "hexgrad/Kokoro-82M"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "af_heart"
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 0.95
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &DeepInfraTTS{
		cfg: cfg,
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			option.WithMaxRetries(0),
		),
	}
}

func (p *DeepInfraTTS) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if p.cfg.APIKey == "" {
		return nil, Errorf("deepinfra", KindUnavailable, "api key not configured")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, Errorf("deepinfra", KindBadRequest, "empty text")
	}

	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = p.cfg.Speed
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	res, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(p.cfg.Model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          openai.Float(speed),
	})
	if err != nil {
		return nil, wrapOpenAI("deepinfra", err)
	}
	defer res.Body.Close()

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, Errorf("deepinfra", KindTransient, "read audio body: %v", err)
	}
	if len(pcm) == 0 {
		return nil, Errorf("deepinfra", KindTransient, "synthesis returned no audio")
	}
	return pcm, nil
}

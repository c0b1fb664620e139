package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenRouterConfig configures the chat completion adapter. Any
// OpenAI-compatible gateway works; the default points at OpenRouter.
type OpenRouterConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration // unary completion ceiling
	IdleTimeout time.Duration // max gap between streamed chunks
}

// OpenRouterLLM runs chat completions against an OpenAI-compatible gateway.
type OpenRouterLLM struct {
	cfg    OpenRouterConfig
	client openai.Client
}

func NewOpenRouterLLM(cfg OpenRouterConfig) *OpenRouterLLM {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "openai/gpt-oss-120b"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &OpenRouterLLM{
		cfg: cfg,
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithMaxRetries(0),
		),
	}
}

func (p *OpenRouterLLM) Complete(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if p.cfg.APIKey == "" {
		return ChatResult{}, Errorf("openrouter", KindUnavailable, "api key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req, false))
	if err != nil {
		return ChatResult{}, wrapOpenAI("openrouter", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, Errorf("openrouter", KindTransient, "completion returned no choices")
	}
	return ChatResult{
		Content: resp.Choices[0].Message.Content,
		Usage: ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream runs a streaming completion, invoking onDelta per content fragment.
// A stall longer than IdleTimeout cancels the stream and fails transient;
// onDelta returning ErrStopStream ends it early with whatever accumulated.
func (p *OpenRouterLLM) Stream(ctx context.Context, req ChatRequest, onDelta DeltaFunc) (ChatResult, error) {
	if p.cfg.APIKey == "" {
		return ChatResult{}, Errorf("openrouter", KindUnavailable, "api key not configured")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := p.client.Chat.Completions.NewStreaming(streamCtx, p.buildParams(req, true))
	defer stream.Close()

	watchdog := time.AfterFunc(p.cfg.IdleTimeout, cancel)
	defer watchdog.Stop()

	var (
		out     strings.Builder
		usage   ChatUsage
		stopped bool
	)
	for stream.Next() {
		watchdog.Reset(p.cfg.IdleTimeout)
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = ChatUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta == nil {
			continue
		}
		if err := onDelta(delta); err != nil {
			if errors.Is(err, ErrStopStream) {
				stopped = true
				cancel()
				break
			}
			return ChatResult{}, err
		}
	}
	if err := stream.Err(); err != nil && !stopped {
		if streamCtx.Err() != nil && ctx.Err() == nil {
			return ChatResult{}, Errorf("openrouter", KindTransient, "stream idle for %s: %v", p.cfg.IdleTimeout, err)
		}
		return ChatResult{}, wrapOpenAI("openrouter", err)
	}
	return ChatResult{Content: out.String(), Usage: usage}, nil
}

func (p *OpenRouterLLM) buildParams(req ChatRequest, streaming bool) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: chatMessages(req),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	if streaming {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return params
}

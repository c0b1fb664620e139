package provider

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/openai/openai-go"
)

// wrapOpenAI classifies errors coming out of the openai-go client. API
// errors map by status; plain cancellation passes through untouched so
// supersession stays distinguishable from failure.
func wrapOpenAI(providerName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &Error{Provider: providerName, Kind: ClassifyStatus(apierr.StatusCode), Err: err}
	}
	return &Error{Provider: providerName, Kind: KindTransient, Err: err}
}

// chatMessages builds the system+user turns, inlining images as data URLs.
func chatMessages(req ChatRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	if len(req.Images) == 0 {
		msgs = append(msgs, openai.UserMessage(req.User))
		return msgs
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	parts = append(parts, openai.TextContentPart(req.User))
	for _, img := range req.Images {
		mime := img.MIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		}))
	}
	msgs = append(msgs, openai.UserMessage(parts))
	return msgs
}

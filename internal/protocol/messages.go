// Package protocol defines the JSON frames exchanged on the TTS
// websocket. The client asks for synthesis; the server replies with a
// format announcement, raw PCM binary frames, and an end marker.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSynthesize MessageType = "synthesize"
	TypeTTSStart   MessageType = "tts_start"
	TypeTTSEnd     MessageType = "tts_end"
	TypeError      MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SynthesizeRequest asks the server to speak text. Voice and Speed are
// optional overrides of the configured defaults.
type SynthesizeRequest struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text"`
	Voice string      `json:"voice,omitempty"`
	Speed float64     `json:"speed,omitempty"`
}

// TTSStart announces the PCM format of the binary frames that follow.
type TTSStart struct {
	Type        MessageType `json:"type"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels"`
	SampleWidth int         `json:"sample_width"`
}

// TTSEnd marks the last binary frame of one utterance.
type TTSEnd struct {
	Type MessageType `json:"type"`
}

// ErrorFrame reports a per-request failure without closing the socket.
type ErrorFrame struct {
	Type   MessageType `json:"type"`
	Detail string      `json:"detail"`
}

// ParseClientMessage decodes one text frame from the client.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSynthesize:
		var msg SynthesizeRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("synthesize requires non-empty text")
		}
		if msg.Speed < 0 {
			return nil, errors.New("synthesize speed must be positive")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

package tutor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Actions a decision can carry. The legacy delayed_speak is still accepted
// on input and normalized to speak with a floor on the delay.
const (
	ActionSilent = "silent"
	ActionSpeak  = "speak"

	actionDelayedSpeak = "delayed_speak"

	maxDelayMS         = 15000
	legacyDelayFloorMS = 10000
)

// gpt-oss-120b pricing per token.
const (
	promptCostPerToken     = 0.15 / 1e6
	completionCostPerToken = 0.60 / 1e6
)

// Decision is the normalized outcome of one reasoning run.
type Decision struct {
	InternalReasoning string `json:"internal_reasoning"`
	Action            string `json:"action"`
	Level             int    `json:"level"`
	ErrorType         string `json:"error_type"`
	DelayMS           int    `json:"delay_ms"`
	Message           string `json:"message"`
}

// ParseDecision decodes a complete model reply and normalizes it.
func ParseDecision(raw string) (Decision, error) {
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d.normalize(), nil
}

// ParseDecisionLenient recovers what it can from a truncated or malformed
// reply, field by field. Early-exited streams land here.
func ParseDecisionLenient(raw string) Decision {
	if d, err := ParseDecision(raw); err == nil {
		return d
	}
	var d Decision
	d.InternalReasoning, _, _ = scanStringField(raw, "internal_reasoning")
	d.Action, _, _ = scanStringField(raw, "action")
	d.ErrorType, _, _ = scanStringField(raw, "error_type")
	d.Message, _, _ = scanStringField(raw, "message")
	d.Level, _ = scanIntField(raw, "level")
	d.DelayMS, _ = scanIntField(raw, "delay_ms")
	return d.normalize()
}

// parseEarlyExit assembles a decision from a stream cut off at the silent
// action. Only fields that closed before the cut are trusted; in particular
// a half-streamed message is dropped rather than spoken.
func parseEarlyExit(raw string) Decision {
	var d Decision
	d.Action = ActionSilent
	d.InternalReasoning, _, _ = scanStringField(raw, "internal_reasoning")
	if msg, complete, _ := scanStringField(raw, "message"); complete {
		d.Message = msg
	}
	if et, complete, _ := scanStringField(raw, "error_type"); complete {
		d.ErrorType = et
	}
	d.Level, _ = scanIntField(raw, "level")
	d.DelayMS, _ = scanIntField(raw, "delay_ms")
	return d.normalize()
}

func (d Decision) normalize() Decision {
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	switch d.Action {
	case actionDelayedSpeak:
		d.Action = ActionSpeak
		if d.DelayMS < legacyDelayFloorMS {
			d.DelayMS = legacyDelayFloorMS
		}
	case ActionSpeak, ActionSilent:
	default:
		d.Action = ActionSilent
	}
	if d.DelayMS < 0 {
		d.DelayMS = 0
	}
	if d.DelayMS > maxDelayMS {
		d.DelayMS = maxDelayMS
	}
	if d.Level < 1 {
		d.Level = 1
	} else if d.Level > 4 {
		d.Level = 4
	}
	switch d.ErrorType {
	case "procedural", "conceptual", "strategic":
	default:
		d.ErrorType = ""
	}
	// The model occasionally contradicts its own verdict. When it reasoned
	// its way to PASS and wrote a message, the message wins.
	if d.Action == ActionSilent && strings.TrimSpace(d.Message) != "" &&
		strings.Contains(d.InternalReasoning, "VERDICT: PASS") {
		d.Action = ActionSpeak
		d.DelayMS = 0
	}
	return d
}

// ForVoice applies the voice-question rules: always spoken, never delayed.
func (d Decision) ForVoice() Decision {
	d.Action = ActionSpeak
	d.DelayMS = 0
	return d
}

// EstimateTokens approximates token counts by whitespace-split word counts,
// for backends that report no usage.
func EstimateTokens(prompt, completion string) (int, int) {
	return len(strings.Fields(prompt)), len(strings.Fields(completion))
}

// EstimateCost prices a run at the reasoning model's per-token rates.
func EstimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*promptCostPerToken +
		float64(completionTokens)*completionCostPerToken
}

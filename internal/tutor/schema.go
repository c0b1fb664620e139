package tutor

import (
	"sort"

	"github.com/inkwell-labs/inkwell/internal/provider"
)

// DecisionSchema constrains the reasoning model's reply to the decision
// shape. Strict: every field required, no extras.
func DecisionSchema() provider.ResponseSchema {
	return provider.ResponseSchema{
		Name: "tutor_decision",
		Schema: MakeStrict(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"internal_reasoning": map[string]any{
					"type":        "string",
					"description": "Line-by-line check of the student's work against the answer key, ending with VERDICT: PASS or VERDICT: FAIL.",
				},
				"action": map[string]any{
					"type": "string",
					"enum": []string{"silent", "speak"},
				},
				"level": map[string]any{
					"type": "integer",
					"enum": []int{1, 2, 3, 4},
				},
				"error_type": map[string]any{
					"type": "string",
					"enum": []string{"procedural", "conceptual", "strategic", ""},
				},
				"delay_ms": map[string]any{
					"type":        "integer",
					"description": "Milliseconds to hold the message back, 0 to 15000.",
				},
				"message": map[string]any{
					"type": "string",
				},
			},
		}),
	}
}

// MakeStrict deep-copies a JSON schema, closing every object: all declared
// properties become required and additionalProperties is false. A map
// holding a $ref is reduced to the $ref alone. The input is not modified.
func MakeStrict(schema map[string]any) map[string]any {
	if ref, ok := schema["$ref"]; ok {
		return map[string]any{"$ref": ref}
	}
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = strictValue(v)
	}
	if t, _ := out["type"].(string); t == "object" {
		props, _ := out["properties"].(map[string]any)
		required := make([]string, 0, len(props))
		for name := range props {
			required = append(required, name)
		}
		sort.Strings(required)
		out["required"] = required
		out["additionalProperties"] = false
	}
	return out
}

func strictValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return MakeStrict(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = strictValue(item)
		}
		return out
	default:
		return v
	}
}

package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const resultSchema = `{
  "type": "object",
  "required": ["image_type"],
  "properties": {
    "image_type": {"enum": ["room", "product", "installation", "damage", "error_display", "unrelated", "other"]},
    "observations": {"type": "array", "items": {"type": "string"}},
    "detected_environment": {"type": "string"},
    "wall_color": {"type": "string"},
    "floor_color": {"type": "string"},
    "lighting": {"type": "string"},
    "visible_product_parts": {"type": "array", "items": {"type": "string"}},
    "visible_issues": {"type": "array", "items": {"type": "string"}},
    "installation_obstacles": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  },
  "if": {"properties": {"image_type": {"const": "unrelated"}}},
  "then": {"required": ["image_type", "reason"], "properties": {"reason": {"type": "string", "minLength": 1}}}
}`

var schemaLoader = gojsonschema.NewStringLoader(resultSchema)

// Parse extracts a Result from raw model output. Output may be wrapped in a
// code fence. A missing confidence is set to defaultConfidence.
func Parse(raw string, defaultConfidence float64) (Result, error) {
	body := stripFence(raw)
	if body == "" {
		return Result{}, fmt.Errorf("%w: empty output", ErrInvalidOutput)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return Result{}, fmt.Errorf("failed to validate vision output: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; "))
	}

	var out Result
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if _, ok := doc["confidence"]; !ok {
		out.Confidence = defaultConfidence
	}
	return out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	} else {
		return s
	}
	if j := strings.Index(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONObject decodes the outermost {...} object found in raw into out.
// Model output often wraps JSON in prose or code fences.
func ParseJSONObject(raw string, out any) error {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no json object in model output")
	}
	clean = clean[start : end+1]

	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("failed to parse model output: %w", err)
	}
	return nil
}

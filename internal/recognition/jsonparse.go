package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripFences removes a ```json ... ``` wrapper from model output.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// parseModelJSON extracts the first JSON object from raw model text.
func parseModelJSON[T any](raw string) (T, error) {
	var out T
	text := stripFences(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return out, fmt.Errorf("no JSON object in model output (length %d)", len(raw))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		preview := text[start : end+1]
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return out, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}
	return out, nil
}

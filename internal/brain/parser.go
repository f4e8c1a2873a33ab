package brain

import (
	"encoding/json"
	"strings"
)

// Parsed is the interpreted form of raw brain stdout.
type Parsed struct {
	Text     string
	Metadata map[string]any // non-nil when stdout was a JSON object
	HasError bool
}

// errorPrefixes flag a failed invocation. Only a leading match counts;
// mid-text occurrences are ordinary content.
var errorPrefixes = []string{"error:", "fatal:"}

// Parse trims stdout, probes for a JSON object to retain as metadata, and
// flags error-prefixed responses.
func Parse(stdout string) Parsed {
	text := strings.TrimSpace(stdout)
	p := Parsed{Text: text}

	lower := strings.ToLower(text)
	for _, prefix := range errorPrefixes {
		if strings.HasPrefix(lower, prefix) {
			p.HasError = true
			break
		}
	}

	if strings.HasPrefix(text, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			p.Metadata = obj
		}
	}
	return p
}

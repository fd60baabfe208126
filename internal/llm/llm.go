// Package llm provides optional chat-model access for the debate and
// explainability stages. Every caller must tolerate a nil provider and any
// error by falling back to its deterministic path.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ChatProvider sends one system+user exchange and returns the raw reply.
type ChatProvider interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// GenerateJSON runs the exchange and parses the reply as a single JSON
// object, tolerating fenced code blocks around it.
func GenerateJSON(ctx context.Context, provider ChatProvider, system, user string) (map[string]any, error) {
	raw, err := provider.Chat(ctx, system, user)
	if err != nil {
		return nil, err
	}

	cleaned := stripFences(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("llm: reply is not a JSON object: %w", err)
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence, if present, and
// otherwise trims to the outermost braces.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

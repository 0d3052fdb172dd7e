package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mlodato/kindlecards/internal/cards"
)

// parseResponse extracts card content from the model's reply.
//
// The prompt asks for a bare JSON object, but models occasionally wrap
// replies in Markdown fences or emit a bare array, so parsing tolerates
// both. Anything else is a generation failure for the covered record,
// never a crash.
func parseResponse(text string) (*cards.Content, error) {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var content cards.Content
	if err := json.Unmarshal([]byte(text), &content); err == nil && len(content.Cards) > 0 {
		if err := content.Validate(); err != nil {
			return nil, fmt.Errorf("invalid card content: %w", err)
		}
		return &content, nil
	}

	// Bare array of cards.
	var list []cards.Card
	if err := json.Unmarshal([]byte(text), &list); err == nil && len(list) > 0 {
		content = cards.Content{Cards: list}
		if err := content.Validate(); err != nil {
			return nil, fmt.Errorf("invalid card content: %w", err)
		}
		return &content, nil
	}

	// Single card object.
	var single cards.Card
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.Pattern != "" {
		content = cards.Content{Cards: []cards.Card{single}}
		if err := content.Validate(); err != nil {
			return nil, fmt.Errorf("invalid card content: %w", err)
		}
		return &content, nil
	}

	return nil, fmt.Errorf("model response is not valid card JSON: %.80q", text)
}

// stripFences removes a surrounding Markdown code fence, if present.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// Package cards defines the study-card payload produced by the language
// model for a single highlight.
//
// A highlight yields one or more cards. Each card carries a pattern label
// (what kind of knowledge the card drills) plus front/back text. The
// special SKIP pattern marks a highlight the model judged unsuitable for a
// card; skipped content is stored like any other generation result but is
// excluded from Anki sync.
package cards

import (
	"encoding/json"
	"fmt"
)

// Pattern classifies the kind of knowledge a card captures.
type Pattern string

const (
	PatternDistinction Pattern = "DISTINCTION"
	PatternMentalModel Pattern = "MENTAL_MODEL"
	PatternMetaphor    Pattern = "METAPHOR"
	PatternFramework   Pattern = "FRAMEWORK"
	PatternTactic      Pattern = "TACTIC"
	PatternCaseStudy   Pattern = "CASE_STUDY"
	PatternDefinition  Pattern = "DEFINITION"
	PatternSkip        Pattern = "SKIP"
)

// knownPatterns is the closed set the model is prompted to choose from.
var knownPatterns = map[Pattern]bool{
	PatternDistinction: true,
	PatternMentalModel: true,
	PatternMetaphor:    true,
	PatternFramework:   true,
	PatternTactic:      true,
	PatternCaseStudy:   true,
	PatternDefinition:  true,
	PatternSkip:        true,
}

// Valid reports whether p is one of the known pattern labels.
func (p Pattern) Valid() bool {
	return knownPatterns[p]
}

// Card is a single question/answer pair destined for Anki.
type Card struct {
	Pattern Pattern `json:"pattern"`
	Front   string  `json:"front,omitempty"`
	Back    string  `json:"back,omitempty"`
}

// Content is the full generation result for one highlight.
type Content struct {
	Cards []Card `json:"cards"`
}

// Validate checks that the content is non-empty and every card carries a
// known pattern, with front/back present on non-SKIP cards.
func (c *Content) Validate() error {
	if len(c.Cards) == 0 {
		return fmt.Errorf("content has no cards")
	}
	for i, card := range c.Cards {
		if !card.Pattern.Valid() {
			return fmt.Errorf("card %d: unknown pattern %q", i, card.Pattern)
		}
		if card.Pattern == PatternSkip {
			continue
		}
		if card.Front == "" {
			return fmt.Errorf("card %d (%s): front is empty", i, card.Pattern)
		}
		if card.Back == "" {
			return fmt.Errorf("card %d (%s): back is empty", i, card.Pattern)
		}
	}
	return nil
}

// Syncable returns the cards worth pushing to Anki (everything but SKIP).
func (c *Content) Syncable() []Card {
	var out []Card
	for _, card := range c.Cards {
		if card.Pattern != PatternSkip {
			out = append(out, card)
		}
	}
	return out
}

// Marshal serializes the content for storage in the highlights table.
func (c *Content) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal card content: %w", err)
	}
	return string(data), nil
}

// Unmarshal parses stored card content.
func Unmarshal(data string) (*Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse card content: %w", err)
	}
	return &c, nil
}

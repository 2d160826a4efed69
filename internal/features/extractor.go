// Package features turns raw backroom conversation text into a
// ContentFeatures record via an LLM call, with a regex fallback when the
// model is unavailable.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/llm"
	"github.com/darksunexists/darksun-sub000/internal/logger"
)

// ExtractPromptTemplate asks the model for the three capped feature sets.
const ExtractPromptTemplate = `Analyze the following research conversation and extract its key semantic features.

Return ONLY a JSON object with exactly these fields, each an array of at most %d short strings:
{
  "technical_terms": ["specific technical terms and jargon used"],
  "entities": ["named projects, organizations, people, or systems"],
  "claims": ["distinct factual or speculative claims made"]
}

Conversation:
---
%s
---`

// capitalizedPhrase matches multi-word capitalized phrases, used as
// pseudo technical terms when the LLM is unavailable.
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][A-Za-z0-9-]+(?:\s+[A-Z][A-Za-z0-9-]+)+\b`)

// Extractor produces ContentFeatures from conversation text.
type Extractor struct {
	client  llm.Client
	timeout time.Duration
}

// NewExtractor creates a feature extractor backed by the given client.
func NewExtractor(client llm.Client, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Extractor{client: client, timeout: timeout}
}

// Extract runs the LLM extraction, falling back to regex capture when
// the call or the parse fails. Each returned set is capped at
// core.MaxFeatureItems. Re-extraction replaces the previous record
// wholesale; callers must not merge old and new features.
func (e *Extractor) Extract(ctx context.Context, text string) (core.ContentFeatures, error) {
	if strings.TrimSpace(text) == "" {
		return core.ContentFeatures{}, fmt.Errorf("no text to extract features from")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := fmt.Sprintf(ExtractPromptTemplate, core.MaxFeatureItems, text)
	response, err := e.client.GenerateText(callCtx, prompt, llm.TextGenerationOptions{Temperature: 0.2})
	if err != nil {
		logger.Warn().Err(err).Msg("feature extraction LLM call failed, using regex fallback")
		return fallbackFeatures(text), nil
	}

	parsed, err := parseFeatureResponse(response)
	if err != nil {
		logger.Warn().Err(err).Msg("feature extraction response unparseable, using regex fallback")
		return fallbackFeatures(text), nil
	}
	return parsed, nil
}

type featureResponse struct {
	TechnicalTerms []string `json:"technical_terms"`
	Entities       []string `json:"entities"`
	Claims         []string `json:"claims"`
}

func parseFeatureResponse(response string) (core.ContentFeatures, error) {
	cleaned := stripCodeFences(response)

	var parsed featureResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return core.ContentFeatures{}, fmt.Errorf("failed to parse feature JSON: %w", err)
	}

	return core.ContentFeatures{
		TechnicalTerms: capAndTrim(parsed.TechnicalTerms),
		Entities:       capAndTrim(parsed.Entities),
		Claims:         capAndTrim(parsed.Claims),
	}, nil
}

// fallbackFeatures captures capitalized multi-word phrases as pseudo
// technical terms. Entities and claims stay empty; a fallback-extracted
// conversation will usually fail the substantial-standalone test, which
// is the intended conservative behavior.
func fallbackFeatures(text string) core.ContentFeatures {
	matches := capitalizedPhrase.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var terms []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		terms = append(terms, m)
		if len(terms) == core.MaxFeatureItems {
			break
		}
	}
	return core.ContentFeatures{TechnicalTerms: terms}
}

func capAndTrim(items []string) []string {
	var out []string
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == core.MaxFeatureItems {
			break
		}
	}
	return out
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// ConversationText flattens a conversation's turns into the text the
// extractor and oracles consume.
func ConversationText(conv *core.Conversation) string {
	var b strings.Builder
	for _, turn := range conv.Turns {
		b.WriteString(turn.Speaker)
		b.WriteString(": ")
		b.WriteString(turn.Message)
		b.WriteString("\n")
	}
	return b.String()
}

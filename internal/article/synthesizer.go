// Package article decides what a cluster means for the article corpus:
// nothing new, an update to an existing article, or a new article with
// typed links to its neighbors, and synthesizes the article text.
package article

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/llm"
)

// SynthesizePromptTemplate turns a cluster's conversations into a new
// article.
const SynthesizePromptTemplate = `Write a research article synthesizing the following agent conversations on the topic "%s".

Key technical terms: %s
Key entities: %s
Key claims: %s

CONVERSATIONS:
---
%s
---

Return ONLY a JSON object: {"title": "...", "content": "..."}. The content should be a coherent article in markdown, not a transcript.`

// SynthesizeUpdatePromptTemplate folds new conversations into an
// existing article.
const SynthesizeUpdatePromptTemplate = `Update the following article with new findings from the conversations below. Keep what holds, integrate what is new, and resolve contradictions explicitly.

EXISTING ARTICLE: %s
---
%s
---

New technical terms: %s
New entities: %s
New claims: %s

NEW CONVERSATIONS:
---
%s
---

Return ONLY a JSON object: {"title": "...", "content": "..."}.`

// Synthesizer generates article text from cluster content. It is an
// external generation oracle; implementations decide the prompt.
type Synthesizer interface {
	SynthesizeArticle(ctx context.Context, conversations []core.Conversation, features core.ContentFeatures) (title, content string, err error)
	SynthesizeUpdatedArticle(ctx context.Context, existing *core.Article, conversations []core.Conversation, features core.ContentFeatures) (title, content string, err error)
}

// LLMSynthesizer is the LLM-backed Synthesizer.
type LLMSynthesizer struct {
	client  llm.Client
	timeout time.Duration
}

// NewLLMSynthesizer creates the default synthesizer.
func NewLLMSynthesizer(client llm.Client, timeout time.Duration) *LLMSynthesizer {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &LLMSynthesizer{client: client, timeout: timeout}
}

// SynthesizeArticle implements Synthesizer.
func (s *LLMSynthesizer) SynthesizeArticle(ctx context.Context, conversations []core.Conversation, features core.ContentFeatures) (string, string, error) {
	topic := ""
	if len(conversations) > 0 {
		topic = conversations[0].Topic
	}
	prompt := fmt.Sprintf(SynthesizePromptTemplate,
		topic,
		strings.Join(features.TechnicalTerms, ", "),
		strings.Join(features.Entities, ", "),
		strings.Join(features.Claims, "; "),
		flattenConversations(conversations),
	)
	return s.generate(ctx, prompt)
}

// SynthesizeUpdatedArticle implements Synthesizer.
func (s *LLMSynthesizer) SynthesizeUpdatedArticle(ctx context.Context, existing *core.Article, conversations []core.Conversation, features core.ContentFeatures) (string, string, error) {
	prompt := fmt.Sprintf(SynthesizeUpdatePromptTemplate,
		existing.Title,
		existing.Content,
		strings.Join(features.TechnicalTerms, ", "),
		strings.Join(features.Entities, ", "),
		strings.Join(features.Claims, "; "),
		flattenConversations(conversations),
	)
	return s.generate(ctx, prompt)
}

func (s *LLMSynthesizer) generate(ctx context.Context, prompt string) (string, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.client.GenerateText(callCtx, prompt, llm.TextGenerationOptions{Temperature: 0.7})
	if err != nil {
		return "", "", fmt.Errorf("article synthesis failed: %w", err)
	}

	var parsed struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &parsed); err != nil {
		return "", "", fmt.Errorf("failed to parse synthesis response: %w", err)
	}
	if parsed.Title == "" || parsed.Content == "" {
		return "", "", fmt.Errorf("synthesis response missing title or content")
	}
	return parsed.Title, parsed.Content, nil
}

func flattenConversations(conversations []core.Conversation) string {
	var b strings.Builder
	for i, conv := range conversations {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(conv.Title)
		b.WriteString("\n")
		for _, turn := range conv.Turns {
			b.WriteString(turn.Speaker)
			b.WriteString(": ")
			b.WriteString(turn.Message)
			b.WriteString("\n")
		}
	}
	return b.String()
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

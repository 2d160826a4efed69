package similarity

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/llm"
	"github.com/darksunexists/darksun-sub000/internal/logger"
)

const (
	// PairScoreAttempts bounds retries when the oracle returns a
	// missing or non-numeric score.
	PairScoreAttempts = 3

	// NeutralEnrichmentScore is returned when the enrichment oracle
	// fails internally. The article lifecycle keeps moving on a neutral
	// signal instead of stalling on a degraded scorer.
	NeutralEnrichmentScore = 0.5
)

// PairScorePromptTemplate scores two conversations by their extracted
// features. The rubric weights guide the model's reasoning; the caller
// only consumes the single combined score.
const PairScorePromptTemplate = `You are scoring the semantic similarity of two research conversations on the topic "%s".

Conversation A: "%s"
- Technical terms: %s
- Entities: %s
- Claims: %s

Conversation B: "%s"
- Technical terms: %s
- Entities: %s
- Claims: %s

Weigh: topic alignment 40%%, claim complementarity 35%%, information overlap 25%%.

Respond with ONLY a single number between 0.0 and 1.0.`

// EnrichmentPromptTemplate scores how much a cluster's conversations
// would enhance an existing article.
const EnrichmentPromptTemplate = `An article and a set of related research conversations follow. Score from 0.0 to 1.0 how much the conversations would ENHANCE the article with genuinely new information (0.0 = nothing new, 1.0 = transformative new material).

ARTICLE: %s
---
%s
---

CONVERSATIONS:
---
%s
---

Respond with ONLY a single number between 0.0 and 1.0.`

var scorePattern = regexp.MustCompile(`(?:0(?:\.\d+)?|1(?:\.0+)?|\.\d+)`)

// PairOracle scores conversation pairs by their extracted features.
type PairOracle struct {
	client  llm.Client
	timeout time.Duration
}

// NewPairOracle creates the feature-pair oracle. A non-positive timeout
// defaults to 45s; a timed-out call counts as a malformed response.
func NewPairOracle(client llm.Client, timeout time.Duration) *PairOracle {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &PairOracle{client: client, timeout: timeout}
}

// Score returns the similarity of two conversations in [0,1]. Both
// conversations must have features. After PairScoreAttempts failed
// attempts it returns ErrNoScore; the comparison must then be excluded,
// never counted as zero.
func (o *PairOracle) Score(ctx context.Context, a, b *core.Conversation, topic string) (float64, error) {
	if !a.HasFeatures() || !b.HasFeatures() {
		return 0, fmt.Errorf("%w: conversation without features", ErrNoScore)
	}

	prompt := fmt.Sprintf(PairScorePromptTemplate,
		topic,
		a.Title,
		strings.Join(a.Features.TechnicalTerms, ", "),
		strings.Join(a.Features.Entities, ", "),
		strings.Join(a.Features.Claims, "; "),
		b.Title,
		strings.Join(b.Features.TechnicalTerms, ", "),
		strings.Join(b.Features.Entities, ", "),
		strings.Join(b.Features.Claims, "; "),
	)

	score, err := llm.Retry(ctx, PairScoreAttempts, func(ctx context.Context) (float64, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		response, err := o.client.GenerateText(callCtx, prompt, llm.TextGenerationOptions{Temperature: 0.1})
		if err != nil {
			return 0, err
		}
		return parseScore(response)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoScore, err)
	}
	return score, nil
}

// EnrichmentOracle scores how much a cluster would enhance an article.
type EnrichmentOracle struct {
	client  llm.Client
	timeout time.Duration
}

// NewEnrichmentOracle creates the article-enrichment oracle.
func NewEnrichmentOracle(client llm.Client, timeout time.Duration) *EnrichmentOracle {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &EnrichmentOracle{client: client, timeout: timeout}
}

// Score returns the enrichment score of the cluster's conversations
// against the article. Unlike the pair oracle, an internal error or
// timeout degrades to NeutralEnrichmentScore instead of failing.
func (o *EnrichmentOracle) Score(ctx context.Context, article *core.Article, conversations []core.Conversation) float64 {
	var content strings.Builder
	for i, conv := range conversations {
		if i > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(conv.Title)
		content.WriteString("\n")
		for _, turn := range conv.Turns {
			content.WriteString(turn.Speaker)
			content.WriteString(": ")
			content.WriteString(turn.Message)
			content.WriteString("\n")
		}
	}

	prompt := fmt.Sprintf(EnrichmentPromptTemplate, article.Title, article.Content, content.String())

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	response, err := o.client.GenerateText(callCtx, prompt, llm.TextGenerationOptions{Temperature: 0.1})
	if err != nil {
		logger.Warn().Err(err).Int64("article_id", article.ID).
			Msg("enrichment oracle failed, using neutral score")
		return NeutralEnrichmentScore
	}

	score, err := parseScore(response)
	if err != nil {
		logger.Warn().Err(err).Int64("article_id", article.ID).
			Msg("enrichment oracle response unparseable, using neutral score")
		return NeutralEnrichmentScore
	}
	return score
}

// parseScore pulls a float in [0,1] out of a model response, tolerating
// surrounding prose like "Score: 0.8".
func parseScore(response string) (float64, error) {
	trimmed := strings.TrimSpace(response)
	if score, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if score < 0 || score > 1 {
			return 0, fmt.Errorf("score %v outside [0,1]", score)
		}
		return score, nil
	}

	match := scorePattern.FindString(trimmed)
	if match == "" {
		return 0, fmt.Errorf("no numeric score in response %q", truncate(trimmed, 80))
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse score %q: %w", match, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("score %v outside [0,1]", score)
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

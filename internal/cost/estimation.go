// Package cost estimates LLM spend for a clustering pass before it
// runs, so operators can dry-run large backlogs.
package cost

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ModelPricing holds per-model pricing used for estimation.
type ModelPricing struct {
	Model                 string
	InputCostPer1MTokens  float64 // USD per 1M input tokens
	OutputCostPer1MTokens float64 // USD per 1M output tokens
	EstimatedOutputTokens int     // Typical response length per call
	MaxRequestsPerMinute  int
}

// PricingTable contains pricing as of mid-2025. Unknown models fall
// back to the flash-lite entry.
var PricingTable = map[string]ModelPricing{
	"gemini-flash-lite-latest": {
		Model:                 "gemini-flash-lite-latest",
		InputCostPer1MTokens:  0.10,
		OutputCostPer1MTokens: 0.40,
		EstimatedOutputTokens: 60,
		MaxRequestsPerMinute:  4000,
	},
	"gemini-flash-latest": {
		Model:                 "gemini-flash-latest",
		InputCostPer1MTokens:  0.30,
		OutputCostPer1MTokens: 2.50,
		EstimatedOutputTokens: 60,
		MaxRequestsPerMinute:  2000,
	},
	"gpt-4o-mini": {
		Model:                 "gpt-4o-mini",
		InputCostPer1MTokens:  0.15,
		OutputCostPer1MTokens: 0.60,
		EstimatedOutputTokens: 60,
		MaxRequestsPerMinute:  5000,
	},
	"claude-3-5-haiku-latest": {
		Model:                 "claude-3-5-haiku-latest",
		InputCostPer1MTokens:  0.80,
		OutputCostPer1MTokens: 4.00,
		EstimatedOutputTokens: 60,
		MaxRequestsPerMinute:  2000,
	},
}

const defaultPricingModel = "gemini-flash-lite-latest"

// EstimateTokenCount approximates the token count of a prompt.
// Roughly 1 token per 3.5 characters for English text, with a small
// buffer for special tokens.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	charCount := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(charCount) / 3.5))
}

// PassCostEstimate is the projected spend for one clustering pass.
type PassCostEstimate struct {
	Model                 string
	Comparisons           int // Pairwise similarity calls, after cache hits
	Extractions           int // Feature extraction calls
	Syntheses             int // Article synthesis calls (upper bound)
	TotalInputTokens      int
	TotalOutputTokens     int
	TotalCost             float64
	ProcessingTimeMinutes float64
	RateLimitWarning      string
}

// PassInputs describes the work a pass is about to do.
type PassInputs struct {
	Comparisons          int
	Extractions          int
	Syntheses            int
	AvgConversationChars int // Mean conversation length in characters
}

// Prompt overhead in tokens for each call type, measured against the
// actual templates.
const (
	comparisonPromptOverhead = 260
	extractionPromptOverhead = 90
	synthesisPromptOverhead  = 180
	synthesisOutputTokens    = 900
)

// EstimatePassCost projects the cost of a pass. Synthesis counts are an
// upper bound; a pass that only joins clusters synthesizes nothing.
func EstimatePassCost(inputs PassInputs, modelName string) *PassCostEstimate {
	pricing, ok := PricingTable[modelName]
	if !ok {
		pricing = PricingTable[defaultPricingModel]
	}

	convTokens := int(math.Ceil(float64(inputs.AvgConversationChars) / 3.5))

	estimate := &PassCostEstimate{
		Model:       modelName,
		Comparisons: inputs.Comparisons,
		Extractions: inputs.Extractions,
		Syntheses:   inputs.Syntheses,
	}

	// A comparison prompt carries two conversations.
	estimate.TotalInputTokens += inputs.Comparisons * (2*convTokens + comparisonPromptOverhead)
	estimate.TotalOutputTokens += inputs.Comparisons * pricing.EstimatedOutputTokens

	estimate.TotalInputTokens += inputs.Extractions * (convTokens + extractionPromptOverhead)
	estimate.TotalOutputTokens += inputs.Extractions * pricing.EstimatedOutputTokens

	// Synthesis reads every cluster member and writes a full article.
	estimate.TotalInputTokens += inputs.Syntheses * (3*convTokens + synthesisPromptOverhead)
	estimate.TotalOutputTokens += inputs.Syntheses * synthesisOutputTokens

	inputCost := float64(estimate.TotalInputTokens) * pricing.InputCostPer1MTokens / 1_000_000
	outputCost := float64(estimate.TotalOutputTokens) * pricing.OutputCostPer1MTokens / 1_000_000
	estimate.TotalCost = inputCost + outputCost

	totalRequests := inputs.Comparisons + inputs.Extractions + inputs.Syntheses
	estimate.ProcessingTimeMinutes = float64(totalRequests) * 2 / 60

	requestsPerMinute := float64(totalRequests) / math.Max(estimate.ProcessingTimeMinutes, 1)
	if requestsPerMinute > float64(pricing.MaxRequestsPerMinute) {
		estimate.RateLimitWarning = fmt.Sprintf(
			"estimated %d requests may exceed rate limit of %d/min for %s",
			totalRequests, pricing.MaxRequestsPerMinute, modelName,
		)
	}

	return estimate
}

// FormatEstimate renders the estimate for terminal display.
func (e *PassCostEstimate) FormatEstimate() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Cost estimate for %s\n", e.Model))
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	sb.WriteString(fmt.Sprintf("  Pairwise comparisons: %d\n", e.Comparisons))
	sb.WriteString(fmt.Sprintf("  Feature extractions:  %d\n", e.Extractions))
	sb.WriteString(fmt.Sprintf("  Article syntheses:    %d (upper bound)\n", e.Syntheses))
	sb.WriteString(fmt.Sprintf("  Input tokens:         %d\n", e.TotalInputTokens))
	sb.WriteString(fmt.Sprintf("  Output tokens:        %d\n", e.TotalOutputTokens))
	sb.WriteString(fmt.Sprintf("  Estimated cost:       $%.6f\n", e.TotalCost))
	sb.WriteString(fmt.Sprintf("  Estimated time:       %.1f minutes\n", e.ProcessingTimeMinutes))
	if e.RateLimitWarning != "" {
		sb.WriteString(fmt.Sprintf("  Warning: %s\n", e.RateLimitWarning))
	}
	return sb.String()
}

// Package llm provides the text-generation clients behind the feature
// extractor, the similarity oracles, and the article synthesizer. A
// provider factory selects between Gemini, OpenAI, Anthropic, and
// Ollama; callers only see the Client interface.
package llm

import "context"

// Client generates text from a prompt. Implementations are safe for
// concurrent use.
type Client interface {
	GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error)
}

// TextGenerationOptions contains per-call generation options.
type TextGenerationOptions struct {
	MaxTokens   int32   // Maximum number of tokens to generate; 0 means provider default
	Temperature float32 // Sampling temperature
	Model       string  // Override the client's default model (optional)
}

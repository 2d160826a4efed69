package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates an Anthropic-backed client.
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

// GenerateText implements Client.
func (c *AnthropicClient) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	model := c.model
	if options.Model != "" {
		model = options.Model
	}

	maxTokens := defaultAnthropicMaxTokens
	if options.MaxTokens > 0 {
		maxTokens = int(options.MaxTokens)
	}

	req := anthropic.MessagesRequest{
		Model: anthropic.Model(model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
		MaxTokens: maxTokens,
	}
	if options.Temperature > 0 {
		temp := options.Temperature
		req.Temperature = &temp
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return "", fmt.Errorf("no response content from model %s", model)
	}
	return *resp.Content[0].Text, nil
}

// Package llm wraps the Anthropic SDK behind the small text-in/text-out
// surface the planner and synthesizer need. Both callers treat any
// error from here as a collaborator failure and fall back to their
// deterministic paths, so the rest of the system never depends on a
// working API key.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client is a minimal completion runner.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

type ClientConfig struct {
	// Model defaults to a current Sonnet when empty.
	Model string
	// APIKey falls back to the ANTHROPIC_API_KEY env var.
	APIKey    string
	MaxTokens int
}

// NewClient builds a client or reports that no collaborator is
// configured.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		inner:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Run executes a prompt with an optional system message and returns the
// text response.
func (c *Client) Run(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("API call failed: %w", err)
	}
	var result strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			result.WriteString(variant.Text)
		}
	}
	return result.String(), nil
}

// RunJSON executes a prompt and parses the JSON response into target,
// tolerating prose around the JSON body.
func (c *Client) RunJSON(ctx context.Context, systemPrompt, userPrompt string, target any) error {
	response, err := c.Run(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		jsonStart = strings.Index(response, "{")
		jsonEnd = strings.LastIndex(response, "}")
	}
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return fmt.Errorf("no valid JSON found in response: %s", truncate(response, 200))
	}
	jsonStr := response[jsonStart : jsonEnd+1]
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("parse JSON: %w (response: %s)", err, truncate(jsonStr, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package llm implements the reply-classifier's fallback model client
// against Anthropic's API, for messages the keyword cascade can't
// confidently classify.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ebrland/orchestrator/internal/config"
	"github.com/ebrland/orchestrator/pkg/types"
)

const promptTemplate = `You are classifying an SMS reply from a property owner who was contacted about selling their land.

Owner's reply: %q

%s

Respond with exactly one line in this format:
INTENT|CONFIDENCE

Where INTENT is one of: INTERESTED, NOT_INTERESTED, ASKING_PRICE, CONFUSED, STOP, SPAM
And CONFIDENCE is a number between 0 and 1.`

// Client implements types.LLM against the Anthropic Messages API.
type Client struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

func NewClient(cfg config.AnthropicConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		timeout: timeout,
	}, nil
}

// Classify asks the model for the intent of replyText, given optional
// leadContext (e.g. the original outreach message), and returns the raw
// intent label and confidence. The classifier package maps the label
// onto its own Intent enum and defaults to "confused" on any error.
func (c *Client) Classify(ctx context.Context, replyText string, leadContext string) (string, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf(promptTemplate, replyText, leadContext)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("anthropic classify: %w", err)
	}

	return parseResponse(message)
}

// Describe asks the model to write free text from prompt (the deal-sheet
// narrative description), with no intent/confidence parsing.
func (c *Client) Describe(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic describe: %w", err)
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("anthropic describe: empty response")
	}
	return strings.TrimSpace(message.Content[0].Text), nil
}

func parseResponse(message *anthropic.Message) (string, float64, error) {
	if len(message.Content) == 0 {
		return "", 0, fmt.Errorf("anthropic classify: empty response")
	}
	text := strings.TrimSpace(message.Content[0].Text)
	parts := strings.SplitN(text, "|", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("anthropic classify: unparseable response %q", text)
	}

	intent := strings.TrimSpace(parts[0])
	var confidence float64
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f", &confidence); err != nil {
		return intent, 0.5, nil
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return intent, confidence, nil
}

var _ types.LLM = (*Client)(nil)

// Package anthropic implements ports.InferenceClient on the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aretw0/parley/pkg/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5"

// Client implements ports.InferenceClient using the Anthropic Messages API.
type Client struct {
	client sdk.Client
	model  string
}

// Option configures the Client.
type Option func(*config)

type config struct {
	model   string
	sdkOpts []option.RequestOption
}

// WithModel selects the model.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithAPIKey sets an explicit API key instead of ANTHROPIC_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *config) {
		if key != "" {
			c.sdkOpts = append(c.sdkOpts, option.WithAPIKey(key))
		}
	}
}

// WithRequestOptions passes raw SDK options (base URL, retries, HTTP client).
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) {
		c.sdkOpts = append(c.sdkOpts, opts...)
	}
}

// New creates a client. Without WithAPIKey the SDK reads ANTHROPIC_API_KEY.
func New(opts ...Option) *Client {
	cfg := &config{model: DefaultModel}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{
		client: sdk.NewClient(cfg.sdkOpts...),
		model:  cfg.model,
	}
}

// Complete sends a single-turn, non-streaming request and concatenates the text blocks.
func (c *Client) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = domain.DefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model: sdk.Model(c.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt.User)),
		},
		MaxTokens: int64(maxTokens),
	}
	if prompt.System != "" {
		params.System = []sdk.TextBlockParam{
			{Text: prompt.System},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%w: anthropic: %v", domain.ErrInferenceUnavailable, err)
	}

	var out domain.Completion
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.Response += block.Text
		}
	}
	return out, nil
}

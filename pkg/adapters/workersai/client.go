// Package workersai implements ports.InferenceClient on Cloudflare Workers AI.
package workersai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go/v4"
	"github.com/cloudflare/cloudflare-go/v4/option"

	"github.com/aretw0/parley/pkg/domain"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "@cf/meta/llama-3.3-70b-instruct-fp8-fast"

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// runResponse is the text-generation shape of the /ai/run envelope.
type runResponse struct {
	Result struct {
		Response *string `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Client runs a text-generation model on one Cloudflare account.
type Client struct {
	api       *cloudflare.Client
	accountID string
	model     string
}

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
	reqOpts    []option.RequestOption
}

type Option func(*config)

func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) {
		c.httpClient = httpClient
	}
}

// WithRequestOptions passes raw cloudflare-go request options (retries, headers).
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) {
		c.reqOpts = append(c.reqOpts, opts...)
	}
}

// New creates a Workers AI client authenticated with an API token.
func New(accountID, apiToken string, opts ...Option) (*Client, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("workersai: account id must not be empty")
	}
	if strings.TrimSpace(apiToken) == "" {
		return nil, errors.New("workersai: api token must not be empty")
	}

	cfg := config{
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIToken(apiToken),
		option.WithHTTPClient(cfg.httpClient),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(cfg.baseURL, "/")+"/"))
	}
	reqOpts = append(reqOpts, cfg.reqOpts...)

	return &Client{
		api:       cloudflare.NewClient(reqOpts...),
		accountID: accountID,
		model:     cfg.model,
	}, nil
}

// Complete runs the model with a system and a user message.
// A missing "response" field yields an empty completion.
func (c *Client) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	msgs := make([]message, 0, 2)
	if prompt.System != "" {
		msgs = append(msgs, message{Role: "system", Content: prompt.System})
	}
	msgs = append(msgs, message{Role: "user", Content: prompt.User})

	// The typed AI.Run result is a union over every task type; text
	// generation only needs result.response, so decode the envelope directly.
	path := fmt.Sprintf("accounts/%s/ai/run/%s", c.accountID, c.model)
	var payload runResponse
	err := c.api.Post(ctx, path, runRequest{Messages: msgs, MaxTokens: prompt.MaxTokens}, &payload)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%w: workersai: %w", domain.ErrInferenceUnavailable, err)
	}
	if !payload.Success && len(payload.Errors) > 0 {
		return domain.Completion{}, fmt.Errorf("%w: workersai: %s", domain.ErrInferenceUnavailable, payload.Errors[0].Message)
	}

	var out domain.Completion
	if payload.Result.Response != nil {
		out.Response = *payload.Result.Response
	}
	return out, nil
}

// Package static provides an offline InferenceClient for development and tests.
package static

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Client answers every prompt with Reply, or echoes the user message when Reply is empty.
type Client struct {
	Reply string
}

// Complete implements ports.InferenceClient.
func (c Client) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, err
	}
	if c.Reply != "" {
		return domain.Completion{Response: c.Reply}, nil
	}
	return domain.Completion{Response: "You said: " + prompt.User}, nil
}

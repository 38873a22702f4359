package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// InferenceClient produces a completion for a prompt.
// Failures must wrap domain.ErrInferenceUnavailable.
type InferenceClient interface {
	Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error)
}

// InferenceFunc adapts an ordinary function to InferenceClient.
type InferenceFunc func(ctx context.Context, prompt domain.Prompt) (domain.Completion, error)

// Complete calls f(ctx, prompt).
func (f InferenceFunc) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	return f(ctx, prompt)
}

package workflow

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Appender records one exchange in a session's history.
// session.Manager satisfies it.
type Appender interface {
	Append(ctx context.Context, sessionID, user, ai string) (int, error)
}

// PromptConfig holds the fixed parts of every inference prompt.
type PromptConfig struct {
	System    string
	MaxTokens int
}

// ChatWorkflow produces a reply with the inference client ("llm") and then
// appends the exchange to the session ("persist"). The run's result is the
// memoized reply.
func ChatWorkflow(sessions Appender, client ports.InferenceClient, prompt PromptConfig) Workflow {
	if prompt.System == "" {
		prompt.System = domain.DefaultSystemPrompt
	}
	if prompt.MaxTokens <= 0 {
		prompt.MaxTokens = domain.DefaultMaxTokens
	}

	return Workflow{
		Name:  "chat",
		Steps: domain.ChatSteps,
		Run: func(ctx context.Context, exec *Execution) (domain.RunResult, error) {
			reply, err := Step(ctx, exec, domain.StepLLM, func(ctx context.Context) (string, error) {
				out, err := client.Complete(ctx, domain.Prompt{
					System:    prompt.System,
					User:      exec.Message(),
					MaxTokens: prompt.MaxTokens,
				})
				if err != nil {
					return "", err
				}
				return out.Response, nil
			})
			if err != nil {
				return domain.RunResult{}, err
			}

			_, err = Step(ctx, exec, domain.StepPersist, func(ctx context.Context) (bool, error) {
				if _, err := sessions.Append(ctx, exec.SessionID(), exec.Message(), reply); err != nil {
					return false, err
				}
				return true, nil
			})
			if err != nil {
				return domain.RunResult{}, err
			}

			return domain.RunResult{Reply: reply}, nil
		},
	}
}

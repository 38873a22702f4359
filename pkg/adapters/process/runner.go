// Package process implements an InferenceClient backed by a local command,
// such as a llama.cpp or ollama CLI wrapper.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

// maxStderr bounds how much of the command's stderr lands in an error message.
const maxStderr = 512

// waitDelay caps how long a killed command may hold its output pipes open.
const waitDelay = time.Second

// Client runs Command once per prompt.
//
// The user message is written to stdin. The system prompt and token budget are
// passed as PARLEY_SYSTEM and PARLEY_MAX_TOKENS environment variables, never as
// flags, so prompt text cannot inject arguments.
type Client struct {
	command string
	args    []string
	baseDir string
	env     []string
}

// Option configures the client.
type Option func(*Client)

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) Option {
	return func(c *Client) {
		c.baseDir = dir
	}
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(kv ...string) Option {
	return func(c *Client) {
		c.env = append(c.env, kv...)
	}
}

// New creates a process-backed client.
func New(command string, args []string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("process: command must not be empty")
	}
	c := &Client{command: command, args: args}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete implements ports.InferenceClient.
//
// Stdout is the reply. When stdout is a JSON object with a "response" field,
// that field is used instead.
func (c *Client) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Dir = c.baseDir
	cmd.Env = append(cmd.Environ(), c.env...)
	cmd.Env = append(cmd.Env,
		"PARLEY_SYSTEM="+prompt.System,
		"PARLEY_MAX_TOKENS="+strconv.Itoa(prompt.MaxTokens),
	)
	cmd.Stdin = strings.NewReader(prompt.User)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Completion{}, fmt.Errorf("%w: %s: %v", domain.ErrInferenceUnavailable, c.command, ctxErr)
		}
		return domain.Completion{}, fmt.Errorf("%w: %s failed: %v. Stderr: %s",
			domain.ErrInferenceUnavailable, c.command, err, truncate(stderr.String(), maxStderr))
	}

	return domain.Completion{Response: parseOutput(stdout.String())}, nil
}

func parseOutput(output string) string {
	trimmed := strings.TrimSpace(output)

	// Try to parse as JSON (Auto-Detection)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var obj struct {
			Response *string `json:"response"`
		}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj.Response != nil {
			return *obj.Response
		}
	}

	// Fallback to string
	return trimmed
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

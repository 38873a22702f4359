package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/workflow"
)

// Version is the release of the parley module.
const Version = "0.3.0"

const (
	// MaxSessionIDBytes bounds session identifiers.
	MaxSessionIDBytes = 256
	// MaxMessageBytes bounds a single user message.
	MaxMessageBytes = 16 << 10
)

// Defaults are applied when a request leaves a field blank.
type Defaults struct {
	SessionID       string
	Message         string
	WorkflowMessage string
	SystemPrompt    string
	MaxTokens       int
}

// DefaultDefaults mirrors the public chat behavior.
func DefaultDefaults() Defaults {
	return Defaults{
		SessionID:       domain.DefaultSessionID,
		Message:         domain.DefaultMessage,
		WorkflowMessage: domain.DefaultWorkflowMessage,
		SystemPrompt:    domain.DefaultSystemPrompt,
		MaxTokens:       domain.DefaultMaxTokens,
	}
}

// ChatReply is the result of a synchronous chat turn.
type ChatReply struct {
	Reply string `json:"reply"`
}

// Service is the high-level entry point: it wires the session actor, the
// inference client and the durable orchestrator behind the chat operations.
type Service struct {
	sessions  *session.Manager
	orch      *workflow.Orchestrator
	inference ports.InferenceClient
	defaults  Defaults
	logger    *slog.Logger
	hooks     domain.LifecycleHooks

	sessionOpts  []session.Option
	workflowOpts []workflow.Option
}

// Option defines a functional option for configuring the Service.
type Option func(*Service)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks on every component.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Service) {
		s.hooks = hooks
	}
}

// WithDefaults overrides request defaults. Zero fields keep the built-in value.
func WithDefaults(d Defaults) Option {
	return func(s *Service) {
		if d.SessionID != "" {
			s.defaults.SessionID = d.SessionID
		}
		if d.Message != "" {
			s.defaults.Message = d.Message
		}
		if d.WorkflowMessage != "" {
			s.defaults.WorkflowMessage = d.WorkflowMessage
		}
		if d.SystemPrompt != "" {
			s.defaults.SystemPrompt = d.SystemPrompt
		}
		if d.MaxTokens > 0 {
			s.defaults.MaxTokens = d.MaxTokens
		}
	}
}

// WithSessionOptions forwards options to the session actor.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Service) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// WithWorkflowOptions forwards options to the orchestrator.
func WithWorkflowOptions(opts ...workflow.Option) Option {
	return func(s *Service) {
		s.workflowOpts = append(s.workflowOpts, opts...)
	}
}

// New assembles a Service over the given stores and inference client.
func New(histories ports.HistoryStore, runs ports.RunStore, client ports.InferenceClient, opts ...Option) (*Service, error) {
	if histories == nil || runs == nil {
		return nil, errors.New("parley: history and run stores are required")
	}
	if client == nil {
		return nil, errors.New("parley: inference client is required")
	}

	s := &Service{
		defaults: DefaultDefaults(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.inference = instrument(client, s.hooks)

	// Caller options come last so they can override the shared ones
	s.sessions = session.NewManager(histories, append([]session.Option{
		session.WithLogger(s.logger),
		session.WithHooks(s.hooks),
	}, s.sessionOpts...)...)

	chat := workflow.ChatWorkflow(s.sessions, s.inference, workflow.PromptConfig{
		System:    s.defaults.SystemPrompt,
		MaxTokens: s.defaults.MaxTokens,
	})
	s.orch = workflow.New(runs, chat, append([]workflow.Option{
		workflow.WithLogger(s.logger),
		workflow.WithHooks(s.hooks),
	}, s.workflowOpts...)...)

	return s, nil
}

// Chat runs one synchronous turn: infer a reply, append the exchange, return the reply.
// Blank session ids and messages take the configured defaults.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (ChatReply, error) {
	sessionID = orDefault(sessionID, s.defaults.SessionID)
	message = orDefault(message, s.defaults.Message)
	if err := validate(sessionID, message); err != nil {
		return ChatReply{}, err
	}

	out, err := s.inference.Complete(ctx, domain.Prompt{
		System:    s.defaults.SystemPrompt,
		User:      message,
		MaxTokens: s.defaults.MaxTokens,
	})
	if err != nil {
		return ChatReply{}, err
	}

	if _, err := s.sessions.Append(ctx, sessionID, message, out.Response); err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Reply: out.Response}, nil
}

// History returns the bounded history of a session.
func (s *Service) History(ctx context.Context, sessionID string) (domain.History, error) {
	sessionID = orDefault(sessionID, s.defaults.SessionID)
	if err := validate(sessionID, ""); err != nil {
		return nil, err
	}
	return s.sessions.History(ctx, sessionID)
}

// StartWorkflow creates a durable chat run and returns its id without waiting for it.
func (s *Service) StartWorkflow(ctx context.Context, sessionID, message string) (string, error) {
	sessionID = orDefault(sessionID, s.defaults.SessionID)
	message = orDefault(message, s.defaults.WorkflowMessage)
	if err := validate(sessionID, message); err != nil {
		return "", err
	}
	return s.orch.Create(ctx, sessionID, message)
}

// Run returns the current record of a workflow run.
func (s *Service) Run(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrMalformedRequest)
	}
	return s.orch.Get(ctx, runID)
}

// Sessions exposes the session actor.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Workflows exposes the orchestrator.
func (s *Service) Workflows() *workflow.Orchestrator {
	return s.orch
}

// Defaults returns the effective request defaults.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Close waits for in-flight workflow runs.
func (s *Service) Close() error {
	return s.orch.Close()
}

func validate(sessionID, message string) error {
	if len(sessionID) > MaxSessionIDBytes {
		return fmt.Errorf("%w: session id exceeds %d bytes", domain.ErrMalformedRequest, MaxSessionIDBytes)
	}
	if strings.ContainsFunc(sessionID, unicode.IsControl) {
		return fmt.Errorf("%w: session id contains control characters", domain.ErrMalformedRequest)
	}
	if len(message) > MaxMessageBytes {
		return fmt.Errorf("%w: message exceeds %d bytes", domain.ErrMalformedRequest, MaxMessageBytes)
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// instrument reports every inference call to the OnInference hook.
func instrument(client ports.InferenceClient, hooks domain.LifecycleHooks) ports.InferenceClient {
	if hooks.OnInference == nil {
		return client
	}
	return ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		start := time.Now()
		out, err := client.Complete(ctx, p)
		hooks.OnInference(ctx, &domain.InferenceEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventInference},
			Duration:  time.Since(start),
			Err:       err,
		})
		return out, err
	})
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/pkg/adapters/anthropic"
	"github.com/aretw0/parley/pkg/adapters/dynamo"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/process"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/static"
	"github.com/aretw0/parley/pkg/adapters/workersai"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/workflow"
)

// App is a fully wired parley instance built from configuration.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Service   *parley.Service
	Metrics   *observability.Metrics
	Histories ports.HistoryStore
	Runs      ports.RunStore

	closers []func() error
}

// NewApp builds stores, the inference client and the service described by cfg.
// Extra hooks are merged after the metrics and log hooks.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger, hooks ...domain.LifecycleHooks) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	locker, err := app.openStores(ctx)
	if err != nil {
		return nil, err
	}

	if app.Histories, err = wrapHistories(app.Histories, cfg); err != nil {
		_ = app.Close()
		return nil, err
	}

	client, err := newInference(cfg.Inference)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	policy, err := session.ParseCorruptPolicy(cfg.Chat.CorruptPolicy)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	sessionOpts := []session.Option{
		session.WithLimit(cfg.Chat.HistoryLimit),
		session.WithCorruptPolicy(policy),
		session.WithLockTTL(cfg.Storage.LockTTL),
	}
	workflowOpts := []workflow.Option{
		workflow.WithRetryPolicy(workflow.RetryPolicy{
			MaxAttempts: cfg.Workflow.MaxAttempts,
			BaseDelay:   cfg.Workflow.BaseDelay,
			MaxDelay:    cfg.Workflow.MaxDelay,
		}),
		workflow.WithStepTimeout(cfg.Workflow.StepTimeout),
	}
	if locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(locker))
		workflowOpts = append(workflowOpts, workflow.WithLocker(locker, runLockTTL(cfg.Workflow)))
	}

	all := append([]domain.LifecycleHooks{app.Metrics.Hooks(), observability.LogHooks(logger)}, hooks...)

	app.Service, err = parley.New(app.Histories, app.Runs, client,
		parley.WithLogger(logger),
		parley.WithLifecycleHooks(observability.Merge(all...)),
		parley.WithDefaults(parley.Defaults{
			SessionID:       cfg.Chat.DefaultSessionID,
			Message:         cfg.Chat.DefaultMessage,
			WorkflowMessage: cfg.Chat.WorkflowMessage,
			SystemPrompt:    cfg.Chat.SystemPrompt,
			MaxTokens:       cfg.Chat.MaxTokens,
		}),
		parley.WithSessionOptions(sessionOpts...),
		parley.WithWorkflowOptions(workflowOpts...),
	)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	logger.Debug("parley initialized",
		"store", cfg.Storage.Backend,
		"inference", cfg.Inference.Provider,
		"history_limit", cfg.Chat.HistoryLimit,
		"corrupt_policy", policy.String(),
	)
	return app, nil
}

// runLockTTL bounds a whole run: every step may use all its attempts.
func runLockTTL(cfg config.WorkflowConfig) time.Duration {
	perStep := time.Duration(max(cfg.MaxAttempts, 1)) * (cfg.StepTimeout + cfg.MaxDelay)
	return time.Duration(len(domain.ChatSteps))*perStep + time.Minute
}

// Close waits for in-flight runs, then releases storage connections.
func (a *App) Close() error {
	var errs []error
	if a.Service != nil {
		errs = append(errs, a.Service.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// openStores picks the backend. Only redis offers a distributed locker.
func (a *App) openStores(ctx context.Context) (ports.DistributedLocker, error) {
	st := a.Config.Storage
	switch st.Backend {
	case config.BackendMemory:
		a.Histories = memory.NewStore()
		a.Runs = memory.NewRunStore()
		return nil, nil

	case config.BackendFile:
		a.Histories = file.New(filepath.Join(st.File.Dir, "histories"))
		a.Runs = file.NewRunStore(filepath.Join(st.File.Dir, "runs"))
		return nil, nil

	case config.BackendRedis:
		client := redis.NewClient(st.Redis.Addr, st.Redis.Password, st.Redis.DB)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("%w: redis %s: %v", domain.ErrStorageUnavailable, st.Redis.Addr, err)
		}

		histOpts := []redis.Option{redis.WithTTL(st.Redis.TTL)}
		runOpts := []redis.Option{redis.WithTTL(st.Redis.TTL)}
		if st.Redis.Prefix != "" {
			histOpts = append(histOpts, redis.WithPrefix(st.Redis.Prefix+"history:"))
			runOpts = append(runOpts, redis.WithPrefix(st.Redis.Prefix+"run:"))
		}
		a.Histories = redis.NewFromClient(client, histOpts...)
		a.Runs = redis.NewRunStoreFromClient(client, runOpts...)

		if !st.Redis.Lock {
			return nil, nil
		}
		prefix := st.Redis.Prefix
		if prefix == "" {
			prefix = "parley:"
		}
		return redis.NewLocker(client, prefix+"lock:"), nil

	case config.BackendDynamo:
		client, err := dynamo.NewClient(ctx, st.Dynamo.Region, st.Dynamo.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		if a.Histories, err = dynamo.New(client, st.Dynamo.Table, dynamo.WithTTL(st.Dynamo.TTL)); err != nil {
			return nil, err
		}
		if a.Runs, err = dynamo.NewRunStore(client, st.Dynamo.Table, dynamo.WithTTL(st.Dynamo.TTL)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", st.Backend)
}

// wrapHistories applies redaction before encryption, so sealed text is already masked.
func wrapHistories(store ports.HistoryStore, cfg config.Config) (ports.HistoryStore, error) {
	var mws []middleware.Middleware

	if len(cfg.Chat.RedactPatterns) > 0 {
		mw, err := middleware.NewPIIMiddleware(cfg.Chat.RedactPatterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}

	if cfg.Storage.EncryptionKey != "" {
		active, err := middleware.DecodeKey(cfg.Storage.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("storage.encryption_key: %w", err)
		}
		var fallbacks [][]byte
		for i, s := range cfg.Storage.FallbackKeys {
			k, err := middleware.DecodeKey(s)
			if err != nil {
				return nil, fmt.Errorf("storage.fallback_keys[%d]: %w", i, err)
			}
			fallbacks = append(fallbacks, k)
		}
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallbacks})
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}

	return middleware.Chain(store, mws...), nil
}

func newInference(cfg config.InferenceConfig) (ports.InferenceClient, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case config.ProviderStatic:
		return static.Client{Reply: cfg.Reply}, nil

	case config.ProviderAnthropic:
		reqOpts := []option.RequestOption{option.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithAPIKey(cfg.APIKey),
			anthropic.WithRequestOptions(reqOpts...),
		), nil

	case config.ProviderWorkersAI:
		opts := []workersai.Option{workersai.WithHTTPClient(httpClient), workersai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, workersai.WithBaseURL(cfg.BaseURL))
		}
		client, err := workersai.New(cfg.AccountID, cfg.APIToken, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.ProviderProcess:
		client, err := process.New(cfg.Command, cfg.Args)
		if err != nil {
			return nil, err
		}
		return timeoutClient(client, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
}

// timeoutClient bounds each call, for providers without an HTTP client timeout.
func timeoutClient(client ports.InferenceClient, d time.Duration) ports.InferenceClient {
	if d <= 0 {
		return client
	}
	return ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return client.Complete(ctx, p)
	})
}

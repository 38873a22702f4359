package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/google/uuid"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("orchestrator closed")

// Workflow is an ordered list of named steps and the body that executes them.
// The body must call Step for every name in Steps, in order.
type Workflow struct {
	Name  string
	Steps []string
	Run   func(ctx context.Context, exec *Execution) (domain.RunResult, error)
}

// Orchestrator drives workflow runs durably: every run is persisted on
// creation, after each completed step and on terminal transitions, so an
// interrupted run can be resumed at its first incomplete step.
type Orchestrator struct {
	store    ports.RunStore
	workflow Workflow

	retry        RetryPolicy
	stepTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	hooks        domain.LifecycleHooks
	now          func() time.Time
	newID        func() string
	locker       ports.DistributedLocker
	lockTTL      time.Duration

	mu     sync.Mutex
	active map[string]struct{} // Runs with a live executor
	closed bool
	wg     sync.WaitGroup
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy sets the per-step retry budget.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// WithStepTimeout bounds every step attempt.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepTimeout = d
	}
}

// WithLogger configures a logger for the Orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithHooks registers lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = hooks
	}
}

// WithLocker makes executors across replicas exclusive per run. The ttl
// must outlast a whole run, retries included.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.locker = locker
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator overrides run id generation (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithPollInterval sets how often Wait re-reads a run.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// New creates an Orchestrator for a single workflow.
func New(store ports.RunStore, wf Workflow, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		workflow:     wf,
		retry:        DefaultRetryPolicy(),
		pollInterval: 20 * time.Millisecond,
		logger:       logging.NewNop(),
		now:          time.Now,
		newID:        uuid.NewString,
		lockTTL:      10 * time.Minute,
		active:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create persists a new run and starts executing it in the background.
// It returns as soon as the run is durable; step failures never surface here.
func (o *Orchestrator) Create(ctx context.Context, sessionID, message string) (string, error) {
	run := domain.NewWorkflowRun(o.newID(), sessionID, message, o.workflow.Steps, o.now().UTC())
	if err := o.store.Save(ctx, run); err != nil {
		return "", storageErr("create run", err)
	}
	o.logger.Info("run created", "run_id", run.ID, "session_id", sessionID, "workflow", o.workflow.Name)

	if err := o.start(ctx, run.ID, false); err != nil {
		return "", err
	}
	return run.ID, nil
}

// Resume re-enters a run at its first incomplete step. Completed runs are
// left untouched; failed runs are retried from the step that failed.
// It is a no-op when the run is already executing in this process.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	run, err := o.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == domain.RunCompleted {
		return nil
	}
	return o.start(ctx, runID, false)
}

// ResumePending resumes every run that has not reached a terminal status.
// It returns the ids that were resumed.
func (o *Orchestrator) ResumePending(ctx context.Context) ([]string, error) {
	ids, err := o.store.List(ctx)
	if err != nil {
		return nil, storageErr("list runs", err)
	}

	var resumed []string
	for _, id := range ids {
		run, err := o.store.Load(ctx, id)
		if err != nil {
			o.logger.Warn("skipping unreadable run", "run_id", id, "err", err)
			continue
		}
		if run.IsTerminal() {
			continue
		}
		if err := o.start(ctx, id, true); err != nil {
			return resumed, err
		}
		resumed = append(resumed, id)
	}
	if len(resumed) > 0 {
		o.logger.Info("resumed pending runs", "count", len(resumed))
	}
	return resumed, nil
}

// Get loads a run record.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	run, err := o.store.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) || errors.Is(err, domain.ErrCorruptState) {
			return nil, err
		}
		return nil, storageErr("load run", err)
	}
	return run, nil
}

// List returns the identifiers of all stored runs.
func (o *Orchestrator) List(ctx context.Context) ([]string, error) {
	ids, err := o.store.List(ctx)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	return ids, nil
}

// Wait polls a run until it is terminal and no executor holds it.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		run, err := o.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.IsTerminal() && !o.isActive(runID) {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting new runs and waits for in-flight executions.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

func (o *Orchestrator) isActive(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[runID]
	return ok
}

// start launches an executor unless one already drives the run.
// With pendingOnly the executor leaves runs that became terminal meanwhile.
func (o *Orchestrator) start(ctx context.Context, runID string, pendingOnly bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if _, busy := o.active[runID]; busy {
		o.mu.Unlock()
		return nil
	}
	o.active[runID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	// Detach from the caller: a request context ends with the response
	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.active, runID)
			o.mu.Unlock()
			o.wg.Done()
		}()
		o.execute(execCtx, runID, pendingOnly)
	}()
	return nil
}

// execute drives one run to a terminal status.
func (o *Orchestrator) execute(ctx context.Context, runID string, pendingOnly bool) {
	if o.locker != nil {
		unlock, err := o.locker.Lock(ctx, "run:"+runID, o.lockTTL)
		if err != nil {
			o.logger.Error("failed to acquire run lock", "run_id", runID, "err", err)
			return
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				o.logger.Warn("Failed to release run lock (will expire via TTL)", "run_id", runID, "err", err)
			}
		}()
	}

	// Loaded under the lock: another replica may have finished it
	run, err := o.store.Load(ctx, runID)
	if err != nil {
		o.logger.Error("failed to load run", "run_id", runID, "err", err)
		return
	}
	if run.Status == domain.RunCompleted || (pendingOnly && run.IsTerminal()) {
		return
	}

	run.Status = domain.RunRunning
	run.Error = ""
	if err := o.save(ctx, run); err != nil {
		o.logger.Error("failed to mark run running", "run_id", runID, "err", err)
		return
	}
	if next := run.NextStep(); next > 0 {
		o.logger.Info("resuming run", "run_id", runID, "step", run.Steps[next].Name)
	}

	result, err := o.workflow.Run(ctx, &Execution{run: run, o: o})
	switch {
	case err != nil:
		run.Status = domain.RunFailed
		run.Error = err.Error()
	case !run.AllCompleted():
		run.Status = domain.RunFailed
		run.Error = fmt.Sprintf("workflow %q returned with step %q incomplete", o.workflow.Name, run.Steps[run.NextStep()].Name)
	default:
		run.Status = domain.RunCompleted
		run.Result = &result
	}

	if err := o.save(ctx, run); err != nil {
		// Left non-terminal on disk, so ResumePending picks it up again
		o.logger.Error("failed to persist run outcome", "run_id", runID, "err", err)
		return
	}

	if run.Status == domain.RunFailed {
		o.logger.Warn("run failed", "run_id", runID, "err", run.Error)
	} else {
		o.logger.Info("run completed", "run_id", runID)
	}
	if o.hooks.OnRunFinish != nil {
		o.hooks.OnRunFinish(ctx, &domain.RunEvent{
			EventBase: domain.EventBase{Timestamp: o.now(), Type: domain.EventRunFinish, SessionID: run.SessionID},
			RunID:     run.ID,
			Status:    run.Status,
		})
	}
}

func (o *Orchestrator) save(ctx context.Context, run *domain.WorkflowRun) error {
	run.UpdatedAt = o.now().UTC()
	if err := o.store.Save(ctx, run); err != nil {
		return storageErr("save run", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

var (
	// ErrUnknownStep is returned when a workflow body names a step its run does not declare.
	ErrUnknownStep = errors.New("unknown step")
	// ErrStepOutOfOrder is returned when a step starts before its predecessors completed.
	ErrStepOutOfOrder = errors.New("step started before its predecessors completed")
)

// Execution is the handle a workflow body uses to run its steps.
// It is owned by a single executor goroutine.
type Execution struct {
	run *domain.WorkflowRun
	o   *Orchestrator
}

// RunID returns the identifier of the executing run.
func (e *Execution) RunID() string { return e.run.ID }

// SessionID returns the session the run belongs to.
func (e *Execution) SessionID() string { return e.run.SessionID }

// Message returns the user message that started the run.
func (e *Execution) Message() string { return e.run.Message }

// Step executes fn at most once to completion for the named step.
//
// If the step is already recorded completed, its memoized result is decoded
// and returned without calling fn. Otherwise fn is attempted under the
// orchestrator's retry policy; on success the JSON-encoded result is recorded
// and the run persisted before Step returns.
func Step[T any](ctx context.Context, exec *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	o := exec.o
	run := exec.run

	idx := -1
	for i := range run.Steps {
		if run.Steps[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return zero, fmt.Errorf("%w: %q in run %s", ErrUnknownStep, name, run.ID)
	}
	rec := &run.Steps[idx]

	if rec.Status == domain.StepCompleted {
		var out T
		if err := json.Unmarshal(rec.Result, &out); err != nil {
			return zero, fmt.Errorf("%w: memoized result of step %q: %v", domain.ErrCorruptState, name, err)
		}
		o.logger.Debug("step memoized", "run_id", run.ID, "step", name)
		o.emitStep(ctx, domain.EventStepFinish, o.hooks.OnStepFinish, run, name, rec.Attempts, true, nil, 0)
		return out, nil
	}

	for i := 0; i < idx; i++ {
		if run.Steps[i].Status != domain.StepCompleted {
			return zero, fmt.Errorf("%w: %q waits on %q", ErrStepOutOfOrder, name, run.Steps[i].Name)
		}
	}

	maxAttempts := o.retry.attempts()
	for failures := 0; ; {
		rec.Attempts++
		o.emitStep(ctx, domain.EventStepStart, o.hooks.OnStepStart, run, name, rec.Attempts, false, nil, 0)

		start := time.Now()
		out, err := attempt(ctx, o.stepTimeout, fn)
		elapsed := time.Since(start)

		if err == nil {
			data, mErr := json.Marshal(out)
			if mErr != nil {
				return zero, fmt.Errorf("step %q: encode result: %w", name, mErr)
			}
			completedAt := o.now()
			rec.Status = domain.StepCompleted
			rec.Result = data
			rec.LastError = ""
			rec.CompletedAt = &completedAt

			// The result is only memoized once this save succeeds
			if sErr := o.save(ctx, run); sErr != nil {
				rec.Status = domain.StepPending
				rec.Result = nil
				rec.CompletedAt = nil
				return zero, sErr
			}
			o.logger.Info("step completed", "run_id", run.ID, "step", name, "attempt", rec.Attempts, "duration", elapsed)
			o.emitStep(ctx, domain.EventStepFinish, o.hooks.OnStepFinish, run, name, rec.Attempts, false, nil, elapsed)
			return out, nil
		}

		failures++
		rec.LastError = err.Error()
		o.emitStep(ctx, domain.EventStepFinish, o.hooks.OnStepFinish, run, name, rec.Attempts, false, err, elapsed)
		o.logger.Warn("step failed", "run_id", run.ID, "step", name, "attempt", rec.Attempts, "err", err)

		if sErr := o.save(ctx, run); sErr != nil {
			o.logger.Warn("failed to record step attempt", "run_id", run.ID, "step", name, "err", sErr)
		}
		if failures >= maxAttempts || ctx.Err() != nil {
			return zero, fmt.Errorf("step %q failed after %d attempt(s): %w", name, failures, err)
		}
		if sErr := sleep(ctx, o.retry.Delay(failures)); sErr != nil {
			return zero, fmt.Errorf("step %q interrupted: %w", name, sErr)
		}
	}
}

func (o *Orchestrator) emitStep(ctx context.Context, typ domain.EventType, hook func(context.Context, *domain.StepEvent), run *domain.WorkflowRun, step string, attempt int, memoized bool, err error, d time.Duration) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.StepEvent{
		EventBase: domain.EventBase{Timestamp: o.now(), Type: typ, SessionID: run.SessionID},
		RunID:     run.ID,
		Step:      step,
		Attempt:   attempt,
		Memoized:  memoized,
		Err:       err,
		Duration:  d,
	})
}

// attempt runs fn once, bounded by timeout when positive.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

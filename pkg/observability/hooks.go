package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// LogHooks returns callbacks that log every lifecycle event at debug level,
// and failures at warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnAppended: func(ctx context.Context, e *domain.TurnEvent) {
			logger.DebugContext(ctx, "turn_appended", "session_id", e.SessionID, "size", e.Size, "evicted", e.Evicted)
		},
		OnCorruptState: func(ctx context.Context, e *domain.EventBase) {
			logger.WarnContext(ctx, "corrupt_state", "session_id", e.SessionID)
		},
		OnStepStart: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_start", "run_id", e.RunID, "step", e.Step, "attempt", e.Attempt)
		},
		OnStepFinish: func(ctx context.Context, e *domain.StepEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "step_finish", "run_id", e.RunID, "step", e.Step, "attempt", e.Attempt, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "step_finish", "run_id", e.RunID, "step", e.Step, "memoized", e.Memoized, "duration", e.Duration)
		},
		OnRunFinish: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run_finish", "run_id", e.RunID, "session_id", e.SessionID, "status", e.Status)
		},
		OnInference: func(ctx context.Context, e *domain.InferenceEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "inference", "duration", e.Duration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "inference", "duration", e.Duration)
		},
	}
}

// Merge fans every event out to all given hook sets, in order.
func Merge(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnTurnAppended = chain(out.OnTurnAppended, h.OnTurnAppended)
		out.OnCorruptState = chain(out.OnCorruptState, h.OnCorruptState)
		out.OnStepStart = chain(out.OnStepStart, h.OnStepStart)
		out.OnStepFinish = chain(out.OnStepFinish, h.OnStepFinish)
		out.OnRunFinish = chain(out.OnRunFinish, h.OnRunFinish)
		out.OnInference = chain(out.OnInference, h.OnInference)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}

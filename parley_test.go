package parley_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/static"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/workflow"
)

func newService(t *testing.T, client ports.InferenceClient, opts ...parley.Option) *parley.Service {
	t.Helper()
	opts = append(opts, parley.WithWorkflowOptions(
		workflow.WithPollInterval(time.Millisecond),
		workflow.WithRetryPolicy(workflow.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}),
	))
	svc, err := parley.New(memory.NewStore(), memory.NewRunStore(), client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScenario_AppendThenRead(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	svc := newService(t, static.Client{}, parley.WithSessionOptions(session.WithClock(func() time.Time { return fixed })))
	ctx := testCtx(t)

	res, err := svc.Sessions().Save(ctx, "s1", "hi", "hello")
	require.NoError(t, err)
	assert.Equal(t, session.SaveResult{OK: true, Size: 1}, res)

	history, err := svc.History(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.History{{User: "hi", AI: "hello", At: fixed.UnixMilli()}}, history)
}

func TestScenario_TwelveAppendsKeepLastTen(t *testing.T) {
	svc := newService(t, static.Client{})
	ctx := testCtx(t)

	for i := 1; i <= 12; i++ {
		_, err := svc.Sessions().Append(ctx, "s1", fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, "u3", history[0].User)
	assert.Equal(t, "u12", history[9].User)
}

func TestScenario_DurableRun(t *testing.T) {
	svc := newService(t, static.Client{Reply: "pong"})
	ctx := testCtx(t)

	runID, err := svc.StartWorkflow(ctx, "s2", "ping")
	require.NoError(t, err)

	run, err := svc.Workflows().Wait(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, &domain.RunResult{Reply: "pong"}, run.Result)

	history, err := svc.History(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ping", history[0].User)
	assert.Equal(t, "pong", history[0].AI)
}

func TestService_ChatAppliesDefaults(t *testing.T) {
	var seen domain.Prompt
	client := ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		seen = p
		return domain.Completion{Response: "hey"}, nil
	})
	svc := newService(t, client)
	ctx := testCtx(t)

	reply, err := svc.Chat(ctx, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, "hey", reply.Reply)
	assert.Equal(t, domain.Prompt{System: "Be concise.", User: "Say hi", MaxTokens: 120}, seen)

	history, err := svc.History(ctx, "default")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Say hi", history[0].User)
}

func TestService_CustomDefaults(t *testing.T) {
	var seen domain.Prompt
	client := ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		seen = p
		return domain.Completion{}, nil
	})
	svc := newService(t, client, parley.WithDefaults(parley.Defaults{
		SessionID:       "lobby",
		WorkflowMessage: "wf hello",
		SystemPrompt:    "Answer in French.",
		MaxTokens:       64,
	}))
	ctx := testCtx(t)

	runID, err := svc.StartWorkflow(ctx, "", "")
	require.NoError(t, err)
	run, err := svc.Workflows().Wait(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, "lobby", run.SessionID)
	assert.Equal(t, "wf hello", run.Message)
	assert.Equal(t, "Answer in French.", seen.System)
	assert.Equal(t, 64, seen.MaxTokens)
	assert.Equal(t, "Say hi", svc.Defaults().Message)
}

func TestService_ChatInferenceFailure(t *testing.T) {
	client := ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		return domain.Completion{}, fmt.Errorf("%w: timeout", domain.ErrInferenceUnavailable)
	})
	svc := newService(t, client)
	ctx := testCtx(t)

	_, err := svc.Chat(ctx, "s", "hi")
	assert.ErrorIs(t, err, domain.ErrInferenceUnavailable)

	history, err := svc.History(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, history, "failed turns are not recorded")
}

func TestService_StartWorkflowNeverSurfacesStepErrors(t *testing.T) {
	client := ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		return domain.Completion{}, domain.ErrInferenceUnavailable
	})
	svc := newService(t, client)
	ctx := testCtx(t)

	runID, err := svc.StartWorkflow(ctx, "s", "hi")
	require.NoError(t, err)

	run, err := svc.Workflows().Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
}

func TestService_Validation(t *testing.T) {
	svc := newService(t, static.Client{})
	ctx := testCtx(t)

	_, err := svc.Chat(ctx, strings.Repeat("x", parley.MaxSessionIDBytes+1), "hi")
	assert.ErrorIs(t, err, domain.ErrMalformedRequest)

	_, err = svc.Chat(ctx, "s", strings.Repeat("x", parley.MaxMessageBytes+1))
	assert.ErrorIs(t, err, domain.ErrMalformedRequest)

	_, err = svc.History(ctx, "bad\nid")
	assert.ErrorIs(t, err, domain.ErrMalformedRequest)

	_, err = svc.Run(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrMalformedRequest)

	_, err = svc.Run(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestService_InferenceHook(t *testing.T) {
	var calls atomic.Int32
	var failures atomic.Int32
	hooks := domain.LifecycleHooks{
		OnInference: func(_ context.Context, e *domain.InferenceEvent) {
			calls.Add(1)
			if e.Err != nil {
				failures.Add(1)
			}
		},
	}
	fail := true
	client := ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		if fail {
			fail = false
			return domain.Completion{}, errors.New("first call fails")
		}
		return domain.Completion{Response: "ok"}, nil
	})
	svc := newService(t, client, parley.WithLifecycleHooks(hooks))
	ctx := testCtx(t)

	_, err := svc.Chat(ctx, "s", "a")
	require.Error(t, err)
	_, err = svc.Chat(ctx, "s", "b")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), failures.Load())
}

func TestService_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	histories := file.New(dir + "/histories")
	runs := file.NewRunStore(dir + "/runs")
	ctx := testCtx(t)

	// A previous process recorded the llm step and then died
	run := domain.NewWorkflowRun("r-crashed", "s", "ping", domain.ChatSteps, time.Now())
	run.Status = domain.RunRunning
	run.Steps[0].Status = domain.StepCompleted
	run.Steps[0].Result = []byte(`"pong"`)
	require.NoError(t, runs.Save(ctx, run))

	var calls atomic.Int32
	client := ports.InferenceFunc(func(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
		calls.Add(1)
		return domain.Completion{Response: "new"}, nil
	})
	svc, err := parley.New(histories, runs, client, parley.WithWorkflowOptions(workflow.WithPollInterval(time.Millisecond)))
	require.NoError(t, err)
	defer svc.Close()

	resumed, err := svc.Workflows().ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-crashed"}, resumed)

	done, err := svc.Workflows().Wait(ctx, "r-crashed")
	require.NoError(t, err)
	assert.Equal(t, "pong", done.Result.Reply)
	assert.Equal(t, int32(0), calls.Load())

	history, err := svc.History(ctx, "s")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "pong", history[0].AI)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := parley.New(nil, memory.NewRunStore(), static.Client{})
	assert.Error(t, err)
	_, err = parley.New(memory.NewStore(), memory.NewRunStore(), nil)
	assert.Error(t, err)
}

package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRun_NextStep(t *testing.T) {
	run := domain.NewWorkflowRun("r1", "s1", "ping", domain.ChatSteps, time.Now())
	assert.Equal(t, domain.RunCreated, run.Status)
	assert.Equal(t, 0, run.NextStep())

	llm, ok := run.Step(domain.StepLLM)
	require.True(t, ok)
	llm.Status = domain.StepCompleted
	assert.Equal(t, 1, run.NextStep())
	assert.False(t, run.AllCompleted())

	persist, ok := run.Step(domain.StepPersist)
	require.True(t, ok)
	persist.Status = domain.StepCompleted
	assert.Equal(t, -1, run.NextStep())
	assert.True(t, run.AllCompleted())

	_, ok = run.Step("unknown")
	assert.False(t, ok)
}

func TestWorkflowRun_Clone_IsDeep(t *testing.T) {
	now := time.Now()
	run := domain.NewWorkflowRun("r1", "s1", "ping", domain.ChatSteps, now)
	run.Steps[0].Status = domain.StepCompleted
	run.Steps[0].Result = json.RawMessage(`"pong"`)
	run.Steps[0].CompletedAt = &now
	run.Result = &domain.RunResult{Reply: "pong"}

	cp := run.Clone()
	cp.Steps[0].Result[1] = 'X'
	cp.Steps[1].Status = domain.StepCompleted
	cp.Result.Reply = "changed"

	assert.Equal(t, `"pong"`, string(run.Steps[0].Result))
	assert.Equal(t, domain.StepPending, run.Steps[1].Status)
	assert.Equal(t, "pong", run.Result.Reply)
}

func TestWorkflowRun_IsTerminal(t *testing.T) {
	run := domain.NewWorkflowRun("r1", "s1", "m", domain.ChatSteps, time.Now())
	for status, terminal := range map[domain.RunStatus]bool{
		domain.RunCreated:   false,
		domain.RunRunning:   false,
		domain.RunCompleted: true,
		domain.RunFailed:    true,
	} {
		run.Status = status
		assert.Equal(t, terminal, run.IsTerminal(), string(status))
	}
}

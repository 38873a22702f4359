package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle position of a WorkflowRun.
type RunStatus string

const (
	RunCreated   RunStatus = "created"   // Persisted, no step attempted yet
	RunRunning   RunStatus = "running"   // An executor is driving the steps
	RunCompleted RunStatus = "completed" // Every step is recorded completed
	RunFailed    RunStatus = "failed"    // A step exhausted its retry budget
)

// StepStatus is the completion state of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
)

// StepRecord is the durable checkpoint of one named step.
// Result holds the memoized JSON-encoded output once Status is StepCompleted.
type StepRecord struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// RunResult is the final output of a chat workflow run.
type RunResult struct {
	Reply string `json:"reply"`
}

// WorkflowRun is one execution of an ordered step list with durable progress.
type WorkflowRun struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	Message   string       `json:"message"`
	Status    RunStatus    `json:"status"`
	Steps     []StepRecord `json:"steps"`
	Result    *RunResult   `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// NewWorkflowRun allocates a run whose steps are all pending.
func NewWorkflowRun(id, sessionID, message string, steps []string, now time.Time) *WorkflowRun {
	records := make([]StepRecord, len(steps))
	for i, name := range steps {
		records[i] = StepRecord{Name: name, Status: StepPending}
	}
	return &WorkflowRun{
		ID:        id,
		SessionID: sessionID,
		Message:   message,
		Status:    RunCreated,
		Steps:     records,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Step returns the record for the named step.
func (r *WorkflowRun) Step(name string) (*StepRecord, bool) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// NextStep returns the index of the first step not yet completed, or -1.
func (r *WorkflowRun) NextStep() int {
	for i, s := range r.Steps {
		if s.Status != StepCompleted {
			return i
		}
	}
	return -1
}

// AllCompleted reports whether every step is recorded completed.
func (r *WorkflowRun) AllCompleted() bool {
	return r.NextStep() == -1
}

// IsTerminal reports whether the run reached Completed or Failed.
func (r *WorkflowRun) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Clone returns a deep copy, so stores can hand out runs without sharing memory.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Steps = make([]StepRecord, len(r.Steps))
	for i, s := range r.Steps {
		cp := s
		if s.Result != nil {
			cp.Result = append(json.RawMessage(nil), s.Result...)
		}
		if s.CompletedAt != nil {
			at := *s.CompletedAt
			cp.CompletedAt = &at
		}
		out.Steps[i] = cp
	}
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return &out
}

package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTurnAppended EventType = "turn_appended"
	EventCorruptState EventType = "corrupt_state"
	EventStepStart    EventType = "step_start"
	EventStepFinish   EventType = "step_finish"
	EventRunFinish    EventType = "run_finish"
	EventInference    EventType = "inference"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// TurnEvent is emitted after a turn has been persisted.
type TurnEvent struct {
	EventBase
	Size    int `json:"size"`
	Evicted int `json:"evicted"`
}

// StepEvent is emitted around every step attempt.
// Memoized is set when the step was skipped because its result was already recorded.
type StepEvent struct {
	EventBase
	RunID    string        `json:"run_id"`
	Step     string        `json:"step"`
	Attempt  int           `json:"attempt"`
	Memoized bool          `json:"memoized,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// RunEvent is emitted when a run reaches a terminal status.
type RunEvent struct {
	EventBase
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// InferenceEvent is emitted after every inference call.
type InferenceEvent struct {
	EventBase
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// LifecycleHooks defines callbacks for observability.
// Every field is optional.
type LifecycleHooks struct {
	OnTurnAppended func(context.Context, *TurnEvent)
	OnCorruptState func(context.Context, *EventBase)
	OnStepStart    func(context.Context, *StepEvent)
	OnStepFinish   func(context.Context, *StepEvent)
	OnRunFinish    func(context.Context, *RunEvent)
	OnInference    func(context.Context, *InferenceEvent)
}

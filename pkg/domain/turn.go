package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Turn is one exchange: a user message and the reply generated for it.
// At is wall-clock milliseconds since the Unix epoch.
type Turn struct {
	User string `json:"user"`
	AI   string `json:"ai"`
	At   int64  `json:"at"`
}

// NewTurn creates a Turn stamped with the given instant.
func NewTurn(user, ai string, at time.Time) Turn {
	return Turn{User: user, AI: ai, At: at.UnixMilli()}
}

// History is the ordered log of turns for one session, oldest first.
type History []Turn

// Append returns a new History with t added at the end. When the result would
// exceed limit, the oldest turns are evicted first. The receiver is never
// mutated. The second return value is the number of evicted turns.
func (h History) Append(t Turn, limit int) (History, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	next := make(History, 0, len(h)+1)
	next = append(next, h...)
	next = append(next, t)

	evicted := 0
	if len(next) > limit {
		evicted = len(next) - limit
		next = next[evicted:]
	}
	return next, evicted
}

// Clone returns a copy that shares no backing array with h.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}

// EncodeHistory serializes a History as a JSON array of {user, ai, at} records.
func EncodeHistory(h History) ([]byte, error) {
	if h == nil {
		h = History{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses a persisted History blob.
// Anything other than a JSON array of turn records yields ErrCorruptState.
// A JSON null decodes to an empty History.
func DecodeHistory(data []byte) (History, error) {
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if h == nil {
		h = History{}
	}
	return h, nil
}

package domain

import "errors"

// ErrStorageUnavailable is returned when the durable store cannot be reached.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrCorruptState is returned when a persisted History does not have the expected shape.
var ErrCorruptState = errors.New("corrupt state")

// ErrInferenceUnavailable is returned when the inference backend fails.
var ErrInferenceUnavailable = errors.New("inference unavailable")

// ErrMalformedRequest is returned for request input that cannot be defaulted.
var ErrMalformedRequest = errors.New("malformed request")

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrRunNotFound is returned when a workflow run ID cannot be found in the store.
var ErrRunNotFound = errors.New("workflow run not found")

package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Failure taxonomy shared across the pipeline. Checked with errors.Is.
var (
	// ErrValidation marks empty or invalid caller input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrFeedUnavailable marks an unreachable feed or exhausted retries.
	// A batch may still carry partial results collected before the failure.
	ErrFeedUnavailable = errors.New("feed unavailable")

	// ErrModelUnavailable marks missing or corrupt model artifacts. Fatal:
	// no inference is possible for the process instance.
	ErrModelUnavailable = errors.New("model artifacts unavailable")

	// ErrRateLimited marks a token-bucket wait that outlived the caller's
	// deadline. Retryable once the quota window elapses; distinct from
	// ErrFeedUnavailable.
	ErrRateLimited = errors.New("rate limit wait exceeded deadline")
)

// Stage names the pipeline phase a failure belongs to, for triage.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageInfer     Stage = "infer"
)

// RecordError is one record's isolated failure inside a batch. It never
// aborts sibling records; the pipeline collects these in BatchSummary.Errors.
type RecordError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// MarshalJSON flattens the wrapped error into a string so batch results
// serialize cleanly.
func (e RecordError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    string `json:"id,omitempty"`
		Stage Stage  `json:"stage"`
		Error string `json:"error"`
	}{ID: e.ID, Stage: e.Stage, Error: e.Err.Error()})
}

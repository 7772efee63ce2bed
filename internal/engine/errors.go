package engine

import "errors"

// ErrCancelled is returned when a run is stopped by its caller.
// A cancelled run has no result.
var ErrCancelled = errors.New("optimization cancelled")

// ValidationError rejects a request before any work starts
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Field + " " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

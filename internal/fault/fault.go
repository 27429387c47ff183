// Package fault holds the error sentinels shared by every layer of the store.
//
// Callers match with errors.Is; concrete errors wrap one of these with
// context, and backend failures additionally wrap the engine's own error.
package fault

import "errors"

var (
	ErrInvalidObject     = errors.New("activitystore: invalid LD-object")
	ErrInvalidQuery      = errors.New("activitystore: invalid query")
	ErrInvalidCollection = errors.New("activitystore: invalid collection")
	ErrNotFound          = errors.New("activitystore: not found")
	ErrBackend           = errors.New("activitystore: backend failure")
)

// Backend wraps an engine error so that it matches both ErrBackend and the
// original cause.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return &backendError{op: op, err: err}
}

type backendError struct {
	op  string
	err error
}

func (e *backendError) Error() string {
	return "activitystore: " + e.op + ": " + e.err.Error()
}

func (e *backendError) Unwrap() []error {
	return []error{ErrBackend, e.err}
}

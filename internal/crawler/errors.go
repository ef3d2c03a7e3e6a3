package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores, the service layer, and the API.
var (
	ErrNotFound       = errors.New("audit run not found")
	ErrConflict       = errors.New("audit run state conflict")
	ErrRobotsDisallow = errors.New("disallowed by robots.txt")
	ErrQueueClosed    = errors.New("queue closed")
)

// ValidationError reports a missing or malformed creation field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}

// ConflictError reports a control action that the current status forbids.
type ConflictError struct {
	RunID  string
	From   Status
	Action string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s run %s in status %s", e.Action, e.RunID, e.From)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// FetchError is returned once every attempt for a URL has failed.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s failed after %d attempts (status %d): %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError describes one element that could not be resolved.
type ExtractionError struct {
	Element string
	Value   string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Element, e.Value, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// OrchestrationError is fatal to a run.
type OrchestrationError struct {
	RunID string
	Err   error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("run %s orchestration failed: %v", e.RunID, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// StatusError marks a non-2xx response so the executor can keep the code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

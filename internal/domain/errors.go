package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a submission is malformed; no job is created
	ErrValidation = errors.New("validation failed")

	// ErrJobNotFound is returned when a job cannot be found
	ErrJobNotFound = errors.New("job not found")

	// ErrStorage is returned when the job store is unavailable
	ErrStorage = errors.New("storage unavailable")

	// ErrPipeline wraps failures reported by the evaluation pipeline
	ErrPipeline = errors.New("pipeline error")

	// ErrCancelled is returned when a queued job is cancelled before it starts
	ErrCancelled = errors.New("job cancelled")

	// ErrJobNotCancellable is returned when cancelling a job that already started
	ErrJobNotCancellable = errors.New("job already started and cannot be cancelled")

	// ErrJobTerminal is returned when acting on a job that already finished
	ErrJobTerminal = errors.New("job already finished")
)

// ValidationError creates a validation error for the given field
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// StorageError wraps a persistence failure
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// PipelineError wraps a failure raised by the evaluation pipeline
type PipelineError struct {
	Message string
}

func (e *PipelineError) Error() string {
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return ErrPipeline
}

// NewPipelineError creates a new pipeline error
func NewPipelineError(format string, args ...any) error {
	return &PipelineError{Message: fmt.Sprintf(format, args...)}
}

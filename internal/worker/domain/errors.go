package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyJobID is returned when a queue message carries no sample accession
	ErrEmptyJobID = errors.New("empty job id")

	// ErrInvalidJobID is returned when a message body is not a single safe path element
	ErrInvalidJobID = errors.New("invalid job id")

	// ErrArtifactMissing is returned when a stage finished but did not leave its output behind
	ErrArtifactMissing = errors.New("expected artifact not produced")
)

// ConfigurationError is returned when a run-time parameter cannot be resolved.
// It is fatal at startup.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: parameter %q: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(key string, err error) error {
	return &ConfigurationError{Key: key, Err: err}
}

// StoreError wraps transport or auth failures of the result store.
// A missing object is never reported as a StoreError.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new store error
func NewStoreError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// AcknowledgeError is returned when a queue receipt is stale or invalid.
// The job will be redelivered.
type AcknowledgeError struct {
	JobID string
	Err   error
}

func (e *AcknowledgeError) Error() string {
	return fmt.Sprintf("acknowledge error: job %s: %v", e.JobID, e.Err)
}

func (e *AcknowledgeError) Unwrap() error {
	return e.Err
}

// NewAcknowledgeError creates a new acknowledge error
func NewAcknowledgeError(jobID string, err error) error {
	return &AcknowledgeError{JobID: jobID, Err: err}
}

// StageError reports a failed pipeline stage, usually a non-zero exit of an external tool
type StageError struct {
	Stage    Stage
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("stage %s failed with exit code %d: %v", e.Stage, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new stage error
func NewStageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageTimeoutError reports a stage that did not finish within its time budget
type StageTimeoutError struct {
	Stage   Stage
	Timeout time.Duration
	Err     error
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s: %v", e.Stage, e.Timeout, e.Err)
}

func (e *StageTimeoutError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage a job failed in, if the error carries one
func FailedStage(err error) (Stage, bool) {
	var timeoutErr *StageTimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Stage, true
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

package core

import (
	"errors"
	"fmt"
)

// Error kinds recorded on the staging record's error history. Duplicate
// detection is deliberately absent: it is a successful outcome, not an error.
const (
	KindValidation  = "validation"
	KindConversion  = "conversion"
	KindModel       = "model"
	KindPersistence = "persistence"
)

var (
	// ErrUnsupportedFileType rejects inputs the normalizer cannot handle.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrEmptyInput rejects zero-byte uploads before any work is done.
	ErrEmptyInput = errors.New("empty input")

	// ErrBatchTooLarge rejects batch requests above the configured cap.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// StageFailure wraps an underlying error with the taxonomy kind and the
// pipeline stage it happened in. The orchestrator is the only producer; it
// records the failure on the staging record and surfaces one of these to the
// caller.
type StageFailure struct {
	Kind  string
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s error at stage %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// NewValidationError builds a validation failure; no staging record exists
// for these, so Stage is empty.
func NewValidationError(err error) *StageFailure {
	return &StageFailure{Kind: KindValidation, Err: err}
}

func NewConversionError(stage string, err error) *StageFailure {
	return &StageFailure{Kind: KindConversion, Stage: stage, Err: err}
}

func NewModelError(stage string, err error) *StageFailure {
	return &StageFailure{Kind: KindModel, Stage: stage, Err: err}
}

func NewPersistenceError(stage string, err error) *StageFailure {
	return &StageFailure{Kind: KindPersistence, Stage: stage, Err: err}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidBatch is returned when a batch is structurally unusable,
	// e.g. every lead is missing its identifier.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrZeroVariance is returned when a computation needs a non-constant series.
	ErrZeroVariance = errors.New("series has zero variance")

	// ErrLengthMismatch is returned when paired series differ in length.
	ErrLengthMismatch = errors.New("series lengths differ")
)

// ExtractionError is fatal for a single lead: its identifier is missing.
type ExtractionError struct {
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed on %s: %s", e.Field, e.Reason)
}

// InsufficientDataError is returned by statistical functions that need a
// minimum sample size.
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need at least %d points, got %d", e.Op, e.Need, e.Got)
}

// NewInsufficientData builds an InsufficientDataError.
func NewInsufficientData(op string, need, got int) error {
	return &InsufficientDataError{Op: op, Need: need, Got: got}
}

// ModelUnavailableError signals that a predictive model artifact is missing.
// Callers fall back to a documented estimate instead of aborting.
type ModelUnavailableError struct {
	Model string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q is unavailable", e.Model)
}

// DegradedInputWarning is attached to a lead when a default replaced missing or
// malformed input. It is not an error: the lead is still scored.
type DegradedInputWarning struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (w DegradedInputWarning) String() string {
	return w.Field + ": " + w.Reason
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

// IsModelUnavailable reports whether err is a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var target *ModelUnavailableError
	return errors.As(err, &target)
}

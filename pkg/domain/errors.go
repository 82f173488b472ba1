// Package domain holds the error taxonomy shared by the pipeline packages.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failure class.
var (
	// ErrConfiguration marks a bad channel/period/type combination. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrDataUnavailable marks a data source that could not satisfy a request.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrContinuityViolation marks a chunk that does not continue a transform's saved state.
	ErrContinuityViolation = errors.New("continuity violation")
	// ErrInsufficientData marks a channel too short for a filter step. Non-fatal.
	ErrInsufficientData = errors.New("insufficient data")
)

// Error carries a code and message around one of the sentinel errors.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(format string, args ...any) error {
	return &Error{
		Code:    "CONFIGURATION",
		Message: fmt.Sprintf(format, args...),
		Err:     ErrConfiguration,
	}
}

// NewDataUnavailableError wraps a data source failure.
func NewDataUnavailableError(op string, err error) error {
	return &Error{
		Code:    "DATA_UNAVAILABLE",
		Message: op,
		Err:     fmt.Errorf("%w: %v", ErrDataUnavailable, err),
	}
}

// NewContinuityViolationError creates a continuity violation error.
func NewContinuityViolationError(format string, args ...any) error {
	return &Error{
		Code:    "CONTINUITY_VIOLATION",
		Message: fmt.Sprintf(format, args...),
		Err:     ErrContinuityViolation,
	}
}

// NewInsufficientDataWarning creates the non-fatal insufficient data warning.
func NewInsufficientDataWarning(channel string, have, need int) error {
	return &Error{
		Code:    "INSUFFICIENT_DATA",
		Message: fmt.Sprintf("channel %s has %d samples, need %d", channel, have, need),
		Err:     ErrInsufficientData,
	}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsDataUnavailable reports whether err is a data source failure.
func IsDataUnavailable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}

// IsContinuityViolation reports whether err is a continuity violation.
func IsContinuityViolation(err error) bool {
	return errors.Is(err, ErrContinuityViolation)
}

// IsInsufficientData reports whether err is an insufficient data warning.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

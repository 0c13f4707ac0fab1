package domain

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrReconcileInProgress is returned when a reconciliation is requested for a
// business that is already being reconciled.
var ErrReconcileInProgress = errors.New("reconciliation already in progress")

// ErrNotFound is returned for lookups of missing records.
var ErrNotFound = gorm.ErrRecordNotFound

// ConfigError marks a fatal misconfiguration, such as an embedding dimension
// that does not match an existing collection. It is never retried.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a fatal configuration error.
func NewConfigError(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TransientError marks a retryable collaborator failure (timeouts, network
// errors, 5xx responses).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable failure.
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind sentinels. Match with errors.Is; the wrapper types below carry the
// context for logs and API responses.
var (
	ErrTimeout      = errors.New("data source timeout")
	ErrUnavailable  = errors.New("data source unavailable")
	ErrInvalidQuery = errors.New("invalid data source query")
	ErrPartialData  = errors.New("partial data from data source")

	ErrSourceConflict     = errors.New("data sources disagree")
	ErrInvalidState       = errors.New("invalid state")
	ErrNoActiveConditions = errors.New("policy has no active oracle conditions")

	ErrAlreadyPaid       = errors.New("claim already paid")
	ErrTransferFailed    = errors.New("payout transfer failed")
	ErrTransferAmbiguous = errors.New("payout transfer outcome unknown")

	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrIdentityNotVerified = errors.New("identity not verified")
	ErrLockNotAcquired     = errors.New("lock not acquired")
)

// AdapterError is returned by data source adapters.
type AdapterError struct {
	Kind   error
	Source string
	Err    error
}

func NewAdapterError(kind error, source string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Source: source, Err: err}
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Kind)
}

func (e *AdapterError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// EvaluationError is returned by the evaluator and orchestrator.
type EvaluationError struct {
	Kind   error
	Detail string
}

func NewEvaluationError(kind error, format string, args ...any) *EvaluationError {
	return &EvaluationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *EvaluationError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
}

func (e *EvaluationError) Unwrap() error { return e.Kind }

// DispatchError is returned by the payout dispatcher.
type DispatchError struct {
	Kind    error
	ClaimID uuid.UUID
	Err     error
}

func NewDispatchError(kind error, claimID uuid.UUID, err error) *DispatchError {
	return &DispatchError{Kind: kind, ClaimID: claimID, Err: err}
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("claim %s: %v: %v", e.ClaimID, e.Kind, e.Err)
	}
	return fmt.Sprintf("claim %s: %v", e.ClaimID, e.Kind)
}

func (e *DispatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

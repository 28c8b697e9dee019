// Package apperr holds the error taxonomy shared by the use cases and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// InsufficientStockError is returned when a reservation asks for more units than the product holds.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// NotFoundError reports a missing (or soft-deleted) entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// NotFound builds a *NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidStateTransitionError is returned when an order cannot move from its current status.
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// TransactionFailedError wraps a store-level failure. The transaction was rolled back, so
// nothing partial survived. Transient marks causes a fresh attempt is expected to clear.
type TransactionFailedError struct {
	Cause     error
	Transient bool
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction failed: %v", e.Cause)
}

func (e *TransactionFailedError) Unwrap() error { return e.Cause }

// Retryable reports whether the caller should try the same request again.
func (e *TransactionFailedError) Retryable() bool { return e.Transient }

// ValidationError rejects malformed input before any transaction opens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports a unique constraint clash, e.g. a duplicated barcode.
type ConflictError struct {
	Entity string
	Field  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with this %s already exists", e.Entity, e.Field)
}

// IsDomain reports whether err belongs to the business taxonomy rather than the infrastructure.
func IsDomain(err error) bool {
	var (
		stock      *InsufficientStockError
		notFound   *NotFoundError
		transition *InvalidStateTransitionError
		validation *ValidationError
		conflict   *ConflictError
	)
	switch {
	case errors.As(err, &stock), errors.As(err, &notFound), errors.As(err, &transition),
		errors.As(err, &validation), errors.As(err, &conflict):
		return true
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return true
	}
	return false
}

// AsTransactionFailed leaves domain errors untouched and wraps everything else.
func AsTransactionFailed(err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	var failed *TransactionFailedError
	if errors.As(err, &failed) {
		return err
	}
	return &TransactionFailedError{Cause: err}
}

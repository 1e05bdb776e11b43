package engine

import (
	"errors"
	"fmt"
)

// OpErrorCode categorizes orchestration failures.
type OpErrorCode string

const (
	// ErrCodeNotFound indicates a missing entity or property.
	ErrCodeNotFound OpErrorCode = "NOT_FOUND"

	// ErrCodeNotComputed indicates the named property exists but is not
	// a computed property, so it cannot be recalculated.
	ErrCodeNotComputed OpErrorCode = "NOT_COMPUTED"

	// ErrCodeConflict indicates an optimistic-lock failure on a
	// whole-entity write.
	ErrCodeConflict OpErrorCode = "CONFLICT"

	// ErrCodeQuotaExceeded indicates a recalculation drain exceeded its
	// step budget without reaching a fixpoint.
	ErrCodeQuotaExceeded OpErrorCode = "QUOTA_EXCEEDED"
)

// OpError is a typed orchestration failure with the entity/property it
// concerns.
type OpError struct {
	Code     OpErrorCode
	Message  string
	EntityID string
	Property string
}

func (e *OpError) Error() string {
	if e.EntityID != "" && e.Property != "" {
		return fmt.Sprintf("%s: %s (%s.%s)", e.Code, e.Message, e.EntityID, e.Property)
	}
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a missing entity/property failure.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Code == ErrCodeNotFound
}

// IsNotComputed reports whether err targets a non-computed property.
func IsNotComputed(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Code == ErrCodeNotComputed
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Code == ErrCodeConflict
}

// IsQuotaExceeded reports whether err is a recalculation step-budget
// failure.
func IsQuotaExceeded(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Code == ErrCodeQuotaExceeded
}

package store

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a missing entity or property. Cross-tenant
// lookups deliberately report the same error as a true miss, so existence
// in another tenant is unobservable.
type NotFoundError struct {
	TenantID string
	EntityID string
	Property string // empty for entity-level misses
}

func (e *NotFoundError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("property %s.%s not found", e.EntityID, e.Property)
	}
	return fmt.Sprintf("entity %s not found", e.EntityID)
}

// ConflictError indicates an optimistic-lock failure on a whole-entity
// write: the caller's revision no longer matches the stored one.
type ConflictError struct {
	EntityID    string
	ExpectedRev int64
	ActualRev   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entity %s: revision conflict (expected %d, have %d)",
		e.EntityID, e.ExpectedRev, e.ActualRev)
}

// IsNotFound reports whether err is a store not-found failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

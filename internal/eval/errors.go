package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/facet/internal/entity"
)

// ErrorCode categorizes evaluation failures.
type ErrorCode string

const (
	// ErrCodeTypeMismatch indicates an operator or function applied to
	// incompatible value variants. Values never coerce.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeDivisionByZero indicates a division with a zero divisor.
	// Evaluation never produces Infinity or NaN.
	ErrCodeDivisionByZero ErrorCode = "DIVISION_BY_ZERO"

	// ErrCodeBrokenReference indicates a dereferenced entity or property
	// that does not exist, or resolves outside the calling tenant.
	ErrCodeBrokenReference ErrorCode = "BROKEN_REFERENCE"

	// ErrCodeCircular indicates the property participates in a
	// dependency cycle.
	ErrCodeCircular ErrorCode = "CIRCULAR_DEPENDENCY"

	// ErrCodeTimeout indicates the evaluation exceeded its wall-clock
	// budget.
	ErrCodeTimeout ErrorCode = "EVALUATION_TIMEOUT"

	// ErrCodeParse indicates the property's expression failed to parse.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeEmptyAggregate indicates AVG, MIN, or MAX applied to an empty
	// collection, which has no meaningful result. SUM and COUNT accept
	// empty collections.
	ErrCodeEmptyAggregate ErrorCode = "EMPTY_AGGREGATE"
)

// EvalError is a typed evaluation failure.
//
// For CIRCULAR_DEPENDENCY, Members lists every entity/property discovered
// in the cycle so the whole group can be resolved as a batch, not just the
// entry point.
type EvalError struct {
	Code    ErrorCode
	Message string
	Members []entity.Dep
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBrokenReference reports whether err is a broken-reference failure.
// Uses errors.As to handle wrapped errors.
func IsBrokenReference(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee) && ee.Code == ErrCodeBrokenReference
}

// IsCircular reports whether err is a cycle failure.
func IsCircular(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee) && ee.Code == ErrCodeCircular
}

// IsTimeout reports whether err is an evaluation-budget failure.
func IsTimeout(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee) && ee.Code == ErrCodeTimeout
}

func evalErrorf(code ErrorCode, format string, args ...any) *EvalError {
	return &EvalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// circularError builds the batch cycle failure. The message names the full
// path so every member reports identically.
func circularError(members []entity.Dep) *EvalError {
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = m.String()
	}
	// Close the loop in the rendered path for readability
	path := strings.Join(parts, " -> ")
	if len(members) > 0 {
		path += " -> " + members[0].String()
	}
	return &EvalError{
		Code:    ErrCodeCircular,
		Message: "dependency cycle: " + path,
		Members: members,
	}
}

// Package errs provides the error type shared by the planner, resolver and
// execution engine.
//
// Every subsystem wraps failures into *errs.Error before returning them so
// callers can branch on the kind without importing driver packages:
//
//	if errs.IsPreCondition(err) {
//	    // the step was blocked before any statement ran
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error.
type Kind int

const (
	KindUnknown          Kind = iota
	KindInvalidInput          // malformed arguments, never retried
	KindGeneration            // SQL, rollback or probe synthesis failed
	KindPreCondition          // blocking pre-condition did not hold
	KindPostCondition         // advisory post-condition did not hold
	KindExecution             // a statement failed while a step ran
	KindDependencyCycle       // dependency edges form a cycle
	KindQueryFailed           // catalog or gateway query error
	KindConnectionFailed      // cannot reach the connection
	KindNotFound              // catalog object or connection not found
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindGeneration:
		return "generation"
	case KindPreCondition:
		return "pre_condition"
	case KindPostCondition:
		return "post_condition"
	case KindExecution:
		return "execution"
	case KindDependencyCycle:
		return "dependency_cycle"
	case KindQueryFailed:
		return "query_failed"
	case KindConnectionFailed:
		return "connection_failed"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the error type returned across lockshift packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error around an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func IsInvalidInput(err error) bool     { return KindOf(err) == KindInvalidInput }
func IsGeneration(err error) bool       { return KindOf(err) == KindGeneration }
func IsPreCondition(err error) bool     { return KindOf(err) == KindPreCondition }
func IsExecution(err error) bool        { return KindOf(err) == KindExecution }
func IsDependencyCycle(err error) bool  { return KindOf(err) == KindDependencyCycle }
func IsQueryFailed(err error) bool      { return KindOf(err) == KindQueryFailed }
func IsConnectionFailed(err error) bool { return KindOf(err) == KindConnectionFailed }
func IsNotFound(err error) bool         { return KindOf(err) == KindNotFound }

// KindOf extracts the outermost Kind in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

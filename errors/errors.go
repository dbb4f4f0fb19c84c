// Package errors provides custom error types for the optimistic mutation engine
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeRemoteFailure      ErrorCode = "REMOTE_FAILURE"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRollbackFailure    ErrorCode = "ROLLBACK_FAILURE"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrCodeStorageFailure     ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure  ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the engine operation during which an error occurred
type Operation string

const (
	OpMutate    Operation = "mutate"
	OpRetry     Operation = "retry"
	OpRollback  Operation = "rollback"
	OpResolve   Operation = "resolve"
	OpDetect    Operation = "detect"
	OpStore     Operation = "store"
	OpLoad      Operation = "load"
	OpTransport Operation = "transport"
	OpClose     Operation = "close"
)

// Kind classifies an error independently of the operation that produced it.
type Kind string

const (
	KindOther        Kind = ""
	KindInvalid      Kind = "invalid"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
	KindUnavailable  Kind = "unavailable"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition"
)

// Component names the part of the system that produced an error.
type Component string

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("closed")
)

// MutationError represents an error that occurred while applying, confirming
// or reverting an optimistic mutation.
type MutationError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "engine", "remote")
	Component string

	// Kind of failure
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *MutationError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a key/value pair and returns the receiver.
func (e *MutationError) WithMetadata(key string, value interface{}) *MutationError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewRemoteError wraps a rejected remote operation.
func NewRemoteError(op Operation, cause error) *MutationError {
	return &MutationError{
		Code:      ErrCodeRemoteFailure,
		Op:        op,
		Component: "remote",
		Kind:      KindUnavailable,
		Err:       cause,
		Retryable: true,
	}
}

// NewStorageError creates a new storage-related MutationError
func NewStorageError(op Operation, cause error) *MutationError {
	return &MutationError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Kind:      KindInternal,
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError creates a new conflict-related MutationError
func NewConflictError(op Operation, cause error) *MutationError {
	return &MutationError{
		Code:      ErrCodeConflict,
		Op:        op,
		Component: "conflict",
		Kind:      KindConflict,
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related MutationError
func NewValidationError(op Operation, cause error) *MutationError {
	return &MutationError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// NewPreconditionError reports an entry point invoked from a state that does
// not allow it.
func NewPreconditionError(op Operation, cause error) *MutationError {
	return &MutationError{
		Code:      ErrCodePreconditionFailed,
		Op:        op,
		Component: "engine",
		Kind:      KindPrecondition,
		Err:       cause,
		Retryable: false,
	}
}

// NewRollbackError reports a rollback that could not restore state.
func NewRollbackError(cause error) *MutationError {
	return &MutationError{
		Code:      ErrCodeRollbackFailure,
		Op:        OpRollback,
		Component: "engine",
		Kind:      KindPrecondition,
		Err:       cause,
	}
}

// New creates a new MutationError
func New(op Operation, err error) *MutationError {
	return &MutationError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new MutationError with component information
func NewWithComponent(op Operation, component string, err error) *MutationError {
	return &MutationError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable MutationError
func NewRetryable(op Operation, err error) *MutationError {
	return &MutationError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// E builds a MutationError from its arguments. Recognised argument types are
// Operation, Component, Kind, ErrorCode, error and string (appended to the
// "suggestion" metadata). The last error argument wins.
func E(args ...interface{}) error {
	e := &MutationError{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case *MutationError:
			cp := *a
			e.Err = &cp
		case error:
			e.Err = a
		case string:
			e.WithMetadata("suggestion", a)
		}
	}
	if e.Err == nil {
		e.Err = errors.New("unknown error")
	}
	return e
}

// Op converts a string into an Operation for use with E.
func Op(s string) Operation { return Operation(s) }

// IsRetryable checks if an error is a retryable MutationError
func IsRetryable(err error) bool {
	var mutErr *MutationError
	if errors.As(err, &mutErr) {
		return mutErr.Retryable
	}
	return false
}

// CodeOf returns the code of the outermost MutationError in err's chain.
func CodeOf(err error) ErrorCode {
	var mutErr *MutationError
	if errors.As(err, &mutErr) {
		return mutErr.Code
	}
	return ""
}

// KindOf returns the kind of the outermost MutationError in err's chain.
func KindOf(err error) Kind {
	var mutErr *MutationError
	if errors.As(err, &mutErr) {
		return mutErr.Kind
	}
	return KindOther
}

// Is, As and Unwrap re-export the standard library helpers so callers can
// import a single errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }

// Package errors provides the error type shared by every mailslot component.
// Errors carry a Kind, a stable code and enough context to be logged or counted
// without string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the base error type for all mailslot errors.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Severity  Severity               `json:"severity"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}

	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a mailslot error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}

	e.Context[key] = value

	return e
}

// WithChannel records the channel the error happened on.
func (e *Error) WithChannel(id int) *Error {
	return e.WithContext("channel_id", id)
}

// WithOperation sets the operation that caused the error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation

	return e
}

// WithComponent sets the component that generated the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component

	return e
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause

	return e
}

// New creates an error of the given kind using the kind's default message.
func New(kind Kind) *Error {
	info, exists := kindDefinitions[kind]
	if !exists {
		info = kindDefinitions[KindInternal]
	}

	return &Error{
		Kind:      info.Kind,
		Code:      info.Code,
		Message:   info.Message,
		Severity:  info.Severity,
		Retryable: info.Retryable,
	}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	e := New(kind)
	e.Message = fmt.Sprintf(format, args...)

	return e
}

// Wrap wraps err as a mailslot error of the given kind.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	e := New(kind)
	e.Message = message
	e.Cause = err

	return e
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsKind checks if an error is a mailslot error of a specific kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}

	return false
}

// Sentinels for errors.Is matching. Never return these directly; they are shared.
var (
	ErrInvalidLength     = New(KindInvalidLength)
	ErrBufferTooSmall    = New(KindBufferTooSmall)
	ErrInsufficientSpace = New(KindInsufficientSpace)
	ErrNoMessage         = New(KindNoMessage)
	ErrInterrupted       = New(KindInterrupted)
	ErrInvalidConfig     = New(KindInvalidConfig)
	ErrBusy              = New(KindBusy)
	ErrNoSuchChannel     = New(KindNoSuchChannel)
	ErrAllocationFailure = New(KindAllocationFailure)
	ErrClosed            = New(KindClosed)
	ErrInvalidHandle     = New(KindInvalidHandle)
)

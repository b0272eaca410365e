// Package errors provides structured error handling for machconn connectors
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents authentication errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeCapability represents capability/feature not supported errors
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeConstruction represents invalid connector construction (bad adapters or selector)
	ErrorTypeConstruction ErrorType = "construction"
	// ErrorTypeIO represents session level I/O failures surfaced to the caller
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeModelAccess represents failures addressing the connected model
	ErrorTypeModelAccess ErrorType = "model_access"
	// ErrorTypeTranslation represents a translator that cannot produce a value
	ErrorTypeTranslation ErrorType = "translation"
)

// DetailQName is the detail key holding the qualified name of a model access error
const DetailQName = "qname"

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack and details
	var existingErr *Error
	if errors.As(err, &existingErr) {
		wrapped := &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
		if q, ok := existingErr.Details[DetailQName]; ok {
			wrapped.WithDetail(DetailQName, q)
		}
		return wrapped
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// NewConstruction creates a connector construction error. These are fatal and never retried.
func NewConstruction(message string) *Error {
	return &Error{
		Type:    ErrorTypeConstruction,
		Message: message,
		Stack:   captureStack(2),
	}
}

// NewIO wraps a session failure as an I/O error
func NewIO(err error, message string) *Error {
	if err == nil {
		return &Error{Type: ErrorTypeIO, Message: message, Stack: captureStack(2)}
	}
	return Wrap(err, ErrorTypeIO, message)
}

// NewModelAccess creates a model access error naming the offending qualified name
func NewModelAccess(qName, message string) *Error {
	e := &Error{
		Type:    ErrorTypeModelAccess,
		Message: fmt.Sprintf("%s: %s", qName, message),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailQName, qName)
}

// WrapModelAccess wraps a binding failure while addressing qName
func WrapModelAccess(err error, qName, message string) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, ErrorTypeModelAccess, fmt.Sprintf("%s: %s", qName, message))
	return e.WithDetail(DetailQName, qName)
}

// NewTranslation creates a translation error for a value of the given source type
func NewTranslation(cause error, sourceType, targetType string) *Error {
	msg := fmt.Sprintf("cannot translate %s to %s", sourceType, targetType)
	if cause == nil {
		return &Error{Type: ErrorTypeTranslation, Message: msg, Stack: captureStack(2)}
	}
	return Wrap(cause, ErrorTypeTranslation, msg)
}

// QNameOf returns the qualified name carried by a model access error, if any
func QNameOf(err error) (string, bool) {
	var e *Error
	for errors.As(err, &e) {
		if q, ok := e.Details[DetailQName].(string); ok {
			return q, true
		}
		err = e.Cause
		if err == nil {
			break
		}
	}
	return "", false
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeIO:
		return true
	default:
		return false
	}
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

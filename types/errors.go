package types

import (
	"errors"
	"fmt"
	"time"
)

// UnsupportedError is returned by a test that cannot run in the current
// environment. It is reported as Unsupported rather than as a failure.
type UnsupportedError struct {
	Message string
}

func (e *UnsupportedError) Error() string {
	if e.Message == "" {
		return "unsupported"
	}
	return e.Message
}

// Unsupported returns an UnsupportedError with the given message.
func Unsupported(message string) error {
	return &UnsupportedError{Message: message}
}

// Unsupportedf is like Unsupported with a format string.
func Unsupportedf(format string, args ...any) error {
	return &UnsupportedError{Message: fmt.Sprintf(format, args...)}
}

// IsUnsupported checks if the error is or wraps an UnsupportedError
func IsUnsupported(err error) bool {
	var unsupported *UnsupportedError
	return err != nil && errors.As(err, &unsupported)
}

// TimeoutError reports that a test did not complete within its timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test exceeded timeout of %dms", e.Timeout.Milliseconds())
}

// IsTimeout checks if the error is or wraps a TimeoutError
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return err != nil && errors.As(err, &timeout)
}

// InvocationError wraps a failure raised while invoking a test body, such as
// a recovered panic. The runner reports the wrapped error, not the wrapper.
type InvocationError struct {
	Err   error
	Stack string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("test invocation failed: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// PanicError is the value of a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("panic: %v", err)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// NewPanicError wraps a recovered panic value and its stack.
func NewPanicError(value any, stack []byte) *InvocationError {
	return &InvocationError{Err: &PanicError{Value: value}, Stack: string(stack)}
}

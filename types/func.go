package types

import (
	"context"
	"fmt"
	"runtime/debug"
)

// TestFunc is the body of a registered method. The instance is the resolved
// object of the owning class, or nil for stateless classes.
//
// A non-empty string value becomes the test's result text. A Future value
// is awaited (subject to the test's timeout) and its outcome is used instead.
type TestFunc func(ctx context.Context, instance any) (any, error)

// Outcome is the completed value of a Future.
type Outcome struct {
	Value any
	Err   error
}

// Future is a test result that completes asynchronously. The runner reads at
// most one Outcome from it.
type Future <-chan Outcome

// Async runs fn on its own goroutine and returns a Future for its outcome.
// Panics inside fn are recovered and reported as an InvocationError.
func Async(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	ch := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Outcome{Err: NewPanicError(r, debug.Stack())}
			}
		}()
		v, err := fn(ctx)
		ch <- Outcome{Value: v, Err: err}
	}()
	return ch
}

// Resolved returns a Future that has already completed.
func Resolved(value any, err error) Future {
	ch := make(chan Outcome, 1)
	ch <- Outcome{Value: value, Err: err}
	return ch
}

// Await blocks until the future completes or ctx is done.
func (f Future) Await(ctx context.Context) (any, error) {
	select {
	case o, ok := <-f:
		if !ok {
			return nil, fmt.Errorf("future closed without a result")
		}
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

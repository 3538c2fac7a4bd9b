package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-unitrunner/metrics"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// executor runs one test at a time and records the outcome on its descriptor.
type executor struct {
	log            log.Logger
	tracer         trace.Tracer
	cache          *instanceCache
	defaultTimeout func() time.Duration
	notify         func(ctx context.Context, ev StatusEvent)
}

// execute runs d and writes its outcome back. It never panics and never
// returns an error: every failure is captured on the descriptor.
func (e *executor) execute(ctx context.Context, runID string, d *Descriptor) {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("test %s", d.ID()))
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("class", d.ClassName),
		attribute.String("method", d.MethodName),
	)

	instance, resolveErr := e.cache.get(ctx, d.Class)

	d.begin()
	started := d.Snapshot()
	e.notify(ctx, StatusEvent{RunID: runID, State: types.RunStateRunning, Test: &started})
	e.log.Debug("Running test", "run_id", runID, "test", d.ID())

	start := time.Now()
	var out outcome
	if resolveErr != nil {
		out = classify(nil, fmt.Errorf("failed to resolve instance of %s: %w", d.ClassName, resolveErr))
	} else {
		value, err := e.invoke(ctx, d, instance)
		out = classify(value, err)
	}
	elapsed := time.Since(start)
	out.duration = roundMillis(elapsed)
	if out.resultText == "" {
		out.resultText = out.result.String()
	}
	d.finish(out)

	metrics.RecordTest(d.ClassName, d.MethodName, out.result, elapsed)
	span.SetAttributes(attribute.String("result", out.result.String()))

	switch out.result {
	case types.TestResultError:
		span.SetStatus(codes.Error, out.errDetail)
		e.log.Warn("Test failed", "run_id", runID, "test", d.ID(), "duration_ms", out.duration, "error", firstLine(out.errDetail))
	case types.TestResultUnsupported:
		e.log.Info("Test unsupported", "run_id", runID, "test", d.ID(), "reason", out.resultText)
	default:
		e.log.Info("Test passed", "run_id", runID, "test", d.ID(), "duration_ms", out.duration)
	}

	finished := d.Snapshot()
	e.notify(ctx, StatusEvent{RunID: runID, State: types.RunStateRunning, Test: &finished})
}

// invoke calls the test body. A Future result is awaited, racing the
// effective timeout. The test's context survives run cancellation and is
// cancelled only once the executor stops waiting on the test.
func (e *executor) invoke(ctx context.Context, d *Descriptor, instance any) (any, error) {
	testCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	if err := e.checkRequirements(testCtx, d); err != nil {
		return nil, err
	}

	value, err := callSafely(testCtx, d.Method.Fn, instance)
	if err != nil {
		return nil, err
	}

	fut, ok := asFuture(value)
	if !ok {
		return value, nil
	}
	return e.await(testCtx, fut, e.effectiveTimeout(d))
}

func (e *executor) checkRequirements(ctx context.Context, d *Descriptor) error {
	reqs := append(d.Class.Requirements(), d.Method.Requires...)
	for _, req := range reqs {
		_, err := callSafely(ctx, func(ctx context.Context, _ any) (any, error) {
			return nil, req(ctx)
		}, nil)
		if err == nil {
			continue
		}
		if types.IsUnsupported(err) {
			return err
		}
		return types.Unsupported(err.Error())
	}
	return nil
}

func (e *executor) effectiveTimeout(d *Descriptor) time.Duration {
	if t := d.Timeout(); t > 0 {
		return t
	}
	return e.defaultTimeout()
}

// await waits for one outcome of fut. A non-positive timeout waits without
// bound. On timeout the future is abandoned, not stopped.
func (e *executor) await(ctx context.Context, fut types.Future, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return fut.Await(ctx)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o, ok := <-fut:
		if !ok {
			return nil, errors.New("future closed without a result")
		}
		return o.Value, o.Err
	case <-timer.C:
		return nil, &types.TimeoutError{Timeout: timeout}
	}
}

func asFuture(v any) (types.Future, bool) {
	switch f := v.(type) {
	case types.Future:
		return f, f != nil
	case <-chan types.Outcome:
		return f, f != nil
	case chan types.Outcome:
		return f, f != nil
	}
	return nil, false
}

// callSafely invokes fn, converting a panic into an InvocationError.
func callSafely(ctx context.Context, fn types.TestFunc, instance any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, types.NewPanicError(r, debug.Stack())
		}
	}()
	if fn == nil {
		return nil, errors.New("method has no body")
	}
	return fn(ctx, instance)
}

// classify maps the result of a test body to an outcome.
func classify(value any, err error) outcome {
	if err == nil {
		out := outcome{result: types.TestResultSuccess}
		if s, ok := value.(string); ok && s != "" {
			out.resultText = s
		}
		return out
	}

	var unsupported *types.UnsupportedError
	if errors.As(err, &unsupported) {
		return outcome{result: types.TestResultUnsupported, resultText: unsupported.Message}
	}

	if types.IsTimeout(err) {
		return outcome{result: types.TestResultError, errDetail: err.Error()}
	}

	// strip the runner's own invocation wrapper, one level only
	if inv, ok := err.(*types.InvocationError); ok {
		return outcome{result: types.TestResultError, errDetail: errorDetail(inv.Err), stackTrace: inv.Stack}
	}
	return outcome{result: types.TestResultError, errDetail: errorDetail(err)}
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

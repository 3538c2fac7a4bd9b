package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-unitrunner/metrics"
	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/reporting"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

const (
	// DefaultTestTimeout bounds a test that returns a Future and has no
	// timeout of its own.
	DefaultTestTimeout = 30 * time.Second
	// DefaultSettleDelay is the pause after a status notification that gives
	// observers time to react before the run continues.
	DefaultSettleDelay = 100 * time.Millisecond
)

// ErrRunInProgress is returned when the test set is changed during a run.
var ErrRunInProgress = errors.New("cannot change tests while a run is in progress")

// RunKind identifies the entry point that started a run.
type RunKind string

const (
	RunKindAll   RunKind = "all"
	RunKindClass RunKind = "class"
	RunKindTest  RunKind = "test"
)

// SummarySink receives the results of every completed run.
type SummarySink interface {
	RunComplete(runID string, results types.Results)
}

// Config holds the runner configuration
type Config struct {
	Log log.Logger
	// DefaultTimeout applies to tests without their own timeout. Zero
	// selects DefaultTestTimeout; a negative value disables timeouts.
	DefaultTimeout time.Duration
	// SettleDelay follows every in-run status notification. Zero selects
	// DefaultSettleDelay; a negative value disables the delay.
	SettleDelay time.Duration
	Resolver    InstanceResolver
	Listeners   []StatusListener
	// Sinks receive each run's results. When empty, the summary is logged.
	Sinks  []SummarySink
	Tracer trace.Tracer
}

// activeRun is the cancellation handle of the run in progress.
type activeRun struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time
}

// Runner discovers and executes tests and tracks the run state.
type Runner struct {
	log         log.Logger
	tracer      trace.Tracer
	exec        *executor
	cache       *instanceCache
	settleDelay time.Duration
	sinks       []SummarySink

	mu             sync.Mutex
	state          types.RunState
	tests          []*Descriptor
	active         *activeRun
	defaultTimeout time.Duration

	listenersMu sync.RWMutex
	listeners   []StatusListener
}

// NewRunner creates a runner with an empty test set.
func NewRunner(cfg Config) *Runner {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("unitrunner")
	}
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SummarySink{reporting.NewLogSink(cfg.Log)}
	}

	r := &Runner{
		log:            cfg.Log,
		tracer:         cfg.Tracer,
		cache:          newInstanceCache(cfg.Resolver),
		settleDelay:    durationOrDefault(cfg.SettleDelay, DefaultSettleDelay),
		sinks:          cfg.Sinks,
		state:          types.RunStateIdle,
		defaultTimeout: durationOrDefault(cfg.DefaultTimeout, DefaultTestTimeout),
		listeners:      slices.Clone(cfg.Listeners),
	}
	r.exec = &executor{
		log:            cfg.Log,
		tracer:         cfg.Tracer,
		cache:          r.cache,
		defaultTimeout: r.DefaultTimeout,
		notify: func(ctx context.Context, ev StatusEvent) {
			r.notify(ctx, ev, true)
		},
	}
	metrics.RecordRunState(types.RunStateIdle)
	return r
}

func durationOrDefault(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	default:
		return d
	}
}

// SetClasses replaces the test set with the tests discovered on classes,
// clears cached instances and returns the runner to Idle. It fails with
// ErrRunInProgress while a run is active.
func (r *Runner) SetClasses(classes []*registry.Class) error {
	entries := registry.Discover(classes)
	tests := make([]*Descriptor, 0, len(entries))
	for _, e := range entries {
		tests = append(tests, newDescriptor(e))
	}

	r.mu.Lock()
	if r.busyLocked() {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	r.tests = tests
	r.cache.clear()
	r.state = types.RunStateIdle
	r.mu.Unlock()

	metrics.RecordRunState(types.RunStateIdle)
	r.log.Info("Discovered tests", "classes", len(classes), "tests", len(tests))
	r.notify(context.Background(), StatusEvent{State: types.RunStateIdle, Total: len(tests)}, false)
	return nil
}

// SetResolver replaces the instance resolver. Instances already cached are
// kept until the test set changes.
func (r *Runner) SetResolver(resolver InstanceResolver) {
	r.cache.setResolver(resolver)
}

// SetDefaultTimeout sets the timeout for tests without their own.
// A non-positive value disables it.
func (r *Runner) SetDefaultTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d < 0 {
		d = 0
	}
	r.defaultTimeout = d
}

// DefaultTimeout returns the timeout for tests without their own, 0 when
// disabled.
func (r *Runner) DefaultTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultTimeout
}

// AddListener registers a status listener.
func (r *Runner) AddListener(l StatusListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// State returns the current run state.
func (r *Runner) State() types.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Tests returns snapshots of every test in discovery order.
func (r *Runner) Tests() []Snapshot {
	r.mu.Lock()
	tests := r.tests
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(tests))
	for _, d := range tests {
		out = append(out, d.Snapshot())
	}
	return out
}

// Reset returns every test to NotStarted and the runner to Idle. It may be
// called during a run; the active run keeps writing outcomes as its tests
// finish.
func (r *Runner) Reset() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()

	metrics.RecordRunState(types.RunStateIdle)
	r.notify(context.Background(), StatusEvent{State: types.RunStateIdle}, false)
}

func (r *Runner) resetLocked() {
	for _, d := range r.tests {
		d.reset()
	}
	r.state = types.RunStateIdle
}

// Cancel stops the active run before its next test. The executing test is
// not interrupted. It is a no-op when no run is active.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return
	}
	r.log.Info("Cancelling test run", "run_id", r.active.id)
	r.active.cancel()
}

// busyLocked reports whether a run is still executing. A run reset to Idle
// mid-flight stays active until its loop ends.
func (r *Runner) busyLocked() bool {
	return r.state == types.RunStateRunning || r.active != nil
}

// RunAll runs every test that has not started. A finished runner is reset
// first. While a run is active, including one reset mid-flight, the request
// is ignored. It returns when the run ends.
func (r *Runner) RunAll(ctx context.Context) types.Results {
	r.mu.Lock()
	if r.busyLocked() {
		r.mu.Unlock()
		r.log.Debug("Run already in progress, ignoring request", "kind", RunKindAll)
		return r.Results()
	}
	if r.state == types.RunStateDone {
		r.resetLocked()
	}
	tests := slices.Clone(r.tests)
	run := r.beginLocked(ctx)
	r.mu.Unlock()

	r.run(run, RunKindAll, tests, true)
	return r.Results()
}

// RunClass runs the tests of one class, matched case-insensitively. A
// finished runner is reset first, even when no class matches.
func (r *Runner) RunClass(ctx context.Context, className string) types.Results {
	r.mu.Lock()
	if r.busyLocked() {
		r.mu.Unlock()
		r.log.Debug("Run already in progress, ignoring request", "kind", RunKindClass, "class", className)
		return r.Results()
	}
	wasDone := r.state == types.RunStateDone
	if wasDone {
		r.resetLocked()
	}
	var tests []*Descriptor
	for _, d := range r.tests {
		if strings.EqualFold(d.ClassName, className) {
			tests = append(tests, d)
		}
	}
	if len(tests) == 0 {
		r.mu.Unlock()
		if wasDone {
			metrics.RecordRunState(types.RunStateIdle)
			r.notify(context.Background(), StatusEvent{State: types.RunStateIdle}, false)
		}
		r.log.Warn("No tests found for class", "class", className)
		return r.Results()
	}
	run := r.beginLocked(ctx)
	r.mu.Unlock()

	r.run(run, RunKindClass, tests, false)
	return r.Results()
}

// RunTest runs a single test, matched case-insensitively on both names.
// Unlike RunAll and RunClass it does not reset a finished runner, so other
// tests keep their outcomes.
func (r *Runner) RunTest(ctx context.Context, className, methodName string) types.Results {
	r.mu.Lock()
	if r.busyLocked() {
		r.mu.Unlock()
		r.log.Debug("Run already in progress, ignoring request", "kind", RunKindTest, "class", className, "method", methodName)
		return r.Results()
	}
	var test *Descriptor
	for _, d := range r.tests {
		if strings.EqualFold(d.ClassName, className) && strings.EqualFold(d.MethodName, methodName) {
			test = d
			break
		}
	}
	if test == nil {
		r.mu.Unlock()
		r.log.Warn("Test not found", "class", className, "method", methodName)
		return r.Results()
	}
	run := r.beginLocked(ctx)
	r.mu.Unlock()

	r.run(run, RunKindTest, []*Descriptor{test}, false)
	return r.Results()
}

// beginLocked creates the cancellation handle for a new run and moves the
// runner to Running.
func (r *Runner) beginLocked(ctx context.Context) *activeRun {
	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{
		id:     uuid.New().String(),
		ctx:    runCtx,
		cancel: cancel,
		start:  time.Now(),
	}
	r.active = run
	r.state = types.RunStateRunning
	return run
}

func (r *Runner) run(run *activeRun, kind RunKind, tests []*Descriptor, pendingOnly bool) {
	ctx, span := r.tracer.Start(run.ctx, fmt.Sprintf("run %s", kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", run.id),
		attribute.String("kind", string(kind)),
		attribute.Int("tests", len(tests)),
	)

	metrics.RecordRunState(types.RunStateRunning)
	r.log.Info("Starting test run", "run_id", run.id, "kind", kind, "tests", len(tests))
	r.notify(ctx, StatusEvent{RunID: run.id, State: types.RunStateRunning, Total: len(tests)}, true)

	for _, d := range tests {
		if ctx.Err() != nil {
			r.log.Info("Test run cancelled", "run_id", run.id)
			break
		}
		if pendingOnly && d.State() != types.TestStateNotStarted {
			continue
		}
		r.exec.execute(ctx, run.id, d)
	}

	r.mu.Lock()
	if r.active == run {
		r.active = nil
	}
	r.state = types.RunStateDone
	r.mu.Unlock()

	metrics.RecordRunState(types.RunStateDone)
	r.notify(ctx, StatusEvent{RunID: run.id, State: types.RunStateDone, Total: len(tests)}, true)
	run.cancel()

	results := r.Results()
	elapsed := time.Since(run.start)
	metrics.RecordRun(string(kind), results, elapsed)
	span.SetAttributes(
		attribute.Int("passed", results.Passed),
		attribute.Int("failed", results.Failed),
		attribute.Int("skipped", results.Skipped),
	)
	r.log.Info("Test run completed", "run_id", run.id, "kind", kind, "status", results.Status(), "duration", elapsed.Truncate(time.Millisecond))
	for _, sink := range r.sinks {
		sink.RunComplete(run.id, results)
	}
}

// notify delivers ev to every listener. In-run notifications then pause for
// the settle delay, or until ctx is done.
func (r *Runner) notify(ctx context.Context, ev StatusEvent, settle bool) {
	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		r.deliver(l, ev)
	}

	if !settle || r.settleDelay <= 0 || len(listeners) == 0 {
		return
	}
	select {
	case <-time.After(r.settleDelay):
	case <-ctx.Done():
	}
}

func (r *Runner) deliver(l StatusListener, ev StatusEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Status listener panicked", "panic", rec)
			metrics.RecordError("status_listener_panic")
		}
	}()
	l.StatusChanged(ev)
}

// Results computes a live snapshot of the test set. A running test counts
// toward Total only.
func (r *Runner) Results() types.Results {
	r.mu.Lock()
	state := r.state
	tests := r.tests
	r.mu.Unlock()

	res := types.Results{
		State: state,
		Total: len(tests),
		Tests: []types.TestSummary{},
	}
	for _, d := range tests {
		s := d.Snapshot()
		switch s.State {
		case types.TestStateNotStarted:
			res.Pending++
		case types.TestStateDone:
			switch s.Result {
			case types.TestResultSuccess:
				res.Passed++
			case types.TestResultError:
				res.Failed++
			case types.TestResultUnsupported:
				res.Skipped++
			}
			res.TotalDuration += s.Duration
			summary := types.TestSummary{
				ClassName:  s.ClassName,
				Method:     s.MethodName,
				Result:     s.Result,
				Duration:   s.Duration,
				ResultText: s.ResultText,
			}
			if s.Result == types.TestResultError {
				summary.Error = s.Error
			}
			res.Tests = append(res.Tests, summary)
		}
	}
	return res
}

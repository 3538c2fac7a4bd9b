package unitrunner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-unitrunner/flags"
	"github.com/ethereum-optimism/infra/op-unitrunner/metrics"
	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/reporting"
	"github.com/ethereum-optimism/infra/op-unitrunner/runner"
	"github.com/ethereum-optimism/infra/op-unitrunner/service"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// App implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*App)(nil)

// App wires the registry, the runner and the servers into a process that
// runs tests once, periodically or on request.
type App struct {
	ctx       context.Context
	config    *Config
	version   string
	registry  *registry.Registry
	runner    *runner.Runner
	services  *runner.ServiceResolver
	scheduler TestScheduler
	service   *service.Service
	progress  runner.ProgressIndicator
	watcher   *registry.Watcher

	resultMu sync.Mutex
	result   *types.Results

	running atomic.Bool
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating unitrunner with config",
		"plan", config.PlanFile,
		"planID", config.PlanID,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"serve", config.Serve)

	reg, err := registry.NewRegistry(registry.Config{
		Log:      config.Log,
		PlanFile: config.PlanFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	if err := reg.Register(config.Classes...); err != nil {
		return nil, fmt.Errorf("failed to register classes: %w", err)
	}

	sinks := []runner.SummarySink{reporting.NewLogSink(config.Log)}
	if config.ResultsFile != "" {
		sinks = append(sinks, reporting.NewWriterSink(config.Log, resultsFormatter(config.ResultsFormat), reporting.NewFileWriter(config.ResultsFile)))
	}

	services := runner.NewServiceResolver()
	for name, instance := range config.Services {
		if _, ok := reg.Lookup(name); !ok {
			return nil, fmt.Errorf("service provided for unregistered class %q", name)
		}
		services.Provide(name, instance)
	}

	progress := runner.NewNoOpProgressIndicator()
	if config.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(config.Log, config.ProgressInterval)
	}

	r := runner.NewRunner(runner.Config{
		Log:            config.Log,
		DefaultTimeout: disabledIfZero(config.DefaultTimeout),
		SettleDelay:    disabledIfZero(config.SettleDelay),
		Resolver:       services,
		Listeners:      []runner.StatusListener{progress},
		Sinks:          sinks,
	})

	a := &App{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		runner:           r,
		services:         services,
		scheduler:        NewDefaultTestScheduler(config.RunInterval, config.Log),
		progress:         progress,
		shutdownCallback: shutdownCallback,
	}

	if err := a.applyPlan(); err != nil {
		progress.Stop()
		return nil, err
	}

	a.service = service.New(service.Config{
		Log:         config.Log,
		HealthzAddr: config.HealthzAddr,
		MetricsAddr: config.MetricsAddr,
		ControlAddr: config.ControlAddr,
		Controller:  r,
		Services:    services,
		Version:     version,
	})
	config.Log.Info("unitrunner.New: created registry and test runner", "tests", len(r.Tests()), "services", len(config.Services))
	return a, nil
}

// disabledIfZero maps a flag value of 0, meaning disabled, to the runner's
// negative "disabled" value.
func disabledIfZero(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func resultsFormatter(format flags.ResultsFormat) reporting.ResultsFormatter {
	switch format {
	case flags.ResultsFormatTable:
		return reporting.NewTableFormatter("Unit Test Results", true)
	case flags.ResultsFormatText:
		return reporting.TextSummaryFormatter{}
	default:
		return reporting.JSONFormatter{}
	}
}

// applyPlan selects the candidate classes from the registry and hands them
// to the runner. A plan's default timeout replaces the configured one; a
// plan without one falls back to the flag value.
func (a *App) applyPlan() error {
	classes, err := a.registry.Select(a.config.PlanID)
	if err != nil {
		return fmt.Errorf("failed to select test classes: %w", err)
	}
	if err := a.runner.SetClasses(classes); err != nil {
		return err
	}
	timeout := a.config.DefaultTimeout
	if d := a.registry.DefaultTimeout(); d > 0 {
		timeout = d
	}
	a.runner.SetDefaultTimeout(timeout)
	return nil
}

// Start implements the cliapp.Lifecycle interface.
func (a *App) Start(ctx context.Context) error {
	a.ctx = ctx
	a.running.Store(true)

	a.service.Start(ctx)

	if a.config.WatchPlan {
		if err := a.startWatcher(ctx); err != nil {
			return NewRuntimeError(err)
		}
	}

	switch {
	case a.config.RunOnce:
		a.config.Log.Info("Starting op-unitrunner in run-once mode")
	case a.config.RunInterval > 0:
		a.config.Log.Info("Starting op-unitrunner in continuous mode", "interval", a.config.RunInterval)
	default:
		a.config.Log.Info("Serving control API, waiting for run requests", "addr", a.config.ControlAddr)
		return nil
	}

	a.scheduler.RegisterCallback(a.runTests)
	if err := a.scheduler.Start(ctx); err != nil {
		a.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if !a.config.RunOnce {
		return nil
	}

	a.config.Log.Info("Tests completed, exiting (run-once mode)")
	if result := a.Result(); result != nil && result.Failed > 0 {
		a.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
		return NewTestFailureError(reporting.SummaryLine(*result))
	}
	go a.shutdownCallback(nil)
	return nil
}

// runTests runs the configured selection and prints the results.
func (a *App) runTests(ctx context.Context) error {
	if err := a.checkSelection(); err != nil {
		metrics.RecordErrorDetails("selection", err)
		return NewRuntimeError(err)
	}

	var results types.Results
	switch {
	case a.config.Test != "":
		a.config.Log.Info("Running test", "class", a.config.Class, "method", a.config.Test)
		results = a.runner.RunTest(ctx, a.config.Class, a.config.Test)
	case a.config.Class != "":
		a.config.Log.Info("Running class", "class", a.config.Class)
		results = a.runner.RunClass(ctx, a.config.Class)
	default:
		a.config.Log.Info("Running all tests...")
		results = a.runner.RunAll(ctx)
	}

	a.resultMu.Lock()
	a.result = &results
	a.resultMu.Unlock()

	a.printResultsTable(results)
	return nil
}

// checkSelection verifies that --class and --test match a discovered test.
func (a *App) checkSelection() error {
	if a.config.Class == "" {
		return nil
	}
	for _, t := range a.runner.Tests() {
		if !strings.EqualFold(t.ClassName, a.config.Class) {
			continue
		}
		if a.config.Test == "" || strings.EqualFold(t.MethodName, a.config.Test) {
			return nil
		}
	}
	if a.config.Test != "" {
		return fmt.Errorf("test %s.%s not found", a.config.Class, a.config.Test)
	}
	return fmt.Errorf("no tests found for class %s", a.config.Class)
}

func (a *App) printResultsTable(results types.Results) {
	table, err := reporting.NewTableFormatter("Unit Test Results", true).Format(results)
	if err != nil {
		a.config.Log.Error("Failed to format results table", "error", err)
		return
	}
	if err := reporting.NewStdoutWriter().Write(table); err != nil {
		a.config.Log.Error("Failed to print results table", "error", err)
	}
}

// startWatcher reloads the plan whenever the plan file changes.
func (a *App) startWatcher(ctx context.Context) error {
	w, err := registry.NewWatcher(a.config.PlanFile, a.config.Log, a.reloadPlan)
	if err != nil {
		return fmt.Errorf("failed to watch plan file: %w", err)
	}
	a.watcher = w

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.config.Log.Error("Plan watcher stopped", "error", err)
		}
	}()
	a.config.Log.Info("Watching plan file", "path", a.config.PlanFile)
	return nil
}

func (a *App) reloadPlan() {
	logger := a.config.Log.New("plan", a.config.PlanFile)
	if err := a.registry.ReloadPlan(); err != nil {
		logger.Error("Failed to reload plan, keeping previous tests", "error", err)
		metrics.RecordErrorDetails("plan_reload", err)
		return
	}
	if err := a.applyPlan(); err != nil {
		if errors.Is(err, runner.ErrRunInProgress) {
			logger.Warn("Plan changed during a run, it will be applied on the next change")
			return
		}
		logger.Error("Failed to apply reloaded plan", "error", err)
		metrics.RecordErrorDetails("plan_reload", err)
		return
	}
	logger.Info("Plan reloaded", "tests", len(a.runner.Tests()))
}

// Result returns the results of the last scheduled run, or nil before the
// first one.
func (a *App) Result() *types.Results {
	a.resultMu.Lock()
	defer a.resultMu.Unlock()
	return a.result
}

// Services returns the resolver holding the provided class instances.
func (a *App) Services() *runner.ServiceResolver {
	return a.services
}

// Runner returns the test runner.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Stop implements the cliapp.Lifecycle interface.
func (a *App) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping op-unitrunner")

	if !a.running.CompareAndSwap(true, false) {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	a.runner.Cancel()
	_ = a.scheduler.Stop()
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.service.Shutdown()
	a.progress.Stop()

	a.config.Log.Info("op-unitrunner stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (a *App) Stopped() bool {
	return !a.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (a *App) WaitForShutdown(ctx context.Context) error {
	if err := a.scheduler.WaitForShutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

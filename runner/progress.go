package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// StatusEvent describes a status change. Test is nil for run-level
// transitions and set for a test starting or finishing.
type StatusEvent struct {
	RunID string
	State types.RunState
	Total int // tests in the run, set on run-level events
	Test  *Snapshot
}

// StatusListener is notified of every status change.
type StatusListener interface {
	StatusChanged(ev StatusEvent)
}

// StatusListenerFunc adapts a function to a StatusListener.
type StatusListenerFunc func(ev StatusEvent)

func (f StatusListenerFunc) StatusChanged(ev StatusEvent) {
	f(ev)
}

// ProgressIndicator is a StatusListener that reports run progress.
type ProgressIndicator interface {
	StatusListener
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StatusChanged(ev StatusEvent) {}
func (n *noOpProgressIndicator) Stop()                        {}

// consoleProgressIndicator periodically logs the progress of the active run
type consoleProgressIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	runID          string
	active         bool
	completedTests int
	totalTests     int
	runStartTime   time.Time

	// tests run one at a time
	current      string
	currentStart time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	indicator := &consoleProgressIndicator{
		logger: logger,
		ticker: time.NewTicker(updateInterval),
		stopCh: make(chan struct{}),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StatusChanged(ev StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Test == nil {
		switch ev.State {
		case types.RunStateRunning:
			c.runID = ev.RunID
			c.active = true
			c.totalTests = ev.Total
			c.completedTests = 0
			c.runStartTime = time.Now()
			c.current = ""
			c.logger.Info("Starting run", "run_id", ev.RunID, "totalTests", ev.Total)
		case types.RunStateDone:
			if c.active && c.runID == ev.RunID {
				duration := time.Since(c.runStartTime).Truncate(time.Millisecond)
				c.logger.Info("Completed run", "run_id", ev.RunID, "totalTests", c.totalTests, "completed", c.completedTests, "duration", duration)
			}
			c.active = false
			c.current = ""
		case types.RunStateIdle:
			c.active = false
			c.completedTests = 0
		}
		return
	}

	switch ev.Test.State {
	case types.TestStateRunning:
		c.current = ev.Test.ID()
		c.currentStart = time.Now()
		c.logger.Debug("Test started", "test", c.current)
	case types.TestStateDone:
		if c.current == ev.Test.ID() {
			c.current = ""
		}
		c.completedTests++
		c.logger.Debug("Test completed", "test", ev.Test.ID(), "result", ev.Test.Result, "completed", c.completedTests, "total", c.totalTests)
	}
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.active {
		return
	}

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"run_id", c.runID,
		"completed", c.completedTests,
		"total", c.totalTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"running", formatCurrentTest(c.current, time.Since(c.currentStart)),
	)
}

// Stop stops the progress indicator
func (c *consoleProgressIndicator) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatCurrentTest describes the executing test and how long it has run.
func formatCurrentTest(name string, elapsed time.Duration) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf("%s (%v)", name, elapsed.Truncate(time.Second))
}

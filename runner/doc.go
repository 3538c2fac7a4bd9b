// Package runner executes registered test classes in-process.
//
// The main components are:
//   - Descriptor: identity and mutable outcome of one discovered test
//   - InstanceResolver: supplies one instance per test class, cached for the current test set
//   - executor: runs a single test with timeout racing and outcome classification
//   - Runner: the Idle/Running/Done state machine that drives runs and aggregates results
//   - StatusListener: receives status-changed notifications for UIs and progress reporting
//
// Tests run strictly one at a time. Cancellation is checked between tests and
// never interrupts a test that is already executing.
package runner

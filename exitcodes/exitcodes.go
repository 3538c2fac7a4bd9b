// Package exitcodes defines the exit codes of op-unitrunner.
package exitcodes

// In run-once mode the process exits with:
//
// * Success (0): no test failed
// * TestFailure (1): one or more tests reported Error
// * RuntimeErr (2): the runner itself failed, eg. a bad plan file or flag
const (
	Success     = 0 // No test failures
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)

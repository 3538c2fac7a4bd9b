package types

import "fmt"

// TestSummary is the projection of one finished test.
type TestSummary struct {
	ClassName  string     `json:"className"`
	Method     string     `json:"method"`
	Result     TestResult `json:"result"`
	Duration   float64    `json:"duration"`
	Error      string     `json:"error,omitempty"`
	ResultText string     `json:"resultText"`
}

// Results is a live snapshot of the current test set.
// Durations are whole milliseconds.
type Results struct {
	State         RunState      `json:"state"`
	Total         int           `json:"total"`
	Passed        int           `json:"passed"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Pending       int           `json:"pending"`
	TotalDuration float64       `json:"totalDuration"`
	Tests         []TestSummary `json:"tests"`
}

// Completed returns the number of tests that reached a terminal result.
func (r Results) Completed() int {
	return r.Passed + r.Failed + r.Skipped
}

// Failures returns the failed tests in run order.
func (r Results) Failures() []TestSummary {
	var failed []TestSummary
	for _, t := range r.Tests {
		if t.Result == TestResultError {
			failed = append(failed, t)
		}
	}
	return failed
}

// Status collapses the results into a single classification:
// Error if anything failed, Unsupported if everything that ran was skipped,
// Success otherwise.
func (r Results) Status() TestResult {
	switch {
	case r.Failed > 0:
		return TestResultError
	case r.Skipped > 0 && r.Passed == 0:
		return TestResultUnsupported
	case r.Completed() == 0:
		return TestResultNone
	default:
		return TestResultSuccess
	}
}

func (r Results) String() string {
	return fmt.Sprintf("state=%s total=%d passed=%d failed=%d skipped=%d pending=%d duration=%.0fms",
		r.State, r.Total, r.Passed, r.Failed, r.Skipped, r.Pending, r.TotalDuration)
}

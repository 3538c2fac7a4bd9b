package types

// TestState is the lifecycle state of a single test.
type TestState string

const (
	TestStateNotStarted TestState = "NotStarted"
	TestStateRunning    TestState = "Running"
	TestStateDone       TestState = "Done"
)

func (s TestState) String() string {
	return string(s)
}

// TestResult is the classification of a finished test.
type TestResult string

const (
	TestResultNone        TestResult = "None"
	TestResultError       TestResult = "Error"
	TestResultSuccess     TestResult = "Success"
	TestResultUnsupported TestResult = "Unsupported"
)

func (r TestResult) String() string {
	return string(r)
}

// RunState is the overall state of the run controller.
type RunState string

const (
	RunStateIdle    RunState = "Idle"
	RunStateRunning RunState = "Running"
	RunStateDone    RunState = "Done"
)

func (s RunState) String() string {
	return string(s)
}

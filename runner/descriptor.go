package runner

import (
	"math"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// Descriptor is one discovered test. Its identity is fixed at discovery;
// its outcome is written by the executor and read through Snapshot.
type Descriptor struct {
	Class      *registry.Class
	Declarer   *registry.Class
	Method     registry.Method
	ClassName  string
	MethodName string

	mu         sync.RWMutex
	state      types.TestState
	result     types.TestResult
	duration   float64
	resultText string
	errDetail  string
	stackTrace string
}

// Snapshot is a point-in-time copy of a descriptor.
type Snapshot struct {
	ClassName  string           `json:"className"`
	MethodName string           `json:"method"`
	State      types.TestState  `json:"state"`
	Result     types.TestResult `json:"result"`
	Duration   float64          `json:"duration"`
	ResultText string           `json:"resultText"`
	Error      string           `json:"error,omitempty"`
	StackTrace string           `json:"stackTrace,omitempty"`
}

// ID returns the "Class.Method" name of the test.
func (s Snapshot) ID() string {
	return s.ClassName + "." + s.MethodName
}

type outcome struct {
	result     types.TestResult
	resultText string
	errDetail  string
	stackTrace string
	duration   float64
}

func newDescriptor(e registry.Entry) *Descriptor {
	d := &Descriptor{
		Class:      e.Class,
		Declarer:   e.Declarer,
		Method:     e.Method,
		ClassName:  e.Class.Name,
		MethodName: e.Method.Name,
	}
	d.reset()
	return d
}

// ID returns the "Class.Method" name of the test.
func (d *Descriptor) ID() string {
	return d.ClassName + "." + d.MethodName
}

// Timeout returns the per-test timeout, 0 when the runner default applies.
func (d *Descriptor) Timeout() time.Duration {
	return d.Method.Timeout
}

// State returns the current test state.
func (d *Descriptor) State() types.TestState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Snapshot returns a copy of the descriptor's identity and outcome.
func (d *Descriptor) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		ClassName:  d.ClassName,
		MethodName: d.MethodName,
		State:      d.state,
		Result:     d.result,
		Duration:   d.duration,
		ResultText: d.resultText,
		Error:      d.errDetail,
		StackTrace: d.stackTrace,
	}
}

func (d *Descriptor) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *Descriptor) resetLocked() {
	d.state = types.TestStateNotStarted
	d.result = types.TestResultNone
	d.duration = 0
	d.resultText = ""
	d.errDetail = ""
	d.stackTrace = ""
}

func (d *Descriptor) begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.state = types.TestStateRunning
}

func (d *Descriptor) finish(o outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = types.TestStateDone
	d.result = o.result
	d.resultText = o.resultText
	d.errDetail = o.errDetail
	d.stackTrace = o.stackTrace
	d.duration = o.duration
}

// roundMillis converts an elapsed duration to whole milliseconds.
func roundMillis(d time.Duration) float64 {
	return math.Round(float64(d) / float64(time.Millisecond))
}

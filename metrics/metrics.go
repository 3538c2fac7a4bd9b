package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-unitrunner/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "unitrunner"
)

var (
	Debug                bool = true
	validResults              = []types.TestResult{types.TestResultSuccess, types.TestResultError, types.TestResultUnsupported}
	runStates                 = []types.RunState{types.RunStateIdle, types.RunStateRunning, types.RunStateDone}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of executed tests by outcome",
	}, []string{
		"class",
		"method",
		"result",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of executed tests",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{
		"class",
		"result",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs",
	}, []string{
		"kind",
		"result",
	})

	runState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_state",
		Help:      "Current run state (1 for the active state)",
	}, []string{
		"state",
	})

	lastRunTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_tests",
		Help:      "Test counts of the most recent run",
	}, []string{
		"bucket",
	})

	lastRunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall clock duration of the most recent run",
	})

	httpResponseCodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "http_response_codes_total",
		Help:      "Count of control API responses by route and status code",
	}, []string{
		"route",
		"status_code",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordTest records the outcome of one executed test.
func RecordTest(class string, method string, result types.TestResult, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordTest - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "tests_total",
			"class", class,
			"method", method,
			"result", result)
	}
	testsTotal.WithLabelValues(class, method, string(result)).Inc()
	testDuration.WithLabelValues(class, string(result)).Observe(duration.Seconds())
}

// RecordRunState marks state as the current run state.
func RecordRunState(state types.RunState) {
	for _, s := range runStates {
		v := 0.0
		if s == state {
			v = 1
		}
		runState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordRun records a completed run of the given kind (all, class or test).
func RecordRun(kind string, results types.Results, duration time.Duration) {
	runsTotal.WithLabelValues(kind, string(results.Status())).Inc()
	lastRunTests.WithLabelValues("total").Set(float64(results.Total))
	lastRunTests.WithLabelValues("passed").Set(float64(results.Passed))
	lastRunTests.WithLabelValues("failed").Set(float64(results.Failed))
	lastRunTests.WithLabelValues("skipped").Set(float64(results.Skipped))
	lastRunTests.WithLabelValues("pending").Set(float64(results.Pending))
	lastRunDuration.Set(duration.Seconds())
}

// RecordHTTPResponse counts a control API response.
func RecordHTTPResponse(route string, statusCode int) {
	httpResponseCodesTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

func isValidResult(result types.TestResult) bool {
	return slices.Contains(validResults, result)
}

package reporting

import (
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// LogSink writes the diagnostic summary of a run to a logger: one summary
// line and one line per failed test.
type LogSink struct {
	log log.Logger
}

// NewLogSink creates a sink that logs to logger.
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{log: logger}
}

// RunComplete implements runner.SummarySink.
func (s *LogSink) RunComplete(runID string, results types.Results) {
	s.log.Info(SummaryLine(results), "run_id", runID, "pending", results.Pending)
	for _, test := range results.Failures() {
		detail := strings.TrimSpace(stripansi.Strip(test.Error))
		if strings.Contains(detail, "\n") {
			s.log.Warn(FailureLine(test), "run_id", runID, "detail", detail)
			continue
		}
		s.log.Warn(FailureLine(test), "run_id", runID)
	}
}

// WriterSink renders every completed run with a formatter and writes it out.
type WriterSink struct {
	log       log.Logger
	formatter ResultsFormatter
	writer    ReportWriter
}

// NewWriterSink creates a sink from a formatter and a writer.
func NewWriterSink(logger log.Logger, formatter ResultsFormatter, writer ReportWriter) *WriterSink {
	return &WriterSink{log: logger, formatter: formatter, writer: writer}
}

// RunComplete implements runner.SummarySink.
func (s *WriterSink) RunComplete(runID string, results types.Results) {
	content, err := s.formatter.Format(results)
	if err != nil {
		s.log.Error("Failed to format results", "run_id", runID, "err", err)
		return
	}
	if err := s.writer.Write(content); err != nil {
		s.log.Error("Failed to write results", "run_id", runID, "err", err)
	}
}

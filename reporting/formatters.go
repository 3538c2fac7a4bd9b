package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// ResultsFormatter renders a results snapshot.
type ResultsFormatter interface {
	Format(results types.Results) (string, error)
}

// ReportWriter defines the interface for writing reports to various destinations
type ReportWriter interface {
	Write(content string) error
}

// FileWriter writes reports to a file
type FileWriter struct {
	path string
}

// NewFileWriter creates a new file writer
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Write writes the content to the file
func (fw *FileWriter) Write(content string) error {
	return os.WriteFile(fw.path, []byte(content), 0644)
}

// StdoutWriter writes reports to stdout
type StdoutWriter struct{}

// NewStdoutWriter creates a new stdout writer
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

// Write writes the content to stdout
func (sw *StdoutWriter) Write(content string) error {
	_, err := fmt.Print(content)
	return err
}

// formatDuration formats a millisecond duration for display
func formatDuration(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

func getResultString(result types.TestResult) string {
	switch result {
	case types.TestResultSuccess:
		return "✓ pass"
	case types.TestResultUnsupported:
		return "- skip"
	case types.TestResultError:
		return "✗ fail"
	default:
		return "…"
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// firstLine returns the first line of s with ANSI escapes removed.
func firstLine(s string) string {
	s = strings.TrimSpace(stripansi.Strip(s))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// TableFormatter formats results as an ASCII table grouped by class
type TableFormatter struct {
	showIndividualTests bool
	title               string
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(title string, showIndividualTests bool) *TableFormatter {
	return &TableFormatter{
		showIndividualTests: showIndividualTests,
		title:               title,
	}
}

type classRow struct {
	name     string
	duration float64
	passed   int
	failed   int
	skipped  int
	tests    []types.TestSummary
}

func (c *classRow) result() types.TestResult {
	return types.Results{Passed: c.passed, Failed: c.failed, Skipped: c.skipped}.Status()
}

// Format formats the results as an ASCII table
func (tf *TableFormatter) Format(results types.Results) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s (%s)", tf.title, formatDuration(results.TotalDuration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Message",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	var classes []*classRow
	byName := make(map[string]*classRow)
	for _, test := range results.Tests {
		row, ok := byName[test.ClassName]
		if !ok {
			row = &classRow{name: test.ClassName}
			byName[test.ClassName] = row
			classes = append(classes, row)
		}
		row.duration += test.Duration
		row.passed += boolToInt(test.Result == types.TestResultSuccess)
		row.failed += boolToInt(test.Result == types.TestResultError)
		row.skipped += boolToInt(test.Result == types.TestResultUnsupported)
		row.tests = append(row.tests, test)
	}

	for _, class := range classes {
		t.AppendRow(table.Row{
			"Class",
			class.name,
			formatDuration(class.duration),
			len(class.tests),
			class.passed,
			class.failed,
			class.skipped,
			getResultString(class.result()),
			"",
		})

		if tf.showIndividualTests {
			for i, test := range class.tests {
				prefix := "├──"
				if i == len(class.tests)-1 {
					prefix = "└──"
				}
				message := test.ResultText
				if test.Result == types.TestResultError {
					message = firstLine(test.Error)
				}
				t.AppendRow(table.Row{
					"Test",
					fmt.Sprintf("%s %s", prefix, test.Method),
					formatDuration(test.Duration),
					"1",
					boolToInt(test.Result == types.TestResultSuccess),
					boolToInt(test.Result == types.TestResultError),
					boolToInt(test.Result == types.TestResultUnsupported),
					getResultString(test.Result),
					message,
				})
			}
		}
		t.AppendSeparator()
	}

	switch results.Status() {
	case types.TestResultError:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case types.TestResultUnsupported:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		if results.Skipped > 0 {
			t.SetStyle(table.StyleColoredBlackOnYellowWhite)
		} else {
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		}
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		string(results.State),
		formatDuration(results.TotalDuration),
		results.Total,
		results.Passed,
		results.Failed,
		results.Skipped,
		getResultString(results.Status()),
		fmt.Sprintf("%d pending", results.Pending),
	})

	t.Render()
	return buf.String(), nil
}

// JSONFormatter formats results as indented JSON, the same shape the
// control API returns.
type JSONFormatter struct{}

// Format formats the results as JSON
func (JSONFormatter) Format(results types.Results) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	return string(data) + "\n", nil
}

// SummaryLine is the one-line digest written after every run.
func SummaryLine(results types.Results) string {
	return fmt.Sprintf("DONE: %d/%d passed, %d failed, %d skipped (%.0fms)",
		results.Passed, results.Completed(), results.Failed, results.Skipped, results.TotalDuration)
}

// FailureLine describes one failed test.
func FailureLine(test types.TestSummary) string {
	return fmt.Sprintf("FAIL: %s.%s - %s", test.ClassName, test.Method, firstLine(test.Error))
}

// TextSummaryFormatter formats the summary line followed by one line per
// failed test.
type TextSummaryFormatter struct{}

// Format formats the results as plain text
func (TextSummaryFormatter) Format(results types.Results) (string, error) {
	var sb strings.Builder
	sb.WriteString(SummaryLine(results))
	sb.WriteString("\n")
	for _, test := range results.Failures() {
		sb.WriteString(FailureLine(test))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

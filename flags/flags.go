package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
)

const EnvVarPrefix = "OP_UNITRUNNER"

// ResultsFormat selects how results are rendered to the results file.
type ResultsFormat string

const (
	ResultsFormatTable ResultsFormat = "table"
	ResultsFormatJSON  ResultsFormat = "json"
	ResultsFormatText  ResultsFormat = "text"
)

func (f ResultsFormat) String() string {
	return string(f)
}

func (f ResultsFormat) IsValid() bool {
	switch f {
	case ResultsFormatTable, ResultsFormatJSON, ResultsFormatText:
		return true
	}
	return false
}

func ValidResultsFormats() []ResultsFormat {
	return []ResultsFormat{ResultsFormatTable, ResultsFormatJSON, ResultsFormatText}
}

func validateResultsFormat(v string) error {
	if !ResultsFormat(v).IsValid() {
		return fmt.Errorf("results-format must be one of %v, got %q", ValidResultsFormats(), v)
	}
	return nil
}

var (
	Plan = &cli.StringFlag{
		Name:    "plan",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLAN"),
		Usage:   "Path to a test plan file (eg. 'plans.yaml'). Without it every built-in class is run",
	}
	PlanID = &cli.StringFlag{
		Name:    "plan-id",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLAN_ID"),
		Usage:   "Plan to run from the plan file",
	}
	Class = &cli.StringFlag{
		Name:    "class",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CLASS"),
		Usage:   "Only run the tests of this class",
	}
	Test = &cli.StringFlag{
		Name:    "test",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST"),
		Usage:   "Only run this method of --class",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Timeout for asynchronous tests without their own. Set to 0 to disable",
	}
	SettleDelay = &cli.DurationFlag{
		Name:    "settle-delay",
		Value:   100 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTLE_DELAY"),
		Usage:   "Pause after each status notification while a run is active. Set to 0 to disable",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Serve = &cli.BoolFlag{
		Name:    "serve",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVE"),
		Usage:   "Serve the HTTP control API and wait for requests instead of exiting after the first run",
	}
	WatchPlan = &cli.BoolFlag{
		Name:    "watch-plan",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WATCH_PLAN"),
		Usage:   "Reload the test plan when the plan file changes",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates during a run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	ResultsFile = &cli.StringFlag{
		Name:    "results-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_FILE"),
		Usage:   "Write the results of every run to this file",
	}
	ResultsFormatFlag = &cli.StringFlag{
		Name:    "results-format",
		Value:   string(ResultsFormatJSON),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_FORMAT"),
		Usage:   fmt.Sprintf("Format of --results-file, one of %v", ValidResultsFormats()),
		Action: func(ctx *cli.Context, v string) error {
			return validateResultsFormat(v)
		},
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_PORT"),
		Usage:   "Port of the health check server. Set to 0 to disable",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Plan,
	PlanID,
	Class,
	Test,
	DefaultTimeout,
	SettleDelay,
	RunInterval,
	Serve,
	WatchPlan,
	ShowProgress,
	ProgressInterval,
	ResultsFile,
	ResultsFormatFlag,
	HealthzPort,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired validates flags that depend on each other.
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	if ctx.IsSet(PlanID.Name) && ctx.String(Plan.Name) == "" {
		return fmt.Errorf("flag %s requires %s", PlanID.Name, Plan.Name)
	}
	if ctx.String(Plan.Name) != "" && ctx.String(PlanID.Name) == "" {
		return fmt.Errorf("flag %s requires %s", Plan.Name, PlanID.Name)
	}
	if ctx.String(Test.Name) != "" && ctx.String(Class.Name) == "" {
		return fmt.Errorf("flag %s requires %s", Test.Name, Class.Name)
	}
	if ctx.Bool(WatchPlan.Name) && ctx.String(Plan.Name) == "" {
		return fmt.Errorf("flag %s requires %s", WatchPlan.Name, Plan.Name)
	}
	return opflags.CheckRequiredXor(ctx)
}

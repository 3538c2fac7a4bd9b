package unitrunner

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/ethereum-optimism/infra/op-unitrunner/flags"
	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/service"
)

// Config holds the application configuration
type Config struct {
	PlanFile         string              // Absolute path to the plan file, empty to run every registered class
	PlanID           string
	Class            string              // Restricts runs to one class
	Test             string              // Restricts runs to one method of Class
	DefaultTimeout   time.Duration       // Timeout for tests without their own, 0 disables
	SettleDelay      time.Duration       // Pause after in-run notifications, 0 disables
	RunInterval      time.Duration       // Interval between test runs
	RunOnce          bool                // Exit after the first run
	Serve            bool                // Serve the control API
	WatchPlan        bool                // Reload the plan when the file changes
	ShowProgress     bool
	ProgressInterval time.Duration
	ResultsFile      string
	ResultsFormat    flags.ResultsFormat
	HealthzAddr      string              // Empty disables the health check server
	MetricsAddr      string              // Empty disables the metrics server
	ControlAddr      string              // Empty disables the control API

	// Classes are registered before the plan is applied.
	Classes []*registry.Class
	// Services are instances resolved for the named classes before their
	// constructors are used.
	Services map[string]any

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	var planFile string
	if p := ctx.String(flags.Plan.Name); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for plan file '%s': %w", p, err)
		}
		planFile = abs
	}

	resultsFile := ctx.String(flags.ResultsFile.Name)
	if resultsFile != "" {
		abs, err := filepath.Abs(resultsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for results file '%s': %w", resultsFile, err)
		}
		resultsFile = abs
	}

	format := flags.ResultsFormat(ctx.String(flags.ResultsFormatFlag.Name))
	if !format.IsValid() {
		return nil, fmt.Errorf("invalid results format: %s. Must be one of: %v", format, flags.ValidResultsFormats())
	}

	defaultTimeout := ctx.Duration(flags.DefaultTimeout.Name)
	settleDelay := ctx.Duration(flags.SettleDelay.Name)
	if defaultTimeout < 0 || settleDelay < 0 {
		return nil, errors.New("default-timeout and settle-delay must not be negative")
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, errors.New("run-interval must not be negative")
	}
	serve := ctx.Bool(flags.Serve.Name)

	var healthzAddr string
	if port := ctx.Int(flags.HealthzPort.Name); port > 0 {
		healthzAddr = service.Addr(service.HealthzHost, port)
	}

	var metricsAddr string
	if metricsCfg := opmetrics.ReadCLIConfig(ctx); metricsCfg.Enabled {
		metricsAddr = service.Addr(metricsCfg.ListenAddr, metricsCfg.ListenPort)
	}

	var controlAddr string
	if serve {
		rpcCfg := oprpc.ReadCLIConfig(ctx)
		controlAddr = service.Addr(rpcCfg.ListenAddr, rpcCfg.ListenPort)
	}

	return &Config{
		PlanFile:         planFile,
		PlanID:           ctx.String(flags.PlanID.Name),
		Class:            ctx.String(flags.Class.Name),
		Test:             ctx.String(flags.Test.Name),
		DefaultTimeout:   defaultTimeout,
		SettleDelay:      settleDelay,
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0 && !serve,
		Serve:            serve,
		WatchPlan:        ctx.Bool(flags.WatchPlan.Name),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		ResultsFile:      resultsFile,
		ResultsFormat:    format,
		HealthzAddr:      healthzAddr,
		MetricsAddr:      metricsAddr,
		ControlAddr:      controlAddr,
		Log:              log,
	}, nil
}

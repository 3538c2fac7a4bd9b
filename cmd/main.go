package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	unitrunner "github.com/ethereum-optimism/infra/op-unitrunner"
	"github.com/ethereum-optimism/infra/op-unitrunner/flags"
	"github.com/ethereum-optimism/infra/op-unitrunner/selfcheck"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-unitrunner"
	app.Usage = "In-process unit test runner"
	app.Description = "op-unitrunner discovers registered test classes, runs them and reports the results"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err != nil {
			cli.HandleExitCoder(exitError(err))
		}
	}
	return app
}

// exitError attaches the process exit code to err. Errors that already
// carry one are returned unchanged.
func exitError(err error) cli.ExitCoder {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return cli.Exit(err.Error(), unitrunner.ExitCode(err))
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := unitrunner.NewConfig(ctx, log)
	if err != nil {
		return nil, unitrunner.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Classes = selfcheck.Classes(Version)
	cfg.Services = selfcheck.Services(Version)

	cfg.Log.Debug("Config", "config", cfg)

	app, err := unitrunner.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, unitrunner.NewRuntimeError(fmt.Errorf("failed to create unitrunner: %w", err))
	}

	return app, nil
}

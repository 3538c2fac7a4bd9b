package unitrunner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-unitrunner/flags"
)

// parseConfig runs a cli app with the given arguments and returns the config
// NewConfig built from them.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, testLogger())
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"op-unitrunner"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(t)
	require.NoError(t, err)

	assert.Empty(t, cfg.PlanFile)
	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.SettleDelay)
	assert.True(t, cfg.RunOnce)
	assert.False(t, cfg.Serve)
	assert.Equal(t, flags.ResultsFormatJSON, cfg.ResultsFormat)
	assert.Equal(t, "0.0.0.0:8080", cfg.HealthzAddr)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.ControlAddr)
	assert.NotNil(t, cfg.Log)
}

func TestNewConfig_Paths(t *testing.T) {
	cfg, err := parseConfig(t, "--plan", "plans.yaml", "--plan-id", "base", "--results-file", "out/results.json")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.PlanFile))
	assert.Equal(t, "plans.yaml", filepath.Base(cfg.PlanFile))
	assert.Equal(t, "base", cfg.PlanID)
	assert.True(t, filepath.IsAbs(cfg.ResultsFile))
}

func TestNewConfig_Modes(t *testing.T) {
	cfg, err := parseConfig(t, "--run-interval", "1m")
	require.NoError(t, err)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, time.Minute, cfg.RunInterval)

	cfg, err = parseConfig(t, "--serve")
	require.NoError(t, err)
	assert.False(t, cfg.RunOnce)
	assert.True(t, cfg.Serve)
	assert.NotEmpty(t, cfg.ControlAddr)

	cfg, err = parseConfig(t, "--metrics.enabled", "--healthz.port", "0")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.HealthzAddr)
}

func TestNewConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"plan without id", []string{"--plan", "plans.yaml"}, "missing required flags"},
		{"test without class", []string{"--test", "Add"}, "missing required flags"},
		{"negative timeout", []string{"--default-timeout", "-1s"}, "must not be negative"},
		{"negative interval", []string{"--run-interval", "-1s"}, "run-interval must not be negative"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(t, tc.args...)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

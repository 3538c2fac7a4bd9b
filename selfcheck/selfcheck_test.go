package selfcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-unitrunner/envinfo"
	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/runner"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

func runSelfcheck(t *testing.T) map[string]types.TestSummary {
	t.Helper()
	return runSelfcheckWith(t, nil)
}

func runSelfcheckWith(t *testing.T, resolver runner.InstanceResolver) map[string]types.TestSummary {
	t.Helper()
	logger := log.NewLogger(log.DiscardHandler())
	reg, err := registry.NewRegistry(registry.Config{Log: logger})
	require.NoError(t, err)
	require.NoError(t, Register(reg, "test"))

	classes, err := reg.Select("")
	require.NoError(t, err)

	r := runner.NewRunner(runner.Config{Log: logger, SettleDelay: -1, Resolver: resolver})
	require.NoError(t, r.SetClasses(classes))
	results := r.RunAll(context.Background())
	require.Equal(t, types.RunStateDone, results.State)

	byID := make(map[string]types.TestSummary)
	for _, test := range results.Tests {
		byID[test.ClassName+"."+test.Method] = test
	}
	return byID
}

func TestRegister_Duplicate(t *testing.T) {
	reg, err := registry.NewRegistry(registry.Config{Log: log.NewLogger(log.DiscardHandler())})
	require.NoError(t, err)

	require.NoError(t, Register(reg, ""))
	require.Error(t, Register(reg, ""))
}

func TestSelfcheck_WithoutEndpoint(t *testing.T) {
	t.Setenv(EndpointEnvVar, "")

	tests := runSelfcheck(t)

	for _, id := range []string{
		"RuntimeTests.GoVersion",
		"RuntimeTests.GoroutinesSettle",
		"RuntimeTests.Sleep",
		"EnvironmentTests.Platform",
		"EnvironmentTests.CPUCount",
		"EnvironmentTests.TempDirWritable",
	} {
		require.Contains(t, tests, id)
		assert.Equal(t, types.TestResultSuccess, tests[id].Result, "%s: %s", id, tests[id].Error)
	}

	for _, id := range []string{
		"RemoteEnvironmentTests.EndpointReachable",
		"RemoteEnvironmentTests.EndpointUsesHTTPS",
		"RemoteEnvironmentTests.Platform",
		"RemoteEnvironmentTests.CPUCount",
	} {
		require.Contains(t, tests, id)
		assert.Equal(t, types.TestResultUnsupported, tests[id].Result)
		assert.Equal(t, EndpointEnvVar+" not set", tests[id].ResultText)
	}
	assert.NotContains(t, tests, "RemoteEnvironmentTests.TempDirWritable")
	assert.Len(t, tests, 10)
}

func TestSelfcheck_WithEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv(EndpointEnvVar, srv.URL)

	tests := runSelfcheck(t)

	reachable := tests["RemoteEnvironmentTests.EndpointReachable"]
	assert.Equal(t, types.TestResultSuccess, reachable.Result, reachable.Error)
	assert.Equal(t, "200 OK", reachable.ResultText)

	https := tests["RemoteEnvironmentTests.EndpointUsesHTTPS"]
	assert.Equal(t, types.TestResultUnsupported, https.Result)
	assert.Equal(t, "requires HTTPS", https.ResultText)

	assert.Equal(t, types.TestResultSuccess, tests["RemoteEnvironmentTests.Platform"].Result)
}

func TestSelfcheck_EndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	t.Setenv(EndpointEnvVar, srv.URL)

	tests := runSelfcheck(t)

	reachable := tests["RemoteEnvironmentTests.EndpointReachable"]
	assert.Equal(t, types.TestResultError, reachable.Result)
	assert.Contains(t, reachable.Error, "502")
}

func TestServices(t *testing.T) {
	t.Setenv(EndpointEnvVar, "")
	services := Services("test")

	classes := make(map[string]bool)
	for _, c := range Classes("test") {
		classes[c.Name] = true
	}
	for name := range services {
		assert.True(t, classes[name], "service %s has no class", name)
	}

	env, ok := services["EnvironmentTests"].(*environmentChecks)
	require.True(t, ok)
	assert.Equal(t, "test", env.info.Version)

	t.Run("resolved instance is used", func(t *testing.T) {
		resolver := runner.NewServiceResolver()
		resolver.Provide("EnvironmentTests", &environmentChecks{info: envinfo.Info{OS: "plan9", Arch: "mips", NumCPU: 1}})

		tests := runSelfcheckWith(t, resolver)

		assert.Equal(t, "plan9/mips", tests["EnvironmentTests.Platform"].ResultText)
		assert.Equal(t, "1 cpus", tests["EnvironmentTests.CPUCount"].ResultText)
		assert.Equal(t, types.TestResultUnsupported, tests["RemoteEnvironmentTests.Platform"].Result)
	})

	t.Run("unprovided classes use constructors", func(t *testing.T) {
		resolver := runner.NewServiceResolver()
		for name, inst := range services {
			resolver.Provide(name, inst)
		}

		tests := runSelfcheckWith(t, resolver)

		for _, id := range []string{"EnvironmentTests.Platform", "RuntimeTests.GoroutinesSettle"} {
			assert.Equal(t, types.TestResultSuccess, tests[id].Result, "%s: %s", id, tests[id].Error)
		}
		assert.Equal(t, env.info.Platform(), tests["EnvironmentTests.Platform"].ResultText)
	})
}

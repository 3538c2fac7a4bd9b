package service

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-unitrunner/runner"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthzServer_Handle(t *testing.T) {
	srv := httptest.NewServer(NewHealthzServer(log.NewLogger(log.DiscardHandler())).Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/healthz")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}

func TestMetricsServer_Handler(t *testing.T) {
	srv := httptest.NewServer((&MetricsServer{}).Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/metrics")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "go_goroutines")
}

func TestService_StartShutdown(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	services := runner.NewServiceResolver()
	services.Provide("Math", struct{}{})
	r := runner.NewRunner(runner.Config{Log: logger, SettleDelay: -1, Resolver: services})
	cfg := Config{
		Log:         logger,
		HealthzAddr: freeAddr(t),
		MetricsAddr: freeAddr(t),
		ControlAddr: freeAddr(t),
		Controller:  r,
		Services:    services,
		Version:     "test",
	}
	svc := New(cfg)
	require.NotNil(t, svc.Control)

	svc.Start(context.Background())

	require.Eventually(t, func() bool {
		status, _ := get(t, "http://"+cfg.HealthzAddr+"/healthz")
		return status == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		status, _ := get(t, "http://"+cfg.ControlAddr+"/tests/state")
		return status == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
	status, body := get(t, "http://"+cfg.ControlAddr+"/services")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"Math"`)
	require.Eventually(t, func() bool {
		status, _ := get(t, "http://"+cfg.MetricsAddr+"/metrics")
		return status == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	svc.Shutdown()

	status, _ = get(t, "http://"+cfg.HealthzAddr+"/healthz")
	assert.Zero(t, status)
}

func TestService_WithoutController(t *testing.T) {
	svc := New(Config{Log: log.NewLogger(log.DiscardHandler()), ControlAddr: "127.0.0.1:0"})
	assert.Nil(t, svc.Control)

	// nothing was started
	svc.Shutdown()
}

func TestShutdownBeforeStart(t *testing.T) {
	h := NewHealthzServer(log.NewLogger(log.DiscardHandler()))
	require.NoError(t, h.Shutdown())

	err := h.Start(context.Background(), freeAddr(t))
	assert.ErrorIs(t, err, http.ErrServerClosed)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(nil)
	assert.Equal(t, "0.0.0.0:8080", cfg.HealthzAddr)
	assert.Equal(t, "0.0.0.0:7300", cfg.MetricsAddr)
	assert.Empty(t, cfg.ControlAddr)
	assert.Equal(t, "127.0.0.1:8545", Addr("127.0.0.1", 8545))
}

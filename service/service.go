package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-unitrunner/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"
)

// Config selects the servers the service runs. Servers without an address
// are not started.
type Config struct {
	Log         log.Logger
	HealthzAddr string
	MetricsAddr string
	ControlAddr string
	Controller  Controller
	Services    ServiceLister
	Version     string
}

// DefaultConfig returns a config with the healthz and metrics servers on
// their default ports and no control API.
func DefaultConfig(logger log.Logger) Config {
	return Config{
		Log:         logger,
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(MetricsHost, MetricsPort),
	}
}

// Addr joins a host and a numeric port.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer
	Control *ControlServer

	cfg Config
	log log.Logger
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	logger := cfg.Log.New("component", "service")
	s := &Service{
		Healthz: NewHealthzServer(logger),
		Metrics: &MetricsServer{},
		cfg:     cfg,
		log:     logger,
	}
	if cfg.Controller != nil && cfg.ControlAddr != "" {
		s.Control = NewControlServer(logger, cfg.Controller, cfg.Services, cfg.Version)
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if s.cfg.HealthzAddr != "" {
		s.serve(ctx, "healthz", s.cfg.HealthzAddr, s.Healthz.Start)
	}
	if s.cfg.MetricsAddr != "" {
		s.serve(ctx, "metrics", s.cfg.MetricsAddr, s.Metrics.Start)
	}
	if s.Control != nil {
		s.serve(ctx, "control", s.cfg.ControlAddr, s.Control.Start)
	}

	s.log.Info("service started")
}

func (s *Service) serve(ctx context.Context, name, addr string, start func(context.Context, string) error) {
	go func() {
		s.log.Info("starting "+name+" server", "addr", addr)
		if err := start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting "+name+" server", "err", err)
			metrics.RecordErrorDetails("error starting "+name+" server", err)
		}
	}()
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	s.log.Info("metrics stopped")

	if s.Control != nil {
		_ = s.Control.Shutdown()
		s.Control.Wait()
		s.log.Info("control stopped")
	}

	s.log.Info("service stopped")
}

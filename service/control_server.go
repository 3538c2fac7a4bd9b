package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-unitrunner/envinfo"
	"github.com/ethereum-optimism/infra/op-unitrunner/metrics"
	"github.com/ethereum-optimism/infra/op-unitrunner/runner"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// Controller is the control surface exposed over HTTP.
type Controller interface {
	Reset()
	Cancel()
	RunAll(ctx context.Context) types.Results
	RunClass(ctx context.Context, className string) types.Results
	RunTest(ctx context.Context, className, methodName string) types.Results
	State() types.RunState
	Results() types.Results
	Tests() []runner.Snapshot
}

var _ Controller = (*runner.Runner)(nil)

// ServiceLister reports the classes whose instances are provided rather
// than constructed.
type ServiceLister interface {
	Services() []string
}

var _ ServiceLister = (*runner.ServiceResolver)(nil)

type stateResponse struct {
	State types.RunState `json:"state"`
}

type servicesResponse struct {
	Services []string `json:"services"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ControlServer exposes a Controller as a JSON API.
//
// Run requests block until the run ends unless called with ?wait=false, in
// which case the run starts in the background and 202 is returned. Runs
// outlive the request that started them.
type ControlServer struct {
	httpServer
	log      log.Logger
	ctrl     Controller
	services ServiceLister
	version  string

	ctxMu   sync.RWMutex
	baseCtx context.Context
	runs    sync.WaitGroup
}

// NewControlServer creates a control server. services may be nil.
func NewControlServer(logger log.Logger, ctrl Controller, services ServiceLister, version string) *ControlServer {
	return &ControlServer{
		log:      logger,
		ctrl:     ctrl,
		services: services,
		version:  version,
		baseCtx:  context.Background(),
	}
}

// Handler returns the API router wrapped with CORS.
func (s *ControlServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/environment", s.handleEnvironment).Methods(http.MethodGet)
	r.HandleFunc("/services", s.handleServices).Methods(http.MethodGet)
	r.HandleFunc("/tests", s.handleTests).Methods(http.MethodGet)
	r.HandleFunc("/tests/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/tests/results", s.handleResults).Methods(http.MethodGet)
	r.HandleFunc("/tests/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/tests/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/tests/run", s.handleRunAll).Methods(http.MethodPost)
	r.HandleFunc("/tests/run/{class}", s.handleRunClass).Methods(http.MethodPost)
	r.HandleFunc("/tests/run/{class}/{method}", s.handleRunTest).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(r)
}

// Start serves the API on addr. Runs started through the API use ctx.
func (s *ControlServer) Start(ctx context.Context, addr string) error {
	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()
	return s.listenAndServe(addr, s.Handler())
}

// Wait blocks until background runs started through the API have ended.
func (s *ControlServer) Wait() {
	s.runs.Wait()
}

func (s *ControlServer) runContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.baseCtx
}

func (s *ControlServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	metrics.RecordHTTPResponse(routeName(r), http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *ControlServer) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, envinfo.Collect(s.version))
}

func (s *ControlServer) handleServices(w http.ResponseWriter, r *http.Request) {
	resp := servicesResponse{Services: []string{}}
	if s.services != nil {
		resp.Services = append(resp.Services, s.services.Services()...)
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *ControlServer) handleTests(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.ctrl.Tests())
}

func (s *ControlServer) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, stateResponse{State: s.ctrl.State()})
}

func (s *ControlServer) handleResults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.ctrl.Results())
}

func (s *ControlServer) handleReset(w http.ResponseWriter, r *http.Request) {
	s.log.Info("Reset requested", "remote", r.RemoteAddr)
	s.ctrl.Reset()
	s.writeJSON(w, r, http.StatusOK, stateResponse{State: s.ctrl.State()})
}

func (s *ControlServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.log.Info("Cancel requested", "remote", r.RemoteAddr)
	s.ctrl.Cancel()
	s.writeJSON(w, r, http.StatusOK, stateResponse{State: s.ctrl.State()})
}

func (s *ControlServer) handleRunAll(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(ctx context.Context) types.Results {
		return s.ctrl.RunAll(ctx)
	})
}

func (s *ControlServer) handleRunClass(w http.ResponseWriter, r *http.Request) {
	className := mux.Vars(r)["class"]
	if !s.hasTest(className, "") {
		s.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no tests found for class %s", className)})
		return
	}
	s.run(w, r, func(ctx context.Context) types.Results {
		return s.ctrl.RunClass(ctx, className)
	})
}

func (s *ControlServer) handleRunTest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	className, methodName := vars["class"], vars["method"]
	if !s.hasTest(className, methodName) {
		s.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("test %s.%s not found", className, methodName)})
		return
	}
	s.run(w, r, func(ctx context.Context) types.Results {
		return s.ctrl.RunTest(ctx, className, methodName)
	})
}

func (s *ControlServer) run(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) types.Results) {
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid wait parameter %q", v)})
			return
		}
		wait = parsed
	}

	ctx := s.runContext()
	s.log.Info("Run requested", "path", r.URL.Path, "wait", wait, "remote", r.RemoteAddr)
	if !wait {
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			fn(ctx)
		}()
		s.writeJSON(w, r, http.StatusAccepted, stateResponse{State: s.ctrl.State()})
		return
	}
	s.writeJSON(w, r, http.StatusOK, fn(ctx))
}

// hasTest reports whether a test matches className and, when set, methodName.
func (s *ControlServer) hasTest(className, methodName string) bool {
	for _, t := range s.ctrl.Tests() {
		if !strings.EqualFold(t.ClassName, className) {
			continue
		}
		if methodName == "" || strings.EqualFold(t.MethodName, methodName) {
			return true
		}
	}
	return false
}

func (s *ControlServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.log.Error("Failed to marshal response", "path", r.URL.Path, "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}

	metrics.RecordHTTPResponse(routeName(r), status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.Error("Failed to write response", "path", r.URL.Path, "err", err)
	}
}

// routeName returns the matched route template, keeping metric label
// cardinality independent of class and method names.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unknown"
}

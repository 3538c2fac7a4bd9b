package service

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

// httpServer is the start/shutdown lifecycle shared by the service's HTTP
// servers. Shutdown may be called before or while Start runs.
type httpServer struct {
	mu     sync.Mutex
	server *http.Server
	closed bool
}

func (s *httpServer) listenAndServe(addr string, handler http.Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Handler:           handler,
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()
	return srv.ListenAndServe()
}

func (s *httpServer) Shutdown() error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

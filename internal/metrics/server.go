// Package metrics holds the buffwatch Prometheus collectors and the HTTP
// endpoint that exposes them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPath     = "/metrics"
	healthPath      = "/healthz"
	shutdownTimeout = 5 * time.Second
)

// Server exposes the default Prometheus registry and a liveness probe.
type Server struct {
	addr string
	path string

	httpSrv *http.Server
	ln      net.Listener
}

// NewServer returns a server for addr. An empty path means /metrics.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = defaultPath
	}
	return &Server{addr: addr, path: path}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start binds addr and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("metrics server listening", "addr", s.Addr(), "path", s.path)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down, waiting at most five seconds for requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	slog.Debug("metrics server stopped")
	return nil
}

// Package server wires the HTTP surface of the MCP server: health and
// status endpoints, Prometheus metrics, and the MCP JSON-RPC endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/devlake-mcp/internal/middleware"
	"github.com/konflux-ci/devlake-mcp/internal/oidc"
	"github.com/konflux-ci/devlake-mcp/internal/security"
	"github.com/konflux-ci/devlake-mcp/internal/tools"
)

// Options configures a Server.
type Options struct {
	Addr          string
	Realm         string
	Authenticator *oidc.Authenticator
	Registry      *tools.Registry
	Security      *security.Manager
	Log           logrus.FieldLogger
	AuthMW        *middleware.AuthMiddleware
}

// Server is the HTTP front of the MCP service.
type Server struct {
	addr     string
	log      logrus.FieldLogger
	auth     *oidc.Authenticator
	registry *tools.Registry
	security *security.Manager
	handler  http.Handler
	httpSrv  *http.Server
}

// New assembles the route table and middleware chain.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.Security == nil {
		opts.Security = security.NewManager(opts.Log)
	}

	s := &Server{
		addr:     opts.Addr,
		log:      opts.Log,
		auth:     opts.Authenticator,
		registry: opts.Registry,
		security: opts.Security,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/auth", s.handleAuthHealth)
	mux.HandleFunc("GET /security/stats", s.handleSecurityStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /mcp", s.handleMCP)

	authMW := opts.AuthMW
	if authMW == nil {
		authMW = middleware.NewAuth(opts.Authenticator, opts.Realm, middleware.WithAuthLogger(opts.Log))
	}
	s.handler = middleware.RequestLog(opts.Log)(authMW.Handler(mux))
	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("server listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "devlake-mcp",
	})
}

func (s *Server) handleAuthHealth(w http.ResponseWriter, r *http.Request) {
	status := s.auth.HealthCheck(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.security.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

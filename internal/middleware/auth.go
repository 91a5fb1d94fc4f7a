// Package middleware provides HTTP middleware for the MCP server:
// bearer-token authentication, request logging, and a gin adapter.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/konflux-ci/devlake-mcp/internal/metrics"
	"github.com/konflux-ci/devlake-mcp/internal/oidc"
)

// Authenticator is the subset of the OIDC authenticator the middleware
// needs.
type Authenticator interface {
	IsActive() bool
	ShouldSkipAuth(path string) bool
	Authenticate(ctx context.Context, authorizationHeader string) oidc.Result
}

// AuthMiddleware authenticates requests with the OIDC authenticator and
// rejects unauthenticated ones with a JSON error body.
type AuthMiddleware struct {
	auth    Authenticator
	realm   string
	log     logrus.FieldLogger
	metrics metrics.Metrics
	tracer  trace.Tracer
}

// AuthOption configures an AuthMiddleware.
type AuthOption func(*AuthMiddleware)

// WithAuthLogger overrides the default logger.
func WithAuthLogger(log logrus.FieldLogger) AuthOption {
	return func(m *AuthMiddleware) { m.log = log }
}

// WithAuthMetrics sets the metrics sink.
func WithAuthMetrics(mm metrics.Metrics) AuthOption {
	return func(m *AuthMiddleware) { m.metrics = mm }
}

// NewAuth builds an AuthMiddleware. The realm appears in WWW-Authenticate
// challenges on 401 responses.
func NewAuth(auth Authenticator, realm string, opts ...AuthOption) *AuthMiddleware {
	m := &AuthMiddleware{
		auth:    auth,
		realm:   realm,
		log:     logrus.StandardLogger(),
		metrics: metrics.Noop{},
		tracer:  otel.Tracer("devlake-mcp/middleware"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next with authentication. Requests are passed through
// untouched when authentication is inactive or the path is exempt.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.auth.IsActive() || m.auth.ShouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := m.tracer.Start(r.Context(), "auth.authenticate")
		start := time.Now()
		result := m.auth.Authenticate(ctx, r.Header.Get("Authorization"))
		// Metric labels stay low-cardinality: status only, never the
		// request path.
		m.metrics.ObserveHistogram("auth_duration_seconds", time.Since(start).Seconds(), map[string]string{
			"status": fmt.Sprintf("%d", result.StatusCode),
		})

		if !result.Authenticated {
			span.SetStatus(codes.Error, result.Error)
			span.End()
			m.metrics.IncCounter("auth_failures_total", map[string]string{
				"status": fmt.Sprintf("%d", result.StatusCode),
			})
			m.reject(w, result)
			return
		}

		span.SetAttributes(attribute.String("user.id", result.UserID))
		span.End()
		m.metrics.IncCounter("auth_success_total", map[string]string{})

		identity := Identity{
			ID:       result.UserID,
			Username: result.Username,
			Email:    result.Email,
			Groups:   result.Groups,
			Scopes:   result.Scopes,
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, result oidc.Result) {
	status := result.StatusCode
	if status == 0 {
		status = http.StatusUnauthorized
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", m.realm))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "authentication_failed",
		"message": result.Error,
	}); err != nil {
		m.log.WithError(err).Error("failed to write auth error response")
	}
}

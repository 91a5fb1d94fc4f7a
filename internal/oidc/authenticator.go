// Package oidc implements OpenID Connect authentication against a
// Keycloak-style provider: discovery and JWKS caching, token
// classification, offline-token exchange, and access-token validation.
package oidc

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
)

// Authenticator validates bearer tokens for a single OIDC issuer. It is
// safe for concurrent use; all caches are guarded by their own mutex.
type Authenticator struct {
	cfg    Config
	log    logrus.FieldLogger
	client *http.Client
	now    func() time.Time

	discoveryMu      sync.Mutex
	discovery        *discoveryDocument
	discoveryFetched time.Time

	jwksMu      sync.Mutex
	jwks        jwk.Set
	jwksFetched time.Time

	tokenCacheMu sync.Mutex
	tokenCache   map[string]cachedAccessToken
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHTTPClient overrides the HTTP client used to talk to the provider.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authenticator) {
		a.client = client
	}
}

// WithLogger overrides the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Authenticator) {
		a.log = log
	}
}

// WithClock overrides the time source. Used by tests to control cache
// expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New builds an Authenticator from cfg. Zero durations and empty slices
// in cfg are filled with defaults.
func New(cfg Config, opts ...Option) *Authenticator {
	cfg = cfg.withDefaults()

	a := &Authenticator{
		cfg:        cfg,
		log:        logrus.StandardLogger(),
		now:        time.Now,
		tokenCache: make(map[string]cachedAccessToken),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = newHTTPClient(cfg.InsecureSkipTLSVerify)
	}
	return a
}

func newHTTPClient(insecureSkipVerify bool) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: insecureSkipVerify,
			},
		},
	}
}

// IsActive reports whether authentication is enabled and fully configured.
func (a *Authenticator) IsActive() bool {
	return a.cfg.IsActive()
}

// ShouldSkipAuth reports whether the request path is exempt from
// authentication. Matching is by path prefix.
func (a *Authenticator) ShouldSkipAuth(path string) bool {
	for _, skip := range a.cfg.SkipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

// ExtractToken pulls the bearer token out of an Authorization header value.
func (a *Authenticator) ExtractToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("Authorization header is required")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return "", errors.New("Invalid Authorization header format")
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("Authorization scheme must be Bearer")
	}
	return parts[1], nil
}

// Authenticate performs the full authentication flow for a request:
// extract the bearer token, classify it, exchange offline tokens for an
// access token when enabled, and validate the resulting access token.
func (a *Authenticator) Authenticate(ctx context.Context, authorizationHeader string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("panic during authentication")
			result = failure(http.StatusInternalServerError, "Internal authentication error")
		}
	}()

	token, err := a.ExtractToken(authorizationHeader)
	if err != nil {
		return failure(http.StatusUnauthorized, err.Error())
	}

	switch a.classifyToken(token) {
	case kindAccessToken:
		return a.ValidateToken(ctx, token)
	case kindOfflineToken:
		if !a.cfg.OfflineTokenEnabled {
			return failure(http.StatusUnauthorized, "Invalid token format. Expected JWT access token.")
		}
		accessToken, err := a.accessTokenForOffline(ctx, token)
		if err != nil {
			a.log.WithError(err).Warn("offline token exchange failed")
			return failure(http.StatusUnauthorized, "Token exchange failed. Please check your offline token.")
		}
		return a.ValidateToken(ctx, accessToken)
	}
	return failure(http.StatusUnauthorized, "Invalid token format. Expected JWT access token.")
}

// HealthStatus describes the authenticator's view of the provider.
type HealthStatus struct {
	Status   string `json:"status"`
	Issuer   string `json:"issuer,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HealthCheck probes the provider's discovery endpoint and reports
// whether authentication is operational.
func (a *Authenticator) HealthCheck(ctx context.Context) HealthStatus {
	if !a.IsActive() {
		return HealthStatus{
			Status:  "disabled",
			Message: "OIDC authentication is not configured",
		}
	}
	if _, err := a.getDiscoveryDocument(ctx); err != nil {
		return HealthStatus{
			Status:   "unhealthy",
			Issuer:   a.cfg.IssuerURL,
			ClientID: a.cfg.ClientID,
			Error:    err.Error(),
		}
	}
	return HealthStatus{
		Status:   "healthy",
		Issuer:   a.cfg.IssuerURL,
		ClientID: a.cfg.ClientID,
	}
}

func logrusFields(r Result) logrus.Fields {
	return logrus.Fields{
		"user_id":  r.UserID,
		"username": r.Username,
		"groups":   len(r.Groups),
		"scopes":   len(r.Scopes),
	}
}

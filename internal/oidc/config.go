package oidc

import "time"

// Default values applied by DefaultConfig and New.
const (
	DefaultJWKSCacheTTL           = time.Hour
	DefaultAccessTokenCacheBuffer = 60 * time.Second
)

// Config holds the settings for the OIDC authenticator. It is constructed
// once at startup and never mutated afterwards.
type Config struct {
	// Enabled turns authentication on. The authenticator is only active
	// when Enabled is true and both IssuerURL and ClientID are set; see
	// IsActive.
	Enabled bool

	// IssuerURL is the base URL of the OIDC provider realm, e.g.
	// https://sso.example.com/realms/myrealm.
	IssuerURL string

	// ClientID is the expected token audience.
	ClientID string

	// RequiredScopes must all be present on a token for it to be accepted.
	RequiredScopes []string

	// JWKSCacheTTL bounds how long the discovery document and the JWKS
	// are served from cache before being re-fetched.
	JWKSCacheTTL time.Duration

	// SkipPaths lists URL path prefixes that bypass authentication.
	SkipPaths []string

	// InsecureSkipTLSVerify disables TLS certificate verification on
	// calls to the provider. The zero value verifies certificates.
	InsecureSkipTLSVerify bool

	// AllowedAlgorithms lists the accepted JWT signing algorithms.
	AllowedAlgorithms []string

	// OfflineTokenEnabled accepts offline/refresh tokens and exchanges
	// them for access tokens before validation.
	OfflineTokenEnabled bool

	// TokenExchangeClientID overrides ClientID during token exchange when
	// non-empty.
	TokenExchangeClientID string

	// AccessTokenCacheBuffer is subtracted from a cached access token's
	// expiry when deciding whether it is still usable.
	AccessTokenCacheBuffer time.Duration
}

// DefaultConfig returns a Config with authentication disabled and all
// optional knobs at their defaults.
func DefaultConfig() Config {
	return Config{
		JWKSCacheTTL:           DefaultJWKSCacheTTL,
		SkipPaths:              []string{"/health", "/security"},
		AllowedAlgorithms:      []string{"RS256"},
		AccessTokenCacheBuffer: DefaultAccessTokenCacheBuffer,
	}
}

// IsActive reports whether the authenticator is operationally enabled.
// Enabled alone is not enough: without an issuer and a client ID there is
// nothing to validate against.
func (c Config) IsActive() bool {
	return c.Enabled && c.IssuerURL != "" && c.ClientID != ""
}

// withDefaults fills in zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.JWKSCacheTTL <= 0 {
		c.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
	if c.SkipPaths == nil {
		c.SkipPaths = []string{"/health", "/security"}
	}
	if len(c.AllowedAlgorithms) == 0 {
		c.AllowedAlgorithms = []string{"RS256"}
	}
	if c.AccessTokenCacheBuffer <= 0 {
		c.AccessTokenCacheBuffer = DefaultAccessTokenCacheBuffer
	}
	return c
}

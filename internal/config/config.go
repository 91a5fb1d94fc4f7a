// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/devlake-mcp/internal/database"
	"github.com/konflux-ci/devlake-mcp/internal/oidc"
)

// Server holds HTTP listener settings.
type Server struct {
	Host  string
	Port  int
	Realm string
}

// Addr renders the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Logging holds log output settings.
type Logging struct {
	Level  string
	Format string
}

// NewLogger builds a logrus logger from the settings.
func (l Logging) NewLogger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if l.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// Config is the root configuration.
type Config struct {
	Server   Server
	Logging  Logging
	OIDC     oidc.Config
	Database database.Config
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() (Config, error) {
	cfg := Config{
		Server: Server{
			Host:  envString("SERVER_HOST", "0.0.0.0"),
			Port:  envInt("SERVER_PORT", 8000),
			Realm: envString("SERVER_REALM", "devlake-mcp"),
		},
		Logging: Logging{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		OIDC: oidc.Config{
			Enabled:               envBool("OIDC_ENABLED", false),
			IssuerURL:             strings.TrimRight(envString("OIDC_ISSUER_URL", ""), "/"),
			ClientID:              envString("OIDC_CLIENT_ID", ""),
			RequiredScopes:        envCSV("OIDC_REQUIRED_SCOPES"),
			SkipPaths:             envCSVDefault("OIDC_SKIP_PATHS", []string{"/health", "/security"}),
			JWKSCacheTTL:          envDuration("OIDC_JWKS_CACHE_TTL", oidc.DefaultJWKSCacheTTL),
			InsecureSkipTLSVerify: !envBool("OIDC_VERIFY_SSL", true),
			AllowedAlgorithms:     envCSVDefault("OIDC_ALLOWED_ALGORITHMS", []string{"RS256"}),
			OfflineTokenEnabled:   envBool("OIDC_OFFLINE_TOKEN_ENABLED", false),
			TokenExchangeClientID: envString("OIDC_TOKEN_EXCHANGE_CLIENT_ID", ""),
			AccessTokenCacheBuffer: envDuration("OIDC_ACCESS_TOKEN_CACHE_BUFFER",
				oidc.DefaultAccessTokenCacheBuffer),
		},
		Database: database.Config{
			Host:     envString("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 3306),
			User:     envString("DB_USER", "devlake"),
			Password: envString("DB_PASSWORD", ""),
			Database: envString("DB_NAME", "lake"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks for inconsistent settings.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envCSVDefault(key string, fallback []string) []string {
	if vals := envCSV(key); vals != nil {
		return vals
	}
	return fallback
}

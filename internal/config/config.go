// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the application configuration. All fields are populated
// from environment variables, read once at startup.
type Config struct {
	// Server settings.
	ListenAddr string `env:"N8NBOARD_LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath     string `env:"N8NBOARD_DB_PATH" envDefault:"n8nboard.db"`

	// Single-user fallback upstream credentials. Optional; when both are
	// set, unauthenticated requests proxy with this shared pair.
	N8NURL    string `env:"N8N_URL"`
	N8NAPIKey string `env:"N8N_API_KEY"`

	// Master key for credential encryption, base64-encoded 32 bytes.
	// Optional; without it multi-user credential storage is disabled.
	EncryptionKey string `env:"CREDENTIALS_ENCRYPTION_KEY"`

	// External auth provider used to verify bearer tokens. Optional;
	// without it every request resolves through the fallback pair.
	AuthURL        string `env:"AUTH_URL"`
	AuthServiceKey string `env:"AUTH_SERVICE_KEY"`

	// Bound on each proxied upstream call.
	UpstreamTimeout time.Duration `env:"N8NBOARD_UPSTREAM_TIMEOUT" envDefault:"30s"`

	// Comma-separated list of origins allowed by CORS; "*" allows any.
	AllowedOrigins string `env:"N8NBOARD_ALLOWED_ORIGINS" envDefault:"*"`

	// Debug adds the attempted upstream target URL to proxy failure
	// responses. Never enables logging of key material.
	Debug bool `env:"N8NBOARD_DEBUG" envDefault:"false"`
}

// Load reads configuration from environment variables and returns a
// validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("N8NBOARD_UPSTREAM_TIMEOUT must be positive, got %s", cfg.UpstreamTimeout)
	}

	return cfg, nil
}

// HasFallbackCredentials reports whether the single-user upstream pair is
// fully configured.
func (c *Config) HasFallbackCredentials() bool {
	return c.N8NURL != "" && c.N8NAPIKey != ""
}

// HasAuthProvider reports whether bearer-token verification is configured.
func (c *Config) HasAuthProvider() bool {
	return c.AuthURL != ""
}

// CORSOrigins parses the comma-separated AllowedOrigins value.
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Package config provides configuration management for GoTLSProxy.
// Settings are read once at startup from environment variables with safe
// defaults, then shared across goroutines as a read-only value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all tunable parameters for the proxy service.
// The struct is loaded once at startup and never mutated afterwards, making
// it inherently thread-safe.  Construct an explicit Config per engine rather
// than reading ambient globals so tests can instantiate multiple engines in
// one process.
type Config struct {
	// APIKey is the shared secret callers must present in the X-API-Key
	// header on every non-health endpoint.  There is deliberately no
	// production default.
	APIKey string

	// SessionTTL is the idle lifetime of a registered session.  A session
	// whose last access is older than this is evicted by the sweeper.
	SessionTTL time.Duration

	// MaxSessions caps the number of registered sessions.  Session creation
	// beyond the cap fails only after an eviction sweep has been attempted.
	MaxSessions int

	// Port is the TCP port the REST API listens on.
	Port int

	// RequestTimeout bounds a single upstream hop, including connection
	// setup, the TLS handshake, and reading the full response body.  Each
	// redirect hop gets a fresh deadline.
	RequestTimeout time.Duration

	// MaxRedirects is the maximum number of redirect hops followed within
	// one call before the engine reports too_many_redirects.
	MaxRedirects int
}

// Default values applied when the corresponding environment variable is
// absent.  These mirror the documented service defaults.
const (
	DefaultSessionTTL     = 3600 * time.Second
	DefaultMaxSessions    = 100
	DefaultPort           = 8000
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRedirects   = 5
)

// DefaultConfig returns a Config pre-filled with the service defaults and an
// empty API key.  Each call returns a fresh independent copy that callers may
// mutate before handing it to other components.
func DefaultConfig() *Config {
	return &Config{
		SessionTTL:     DefaultSessionTTL,
		MaxSessions:    DefaultMaxSessions,
		Port:           DefaultPort,
		RequestTimeout: DefaultRequestTimeout,
		MaxRedirects:   DefaultMaxRedirects,
	}
}

// FromEnv builds a Config from the process environment:
//
//	API_KEY          – caller authentication secret (no default)
//	SESSION_TTL      – session idle lifetime in seconds (default 3600)
//	MAX_SESSIONS     – registry capacity (default 100)
//	PORT             – REST API listen port (default 8000)
//	REQUEST_TIMEOUT  – per-hop upstream timeout in seconds (default 30)
//
// Unset variables keep their defaults; malformed values are an error rather
// than being silently ignored, so typos in deployment manifests surface at
// startup instead of in production traffic.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.APIKey = os.Getenv("API_KEY")

	if err := envSeconds("SESSION_TTL", &cfg.SessionTTL); err != nil {
		return nil, err
	}
	if err := envInt("MAX_SESSIONS", &cfg.MaxSessions); err != nil {
		return nil, err
	}
	if err := envInt("PORT", &cfg.Port); err != nil {
		return nil, err
	}
	if err := envSeconds("REQUEST_TIMEOUT", &cfg.RequestTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values that would make the service
// inoperable.  It does not enforce an API key so that local development can
// run without one; main logs a warning instead.
func (c *Config) Validate() error {
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT out of range: %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// SweepInterval derives how often the background sweeper runs: one tenth of
// the session TTL, floored at 10 seconds so a short TTL cannot turn the
// sweeper into a busy loop.
func (c *Config) SweepInterval() time.Duration {
	interval := c.SessionTTL / 10
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}

func envInt(name string, dst *int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("config: parse %s=%q: %w", name, raw, err)
	}
	*dst = v
	return nil
}

func envSeconds(name string, dst *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("config: parse %s=%q: %w", name, raw, err)
	}
	*dst = time.Duration(v) * time.Second
	return nil
}

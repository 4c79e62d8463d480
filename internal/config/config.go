package config

import (
	"fmt"
	"time"
)

// Limit is one rate-limit configuration: at most Max events per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// RateLimits holds the three independent limiter configurations the
// gateway runs with.
type RateLimits struct {
	// Create throttles session-creation attempts per origin.
	Create Limit
	// LookupFail throttles failed session lookups per origin
	// (anti-enumeration).
	LookupFail Limit
	// Heartbeat throttles heartbeat calls per session.
	Heartbeat Limit
}

// Provider points at the repository hosting provider used as the
// source of truth for repository visibility.
type Provider struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Config is the explicit configuration object passed at construction
// time. Nothing below the cmd layer reads environment variables; the
// session-scoped mode always takes precedence over DefaultMode, and
// Strict removes the DefaultMode fallback entirely.
type Config struct {
	ListenAddr string

	// DataDir holds the session table file, the audit database and the
	// worktree layout.
	DataDir string

	// AdminToken is the administrative credential. It is a distinct
	// secret class from session tokens and never interchangeable with
	// them.
	AdminToken string

	SessionTTL    time.Duration
	SweepInterval time.Duration

	// DefaultMode is the deprecated process-wide fallback mode, applied
	// only when a request carries no determinable session mode and
	// Strict is off.
	DefaultMode string
	// Strict forces any request lacking a determinable mode or target
	// repository to be denied outright.
	Strict bool

	// GitTimeout bounds every forwarded call into the underlying
	// version-control engine.
	GitTimeout time.Duration

	Provider   Provider
	RateLimits RateLimits
}

// Validate checks the fields that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	if c.AdminToken == "" {
		return fmt.Errorf("admin token is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.SessionTTL)
	}
	switch c.DefaultMode {
	case "", "private", "public":
	default:
		return fmt.Errorf("unrecognized default mode %q", c.DefaultMode)
	}
	if !c.Strict && c.DefaultMode == "" {
		return fmt.Errorf("a default mode is required unless strict is on")
	}
	return nil
}

// Default returns a Config with every tunable set to its default.
// Secrets and paths stay empty on purpose.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8611",
		SessionTTL:    time.Hour,
		SweepInterval: time.Minute,
		DefaultMode:   "private",
		Strict:        false,
		GitTimeout:    2 * time.Minute,
		Provider: Provider{
			Timeout: 10 * time.Second,
		},
		RateLimits: RateLimits{
			Create:     Limit{Max: 10, Window: time.Minute},
			LookupFail: Limit{Max: 20, Window: time.Minute},
			Heartbeat:  Limit{Max: 60, Window: time.Minute},
		},
	}
}

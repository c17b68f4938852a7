// Package config defines service configuration and its defaults.
//
// Keys are flat snake_case so the same name works in YAML files and in
// PODIUM_* environment variables.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRiver  = "river"
)

// Ledger drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Notification drop policies.
const (
	DropOldest = "drop_oldest"
	DropNewest = "drop_newest"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// LedgerDriver selects postgres or sqlite.
	LedgerDriver string `koanf:"ledger_driver"`
	// LedgerDSN is the connection string for the ledger database.
	LedgerDSN string `koanf:"ledger_dsn"`
	// LedgerTimeout bounds a single ledger call.
	LedgerTimeout time.Duration `koanf:"ledger_timeout"`
	// BreakerFailures opens the ledger circuit after this many consecutive failures.
	BreakerFailures int `koanf:"breaker_failures"`
	// BreakerCooldown is how long an open circuit rejects calls.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// QueueBackend is memory or river.
	QueueBackend string `koanf:"queue_backend"`
	// QueueSize bounds the in-memory durability queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of durability workers.
	WorkerCount int `koanf:"worker_count"`
	// JobMaxAttempts caps retries of a durability job.
	JobMaxAttempts int `koanf:"job_max_attempts"`

	// DedupeSize sets the size of the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size"`

	// DefaultLimit is used when a top query carries no limit.
	DefaultLimit int `koanf:"default_limit"`
	// MaxLimit caps top query limits.
	MaxLimit int `koanf:"max_limit"`
	// RebuildWindow is how many ledger rows a rebuild loads.
	RebuildWindow int `koanf:"rebuild_window"`
	// IdleTTL evicts leaderboards untouched for this long; 0 disables.
	IdleTTL time.Duration `koanf:"idle_ttl"`
	// ReconcileInterval schedules rank reconciliation; 0 disables.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	// SubscriberBuffer is the per-connection notification buffer.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
	// DropPolicy is drop_oldest or drop_newest.
	DropPolicy string `koanf:"drop_policy"`
	// NATSURL enables cross-instance fan-out when set.
	NATSURL string `koanf:"nats_url"`
	// NATSSubjectPrefix prefixes per-leaderboard subjects.
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`

	// RateLimitRPS limits score submissions per second; 0 disables.
	RateLimitRPS float64 `koanf:"rate_limit_rps"`
	// RateLimitBurst is the token bucket size.
	RateLimitBurst int `koanf:"rate_limit_burst"`
}

// New returns a Config with defaults suitable for a single local instance.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		ShutdownTimeout:   10 * time.Second,
		LedgerDriver:      DriverSQLite,
		LedgerDSN:         "file:podium.db?cache=shared",
		LedgerTimeout:     2 * time.Second,
		BreakerFailures:   5,
		BreakerCooldown:   15 * time.Second,
		QueueBackend:      QueueMemory,
		QueueSize:         100_000,
		WorkerCount:       runtime.NumCPU() * 2,
		JobMaxAttempts:    5,
		DedupeSize:        100_000,
		DefaultLimit:      10,
		MaxLimit:          100,
		RebuildWindow:     1000,
		IdleTTL:           0,
		ReconcileInterval: time.Minute,
		SubscriberBuffer:  64,
		DropPolicy:        DropOldest,
		NATSSubjectPrefix: "podium.leaderboard",
		RateLimitRPS:      0,
		RateLimitBurst:    100,
	}
}

// Validate reports the first inconsistency found in c.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.LedgerDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: unknown ledger_driver %q", ErrInvalidConfig, c.LedgerDriver)
	}
	switch c.QueueBackend {
	case QueueMemory:
	case QueueRiver:
		if c.LedgerDriver != DriverPostgres {
			return fmt.Errorf("%w: queue_backend river requires ledger_driver postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown queue_backend %q", ErrInvalidConfig, c.QueueBackend)
	}
	switch c.DropPolicy {
	case DropOldest, DropNewest:
	default:
		return fmt.Errorf("%w: unknown drop_policy %q", ErrInvalidConfig, c.DropPolicy)
	}
	if c.DefaultLimit <= 0 || c.MaxLimit < c.DefaultLimit {
		return fmt.Errorf("%w: default_limit must be positive and not above max_limit", ErrInvalidConfig)
	}
	if c.RebuildWindow <= 0 {
		return fmt.Errorf("%w: rebuild_window must be positive", ErrInvalidConfig)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("%w: rate_limit_rps must not be negative", ErrInvalidConfig)
	}
	return nil
}

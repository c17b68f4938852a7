package repository

import (
	"time"

	"github.com/okian/podium/pkg/logger"
)

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithMetricsUpdateInterval sets the interval for background gauge updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *TreapStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithIdleTTL evicts leaderboards untouched for ttl. Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *TreapStore) {
		if ttl >= 0 {
			s.idleTTL = ttl
		}
	}
}

// WithJanitorInterval sets how often idle leaderboards are looked for.
func WithJanitorInterval(interval time.Duration) Option {
	return func(s *TreapStore) {
		if interval > 0 {
			s.janitorInterval = interval
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *TreapStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *TreapStore) {
		if now != nil {
			s.now = now
		}
	}
}

package service

import (
	"time"

	"github.com/okian/podium/internal/adapters/ledger"
	"github.com/okian/podium/internal/adapters/mq/queue"
	"github.com/okian/podium/internal/adapters/notify"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/dedupe"
	"github.com/okian/podium/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLedger sets the durable ledger. Required.
func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

// WithStore injects a ranking store. The caller keeps ownership.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithJobQueue injects a job queue. Without one the service runs an
// in-memory queue drained by its own worker pool.
func WithJobQueue(q queue.JobQueue) Option {
	return func(s *Service) {
		s.jobs = q
	}
}

// WithPublisher injects the notification publisher. Without one the service
// creates a hub.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
		if hub, ok := p.(*notify.Hub); ok {
			s.hub = hub
		}
	}
}

// WithDeduper injects the idempotency key store.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		s.deduper = d
	}
}

// WithWorkerCount sets the number of durability workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the in-memory job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithJobMaxAttempts bounds retries of a durability job.
func WithJobMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.jobMaxAttempts = n
		}
	}
}

// WithDedupeSize sets the size of the idempotency cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLimits sets the default and the largest page size of top queries.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// WithRebuildWindow sets how many ledger rows a rebuild loads.
func WithRebuildWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.rebuildWindow = n
		}
	}
}

// WithIdleTTL evicts leaderboards from the store after this much idle time.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.idleTTL = d
		}
	}
}

// WithReconcileInterval sets how often stored ranks are written back to the
// ledger. Zero disables reconciliation.
func WithReconcileInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.reconcileInterval = d
		}
	}
}

// WithSubscriberBuffer sets the per-connection notification buffer.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithDropPolicy selects the notification backpressure policy.
func WithDropPolicy(policy string) Option {
	return func(s *Service) {
		if policy != "" {
			s.dropPolicy = policy
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

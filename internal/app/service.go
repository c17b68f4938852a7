// Package service is the ranking engine: score ingestion, ranking queries,
// cache rebuilds and leaderboard lifecycle, on top of the ranking store,
// the ledger, the job queue and the notification hub.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/okian/podium/internal/adapters/ledger"
	"github.com/okian/podium/internal/adapters/mq/queue"
	"github.com/okian/podium/internal/adapters/mq/worker"
	"github.com/okian/podium/internal/adapters/notify"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/dedupe"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

const tracerName = "github.com/okian/podium/internal/app"

// Service implements the API dependencies for the ranking engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ledger    ledger.Ledger
	jobs      queue.JobQueue
	publisher notify.Publisher
	hub       *notify.Hub
	deduper   dedupe.Deduper
	pool      *worker.Pool
	memQueue  *queue.InMemoryQueue
	scheduler gocron.Scheduler

	// components created by Start and released by Stop
	ownStore bool
	ownHub   bool

	rebuilds singleflight.Group
	tracer   trace.Tracer

	// Configuration
	workerCount       int
	queueSize         int
	jobMaxAttempts    int
	dedupeSize        int
	defaultLimit      int
	maxLimit          int
	rebuildWindow     int
	idleTTL           time.Duration
	reconcileInterval time.Duration
	subscriberBuffer  int
	dropPolicy        string

	// State
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    runtime.NumCPU() * 2,
		queueSize:      100000,
		jobMaxAttempts: 5,
		dedupeSize:     100000,
		defaultLimit:   repository.DefaultLimit,
		maxLimit:       100,
		rebuildWindow:  1000,
		dropPolicy:     notify.DropOldest,
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	}
	return s
}

// Start initializes the components that were not injected and starts the
// background work. A ledger is required.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.ledger == nil {
		return wrapError("service.start", ErrNotStarted, errLedgerRequired)
	}

	s.logger.Info(ctx, "starting ranking service...")
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if s.store == nil {
		s.store = repository.NewTreapStore(s.runCtx,
			repository.WithIdleTTL(s.idleTTL),
			repository.WithLogger(s.logger.Named("store")),
		)
		s.ownStore = true
	}
	if s.publisher == nil {
		s.hub = notify.NewHub(
			notify.WithBufferSize(s.subscriberBuffer),
			notify.WithDropPolicy(s.dropPolicy),
			notify.WithLogger(s.logger.Named("notify")),
		)
		s.publisher = s.hub
		s.ownHub = true
	}
	if s.jobs == nil {
		s.memQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
		s.pool = worker.NewPool(s.workerCount, s.memQueue, s.ledger,
			worker.WithMaxAttempts(s.jobMaxAttempts),
			worker.WithLogger(s.logger.Named("worker")),
		)
		s.pool.Start(s.runCtx)
		s.jobs = s.memQueue
	}
	if err := s.startReconciler(); err != nil {
		s.cancel()
		return err
	}

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("rebuildWindow", s.rebuildWindow),
		logger.Duration("reconcileInterval", s.reconcileInterval),
	)
	return nil
}

// Stop gracefully shuts down the service. Detached durability work is
// allowed to reach the queue and the queue is drained before returning.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping ranking service...")

	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			s.logger.Warn(ctx, "reconciler shutdown", logger.Error(err))
		}
		s.scheduler = nil
	}

	s.bg.Wait()

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		}
		s.pool, s.memQueue, s.jobs = nil, nil, nil
	}
	if s.ownHub && s.hub != nil {
		s.hub.Close()
		s.hub, s.publisher, s.ownHub = nil, nil, false
	}
	if s.ownStore {
		if closer, ok := s.store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		s.store, s.ownStore = nil, false
	}
	s.cancel()

	s.started = false
	s.logger.Info(ctx, "ranking service stopped")
}

// Hub returns the notification hub, or nil when a custom publisher was
// injected.
func (s *Service) Hub() *notify.Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// begin guards a public operation. The returned release must be called.
func (s *Service) begin(op string) (func(), error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return nil, newError(op, ErrNotStarted)
	}
	return s.mu.RUnlock, nil
}

// detach runs fn after the caller has been answered. fn sees a context
// that keeps the caller's values but not its cancellation.
func (s *Service) detach(ctx context.Context, fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

// SeenAndRecord atomically checks if an idempotency key was seen and records
// it if not.
func (s *Service) SeenAndRecord(ctx context.Context, key string) bool {
	seen := s.deduper.SeenAndRecord(ctx, key)
	if seen {
		metrics.RecordDuplicate()
	}
	return seen
}

// Unrecord forgets an idempotency key so the request can be retried.
func (s *Service) Unrecord(ctx context.Context, key string) {
	s.deduper.Unrecord(ctx, key)
}

// Size returns the current number of remembered idempotency keys.
func (s *Service) Size() int64 {
	return s.deduper.Size()
}

// Package worker drains the in-memory job queue and applies durability jobs
// to the ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxAttempts      = 5
	defaultInitialBackoff   = 100 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// ErrInvalidJob marks a job that can never be applied.
var ErrInvalidJob = errors.New("invalid durability job")

// Persister applies a durability job. Applying the same job twice must be
// harmless.
type Persister interface {
	PersistScoreAndRank(ctx context.Context, job model.DurabilityJob) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.DurabilityJob
}

// Worker applies jobs read from a queue.
type Worker interface {
	// Run consumes jobs until ctx is canceled, Shutdown is called or the
	// queue channel is closed.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining the queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	persister Persister
	name      string

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// counters shared with the owning pool, if any
	processed *atomic.Int64
	failed    *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, persister Persister, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:          queue,
		persister:      persister,
		name:           "worker",
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		processed:      new(atomic.Int64),
		failed:         new(atomic.Int64),
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		logger:         logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.logger.Error(ctx, "durability job failed",
					logger.String("leaderboard_id", job.LeaderboardID),
					logger.String("player_id", job.PlayerID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker and waits for the current job to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.initialBackoff
	exp.MaxInterval = w.maxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(w.maxAttempts-1)), ctx) //nolint:gosec // maxAttempts >= 1
}

// process applies one job, retrying transient failures with exponential
// backoff. The ledger write is idempotent so a retry after a partial failure
// is safe.
func (w *InMemoryWorker) process(ctx context.Context, job model.DurabilityJob) error { //nolint:gocritic // hugeParam: jobs travel by value
	start := time.Now()
	attempts := 0

	op := func() error {
		attempts++
		if !job.Valid() {
			return backoff.Permanent(ErrInvalidJob)
		}
		err := w.persister.PersistScoreAndRank(ctx, job)
		if err != nil && attempts < w.maxAttempts {
			w.logger.Debug(ctx, "retrying durability job",
				logger.String("player_id", job.PlayerID),
				logger.Int("attempt", attempts),
				logger.Error(err))
		}
		return err
	}

	err := backoff.Retry(op, w.policy(ctx))
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		w.failed.Add(1)
		outcome := "failed"
		if errors.Is(err, ErrInvalidJob) {
			outcome = "invalid"
		}
		metrics.RecordJob(outcome, attempts, latency)
		metrics.RecordErrorByComponent("worker", outcome)
		return fmt.Errorf("after %d attempt(s): %w", attempts, err)
	}
	w.processed.Add(1)
	metrics.RecordJob("ok", attempts, latency)
	return nil
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	processed atomic.Int64
	failed    atomic.Int64

	cancel context.CancelFunc
	logger logger.Logger
}

// NewPool creates a new worker pool. opts apply to every worker.
func NewPool(workerCount int, queue Queue, persister Persister, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	// The pool logs through the same logger its workers are given.
	base := &InMemoryWorker{}
	for _, opt := range opts {
		opt(base)
	}
	if base.logger == nil {
		base.logger = logger.Get()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  base.logger.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(queue, persister, workerOpts...)
		w.processed, w.failed = &pool.processed, &pool.failed
		pool.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		go w.Run(runCtx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   len(p.workers),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Shutdown closes the queue and lets the workers drain what is already
// queued. Workers still busy when ctx (or poolShutdownTimeout) expires are
// cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
		}
		if timedOut {
			break
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	p.logger.Info(ctx, "worker pool stopped", logger.Int64("processed", p.processed.Load()))
	return nil
}

// Package riverq is the PostgreSQL-backed job queue built on River. Jobs
// survive restarts and are retried by River with its own backoff.
package riverq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/okian/podium/internal/adapters/mq/worker"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

const (
	defaultMaxWorkers  = 25
	defaultMaxAttempts = 5
)

// PersistScoreArgs is the River payload of a durability job.
type PersistScoreArgs struct {
	LeaderboardID string          `json:"leaderboard_id"`
	PlayerID      string          `json:"player_id"`
	Score         float64         `json:"score"`
	Rank          int             `json:"rank"`
	Metadata      *model.Metadata `json:"metadata,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// Kind returns the job type identifier for River.
func (PersistScoreArgs) Kind() string { return model.JobName }

// InsertOpts routes every durability job to the scores queue.
func (PersistScoreArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: model.JobTopic, MaxAttempts: defaultMaxAttempts}
}

func argsFromJob(j model.DurabilityJob) PersistScoreArgs { //nolint:gocritic // hugeParam: jobs travel by value
	return PersistScoreArgs{
		LeaderboardID: j.LeaderboardID,
		PlayerID:      j.PlayerID,
		Score:         j.Score,
		Rank:          j.Rank,
		Metadata:      j.Metadata,
		EnqueuedAt:    j.EnqueuedAt,
	}
}

func (a PersistScoreArgs) job() model.DurabilityJob { //nolint:gocritic // hugeParam: args travel by value
	return model.DurabilityJob{
		LeaderboardID: a.LeaderboardID,
		PlayerID:      a.PlayerID,
		Score:         a.Score,
		Rank:          a.Rank,
		Metadata:      a.Metadata,
		EnqueuedAt:    a.EnqueuedAt,
	}
}

// PersistScoreWorker applies durability jobs pulled by River.
type PersistScoreWorker struct {
	river.WorkerDefaults[PersistScoreArgs]
	persister worker.Persister
	logger    logger.Logger
}

// NewPersistScoreWorker returns a River worker writing to persister.
func NewPersistScoreWorker(persister worker.Persister, log logger.Logger) *PersistScoreWorker {
	if log == nil {
		log = logger.Get().Named("riverq")
	}
	return &PersistScoreWorker{persister: persister, logger: log}
}

// Work implements river.Worker. An invalid payload is cancelled instead of
// retried.
func (w *PersistScoreWorker) Work(ctx context.Context, job *river.Job[PersistScoreArgs]) error {
	start := time.Now()
	j := job.Args.job()
	if !j.Valid() {
		metrics.RecordJob("invalid", job.Attempt, 0)
		return river.JobCancel(worker.ErrInvalidJob)
	}

	err := w.persister.PersistScoreAndRank(ctx, j)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		metrics.RecordJob("retry", job.Attempt, latency)
		w.logger.Warn(ctx, "durability job failed",
			logger.String("leaderboard_id", j.LeaderboardID),
			logger.String("player_id", j.PlayerID),
			logger.Int("attempt", job.Attempt),
			logger.Error(err))
		return err
	}
	metrics.RecordJob("ok", job.Attempt, latency)
	return nil
}

// Queue enqueues durability jobs into River and runs the workers that
// consume them.
type Queue struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger logger.Logger

	maxWorkers int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxWorkers sets how many jobs this process runs concurrently.
func WithMaxWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxWorkers = n
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New connects to PostgreSQL and builds a River client with the durability
// worker registered. Call Start to begin working jobs.
func New(ctx context.Context, dsn string, persister worker.Persister, opts ...Option) (*Queue, error) {
	q := &Queue{maxWorkers: defaultMaxWorkers}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Get().Named("riverq")
	}

	pool, err := connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewPersistScoreWorker(persister, q.logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			model.JobTopic: {MaxWorkers: q.maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}

	q.pool = pool
	q.client = client
	metrics.UpdateWorkerCount(q.maxWorkers)
	return q, nil
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Start begins working jobs.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	q.logger.Info(ctx, "river queue started", logger.Int("max_workers", q.maxWorkers))
	return nil
}

// Shutdown waits for running jobs to finish, then releases the pool.
// Jobs not yet started stay in the database for the next process.
func (q *Queue) Shutdown(ctx context.Context) error {
	defer q.pool.Close()
	if err := q.client.Stop(ctx); err != nil {
		return fmt.Errorf("stop river client: %w", err)
	}
	metrics.UpdateWorkerCount(0)
	return nil
}

// Enqueue inserts a durability job.
func (q *Queue) Enqueue(ctx context.Context, job model.DurabilityJob) error { //nolint:gocritic // hugeParam: jobs travel by value
	if !job.Valid() {
		metrics.RecordQueueEnqueueError("invalid")
		return worker.ErrInvalidJob
	}
	if _, err := q.client.Insert(ctx, argsFromJob(job), nil); err != nil {
		metrics.RecordQueueEnqueueError("insert")
		return fmt.Errorf("insert durability job: %w", err)
	}
	metrics.RecordQueueEnqueue()
	return nil
}

// Len reports jobs waiting in the scores queue.
func (q *Queue) Len(ctx context.Context) int {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM river_job WHERE queue = $1 AND state IN ('available', 'scheduled', 'retryable')`,
		model.JobTopic).Scan(&n)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			q.logger.Debug(ctx, "count river jobs", logger.Error(err))
		}
		return 0
	}
	metrics.UpdateQueueSize(n)
	return n
}

// Migrate brings River's tables up to date.
func Migrate(ctx context.Context, dsn string) error {
	pool, err := connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{}); err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	return nil
}

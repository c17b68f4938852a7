package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// BunLedger implements Ledger on PostgreSQL or SQLite through bun.
type BunLedger struct {
	db      *bun.DB
	timeout time.Duration
	now     func() time.Time
	logger  logger.Logger
}

// Option configures a BunLedger.
type Option func(*BunLedger)

// WithTimeout bounds every ledger call.
func WithTimeout(d time.Duration) Option {
	return func(l *BunLedger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *BunLedger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// Open connects to the ledger database and verifies the connection.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*BunLedger, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
	)
	switch driver {
	case DriverPostgres:
		sqldb = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite:
		var err error
		sqldb, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: open sqlite: %w", ErrUnavailable, err)
		}
		// One writer at a time; also keeps an in-memory database alive.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrUnavailable, driver, err)
	}
	return New(db, opts...), nil
}

// New wraps an existing bun.DB.
func New(db *bun.DB, opts ...Option) *BunLedger {
	l := &BunLedger{
		db:      db,
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Get().Named("ledger")
	}
	return l
}

// DB exposes the underlying handle for migrations and health checks.
func (l *BunLedger) DB() *bun.DB { return l.db }

// Close releases the connection pool.
func (l *BunLedger) Close() error { return l.db.Close() }

// Ping checks that the database answers.
func (l *BunLedger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// CreateSchema creates tables and indexes that do not exist yet.
func (l *BunLedger) CreateSchema(ctx context.Context) error {
	for _, m := range []any{(*leaderboardRow)(nil), (*playerRow)(nil)} {
		if _, err := l.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, err := l.db.NewCreateIndex().
		Model((*playerRow)(nil)).
		Index("players_leaderboard_score_idx").
		IfNotExists().
		Column("leaderboard_id").
		ColumnExpr("score DESC").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (l *BunLedger) call(ctx context.Context, op string) (context.Context, func()) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	return ctx, func() {
		cancel()
		metrics.RecordLedgerLatency(op, float64(time.Since(start).Microseconds())/1000)
	}
}

// classify maps driver errors onto the package sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	metrics.RecordErrorByComponent("ledger", op)
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// FetchTopByLeaderboard implements Ledger.
func (l *BunLedger) FetchTopByLeaderboard(ctx context.Context, leaderboardID string, limit int) ([]model.Player, error) {
	ctx, done := l.call(ctx, "fetch_top")
	defer done()

	var rows []playerRow
	err := l.db.NewSelect().
		Model(&rows).
		Where("leaderboard_id = ?", leaderboardID).
		OrderExpr("score DESC, id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classify("fetch_top", err)
	}

	out := make([]model.Player, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// FindPlayer implements Ledger.
func (l *BunLedger) FindPlayer(ctx context.Context, leaderboardID, playerID string) (model.Player, error) {
	ctx, done := l.call(ctx, "find_player")
	defer done()

	row := new(playerRow)
	err := l.db.NewSelect().
		Model(row).
		Where("leaderboard_id = ?", leaderboardID).
		Where("id = ?", playerID).
		Scan(ctx)
	if err != nil {
		return model.Player{}, classify("find_player", err)
	}
	return row.toModel(), nil
}

// PersistScoreAndRank implements Ledger. Metadata columns are only written
// when the job carries metadata.
//
// The row is stamped with the job's EnqueuedAt (now when unset) and a job
// older than the stored row is ignored, so late retries never roll a
// player back to a superseded score.
func (l *BunLedger) PersistScoreAndRank(ctx context.Context, job model.DurabilityJob) error {
	ctx, done := l.call(ctx, "persist")
	defer done()

	stamp := job.EnqueuedAt.UTC()
	if job.EnqueuedAt.IsZero() {
		stamp = l.now()
	}
	row := &playerRow{
		LeaderboardID: job.LeaderboardID,
		ID:            job.PlayerID,
		Score:         job.Score,
		Rank:          job.Rank,
		UpdatedAt:     stamp,
	}
	q := l.db.NewInsert().
		Model(row).
		On("CONFLICT (leaderboard_id, id) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("rank = EXCLUDED.rank").
		Set("updated_at = EXCLUDED.updated_at").
		Where("p.updated_at <= EXCLUDED.updated_at")
	if job.Metadata != nil {
		row.Username = job.Metadata.Username
		row.AvatarURL = job.Metadata.AvatarURL
		q = q.Set("username = EXCLUDED.username").
			Set("avatar_url = EXCLUDED.avatar_url")
	}
	if _, err := q.Exec(ctx); err != nil {
		return classify("persist", err)
	}
	return nil
}

// DeletePlayer implements Ledger.
func (l *BunLedger) DeletePlayer(ctx context.Context, leaderboardID, playerID string) error {
	ctx, done := l.call(ctx, "delete_player")
	defer done()

	res, err := l.db.NewDelete().
		Model((*playerRow)(nil)).
		Where("leaderboard_id = ?", leaderboardID).
		Where("id = ?", playerID).
		Exec(ctx)
	if err != nil {
		return classify("delete_player", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateLeaderboard implements Ledger. An empty id is replaced by a UUID.
func (l *BunLedger) CreateLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error) {
	ctx, done := l.call(ctx, "create_leaderboard")
	defer done()

	now := l.now()
	row := &leaderboardRow{
		ID:        lb.ID,
		Name:      lb.Name,
		GameID:    lb.GameID,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if _, err := l.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return model.Leaderboard{}, classify("create_leaderboard", err)
	}
	return row.toModel(), nil
}

// GetLeaderboard implements Ledger.
func (l *BunLedger) GetLeaderboard(ctx context.Context, id string) (model.Leaderboard, error) {
	ctx, done := l.call(ctx, "get_leaderboard")
	defer done()

	row := new(leaderboardRow)
	if err := l.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return model.Leaderboard{}, classify("get_leaderboard", err)
	}
	return row.toModel(), nil
}

// ArchiveLeaderboard implements Ledger.
func (l *BunLedger) ArchiveLeaderboard(ctx context.Context, id string) error {
	ctx, done := l.call(ctx, "archive_leaderboard")
	defer done()

	res, err := l.db.NewUpdate().
		Model((*leaderboardRow)(nil)).
		Set("status = ?", model.StatusArchived).
		Set("updated_at = ?", l.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return classify("archive_leaderboard", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveLeaderboards implements Ledger.
func (l *BunLedger) ListActiveLeaderboards(ctx context.Context) ([]model.Leaderboard, error) {
	ctx, done := l.call(ctx, "list_leaderboards")
	defer done()

	var rows []leaderboardRow
	err := l.db.NewSelect().
		Model(&rows).
		Where("status = ?", model.StatusActive).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classify("list_leaderboards", err)
	}
	out := make([]model.Leaderboard, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

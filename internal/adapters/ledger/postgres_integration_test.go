package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

// TestPostgresLedger runs the ledger against a real PostgreSQL container.
// Set PODIUM_INTEGRATION=1 to enable it.
func TestPostgresLedger(t *testing.T) {
	if os.Getenv("PODIUM_INTEGRATION") != "1" {
		t.Skip("set PODIUM_INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("podium"),
		postgres.WithUsername("podium"),
		postgres.WithPassword("podium"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	l, err := Open(ctx, DriverPostgres, dsn, WithLogger(logger.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.CreateSchema(ctx))

	lb, err := l.CreateLeaderboard(ctx, model.Leaderboard{Name: "season"})
	require.NoError(t, err)

	for i, s := range []float64{100, 300, 200} {
		require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
			LeaderboardID: lb.ID,
			PlayerID:      []string{"a", "b", "c"}[i],
			Score:         s,
			Rank:          1,
		}))
	}
	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{LeaderboardID: lb.ID, PlayerID: "a", Score: 400, Rank: 1}))
	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
		LeaderboardID: lb.ID, PlayerID: "a", Score: 1, Rank: 3,
		EnqueuedAt: time.Now().Add(-time.Hour),
	}))

	rows, err := l.FetchTopByLeaderboard(ctx, lb.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)
	assert.Equal(t, "c", rows[2].ID)

	require.NoError(t, l.ArchiveLeaderboard(ctx, lb.ID))
	active, err := l.ListActiveLeaderboards(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

func openSQLite(t *testing.T) *BunLedger {
	t.Helper()
	ctx := context.Background()
	l, err := Open(ctx, DriverSQLite, ":memory:", WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, l.CreateSchema(ctx))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	require.Error(t, err)
}

func TestCreateSchemaIsRepeatable(t *testing.T) {
	l := openSQLite(t)
	require.NoError(t, l.CreateSchema(context.Background()))
	require.NoError(t, l.Ping(context.Background()))
}

func TestPersistScoreAndRankIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)

	job := model.DurabilityJob{
		LeaderboardID: "lb",
		PlayerID:      "p1",
		Score:         42.5,
		Rank:          3,
		Metadata:      &model.Metadata{Username: "ann", AvatarURL: "a.png"},
	}
	require.NoError(t, l.PersistScoreAndRank(ctx, job))
	first, err := l.FindPlayer(ctx, "lb", "p1")
	require.NoError(t, err)

	require.NoError(t, l.PersistScoreAndRank(ctx, job))
	second, err := l.FindPlayer(ctx, "lb", "p1")
	require.NoError(t, err)

	ignoreTime := cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".UpdatedAt" }, cmp.Ignore())
	if diff := cmp.Diff(first, second, ignoreTime); diff != "" {
		t.Fatalf("second apply changed the row (-first +second):\n%s", diff)
	}
	assert.Equal(t, 42.5, second.Score)
	assert.Equal(t, 3, second.Rank)
	assert.Equal(t, "ann", second.Metadata.Username)
}

func TestPersistKeepsMetadataWhenJobHasNone(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)

	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
		LeaderboardID: "lb", PlayerID: "p1", Score: 1, Rank: 1,
		Metadata: &model.Metadata{Username: "ann"},
	}))
	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
		LeaderboardID: "lb", PlayerID: "p1", Score: 9, Rank: 1,
	}))

	p, err := l.FindPlayer(ctx, "lb", "p1")
	require.NoError(t, err)
	assert.Equal(t, 9.0, p.Score)
	assert.Equal(t, "ann", p.Metadata.Username)
}

func TestPersistIgnoresOlderJobs(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
		LeaderboardID: "lb", PlayerID: "p1", Score: 75, Rank: 1,
		EnqueuedAt: t0.Add(time.Second),
	}))
	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
		LeaderboardID: "lb", PlayerID: "p1", Score: 50, Rank: 2,
		Metadata:   &model.Metadata{Username: "stale"},
		EnqueuedAt: t0,
	}))

	p, err := l.FindPlayer(ctx, "lb", "p1")
	require.NoError(t, err)
	assert.Equal(t, 75.0, p.Score)
	assert.Equal(t, 1, p.Rank)
	assert.Empty(t, p.Metadata.Username)
	assert.True(t, p.UpdatedAt.Equal(t0.Add(time.Second)), "updated_at %v", p.UpdatedAt)

	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
		LeaderboardID: "lb", PlayerID: "p1", Score: 90, Rank: 1,
		EnqueuedAt: t0.Add(2 * time.Second),
	}))
	p, err = l.FindPlayer(ctx, "lb", "p1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, p.Score)
}

func TestFetchTopOrdering(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)

	scores := map[string]float64{"b": 10, "a": 10, "c": 30, "d": 5}
	for id, s := range scores {
		require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{LeaderboardID: "lb", PlayerID: id, Score: s, Rank: 1}))
	}
	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{LeaderboardID: "other", PlayerID: "x", Score: 1000, Rank: 1}))

	rows, err := l.FetchTopByLeaderboard(ctx, "lb", 3)
	require.NoError(t, err)
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	empty, err := l.FetchTopByLeaderboard(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeletePlayer(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)

	require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{LeaderboardID: "lb", PlayerID: "p1", Score: 1, Rank: 1}))
	require.NoError(t, l.DeletePlayer(ctx, "lb", "p1"))
	_, err := l.FindPlayer(ctx, "lb", "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.DeletePlayer(ctx, "lb", "p1"), ErrNotFound)
}

func TestFindPlayerNotFound(t *testing.T) {
	l := openSQLite(t)
	_, err := l.FindPlayer(context.Background(), "lb", "ghost")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestLeaderboardLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)

	created, err := l.CreateLeaderboard(ctx, model.Leaderboard{Name: "weekly", GameID: "g1"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusActive, created.Status)

	named, err := l.CreateLeaderboard(ctx, model.Leaderboard{ID: "fixed", Name: "daily"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", named.ID)

	got, err := l.GetLeaderboard(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "weekly", got.Name)
	assert.Equal(t, "g1", got.GameID)

	active, err := l.ListActiveLeaderboards(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, l.ArchiveLeaderboard(ctx, created.ID))
	got, err = l.GetLeaderboard(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, got.Status)

	active, err = l.ListActiveLeaderboards(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fixed", active[0].ID)

	assert.ErrorIs(t, l.ArchiveLeaderboard(ctx, "missing"), ErrNotFound)
	_, err = l.GetLeaderboard(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, DriverSQLite, ":memory:", WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.FetchTopByLeaderboard(ctx, "lb", 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	err = l.PersistScoreAndRank(ctx, model.DurabilityJob{LeaderboardID: "lb", PlayerID: "p", Rank: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchTopWindow(t *testing.T) {
	ctx := context.Background()
	l := openSQLite(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, l.PersistScoreAndRank(ctx, model.DurabilityJob{
			LeaderboardID: "lb", PlayerID: fmt.Sprintf("p%02d", i), Score: float64(i), Rank: 50 - i,
		}))
	}
	rows, err := l.FetchTopByLeaderboard(ctx, "lb", 20)
	require.NoError(t, err)
	require.Len(t, rows, 20)
	assert.Equal(t, "p49", rows[0].ID)
	assert.Equal(t, "p30", rows[19].ID)
}

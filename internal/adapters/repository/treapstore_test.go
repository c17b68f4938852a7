package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

func newTestStore(t *testing.T, opts ...Option) *TreapStore {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	s := NewTreapStore(context.Background(), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if count := store.Count(ctx, "lb"); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	if err := store.Upsert(ctx, "lb", "p1", 85.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count := store.Count(ctx, "lb"); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	entry, err := store.RankOf(ctx, "lb", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.Score != 85.5 {
		t.Errorf("expected rank 1 score 85.5, got %+v", entry)
	}

	entries, err := store.TopN(ctx, "lb", 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].PlayerID != "p1" {
		t.Errorf("unexpected top: %+v", entries)
	}
}

func TestTreapStore_UpsertReplacesScore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "p1", 100)
	mustUpsert(t, store, "lb", "p2", 200)
	mustUpsert(t, store, "lb", "p1", 150)

	e, _ := store.RankOf(ctx, "lb", "p1")
	if e.Score != 150 || e.Rank != 2 {
		t.Errorf("expected score 150 rank 2, got %+v", e)
	}

	// Lower scores replace too; nothing keeps the best.
	mustUpsert(t, store, "lb", "p2", 10)
	e, _ = store.RankOf(ctx, "lb", "p2")
	if e.Score != 10 || e.Rank != 2 {
		t.Errorf("expected score 10 rank 2, got %+v", e)
	}
	if store.Count(ctx, "lb") != 2 {
		t.Errorf("expected 2 entries, got %d", store.Count(ctx, "lb"))
	}
}

func TestTreapStore_TieBreakByPlayerID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "c", 50)
	mustUpsert(t, store, "lb", "a", 50)
	mustUpsert(t, store, "lb", "b", 50)
	mustUpsert(t, store, "lb", "z", 60)

	top, err := store.TopN(ctx, "lb", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"z", "a", "b", "c"}
	for i, w := range want {
		if top[i].PlayerID != w || top[i].Rank != i+1 {
			t.Errorf("position %d: want %s rank %d, got %+v", i, w, i+1, top[i])
		}
	}
}

func TestTreapStore_TopNOffsetAndDefaults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for i := 0; i < 25; i++ {
		mustUpsert(t, store, "lb", fmt.Sprintf("p%02d", i), float64(i))
	}

	top, _ := store.TopN(ctx, "lb", 0, 0)
	if len(top) != DefaultLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultLimit, len(top))
	}

	page, _ := store.TopN(ctx, "lb", 20, 10)
	if len(page) != 5 {
		t.Fatalf("expected 5 entries past offset 20, got %d", len(page))
	}
	if page[0].Rank != 21 || page[0].PlayerID != "p04" {
		t.Errorf("unexpected first entry of page: %+v", page[0])
	}

	empty, err := store.TopN(ctx, "lb", 30, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty page, got %v %v", empty, err)
	}

	missing, err := store.TopN(ctx, "nope", 0, 10)
	if err != nil || missing == nil || len(missing) != 0 {
		t.Errorf("expected empty non-nil slice for unknown leaderboard, got %v %v", missing, err)
	}
}

func TestTreapStore_LeaderboardsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "a", "p1", 10)
	mustUpsert(t, store, "b", "p1", 99)
	mustUpsert(t, store, "b", "p2", 100)

	e, _ := store.RankOf(ctx, "a", "p1")
	if e.Rank != 1 || e.Score != 10 {
		t.Errorf("leaderboard a leaked: %+v", e)
	}
	e, _ = store.RankOf(ctx, "b", "p1")
	if e.Rank != 2 || e.Score != 99 {
		t.Errorf("leaderboard b wrong: %+v", e)
	}
	if got := store.Leaderboards(ctx); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected leaderboards %v", got)
	}
}

func TestTreapStore_NotFoundAndValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.RankOf(ctx, "lb", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	mustUpsert(t, store, "lb", "p", 1)
	if _, err := store.RankOf(ctx, "lb", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Upsert(ctx, "lb", "p", math.NaN()); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("expected ErrInvalidScore, got %v", err)
	}
	if err := store.Upsert(ctx, "", "p", 1); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	if err := store.Upsert(ctx, "lb", "", 1); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestTreapStore_InfiniteAndNegativeScores(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "neg", -5)
	mustUpsert(t, store, "lb", "inf", math.Inf(1))
	mustUpsert(t, store, "lb", "ninf", math.Inf(-1))
	mustUpsert(t, store, "lb", "zero", 0)

	top, _ := store.TopN(ctx, "lb", 0, 10)
	want := []string{"inf", "zero", "neg", "ninf"}
	for i, w := range want {
		if top[i].PlayerID != w {
			t.Errorf("position %d: want %s got %s", i, w, top[i].PlayerID)
		}
	}
}

func TestTreapStore_Metadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "p", 1)
	if err := store.SetMetadata(ctx, "lb", "p", model.Metadata{Username: "ann"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetMetadata(ctx, "lb", "p", model.Metadata{Username: "anne", AvatarURL: "x.png"}); err != nil {
		t.Fatal(err)
	}
	e, _ := store.RankOf(ctx, "lb", "p")
	if e.Metadata == nil || e.Metadata.Username != "anne" || e.Metadata.AvatarURL != "x.png" {
		t.Errorf("expected last metadata write to win, got %+v", e.Metadata)
	}
	top, _ := store.TopN(ctx, "lb", 0, 1)
	if top[0].Metadata == nil || top[0].Metadata.Username != "anne" {
		t.Errorf("metadata missing from top: %+v", top[0])
	}
}

func TestTreapStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "a", 30)
	mustUpsert(t, store, "lb", "b", 20)
	mustUpsert(t, store, "lb", "c", 10)
	if err := store.Remove(ctx, "lb", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.RankOf(ctx, "lb", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed player still ranked: %v", err)
	}
	e, _ := store.RankOf(ctx, "lb", "c")
	if e.Rank != 2 {
		t.Errorf("expected c to move up to rank 2, got %d", e.Rank)
	}
	if err := store.Remove(ctx, "lb", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
	if err := store.Remove(ctx, "missing", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown leaderboard, got %v", err)
	}
}

func TestTreapStore_ClearAndReplace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "old", 1000)
	if err := store.Clear(ctx, "lb"); err != nil {
		t.Fatal(err)
	}
	if store.Count(ctx, "lb") != 0 {
		t.Fatal("clear left entries behind")
	}
	if err := store.Clear(ctx, "never-seen"); err != nil {
		t.Fatalf("clearing an unknown leaderboard should be a no-op: %v", err)
	}

	mustUpsert(t, store, "lb", "old", 1000)
	rows := []model.RankingEntry{
		{PlayerID: "p1", Score: 100, Rank: 99},
		{PlayerID: "p2", Score: 150, Metadata: &model.Metadata{Username: "two"}},
		{PlayerID: "p3", Score: 120},
	}
	if err := store.Replace(ctx, "lb", rows, store.Generation(ctx)); err != nil {
		t.Fatal(err)
	}
	top, _ := store.TopN(ctx, "lb", 0, 10)
	if len(top) != 3 {
		t.Fatalf("expected 3 entries after replace, got %+v", top)
	}
	if top[0].PlayerID != "p2" || top[1].PlayerID != "p3" || top[2].PlayerID != "p1" {
		t.Errorf("unexpected order after replace: %+v", top)
	}
	if top[0].Metadata == nil || top[0].Metadata.Username != "two" {
		t.Errorf("replace dropped metadata: %+v", top[0])
	}
	if _, err := store.RankOf(ctx, "lb", "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replace kept a stale entry: %v", err)
	}

	if err := store.Replace(ctx, "lb", []model.RankingEntry{{PlayerID: "x", Score: math.NaN()}}, store.Generation(ctx)); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("expected ErrInvalidScore, got %v", err)
	}
	if store.Count(ctx, "lb") != 3 {
		t.Error("a rejected replace must not modify the leaderboard")
	}
}

func TestTreapStore_ReplaceKeepsNewerWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustUpsert(t, store, "lb", "stale", 5)
	mustUpsert(t, store, "lb", "gone", 7)
	since := store.Generation(ctx)

	// Writes that land while the replacement rows are being loaded.
	mustUpsert(t, store, "lb", "fresh", 300)
	mustUpsert(t, store, "lb", "moved", 1)
	if err := store.SetMetadata(ctx, "lb", "moved", model.Metadata{Username: "new"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(ctx, "lb", "gone"); err != nil {
		t.Fatal(err)
	}
	if store.Generation(ctx) != since+4 {
		t.Fatalf("expected four writes after %d, got %d", since, store.Generation(ctx))
	}

	rows := []model.RankingEntry{
		{PlayerID: "a", Score: 100},
		{PlayerID: "moved", Score: 200, Metadata: &model.Metadata{Username: "old"}},
		{PlayerID: "gone", Score: 50},
	}
	if err := store.Replace(ctx, "lb", rows, since); err != nil {
		t.Fatal(err)
	}

	top, _ := store.TopN(ctx, "lb", 0, 10)
	got := make([]string, len(top))
	for i, e := range top {
		got[i] = fmt.Sprintf("%s=%g", e.PlayerID, e.Score)
	}
	want := []string{"fresh=300", "a=100", "moved=1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v after merge, got %v", want, got)
	}
	if top[2].Metadata == nil || top[2].Metadata.Username != "new" {
		t.Errorf("newer metadata lost: %+v", top[2].Metadata)
	}
	if _, err := store.RankOf(ctx, "lb", "stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("write older than the snapshot must be replaced: %v", err)
	}

	// A second replace from a later snapshot takes the rows as they are.
	if err := store.Replace(ctx, "lb", rows[:1], store.Generation(ctx)); err != nil {
		t.Fatal(err)
	}
	if n := store.Count(ctx, "lb"); n != 1 {
		t.Errorf("expected only the replacement row, got %d entries", n)
	}
}

func TestTreapStore_ClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithLogger(logger.Nop()))
	mustUpsert(t, store, "lb", "p", 1)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}

	if err := store.Upsert(ctx, "lb", "p", 2); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := store.RankOf(ctx, "lb", "p"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := store.TopN(ctx, "lb", 0, 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestTreapStore_EvictsIdleLeaderboards(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := newTestStore(t, WithIdleTTL(time.Minute), WithClock(clock))

	mustUpsert(t, store, "stale", "p", 1)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	mustUpsert(t, store, "fresh", "p", 1)

	store.evictIdle(ctx)

	if got := store.Leaderboards(ctx); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("expected only fresh to survive, got %v", got)
	}
	if _, err := store.RankOf(ctx, "stale", "p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected evicted leaderboard to miss, got %v", err)
	}
}

// TestTreapStore_MatchesSortedModel checks ranks and pages against a plain
// sort after a random mix of inserts and overwrites.
func TestTreapStore_MatchesSortedModel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rng := rand.New(rand.NewSource(7))
	scores := map[string]float64{}

	for i := 0; i < 3000; i++ {
		id := fmt.Sprintf("p%03d", rng.Intn(400))
		score := float64(rng.Intn(200))
		scores[id] = score
		mustUpsert(t, store, "lb", id, score)
	}

	type row struct {
		id    string
		score float64
	}
	expected := make([]row, 0, len(scores))
	for id, s := range scores {
		expected = append(expected, row{id, s})
	}
	sort.Slice(expected, func(i, j int) bool {
		if expected[i].score != expected[j].score {
			return expected[i].score > expected[j].score
		}
		return expected[i].id < expected[j].id
	})

	if store.Count(ctx, "lb") != len(expected) {
		t.Fatalf("count mismatch: %d vs %d", store.Count(ctx, "lb"), len(expected))
	}
	for i, r := range expected {
		e, err := store.RankOf(ctx, "lb", r.id)
		if err != nil || e.Rank != i+1 || e.Score != r.score {
			t.Fatalf("rank of %s: want %d/%v got %+v %v", r.id, i+1, r.score, e, err)
		}
	}
	for offset := 0; offset < len(expected); offset += 37 {
		page, err := store.TopN(ctx, "lb", offset, 50)
		if err != nil {
			t.Fatal(err)
		}
		for i, e := range page {
			want := expected[offset+i]
			if e.PlayerID != want.id || e.Rank != offset+i+1 {
				t.Fatalf("page at %d index %d: want %s got %+v", offset, i, want.id, e)
			}
		}
	}
}

func TestTreapStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lb := fmt.Sprintf("lb%d", w%2)
			for i := 0; i < 500; i++ {
				id := fmt.Sprintf("p%d", i%50)
				_ = store.Upsert(ctx, lb, id, float64(i*w))
				_, _ = store.RankOf(ctx, lb, id)
				_, _ = store.TopN(ctx, lb, 0, 5)
			}
		}(w)
	}
	wg.Wait()

	for _, lb := range []string{"lb0", "lb1"} {
		if n := store.Count(ctx, lb); n != 50 {
			t.Errorf("%s: expected 50 players, got %d", lb, n)
		}
		top, _ := store.TopN(ctx, lb, 0, 50)
		for i := 1; i < len(top); i++ {
			if less(top[i].Score, top[i].PlayerID, top[i-1].Score, top[i-1].PlayerID) {
				t.Fatalf("%s: order broken at %d", lb, i)
			}
		}
	}
}

func mustUpsert(t *testing.T, s *TreapStore, lb, id string, score float64) {
	t.Helper()
	if err := s.Upsert(context.Background(), lb, id, score); err != nil {
		t.Fatalf("upsert %s/%s: %v", lb, id, err)
	}
}

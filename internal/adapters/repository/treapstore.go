package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// board is the ranking of a single leaderboard.
type board struct {
	mu         sync.RWMutex
	root       *node
	scores     map[string]float64
	meta       map[string]model.Metadata
	written    map[string]write
	lastAccess atomic.Int64
}

// write is the last change applied to one player.
type write struct {
	gen     uint64
	removed bool
}

func newBoard() *board {
	return &board{
		scores:  make(map[string]float64),
		meta:    make(map[string]model.Metadata),
		written: make(map[string]write),
	}
}

func (b *board) reset() {
	b.root = nil
	b.scores = make(map[string]float64)
	b.meta = make(map[string]model.Metadata)
	b.written = make(map[string]write)
}

// upsert must be called with b.mu held for writing.
func (b *board) upsert(playerID string, score float64) {
	if old, ok := b.scores[playerID]; ok {
		if old == score {
			return
		}
		b.root = deleteNode(b.root, playerID, old)
	}
	b.scores[playerID] = score
	b.root = insert(b.root, playerID, score)
}

// remove must be called with b.mu held for writing.
func (b *board) remove(playerID string) bool {
	score, ok := b.scores[playerID]
	if !ok {
		return false
	}
	b.root = deleteNode(b.root, playerID, score)
	delete(b.scores, playerID)
	delete(b.meta, playerID)
	return true
}

func (b *board) withMeta(e model.RankingEntry) model.RankingEntry {
	if m, ok := b.meta[e.PlayerID]; ok {
		e.Metadata = &m
	}
	return e
}

// TreapStore is an in-memory Store keeping one treap per leaderboard.
//
// Lock order is registry then board. A board is looked up and locked while
// the registry read lock is held so the janitor never evicts a board that
// an operation is about to use.
type TreapStore struct {
	mu     sync.RWMutex
	boards map[string]*board
	closed atomic.Bool
	gen    atomic.Uint64

	idleTTL               time.Duration
	janitorInterval       time.Duration
	metricsUpdateInterval time.Duration
	now                   func() time.Time
	logger                logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewTreapStore constructs a treap store and starts its background loops.
// They stop when ctx is done or Close is called.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		boards:                make(map[string]*board),
		janitorInterval:       30 * time.Second,
		metricsUpdateInterval: 5 * time.Second,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("store")
	}

	s.stopChan = make(chan struct{})
	s.every(ctx, s.metricsUpdateInterval, s.updateMetrics)
	if s.idleTTL > 0 {
		s.every(ctx, s.janitorInterval, func() { s.evictIdle(ctx) })
	}
	return s
}

func (s *TreapStore) every(ctx context.Context, interval time.Duration, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Close stops background loops. Every later call fails with ErrUnavailable.
func (s *TreapStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	return nil
}

// acquire returns the leaderboard's board locked for reading or writing,
// creating it when create is set. The returned release must be called.
func (s *TreapStore) acquire(leaderboardID string, create, write bool) (*board, func()) {
	s.mu.RLock()
	b, ok := s.boards[leaderboardID]
	if ok {
		release := lockBoard(b, write)
		s.mu.RUnlock()
		b.lastAccess.Store(s.now().UnixNano())
		return b, release
	}
	s.mu.RUnlock()
	if !create {
		return nil, func() {}
	}

	s.mu.Lock()
	b, ok = s.boards[leaderboardID]
	if !ok {
		b = newBoard()
		s.boards[leaderboardID] = b
	}
	release := lockBoard(b, write)
	s.mu.Unlock()
	b.lastAccess.Store(s.now().UnixNano())
	return b, release
}

func lockBoard(b *board, write bool) func() {
	if write {
		b.mu.Lock()
		return b.mu.Unlock
	}
	b.mu.RLock()
	return b.mu.RUnlock
}

func (s *TreapStore) guard(ids ...string) error {
	if s.closed.Load() {
		return ErrUnavailable
	}
	for _, id := range ids {
		if id == "" {
			return ErrInvalidID
		}
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// Upsert implements Store.Upsert in O(log n) expected time.
func (s *TreapStore) Upsert(_ context.Context, leaderboardID, playerID string, score float64) error {
	defer observe("upsert", time.Now())
	if err := s.guard(leaderboardID, playerID); err != nil {
		return err
	}
	if math.IsNaN(score) {
		return ErrInvalidScore
	}

	b, release := s.acquire(leaderboardID, true, true)
	defer release()
	b.upsert(playerID, score)
	b.written[playerID] = write{gen: s.gen.Add(1)}
	return nil
}

// SetMetadata implements Store.SetMetadata.
func (s *TreapStore) SetMetadata(_ context.Context, leaderboardID, playerID string, meta model.Metadata) error {
	defer observe("set_metadata", time.Now())
	if err := s.guard(leaderboardID, playerID); err != nil {
		return err
	}

	b, release := s.acquire(leaderboardID, true, true)
	defer release()
	b.meta[playerID] = meta
	b.written[playerID] = write{gen: s.gen.Add(1)}
	return nil
}

// RankOf implements Store.RankOf in O(log n) expected time.
func (s *TreapStore) RankOf(_ context.Context, leaderboardID, playerID string) (model.RankingEntry, error) {
	defer observe("rank_of", time.Now())
	if err := s.guard(leaderboardID, playerID); err != nil {
		return model.RankingEntry{}, err
	}

	b, release := s.acquire(leaderboardID, false, false)
	defer release()
	if b == nil {
		return model.RankingEntry{}, ErrNotFound
	}
	score, ok := b.scores[playerID]
	if !ok {
		return model.RankingEntry{}, ErrNotFound
	}
	rank := position(b.root, playerID, score)
	if rank == 0 {
		// scores and the tree disagree; surface it as a miss.
		metrics.RecordErrorByComponent("store", "index_mismatch")
		return model.RankingEntry{}, ErrNotFound
	}
	return b.withMeta(model.RankingEntry{PlayerID: playerID, Score: score, Rank: rank}), nil
}

// TopN implements Store.TopN in O(log n + limit) expected time.
func (s *TreapStore) TopN(_ context.Context, leaderboardID string, offset, limit int) ([]model.RankingEntry, error) {
	defer observe("top_n", time.Now())
	if err := s.guard(leaderboardID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	b, release := s.acquire(leaderboardID, false, false)
	defer release()
	if b == nil || offset >= nsize(b.root) {
		return []model.RankingEntry{}, nil
	}

	out := make([]model.RankingEntry, 0, min(limit, nsize(b.root)-offset))
	skip := offset
	collect(b.root, &skip, limit, &out)
	for i := range out {
		out[i].Rank = offset + i + 1
		out[i] = b.withMeta(out[i])
	}
	return out, nil
}

// Remove implements Store.Remove.
func (s *TreapStore) Remove(_ context.Context, leaderboardID, playerID string) error {
	defer observe("remove", time.Now())
	if err := s.guard(leaderboardID, playerID); err != nil {
		return err
	}

	b, release := s.acquire(leaderboardID, false, true)
	defer release()
	if b == nil {
		return ErrNotFound
	}
	if !b.remove(playerID) {
		return ErrNotFound
	}
	b.written[playerID] = write{gen: s.gen.Add(1), removed: true}
	return nil
}

// Clear implements Store.Clear.
func (s *TreapStore) Clear(_ context.Context, leaderboardID string) error {
	defer observe("clear", time.Now())
	if err := s.guard(leaderboardID); err != nil {
		return err
	}

	b, release := s.acquire(leaderboardID, false, true)
	defer release()
	if b != nil {
		b.reset()
	}
	return nil
}

// Replace implements Store.Replace. Readers observe either the old or the
// new contents, never a partial load.
func (s *TreapStore) Replace(_ context.Context, leaderboardID string, entries []model.RankingEntry, since uint64) error {
	defer observe("replace", time.Now())
	if err := s.guard(leaderboardID); err != nil {
		return err
	}
	for _, e := range entries {
		if e.PlayerID == "" {
			return ErrInvalidID
		}
		if math.IsNaN(e.Score) {
			return ErrInvalidScore
		}
	}

	fresh := newBoard()
	for _, e := range entries {
		fresh.upsert(e.PlayerID, e.Score)
		if e.Metadata != nil {
			fresh.meta[e.PlayerID] = *e.Metadata
		}
	}

	b, release := s.acquire(leaderboardID, true, true)
	defer release()
	for playerID, w := range b.written {
		if w.gen <= since {
			continue
		}
		fresh.written[playerID] = w
		if w.removed {
			fresh.remove(playerID)
			continue
		}
		if score, ok := b.scores[playerID]; ok {
			fresh.upsert(playerID, score)
		}
		if m, ok := b.meta[playerID]; ok {
			fresh.meta[playerID] = m
		}
	}
	b.root, b.scores, b.meta, b.written = fresh.root, fresh.scores, fresh.meta, fresh.written
	return nil
}

// Generation implements Store.Generation.
func (s *TreapStore) Generation(_ context.Context) uint64 {
	return s.gen.Load()
}

// Count implements Store.Count.
func (s *TreapStore) Count(_ context.Context, leaderboardID string) int {
	if s.guard(leaderboardID) != nil {
		return 0
	}
	b, release := s.acquire(leaderboardID, false, false)
	defer release()
	if b == nil {
		return 0
	}
	return len(b.scores)
}

// Leaderboards implements Store.Leaderboards. The result is sorted.
func (s *TreapStore) Leaderboards(_ context.Context) []string {
	if s.closed.Load() {
		return nil
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.boards))
	for id := range s.boards {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// evictIdle drops leaderboards not touched within idleTTL. A board that is
// locked by an in-flight operation is skipped until the next pass.
func (s *TreapStore) evictIdle(ctx context.Context) {
	cutoff := s.now().Add(-s.idleTTL).UnixNano()

	s.mu.Lock()
	var evicted []string
	for id, b := range s.boards {
		if b.lastAccess.Load() > cutoff {
			continue
		}
		if !b.mu.TryLock() {
			continue
		}
		delete(s.boards, id)
		b.mu.Unlock()
		evicted = append(evicted, id)
	}
	s.mu.Unlock()

	for _, id := range evicted {
		metrics.RecordStoreEviction()
		s.logger.Debug(ctx, "evicted idle leaderboard", logger.String("leaderboard_id", id))
	}
}

func (s *TreapStore) updateMetrics() {
	s.mu.RLock()
	boards := make([]*board, 0, len(s.boards))
	for _, b := range s.boards {
		boards = append(boards, b)
	}
	s.mu.RUnlock()

	records := 0
	for _, b := range boards {
		b.mu.RLock()
		records += len(b.scores)
		b.mu.RUnlock()
	}
	metrics.UpdateStoreSize(records, len(boards))
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/podium/internal/adapters/ledger"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// TopOptions selects a page of a ranking.
type TopOptions struct {
	Limit  int
	Offset int
}

// GetTopPlayers returns a page of the ranking. An empty first page is taken
// as a cold store and triggers a rebuild from the ledger; if that fails the
// page is empty rather than an error.
func (s *Service) GetTopPlayers(ctx context.Context, leaderboardID string, opts TopOptions) ([]model.RankingEntry, error) {
	const op = "service.get_top_players"
	ctx, span := s.startSpan(ctx, op,
		attribute.String("leaderboard_id", leaderboardID),
		attribute.Int("limit", opts.Limit),
		attribute.Int("offset", opts.Offset),
	)
	out, err := s.getTopPlayers(ctx, op, leaderboardID, opts)
	endSpan(span, err)
	return out, err
}

func (s *Service) getTopPlayers(ctx context.Context, op, leaderboardID string, opts TopOptions) ([]model.RankingEntry, error) {
	if strings.TrimSpace(leaderboardID) == "" {
		return nil, wrapError(op, ErrInvalidArgument, errors.New("leaderboard id is required"))
	}
	if opts.Offset < 0 {
		return nil, wrapError(op, ErrInvalidArgument, errors.New("offset must not be negative"))
	}
	limit := s.clampLimit(opts.Limit)

	release, err := s.begin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	since := s.store.Generation(ctx)
	entries, err := s.store.TopN(ctx, leaderboardID, opts.Offset, limit)
	if err == nil && (len(entries) > 0 || opts.Offset > 0) {
		return entries, nil
	}
	if err != nil {
		s.logger.Warn(ctx, "store read failed, rebuilding",
			logger.String("leaderboard_id", leaderboardID),
			logger.Error(err))
	}

	rebuilt, err := s.rebuild(ctx, leaderboardID, since)
	if err != nil {
		s.logger.Error(ctx, "rebuild failed, serving empty ranking",
			logger.String("leaderboard_id", leaderboardID),
			logger.Error(err))
		return []model.RankingEntry{}, nil
	}
	if merged, err := s.store.TopN(ctx, leaderboardID, opts.Offset, limit); err == nil {
		return merged, nil
	}
	return page(rebuilt, opts.Offset, limit), nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	return limit
}

func page(entries []model.RankingEntry, offset, limit int) []model.RankingEntry {
	if offset >= len(entries) {
		return []model.RankingEntry{}
	}
	end := min(offset+limit, len(entries))
	return entries[offset:end]
}

// GetPlayerRank returns the player's current entry. A cold store is rebuilt
// first; a player outside the rebuild window is answered from the ledger
// with the rank last recorded there.
func (s *Service) GetPlayerRank(ctx context.Context, leaderboardID, playerID string) (model.RankingEntry, error) {
	const op = "service.get_player_rank"
	ctx, span := s.startSpan(ctx, op,
		attribute.String("leaderboard_id", leaderboardID),
		attribute.String("player_id", playerID),
	)
	out, err := s.getPlayerRank(ctx, op, leaderboardID, playerID)
	endSpan(span, err)
	return out, err
}

func (s *Service) getPlayerRank(ctx context.Context, op, leaderboardID, playerID string) (model.RankingEntry, error) {
	if strings.TrimSpace(leaderboardID) == "" || strings.TrimSpace(playerID) == "" {
		return model.RankingEntry{}, wrapError(op, ErrInvalidArgument, errors.New("leaderboard id and player id are required"))
	}

	release, err := s.begin(op)
	if err != nil {
		return model.RankingEntry{}, err
	}
	defer release()

	entry, err := s.store.RankOf(ctx, leaderboardID, playerID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn(ctx, "store read failed, falling back to ledger",
			logger.String("leaderboard_id", leaderboardID),
			logger.Error(err))
	}

	if since := s.store.Generation(ctx); s.store.Count(ctx, leaderboardID) == 0 {
		if _, rerr := s.rebuild(ctx, leaderboardID, since); rerr != nil {
			s.logger.Warn(ctx, "rebuild failed",
				logger.String("leaderboard_id", leaderboardID),
				logger.Error(rerr))
		} else if entry, err := s.store.RankOf(ctx, leaderboardID, playerID); err == nil {
			return entry, nil
		}
	}

	p, err := s.ledger.FindPlayer(ctx, leaderboardID, playerID)
	switch {
	case err == nil:
		out := model.RankingEntry{PlayerID: p.ID, Score: p.Score, Rank: p.Rank}
		if !p.Metadata.IsZero() {
			meta := p.Metadata
			out.Metadata = &meta
		}
		return out, nil
	case errors.Is(err, ledger.ErrNotFound):
		return model.RankingEntry{}, newError(op, ErrNotFound)
	default:
		return model.RankingEntry{}, wrapError(op, ErrStorageUnavailable, err)
	}
}

// Rebuild reloads the leaderboard's ranking from the ledger and returns its
// top limit entries. Concurrent rebuilds of one leaderboard share a single
// ledger read.
func (s *Service) Rebuild(ctx context.Context, leaderboardID string, limit int) ([]model.RankingEntry, error) {
	const op = "service.rebuild"
	ctx, span := s.startSpan(ctx, op, attribute.String("leaderboard_id", leaderboardID))
	out, err := s.rebuildTop(ctx, op, leaderboardID, limit)
	endSpan(span, err)
	return out, err
}

func (s *Service) rebuildTop(ctx context.Context, op, leaderboardID string, limit int) ([]model.RankingEntry, error) {
	if strings.TrimSpace(leaderboardID) == "" {
		return nil, wrapError(op, ErrInvalidArgument, errors.New("leaderboard id is required"))
	}
	release, err := s.begin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	limit = s.clampLimit(limit)
	entries, err := s.rebuild(ctx, leaderboardID, s.store.Generation(ctx))
	if err != nil {
		return nil, err
	}
	if merged, err := s.store.TopN(ctx, leaderboardID, 0, limit); err == nil {
		return merged, nil
	}
	return page(entries, 0, limit), nil
}

// rebuild returns the full reloaded window. Players the store saw written
// after generation since keep their store state. The caller must hold begin.
func (s *Service) rebuild(ctx context.Context, leaderboardID string, since uint64) ([]model.RankingEntry, error) {
	const op = "service.rebuild"
	v, err, shared := s.rebuilds.Do(leaderboardID, func() (any, error) {
		return s.loadFromLedger(context.WithoutCancel(ctx), op, leaderboardID, since)
	})
	if shared {
		s.logger.Debug(ctx, "joined in-flight rebuild", logger.String("leaderboard_id", leaderboardID))
	}
	if err != nil {
		return nil, err
	}
	return v.([]model.RankingEntry), nil
}

func (s *Service) loadFromLedger(ctx context.Context, op, leaderboardID string, since uint64) ([]model.RankingEntry, error) {
	start := time.Now()
	elapsed := func() float64 { return float64(time.Since(start).Microseconds()) / 1000 }

	players, err := s.ledger.FetchTopByLeaderboard(ctx, leaderboardID, s.rebuildWindow)
	if err != nil {
		metrics.RecordRebuild("ledger_error", elapsed(), -1)
		return nil, wrapError(op, ErrStorageUnavailable, err)
	}

	entries := make([]model.RankingEntry, len(players))
	for i, p := range players {
		entries[i] = model.RankingEntry{PlayerID: p.ID, Score: p.Score, Rank: i + 1}
		if !p.Metadata.IsZero() {
			meta := p.Metadata
			entries[i].Metadata = &meta
		}
	}
	if len(entries) == 0 {
		metrics.RecordRebuild("empty", elapsed(), 0)
		return entries, nil
	}

	if err := s.store.Replace(ctx, leaderboardID, entries, since); err != nil {
		metrics.RecordRebuild("store_error", elapsed(), len(entries))
		return nil, storeError(op, err)
	}
	metrics.RecordRebuild("ok", elapsed(), len(entries))
	s.logger.Info(ctx, "rebuilt ranking from ledger",
		logger.String("leaderboard_id", leaderboardID),
		logger.Int("rows", len(entries)))
	return entries, nil
}

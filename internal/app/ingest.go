package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// SubmitScore makes the submitted score visible in the ranking store and
// returns the player's resulting rank. Ledger persistence and subscriber
// notification happen after the caller is answered and never fail the
// submission.
func (s *Service) SubmitScore(ctx context.Context, sub model.ScoreSubmission) (model.SubmitResult, error) { //nolint:gocritic // hugeParam: submissions travel by value
	const op = "service.submit_score"
	start := time.Now()

	ctx, span := s.startSpan(ctx, op,
		attribute.String("leaderboard_id", sub.LeaderboardID),
		attribute.String("player_id", sub.PlayerID),
	)
	res, err := s.submitScore(ctx, op, sub)
	endSpan(span, err)
	metrics.RecordSubmission(outcome(err), float64(time.Since(start).Microseconds())/1000)
	return res, err
}

func (s *Service) submitScore(ctx context.Context, op string, sub model.ScoreSubmission) (model.SubmitResult, error) { //nolint:gocritic // hugeParam: submissions travel by value
	if err := validateSubmission(sub); err != nil {
		return model.SubmitResult{}, wrapError(op, ErrInvalidArgument, err)
	}

	release, err := s.begin(op)
	if err != nil {
		return model.SubmitResult{}, err
	}
	defer release()

	// A cold board is loaded from the ledger before the write so the new
	// score is ranked against everyone already persisted.
	if since := s.store.Generation(ctx); s.store.Count(ctx, sub.LeaderboardID) == 0 {
		if _, err := s.rebuild(ctx, sub.LeaderboardID, since); err != nil {
			s.logger.Warn(ctx, "rebuild before first write failed",
				logger.String("leaderboard_id", sub.LeaderboardID),
				logger.Error(err))
		}
	}

	_, prevErr := s.store.RankOf(ctx, sub.LeaderboardID, sub.PlayerID)
	joined := errors.Is(prevErr, repository.ErrNotFound)

	if err := s.store.Upsert(ctx, sub.LeaderboardID, sub.PlayerID, sub.Score); err != nil {
		return model.SubmitResult{}, storeError(op, err)
	}
	if sub.Metadata != nil {
		if err := s.store.SetMetadata(ctx, sub.LeaderboardID, sub.PlayerID, *sub.Metadata); err != nil {
			return model.SubmitResult{}, storeError(op, err)
		}
	}

	entry, err := s.rankAfterWrite(ctx, op, sub)
	if err != nil {
		return model.SubmitResult{}, err
	}

	res := model.SubmitResult{
		LeaderboardID: sub.LeaderboardID,
		PlayerID:      sub.PlayerID,
		Score:         entry.Score,
		Rank:          entry.Rank,
		Metadata:      entry.Metadata,
	}

	// The store already holds the score, so the job is queued even when the
	// caller has gone away.
	job := model.DurabilityJob{
		LeaderboardID: sub.LeaderboardID,
		PlayerID:      sub.PlayerID,
		Score:         entry.Score,
		Rank:          entry.Rank,
		Metadata:      sub.Metadata,
		EnqueuedAt:    time.Now().UTC(),
	}
	jobs, publisher := s.jobs, s.publisher
	s.detach(ctx, func(ctx context.Context) {
		if err := jobs.Enqueue(ctx, job); err != nil {
			metrics.RecordErrorByComponent("service", "enqueue")
			s.logger.Error(ctx, "failed to enqueue durability job",
				logger.String("leaderboard_id", job.LeaderboardID),
				logger.String("player_id", job.PlayerID),
				logger.Error(err))
		}
		if joined {
			publisher.PublishPlayerJoined(ctx, job.LeaderboardID, job.PlayerID)
		}
		publisher.PublishScoreUpdate(ctx, job.LeaderboardID, job.PlayerID, job.Score)
	})

	return res, nil
}

// rankAfterWrite reads the rank of a player that was just written. A miss
// is retried once; a second miss means the store lost the write.
func (s *Service) rankAfterWrite(ctx context.Context, op string, sub model.ScoreSubmission) (model.RankingEntry, error) { //nolint:gocritic // hugeParam: submissions travel by value
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var entry model.RankingEntry
		entry, err = s.store.RankOf(ctx, sub.LeaderboardID, sub.PlayerID)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return model.RankingEntry{}, storeError(op, err)
		}
	}
	metrics.RecordErrorByComponent("service", "rank_missing")
	s.logger.Error(ctx, "player missing from store right after upsert",
		logger.String("leaderboard_id", sub.LeaderboardID),
		logger.String("player_id", sub.PlayerID))
	return model.RankingEntry{}, wrapError(op, ErrInternalInconsistency, err)
}

func validateSubmission(sub model.ScoreSubmission) error { //nolint:gocritic // hugeParam: submissions travel by value
	switch {
	case strings.TrimSpace(sub.LeaderboardID) == "":
		return errors.New("leaderboard id is required")
	case strings.TrimSpace(sub.PlayerID) == "":
		return errors.New("player id is required")
	case math.IsNaN(sub.Score):
		return errors.New("score must be a number")
	}
	return nil
}

// storeError translates ranking store failures.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrInvalidScore), errors.Is(err, repository.ErrInvalidID):
		return wrapError(op, ErrInvalidArgument, err)
	case errors.Is(err, repository.ErrNotFound):
		return wrapError(op, ErrNotFound, err)
	default:
		metrics.RecordErrorByComponent("service", "store")
		return wrapError(op, ErrStorageUnavailable, err)
	}
}

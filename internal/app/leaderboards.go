package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/podium/internal/adapters/ledger"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

func ledgerError(op string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return wrapError(op, ErrNotFound, err)
	}
	return wrapError(op, ErrStorageUnavailable, err)
}

// CreateLeaderboard registers a new active leaderboard. An empty id is
// generated.
func (s *Service) CreateLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error) {
	const op = "service.create_leaderboard"
	ctx, span := s.startSpan(ctx, op, attribute.String("name", lb.Name))
	out, err := s.createLeaderboard(ctx, op, lb)
	endSpan(span, err)
	return out, err
}

func (s *Service) createLeaderboard(ctx context.Context, op string, lb model.Leaderboard) (model.Leaderboard, error) {
	lb.Name = strings.TrimSpace(lb.Name)
	if lb.Name == "" {
		return model.Leaderboard{}, wrapError(op, ErrInvalidArgument, errors.New("name is required"))
	}
	release, err := s.begin(op)
	if err != nil {
		return model.Leaderboard{}, err
	}
	defer release()

	out, err := s.ledger.CreateLeaderboard(ctx, lb)
	if err != nil {
		return model.Leaderboard{}, ledgerError(op, err)
	}
	s.logger.Info(ctx, "leaderboard created",
		logger.String("leaderboard_id", out.ID),
		logger.String("name", out.Name))
	return out, nil
}

// GetLeaderboard returns one leaderboard.
func (s *Service) GetLeaderboard(ctx context.Context, id string) (model.Leaderboard, error) {
	const op = "service.get_leaderboard"
	ctx, span := s.startSpan(ctx, op, attribute.String("leaderboard_id", id))
	out, err := s.getLeaderboard(ctx, op, id)
	endSpan(span, err)
	return out, err
}

func (s *Service) getLeaderboard(ctx context.Context, op, id string) (model.Leaderboard, error) {
	if strings.TrimSpace(id) == "" {
		return model.Leaderboard{}, wrapError(op, ErrInvalidArgument, errors.New("leaderboard id is required"))
	}
	release, err := s.begin(op)
	if err != nil {
		return model.Leaderboard{}, err
	}
	defer release()

	out, err := s.ledger.GetLeaderboard(ctx, id)
	if err != nil {
		return model.Leaderboard{}, ledgerError(op, err)
	}
	return out, nil
}

// ListLeaderboards returns every active leaderboard.
func (s *Service) ListLeaderboards(ctx context.Context) ([]model.Leaderboard, error) {
	const op = "service.list_leaderboards"
	ctx, span := s.startSpan(ctx, op)
	out, err := s.listLeaderboards(ctx, op)
	endSpan(span, err)
	return out, err
}

func (s *Service) listLeaderboards(ctx context.Context, op string) ([]model.Leaderboard, error) {
	release, err := s.begin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	out, err := s.ledger.ListActiveLeaderboards(ctx)
	if err != nil {
		return nil, ledgerError(op, err)
	}
	return out, nil
}

// ArchiveLeaderboard marks the leaderboard archived, drops its cached
// ranking and tells subscribers.
func (s *Service) ArchiveLeaderboard(ctx context.Context, id string) error {
	const op = "service.archive_leaderboard"
	ctx, span := s.startSpan(ctx, op, attribute.String("leaderboard_id", id))
	err := s.archiveLeaderboard(ctx, op, id)
	endSpan(span, err)
	return err
}

func (s *Service) archiveLeaderboard(ctx context.Context, op, id string) error {
	if strings.TrimSpace(id) == "" {
		return wrapError(op, ErrInvalidArgument, errors.New("leaderboard id is required"))
	}
	release, err := s.begin(op)
	if err != nil {
		return err
	}
	defer release()

	if err := s.ledger.ArchiveLeaderboard(ctx, id); err != nil {
		return ledgerError(op, err)
	}
	if err := s.store.Clear(ctx, id); err != nil {
		s.logger.Warn(ctx, "could not clear archived leaderboard",
			logger.String("leaderboard_id", id),
			logger.Error(err))
	}
	s.publisher.PublishLeaderboardUpdate(ctx, id)
	s.logger.Info(ctx, "leaderboard archived", logger.String("leaderboard_id", id))
	return nil
}

// RemovePlayer deletes the player from the ranking and the ledger.
func (s *Service) RemovePlayer(ctx context.Context, leaderboardID, playerID string) error {
	const op = "service.remove_player"
	ctx, span := s.startSpan(ctx, op,
		attribute.String("leaderboard_id", leaderboardID),
		attribute.String("player_id", playerID),
	)
	err := s.removePlayer(ctx, op, leaderboardID, playerID)
	endSpan(span, err)
	return err
}

func (s *Service) removePlayer(ctx context.Context, op, leaderboardID, playerID string) error {
	if strings.TrimSpace(leaderboardID) == "" || strings.TrimSpace(playerID) == "" {
		return wrapError(op, ErrInvalidArgument, errors.New("leaderboard id and player id are required"))
	}
	release, err := s.begin(op)
	if err != nil {
		return err
	}
	defer release()

	storeErr := s.store.Remove(ctx, leaderboardID, playerID)
	if storeErr != nil && !errors.Is(storeErr, repository.ErrNotFound) {
		return storeError(op, storeErr)
	}
	ledgerErr := s.ledger.DeletePlayer(ctx, leaderboardID, playerID)
	if ledgerErr != nil && !errors.Is(ledgerErr, ledger.ErrNotFound) {
		return ledgerError(op, ledgerErr)
	}
	if storeErr != nil && ledgerErr != nil {
		return newError(op, ErrNotFound)
	}

	s.publisher.PublishPlayerRemoved(ctx, leaderboardID, playerID)
	s.publisher.PublishLeaderboardUpdate(ctx, leaderboardID)
	return nil
}

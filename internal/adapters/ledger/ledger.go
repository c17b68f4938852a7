// Package ledger is the durable record of leaderboards, players, scores and
// last known ranks. The ranking store is rebuilt from it.
package ledger

import (
	"context"
	"errors"

	"github.com/okian/podium/internal/domain/model"
)

// Sentinel kinds for ledger errors.
var (
	ErrNotFound    = errors.New("ledger row not found")
	ErrUnavailable = errors.New("ledger unavailable")
)

// Ledger is the persistence contract used by the service and the workers.
type Ledger interface {
	// FetchTopByLeaderboard returns up to limit players ordered by score
	// descending, then player id ascending.
	FetchTopByLeaderboard(ctx context.Context, leaderboardID string, limit int) ([]model.Player, error)

	// FindPlayer returns a single player or ErrNotFound.
	FindPlayer(ctx context.Context, leaderboardID, playerID string) (model.Player, error)

	// PersistScoreAndRank records the job's score and rank. Applying the same
	// job again leaves the same row, and a job enqueued before the stored row
	// was written is ignored.
	PersistScoreAndRank(ctx context.Context, job model.DurabilityJob) error

	// DeletePlayer removes the player's row or returns ErrNotFound.
	DeletePlayer(ctx context.Context, leaderboardID, playerID string) error

	CreateLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error)
	GetLeaderboard(ctx context.Context, id string) (model.Leaderboard, error)
	// ArchiveLeaderboard marks the leaderboard archived; rows are kept.
	ArchiveLeaderboard(ctx context.Context, id string) error
	ListActiveLeaderboards(ctx context.Context) ([]model.Leaderboard, error)
}

// Package repository holds the ranking store: per-leaderboard ordered sets
// of player scores.
package repository

import (
	"context"

	"github.com/okian/podium/internal/domain/model"
)

// Store provides read/write access to the ranking state of many leaderboards.
//
// Entries are ordered by score descending, then player id ascending, and
// ranks are positional starting at 1.
type Store interface {
	// Upsert sets the player's score, replacing any previous value.
	Upsert(ctx context.Context, leaderboardID, playerID string, score float64) error

	// SetMetadata stores descriptive data for a player; last write wins.
	SetMetadata(ctx context.Context, leaderboardID, playerID string, meta model.Metadata) error

	// RankOf returns the player's current entry or ErrNotFound.
	RankOf(ctx context.Context, leaderboardID, playerID string) (model.RankingEntry, error)

	// TopN returns up to limit entries starting at offset. A non-positive
	// limit selects DefaultLimit.
	TopN(ctx context.Context, leaderboardID string, offset, limit int) ([]model.RankingEntry, error)

	// Remove deletes one player from the leaderboard or returns ErrNotFound.
	Remove(ctx context.Context, leaderboardID, playerID string) error

	// Clear removes every entry of the leaderboard.
	Clear(ctx context.Context, leaderboardID string) error

	// Replace atomically swaps the leaderboard contents for entries. Ranks
	// carried by entries are ignored. Players written after generation since
	// keep their current state (score, metadata or removal) over entries;
	// pass the Generation read before entries were loaded.
	Replace(ctx context.Context, leaderboardID string, entries []model.RankingEntry, since uint64) error

	// Generation returns the store-wide write counter. Every Upsert,
	// SetMetadata and Remove advances it.
	Generation(ctx context.Context) uint64

	// Count returns the number of entries held for the leaderboard.
	Count(ctx context.Context, leaderboardID string) int

	// Leaderboards lists the leaderboards currently resident.
	Leaderboards(ctx context.Context) []string
}

// DefaultLimit is used by TopN when no positive limit is given.
const DefaultLimit = 10

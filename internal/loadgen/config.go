// Package loadgen drives a running podium instance with synthetic players
// and checks that the rankings it serves match what was submitted.
package loadgen

import (
	"time"

	"github.com/okian/podium/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	LeaderboardID string        // Leaderboard to load; generated when empty
	Players       int           // Number of synthetic players
	Rounds        int           // Score submissions per player, sent round by round
	ReplayRatio   float64       // Share of submissions re-sent with the same idempotency key
	TopN          int           // Number of top entries to fetch and verify
	RankSamples   int           // Players whose individual rank is checked
	Workers       int           // Number of concurrent workers
	Timeout       time.Duration // HTTP request timeout
	Seed          uint64        // Faker seed; 0 picks a random one
	OutputFile    string        // Output file for generated submissions
	Verbose       bool          // Enable verbose logging
}

// Player is a synthetic player.
type Player struct {
	ID       string         `json:"id"`
	Metadata model.Metadata `json:"metadata"`
}

// Submission is one score submission as sent over HTTP.
type Submission struct {
	PlayerID       string          `json:"player_id"`
	Score          float64         `json:"score"`
	Metadata       *model.Metadata `json:"metadata,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// Round is a batch of submissions sent concurrently. Replays reuse the key
// of a submission in the same round with a different score.
type Round struct {
	Submissions []Submission `json:"submissions"`
	Replays     []Submission `json:"replays,omitempty"`
}

// SubmitResponse mirrors the body returned for a submission.
type SubmitResponse struct {
	PlayerID  string  `json:"player_id"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
	Duplicate bool    `json:"duplicate"`
}

// TopResponse mirrors the body of a top query.
type TopResponse struct {
	LeaderboardID string               `json:"leaderboard_id"`
	Offset        int                  `json:"offset"`
	Entries       []model.RankingEntry `json:"entries"`
}

// Stats holds run statistics.
type Stats struct {
	Submitted         int64
	Successful        int64
	Duplicate         int64
	Failed            int64
	RateLimited       int64
	RanksChecked      int
	LeaderboardTopLen int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}

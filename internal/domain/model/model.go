// Package model contains domain models passed between layers.
package model

import (
	"time"
)

// Leaderboard status values.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Leaderboard is a named ranking scope owned by a game.
type Leaderboard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GameID    string    `json:"game_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata is the descriptive data attached to a player. Updates are
// last-write-wins.
type Metadata struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// IsZero reports whether m carries no data.
func (m Metadata) IsZero() bool {
	return m.Username == "" && m.AvatarURL == ""
}

// Player is a participant of exactly one leaderboard as held by the ledger.
type Player struct {
	ID            string    `json:"id"`
	LeaderboardID string    `json:"leaderboard_id"`
	Score         float64   `json:"score"`
	Rank          int       `json:"rank"`
	Metadata      Metadata  `json:"metadata"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RankingEntry is one row of a ranking; Rank is 1-based and positional.
type RankingEntry struct {
	PlayerID string    `json:"player_id"`
	Score    float64   `json:"score"`
	Rank     int       `json:"rank"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// ScoreSubmission is the input of the ingestion pipeline. Score replaces the
// previous value; it is never added to it.
type ScoreSubmission struct {
	LeaderboardID string    `json:"leaderboard_id"`
	PlayerID      string    `json:"player_id"`
	Score         float64   `json:"score"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// SubmitResult is returned to the submitter once the score is visible in the
// ranking store.
type SubmitResult struct {
	LeaderboardID string    `json:"leaderboard_id"`
	PlayerID      string    `json:"player_id"`
	Score         float64   `json:"score"`
	Rank          int       `json:"rank"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// Job routing for durability work.
const (
	JobTopic = "scores"
	JobName  = "persist_score"
)

// DurabilityJob asks the ledger to record a score and rank. Applying the
// same job twice yields the same ledger state.
type DurabilityJob struct {
	LeaderboardID string    `json:"leaderboard_id"`
	PlayerID      string    `json:"player_id"`
	Score         float64   `json:"score"`
	Rank          int       `json:"rank"`
	Metadata      *Metadata `json:"metadata,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Valid reports whether the job carries enough to be applied.
func (j DurabilityJob) Valid() bool {
	return j.LeaderboardID != "" && j.PlayerID != "" && j.Rank > 0
}

// Event kinds delivered to subscribers.
const (
	EventScoreUpdated       = "score:updated"
	EventLeaderboardUpdated = "leaderboard:updated"
	EventPlayerJoined       = "player:joined"
	EventPlayerRemoved      = "player:removed"
)

// Event is a notification fanned out to the subscribers of one leaderboard.
type Event struct {
	Kind          string    `json:"kind"`
	LeaderboardID string    `json:"leaderboard_id"`
	PlayerID      string    `json:"player_id,omitempty"`
	NewScore      *float64  `json:"new_score,omitempty"`
	Origin        string    `json:"origin,omitempty"`
	At            time.Time `json:"at"`
}

package repository

import "errors"

// Sentinel kinds for ranking store errors.
var (
	ErrNotFound     = errors.New("player not ranked")
	ErrInvalidScore = errors.New("score must be a number")
	ErrInvalidID    = errors.New("leaderboard and player ids must not be empty")
	ErrUnavailable  = errors.New("ranking store unavailable")
)

package notify

import "errors"

// Sentinel errors returned by the hub.
var (
	ErrInvalidID = errors.New("connection and leaderboard ids must not be empty")
	ErrClosed    = errors.New("notification hub closed")
)

package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
	ErrNoStreaming = errors.New("streaming unsupported")

	ErrSubmissionInFlight = errors.New("submission with this idempotency key is still being applied")
)

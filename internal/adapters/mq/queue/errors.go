package queue

import "errors"

// Sentinel errors returned by Enqueue.
var (
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("job queue stopped")
)

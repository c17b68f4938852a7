package worker

import (
	"time"

	"github.com/okian/podium/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMaxAttempts bounds how many times a job is tried before it is dropped.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the first and the largest delay between attempts.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(w *InMemoryWorker) {
		if initial > 0 {
			w.initialBackoff = initial
		}
		if maxDelay >= w.initialBackoff {
			w.maxBackoff = maxDelay
		}
	}
}

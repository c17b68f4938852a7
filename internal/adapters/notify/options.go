package notify

import (
	"github.com/okian/podium/pkg/logger"
)

// Backpressure policies applied when a subscriber buffer is full.
const (
	DropOldest = "drop_oldest"
	DropNewest = "drop_newest"
)

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-connection event buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropPolicy selects what is discarded when a subscriber falls behind.
func WithDropPolicy(policy string) Option {
	return func(h *Hub) {
		if policy == DropOldest || policy == DropNewest {
			h.policy = policy
		}
	}
}

// WithOrigin sets the instance id stamped on locally published events.
func WithOrigin(origin string) Option {
	return func(h *Hub) {
		if origin != "" {
			h.origin = origin
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

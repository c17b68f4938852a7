// Package notify fans ranking events out to the subscribers of each
// leaderboard, optionally across instances through NATS.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

const defaultBufferSize = 64

// Publisher is what the ingestion pipeline needs from the fan-out layer.
// Every method is non-blocking.
type Publisher interface {
	PublishScoreUpdate(ctx context.Context, leaderboardID, playerID string, newScore float64)
	PublishLeaderboardUpdate(ctx context.Context, leaderboardID string)
	PublishPlayerJoined(ctx context.Context, leaderboardID, playerID string)
	PublishPlayerRemoved(ctx context.Context, leaderboardID, playerID string)
}

// Forwarder receives every locally originated event, e.g. to relay it to
// other instances.
type Forwarder interface {
	Forward(ctx context.Context, ev model.Event)
}

// Stats describes current subscriptions.
type Stats struct {
	Connections  int      `json:"connections"`
	Groups       int      `json:"groups"`
	Leaderboards []string `json:"leaderboards"`
}

type connection struct {
	id     string
	ch     chan model.Event
	groups map[string]struct{}
}

// Hub groups connections by leaderboard. Each connection owns one bounded
// buffer shared by all of its groups.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	groups map[string]map[string]*connection
	closed bool

	buffer    int
	policy    string
	origin    string
	forwarder Forwarder
	now       func() time.Time
	logger    logger.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		conns:  make(map[string]*connection),
		groups: make(map[string]map[string]*connection),
		buffer: defaultBufferSize,
		policy: DropOldest,
		origin: uuid.NewString(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("notify")
	}
	return h
}

// Origin returns the id stamped on events published by this hub.
func (h *Hub) Origin() string { return h.origin }

// SetForwarder installs f to receive every locally published event.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

// Subscribe adds the connection to the leaderboard group and returns the
// connection's event channel. Subscribing twice is harmless.
func (h *Hub) Subscribe(connectionID, leaderboardID string) (<-chan model.Event, error) {
	if connectionID == "" || leaderboardID == "" {
		return nil, ErrInvalidID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	c, ok := h.conns[connectionID]
	if !ok {
		c = &connection{
			id:     connectionID,
			ch:     make(chan model.Event, h.buffer),
			groups: make(map[string]struct{}),
		}
		h.conns[connectionID] = c
	}
	c.groups[leaderboardID] = struct{}{}

	group, ok := h.groups[leaderboardID]
	if !ok {
		group = make(map[string]*connection)
		h.groups[leaderboardID] = group
	}
	group[connectionID] = c

	h.observeLocked()
	return c.ch, nil
}

// Unsubscribe removes the connection from one group. The connection stays
// open until Disconnect.
func (h *Hub) Unsubscribe(connectionID, leaderboardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connectionID]
	if !ok {
		return
	}
	delete(c.groups, leaderboardID)
	h.leaveLocked(connectionID, leaderboardID)
	h.observeLocked()
}

// Disconnect removes the connection from every group and closes its
// channel.
func (h *Hub) Disconnect(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connectionID]
	if !ok {
		return
	}
	for lb := range c.groups {
		h.leaveLocked(connectionID, lb)
	}
	delete(h.conns, connectionID)
	close(c.ch)
	h.observeLocked()
}

func (h *Hub) leaveLocked(connectionID, leaderboardID string) {
	group, ok := h.groups[leaderboardID]
	if !ok {
		return
	}
	delete(group, connectionID)
	if len(group) == 0 {
		delete(h.groups, leaderboardID)
	}
}

func (h *Hub) observeLocked() {
	metrics.UpdateSubscribers(len(h.conns), len(h.groups))
}

// Close disconnects everyone; later subscriptions fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.conns {
		close(c.ch)
		delete(h.conns, id)
	}
	h.groups = make(map[string]map[string]*connection)
	h.observeLocked()
}

// Publish delivers ev to every current subscriber of its leaderboard and
// returns how many received it. It never blocks. Events without an origin
// are treated as local and handed to the forwarder.
func (h *Hub) Publish(ctx context.Context, ev model.Event) int { //nolint:gocritic // hugeParam: events travel by value
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	local := ev.Origin == ""
	if local {
		ev.Origin = h.origin
	}

	h.mu.RLock()
	delivered := 0
	for _, c := range h.groups[ev.LeaderboardID] {
		if h.deliver(c, ev) {
			delivered++
		}
	}
	forwarder := h.forwarder
	h.mu.RUnlock()

	metrics.RecordNotificationPublished(ev.Kind, delivered)
	if local && forwarder != nil {
		forwarder.Forward(ctx, ev)
	}
	return delivered
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *connection, ev model.Event) bool { //nolint:gocritic // hugeParam: events travel by value
	select {
	case c.ch <- ev:
		return true
	default:
	}

	metrics.RecordNotificationDropped(h.policy)
	if h.policy == DropNewest {
		return false
	}
	select {
	case <-c.ch:
	default:
	}
	select {
	case c.ch <- ev:
		return true
	default:
		return false
	}
}

// PublishScoreUpdate implements Publisher.
func (h *Hub) PublishScoreUpdate(ctx context.Context, leaderboardID, playerID string, newScore float64) {
	score := newScore
	h.Publish(ctx, model.Event{
		Kind:          model.EventScoreUpdated,
		LeaderboardID: leaderboardID,
		PlayerID:      playerID,
		NewScore:      &score,
	})
}

// PublishLeaderboardUpdate implements Publisher.
func (h *Hub) PublishLeaderboardUpdate(ctx context.Context, leaderboardID string) {
	h.Publish(ctx, model.Event{Kind: model.EventLeaderboardUpdated, LeaderboardID: leaderboardID})
}

// PublishPlayerJoined implements Publisher.
func (h *Hub) PublishPlayerJoined(ctx context.Context, leaderboardID, playerID string) {
	h.Publish(ctx, model.Event{Kind: model.EventPlayerJoined, LeaderboardID: leaderboardID, PlayerID: playerID})
}

// PublishPlayerRemoved implements Publisher.
func (h *Hub) PublishPlayerRemoved(ctx context.Context, leaderboardID, playerID string) {
	h.Publish(ctx, model.Event{Kind: model.EventPlayerRemoved, LeaderboardID: leaderboardID, PlayerID: playerID})
}

// Stats reports connection and group counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.groups))
	for id := range h.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Stats{Connections: len(h.conns), Groups: len(h.groups), Leaderboards: ids}
}

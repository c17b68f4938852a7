package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "podium.leaderboard"

// Connect dials a NATS server with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSBridge relays hub events between instances. Local events are
// published on <prefix>.<leaderboardID>; events from other instances are
// delivered to the local hub. Echoes of our own events are skipped by
// origin.
type NATSBridge struct {
	nc     *nats.Conn
	hub    *Hub
	prefix string
	sub    *nats.Subscription
	logger logger.Logger
}

var _ Forwarder = (*NATSBridge)(nil)

// NewNATSBridge binds hub to nc. Call Start to begin relaying.
func NewNATSBridge(nc *nats.Conn, hub *Hub, prefix string, log logger.Logger) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logger.Get().Named("notify_nats")
	}
	return &NATSBridge{nc: nc, hub: hub, prefix: prefix, logger: log}
}

// Subject returns the subject events of leaderboardID travel on.
func (b *NATSBridge) Subject(leaderboardID string) string {
	return b.prefix + "." + leaderboardID
}

// Start subscribes to every leaderboard subject and installs the bridge as
// the hub forwarder.
func (b *NATSBridge) Start(ctx context.Context) error {
	sub, err := b.nc.Subscribe(b.prefix+".>", b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s.>: %w", b.prefix, err)
	}
	b.sub = sub
	b.hub.SetForwarder(b)
	b.logger.Info(ctx, "nats bridge started", logger.String("prefix", b.prefix))
	return nil
}

// Stop detaches from the hub and drains the subscription.
func (b *NATSBridge) Stop() error {
	b.hub.SetForwarder(nil)
	if b.sub == nil {
		return nil
	}
	return b.sub.Drain()
}

// Forward implements Forwarder.
func (b *NATSBridge) Forward(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: events travel by value
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error(ctx, "encode event", logger.Error(err))
		return
	}
	if err := b.nc.Publish(b.Subject(ev.LeaderboardID), data); err != nil {
		metrics.RecordErrorByComponent("notify", "nats_publish")
		b.logger.Warn(ctx, "nats publish failed",
			logger.String("leaderboard_id", ev.LeaderboardID),
			logger.Error(err))
	}
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var ev model.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		metrics.RecordErrorByComponent("notify", "nats_decode")
		b.logger.Warn(context.Background(), "dropping undecodable event",
			logger.String("subject", msg.Subject),
			logger.Error(err))
		return
	}
	if ev.Origin == "" || ev.Origin == b.hub.Origin() {
		return
	}
	b.hub.Publish(context.Background(), ev)
}

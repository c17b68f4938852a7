package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Breaker decorates a Ledger with a circuit breaker. After a run of
// failures calls are rejected with ErrUnavailable until the cooldown passes.
// ErrNotFound is a normal answer and never trips the circuit.
type Breaker struct {
	next Ledger
	cb   *gobreaker.CircuitBreaker
}

var _ Ledger = (*Breaker)(nil)

// NewBreaker wraps next. failures is the number of consecutive errors that
// opens the circuit.
func NewBreaker(next Ledger, failures uint32, cooldown time.Duration, log logger.Logger) *Breaker {
	if failures == 0 {
		failures = 5
	}
	if log == nil {
		log = logger.Get().Named("ledger_breaker")
	}
	settings := gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(int(to))
			log.Warn(context.Background(), "ledger circuit state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the current circuit state (closed, half-open, open).
func (b *Breaker) State() string { return b.cb.State().String() }

func guarded[T any](b *Breaker, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	return out.(T), nil
}

// none is the result type of calls that only return an error.
type none struct{}

// FetchTopByLeaderboard implements Ledger through the circuit.
func (b *Breaker) FetchTopByLeaderboard(ctx context.Context, leaderboardID string, limit int) ([]model.Player, error) {
	return guarded(b, func() ([]model.Player, error) {
		return b.next.FetchTopByLeaderboard(ctx, leaderboardID, limit)
	})
}

// FindPlayer implements Ledger through the circuit. A missing player
// counts as a success.
func (b *Breaker) FindPlayer(ctx context.Context, leaderboardID, playerID string) (model.Player, error) {
	return guarded(b, func() (model.Player, error) {
		return b.next.FindPlayer(ctx, leaderboardID, playerID)
	})
}

// PersistScoreAndRank implements Ledger through the circuit.
func (b *Breaker) PersistScoreAndRank(ctx context.Context, job model.DurabilityJob) error {
	_, err := guarded(b, func() (none, error) {
		return none{}, b.next.PersistScoreAndRank(ctx, job)
	})
	return err
}

// DeletePlayer implements Ledger through the circuit.
func (b *Breaker) DeletePlayer(ctx context.Context, leaderboardID, playerID string) error {
	_, err := guarded(b, func() (none, error) {
		return none{}, b.next.DeletePlayer(ctx, leaderboardID, playerID)
	})
	return err
}

// CreateLeaderboard implements Ledger through the circuit.
func (b *Breaker) CreateLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error) {
	return guarded(b, func() (model.Leaderboard, error) {
		return b.next.CreateLeaderboard(ctx, lb)
	})
}

// GetLeaderboard implements Ledger through the circuit.
func (b *Breaker) GetLeaderboard(ctx context.Context, id string) (model.Leaderboard, error) {
	return guarded(b, func() (model.Leaderboard, error) {
		return b.next.GetLeaderboard(ctx, id)
	})
}

// ArchiveLeaderboard implements Ledger through the circuit.
func (b *Breaker) ArchiveLeaderboard(ctx context.Context, id string) error {
	_, err := guarded(b, func() (none, error) {
		return none{}, b.next.ArchiveLeaderboard(ctx, id)
	})
	return err
}

// ListActiveLeaderboards implements Ledger through the circuit.
func (b *Breaker) ListActiveLeaderboards(ctx context.Context) ([]model.Leaderboard, error) {
	return guarded(b, func() ([]model.Leaderboard, error) {
		return b.next.ListActiveLeaderboards(ctx)
	})
}

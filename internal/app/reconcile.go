package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/okian/podium/internal/adapters/mq/queue"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// startReconciler schedules the periodic rank write-back. Must be called
// with s.mu held.
func (s *Service) startReconciler() error {
	if s.reconcileInterval <= 0 {
		return nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	store, jobs, window, log := s.store, s.jobs, s.rebuildWindow, s.logger.Named("reconciler")
	ctx := s.runCtx
	_, err = sched.NewJob(
		gocron.DurationJob(s.reconcileInterval),
		gocron.NewTask(func() {
			n := reconcile(ctx, store, jobs, window, log)
			log.Debug(ctx, "reconcile pass finished", logger.Int("jobs", n))
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("rank-reconcile"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	sched.Start()
	s.scheduler = sched
	return nil
}

// reconcile enqueues a durability job for every ranked entry so the ledger
// catches up with rank shifts caused by other players' submissions. Ranks
// of a leaderboard are read as one page so they are consistent with each
// other. It returns the number of jobs enqueued.
func reconcile(ctx context.Context, store repository.Store, jobs queue.JobQueue, window int, log logger.Logger) int {
	enqueued := 0
	now := time.Now().UTC()
	for _, lb := range store.Leaderboards(ctx) {
		if ctx.Err() != nil {
			return enqueued
		}
		entries, err := store.TopN(ctx, lb, 0, window)
		if err != nil {
			log.Warn(ctx, "reconcile read failed", logger.String("leaderboard_id", lb), logger.Error(err))
			continue
		}
		for _, e := range entries {
			err := jobs.Enqueue(ctx, model.DurabilityJob{
				LeaderboardID: lb,
				PlayerID:      e.PlayerID,
				Score:         e.Score,
				Rank:          e.Rank,
				Metadata:      e.Metadata,
				EnqueuedAt:    now,
			})
			if err != nil {
				metrics.RecordErrorByComponent("reconciler", "enqueue")
				log.Warn(ctx, "reconcile enqueue failed, stopping pass",
					logger.String("leaderboard_id", lb),
					logger.Error(err))
				return enqueued
			}
			enqueued++
		}
	}
	return enqueued
}

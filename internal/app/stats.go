package service

import (
	"context"
)

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":           s.started,
		"workerCount":       s.workerCount,
		"queueSize":         s.queueSize,
		"dedupeSize":        s.dedupeSize,
		"rebuildWindow":     s.rebuildWindow,
		"reconcileInterval": s.reconcileInterval.String(),
		"idempotencyKeys":   s.deduper.Size(),
	}
	if !s.started {
		return stats
	}

	boards := s.store.Leaderboards(ctx)
	players := 0
	for _, lb := range boards {
		players += s.store.Count(ctx, lb)
	}
	stats["leaderboards"] = len(boards)
	stats["players"] = players

	if l, ok := s.jobs.(interface{ Len(context.Context) int }); ok {
		stats["queueLength"] = l.Len(ctx)
	}
	if s.pool != nil {
		stats["workers"] = s.pool.Stats()
	}
	if s.hub != nil {
		stats["subscribers"] = s.hub.Stats()
	}
	if b, ok := s.ledger.(interface{ State() string }); ok {
		stats["ledgerCircuit"] = b.State()
	}
	return stats
}

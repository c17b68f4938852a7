package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

// pageSize stays within the service's default max_limit.
const pageSize = 100

// Run executes a complete load run against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	client := NewHTTPClient(cfg.BaseURL, cfg.Timeout)
	gen := NewGenerator(cfg.Seed)

	leaderboardID := cfg.LeaderboardID
	if leaderboardID == "" {
		leaderboardID = gen.LeaderboardID()
	}
	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("leaderboard", leaderboardID),
		logger.Int("players", cfg.Players),
		logger.Int("rounds", cfg.Rounds),
		logger.Int("workers", cfg.Workers),
		logger.Int("topN", cfg.TopN))

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Register the leaderboard
	if cfg.LeaderboardID == "" {
		if _, err := client.CreateLeaderboard(ctx, leaderboardID, "Load run "+leaderboardID); err != nil {
			return stats, fmt.Errorf("leaderboard creation failed: %w", err)
		}
	}

	// Step 3: Generate players and rounds
	players := gen.Players(cfg.Players)
	rounds := gen.Rounds(players, cfg.Rounds, cfg.ReplayRatio)
	expected := Expected(rounds)

	// Step 4: Submit round by round; replays follow their originals
	for i, r := range rounds {
		submitAll(ctx, client, cfg, leaderboardID, r.Submissions, stats)
		submitAll(ctx, client, cfg, leaderboardID, r.Replays, stats)
		log.Info(ctx, "round submitted",
			logger.Int("round", i+1),
			logger.Int64("successful", stats.Successful),
			logger.Int64("duplicate", stats.Duplicate),
			logger.Int64("failed", stats.Failed))
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}

	// Step 5: Verify the head of the ranking and a sample of ranks
	top, err := fetchTop(ctx, client, leaderboardID, cfg.TopN)
	if err != nil {
		return stats, fmt.Errorf("ranking retrieval failed: %w", err)
	}
	stats.LeaderboardTopLen = len(top)

	if stats.Failed > 0 || stats.RateLimited > 0 {
		// Lost submissions make the expected ranking unknowable.
		log.Warn(ctx, "some submissions were rejected, checking order only",
			logger.Int64("failed", stats.Failed),
			logger.Int64("rateLimited", stats.RateLimited))
		if err := VerifySorted(top); err != nil {
			return stats, err
		}
	} else {
		if err := VerifyTop(expected, top, cfg.TopN); err != nil {
			return stats, err
		}
		if err := verifySample(ctx, client, leaderboardID, expected, cfg.RankSamples, stats); err != nil {
			return stats, err
		}
	}
	log.Info(ctx, "ranking verified",
		logger.Int("entries", len(top)),
		logger.Int("ranksChecked", stats.RanksChecked),
		logger.Float64("averageTopScore", averageScore(top)))

	// Step 6: Save the generated workload
	if cfg.OutputFile != "" {
		if err := saveRounds(cfg.OutputFile, rounds); err != nil {
			log.Warn(ctx, "failed to save submissions to file", logger.Error(err))
		} else {
			log.Info(ctx, "submissions saved to file", logger.String("filename", cfg.OutputFile))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

// fetchTop pages through the ranking until n entries or the end.
func fetchTop(ctx context.Context, client *HTTPClient, leaderboardID string, n int) ([]model.RankingEntry, error) {
	out := make([]model.RankingEntry, 0, n)
	for len(out) < n {
		limit := min(pageSize, n-len(out))
		page, err := client.Top(ctx, leaderboardID, limit, len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < limit {
			break
		}
	}
	return out, nil
}

// verifySample checks the rank of evenly spaced players.
func verifySample(ctx context.Context, client *HTTPClient, leaderboardID string, expected []model.RankingEntry, samples int, stats *Stats) error {
	if samples <= 0 || len(expected) == 0 {
		return nil
	}
	step := max(len(expected)/samples, 1)
	for i := 0; i < len(expected) && stats.RanksChecked < samples; i += step {
		got, err := client.Rank(ctx, leaderboardID, expected[i].PlayerID)
		if err != nil {
			return fmt.Errorf("rank of %s: %w", expected[i].PlayerID, err)
		}
		if err := VerifyRank(expected, got); err != nil {
			return err
		}
		stats.RanksChecked++
	}
	return nil
}

// saveRounds writes the generated rounds as JSON.
func saveRounds(filename string, rounds []Round) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rounds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rounds: %w", err)
	}
	return os.WriteFile(filename, data, filePermission)
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, perSecond float64
	if stats.Submitted > 0 {
		successRate = float64(stats.Successful+stats.Duplicate) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int64("submitted", stats.Submitted),
		logger.Int64("successful", stats.Successful),
		logger.Int64("duplicate", stats.Duplicate),
		logger.Int64("rateLimited", stats.RateLimited),
		logger.Int64("failed", stats.Failed),
		logger.Int("ranksChecked", stats.RanksChecked),
		logger.Int("topEntries", stats.LeaderboardTopLen),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("submissionsPerSecond", perSecond))
}

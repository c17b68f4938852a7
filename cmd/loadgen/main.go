package main

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/podium/internal/loadgen"
	"github.com/okian/podium/pkg/logger"
)

// Default configuration constants.
const (
	defaultPlayers     = 1000
	defaultRounds      = 3
	defaultReplayRatio = 0.05
	defaultTopN        = 50
	defaultRankSamples = 20
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "loadgen",
		Usage: "submit synthetic scores to podium and verify the rankings it serves",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:9080", Usage: "base URL of the service"},
			&cli.StringFlag{Name: "leaderboard", Usage: "existing empty leaderboard to load (default: create a new one)"},
			&cli.IntFlag{Name: "players", Value: defaultPlayers, Usage: "number of synthetic players"},
			&cli.IntFlag{Name: "rounds", Value: defaultRounds, Usage: "score submissions per player"},
			&cli.Float64Flag{Name: "replay-ratio", Value: defaultReplayRatio, Usage: "share of submissions replayed with the same idempotency key"},
			&cli.IntFlag{Name: "top", Value: defaultTopN, Usage: "number of top entries to verify"},
			&cli.IntFlag{Name: "rank-samples", Value: defaultRankSamples, Usage: "players whose rank is checked individually"},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU() * defaultWorkers, Usage: "number of concurrent workers"},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "HTTP request timeout"},
			&cli.DurationFlag{Name: "deadline", Value: defaultTestTimeout, Usage: "overall run deadline"},
			&cli.Uint64Flag{Name: "seed", Usage: "faker seed for a reproducible workload (0: random)"},
			&cli.StringFlag{Name: "output", Usage: "write the generated submissions to this JSON file"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	level := "info"
	if c.Bool("verbose") {
		level = "debug"
	}
	if err := logger.Init(logger.Options{Level: level}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("deadline"))
	defer cancel()

	_, err := loadgen.Run(ctx, configFrom(c))
	return err
}

func configFrom(c *cli.Context) *loadgen.Config {
	return &loadgen.Config{
		BaseURL:       c.String("url"),
		LeaderboardID: c.String("leaderboard"),
		Players:       c.Int("players"),
		Rounds:        c.Int("rounds"),
		ReplayRatio:   c.Float64("replay-ratio"),
		TopN:          c.Int("top"),
		RankSamples:   c.Int("rank-samples"),
		Workers:       c.Int("workers"),
		Timeout:       c.Duration("timeout"),
		Seed:          c.Uint64("seed"),
		OutputFile:    c.String("output"),
		Verbose:       c.Bool("verbose"),
	}
}

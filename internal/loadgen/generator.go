package loadgen

import (
	"fmt"
	"sort"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/okian/podium/internal/domain/model"
)

// Score range of generated submissions.
const (
	minScore = 0
	maxScore = 100000
)

// Generator produces reproducible players and submissions.
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator returns a generator seeded with seed; 0 picks a random seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Players creates n players with distinct IDs.
func (g *Generator) Players(n int) []Player {
	players := make([]Player, 0, n)
	for i := 0; i < n; i++ {
		players = append(players, Player{
			ID: fmt.Sprintf("player-%s-%05d", g.faker.Numerify("####"), i),
			Metadata: model.Metadata{
				Username:  g.faker.Username(),
				AvatarURL: g.faker.URL(),
			},
		})
	}
	return players
}

// LeaderboardID returns a fresh leaderboard identifier.
func (g *Generator) LeaderboardID() string {
	return "loadgen-" + g.faker.UUID()[:8]
}

// Rounds builds one submission per player per round. Metadata travels with
// the first round only. replayRatio of each round is duplicated with the
// same idempotency key and a different score.
func (g *Generator) Rounds(players []Player, rounds int, replayRatio float64) []Round {
	out := make([]Round, 0, rounds)
	for r := 0; r < rounds; r++ {
		round := Round{Submissions: make([]Submission, 0, len(players))}
		for _, p := range players {
			sub := Submission{
				PlayerID:       p.ID,
				Score:          g.faker.Float64Range(minScore, maxScore),
				IdempotencyKey: g.faker.UUID(),
			}
			if r == 0 {
				meta := p.Metadata
				sub.Metadata = &meta
			}
			round.Submissions = append(round.Submissions, sub)
		}

		replays := int(float64(len(players)) * replayRatio)
		for i := 0; i < replays; i++ {
			orig := round.Submissions[g.faker.Number(0, len(round.Submissions)-1)]
			replay := orig
			replay.Score = g.faker.Float64Range(minScore, maxScore)
			round.Replays = append(round.Replays, replay)
		}
		out = append(out, round)
	}
	return out
}

// Expected returns the ranking the service should converge to: each
// player's last non-replayed score, highest first, ties by player ID.
func Expected(rounds []Round) []model.RankingEntry {
	latest := make(map[string]float64)
	for _, r := range rounds {
		for _, s := range r.Submissions {
			latest[s.PlayerID] = s.Score
		}
	}

	entries := make([]model.RankingEntry, 0, len(latest))
	for id, score := range latest {
		entries = append(entries, model.RankingEntry{PlayerID: id, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

package loadgen

import (
	"errors"
	"fmt"

	"github.com/okian/podium/internal/domain/model"
)

// ErrMismatch marks a ranking that differs from the expected one.
var ErrMismatch = errors.New("ranking mismatch")

// VerifyTop checks that got is the head of expected: same length (bounded
// by limit), same players in the same order with the same scores and
// dense ranks starting at 1.
func VerifyTop(expected, got []model.RankingEntry, limit int) error {
	want := expected
	if limit < len(want) {
		want = want[:limit]
	}
	if len(got) != len(want) {
		return fmt.Errorf("%w: got %d entries, want %d", ErrMismatch, len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", ErrMismatch, i, g.Rank)
		}
		if g.PlayerID != w.PlayerID || g.Score != w.Score {
			return fmt.Errorf("%w: rank %d is %s (%.3f), want %s (%.3f)",
				ErrMismatch, i+1, g.PlayerID, g.Score, w.PlayerID, w.Score)
		}
	}
	return VerifySorted(got)
}

// VerifySorted checks descending score order with ties broken by player ID.
func VerifySorted(entries []model.RankingEntry) error {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.Score > prev.Score || (cur.Score == prev.Score && cur.PlayerID < prev.PlayerID) {
			return fmt.Errorf("%w: entry %d (%s) is out of order after %s", ErrMismatch, i, cur.PlayerID, prev.PlayerID)
		}
	}
	return nil
}

// VerifyRank checks a single player's entry against the expected ranking.
func VerifyRank(expected []model.RankingEntry, got model.RankingEntry) error {
	for _, w := range expected {
		if w.PlayerID != got.PlayerID {
			continue
		}
		if w.Rank != got.Rank || w.Score != got.Score {
			return fmt.Errorf("%w: %s has rank %d (%.3f), want %d (%.3f)",
				ErrMismatch, got.PlayerID, got.Rank, got.Score, w.Rank, w.Score)
		}
		return nil
	}
	return fmt.Errorf("%w: unexpected player %s", ErrMismatch, got.PlayerID)
}

// averageScore returns the mean score of entries.
func averageScore(entries []model.RankingEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.Score
	}
	return sum / float64(len(entries))
}

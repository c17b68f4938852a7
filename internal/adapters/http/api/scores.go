package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/domain/dedupe"
	"github.com/okian/podium/internal/domain/model"
)

// IdempotencyHeader carries the client's submission key.
const IdempotencyHeader = "Idempotency-Key"

// ScoreDependencies defines the interface for score submission.
type ScoreDependencies interface {
	dedupe.Deduper
	SubmitScore(ctx context.Context, sub model.ScoreSubmission) (model.SubmitResult, error)
	GetPlayerRank(ctx context.Context, leaderboardID, playerID string) (model.RankingEntry, error)
}

// ScoresHandler handles score submissions.
type ScoresHandler struct {
	deps ScoreDependencies
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoreDependencies) *ScoresHandler {
	return &ScoresHandler{deps: deps}
}

// scoreRequest is the body of POST /leaderboards/{leaderboardID}/scores.
type scoreRequest struct {
	PlayerID string          `json:"player_id"`
	Score    *float64        `json:"score"`
	Metadata *model.Metadata `json:"metadata,omitempty"`
}

func (s scoreRequest) validate() error {
	switch {
	case strings.TrimSpace(s.PlayerID) == "":
		return errors.New("missing player_id")
	case s.Score == nil:
		return errors.New("missing score")
	}
	return nil
}

type scoreResponse struct {
	model.SubmitResult
	Duplicate bool `json:"duplicate"`
}

// HandleSubmit handles POST /leaderboards/{leaderboardID}/scores.
func (h *ScoresHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	lbID := chi.URLParam(r, "leaderboardID")

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" {
		key = lbID + "/" + key
		if h.deps.SeenAndRecord(r.Context(), key) {
			h.replay(w, r, lbID, req.PlayerID)
			return
		}
	}

	res, err := h.deps.SubmitScore(r.Context(), model.ScoreSubmission{
		LeaderboardID: lbID,
		PlayerID:      req.PlayerID,
		Score:         *req.Score,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if key != "" {
			h.deps.Unrecord(r.Context(), key)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{SubmitResult: res})
}

// replay answers a repeated key with the player's current standing. A
// player not ranked yet means the original request has not finished.
func (h *ScoresHandler) replay(w http.ResponseWriter, r *http.Request, lbID, playerID string) {
	entry, err := h.deps.GetPlayerRank(r.Context(), lbID, playerID)
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusConflict, "submission_in_flight", ErrSubmissionInFlight)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		SubmitResult: model.SubmitResult{
			LeaderboardID: lbID,
			PlayerID:      entry.PlayerID,
			Score:         entry.Score,
			Rank:          entry.Rank,
			Metadata:      entry.Metadata,
		},
		Duplicate: true,
	})
}

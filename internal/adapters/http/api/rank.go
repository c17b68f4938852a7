package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/podium/internal/domain/model"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	GetPlayerRank(ctx context.Context, leaderboardID, playerID string) (model.RankingEntry, error)
	RemovePlayer(ctx context.Context, leaderboardID, playerID string) error
}

// RankHandler handles per-player requests.
type RankHandler struct {
	deps RankDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /leaderboards/{leaderboardID}/players/{playerID}/rank.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.GetPlayerRank(r.Context(), chi.URLParam(r, "leaderboardID"), chi.URLParam(r, "playerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleRemove handles DELETE /leaderboards/{leaderboardID}/players/{playerID}.
func (h *RankHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.RemovePlayer(r.Context(), chi.URLParam(r, "leaderboardID"), chi.URLParam(r, "playerID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

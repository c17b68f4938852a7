package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	GetTopPlayers(ctx context.Context, leaderboardID string, opts service.TopOptions) ([]model.RankingEntry, error)
	CreateLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error)
	GetLeaderboard(ctx context.Context, id string) (model.Leaderboard, error)
	ListLeaderboards(ctx context.Context) ([]model.Leaderboard, error)
	ArchiveLeaderboard(ctx context.Context, id string) error
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps LeaderboardDependencies
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

type createLeaderboardRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	GameID string `json:"game_id"`
}

type topResponse struct {
	LeaderboardID string               `json:"leaderboard_id"`
	Offset        int                  `json:"offset"`
	Entries       []model.RankingEntry `json:"entries"`
}

// HandleCreate handles POST /leaderboards.
func (h *LeaderboardHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createLeaderboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	lb, err := h.deps.CreateLeaderboard(r.Context(), model.Leaderboard{ID: req.ID, Name: req.Name, GameID: req.GameID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lb)
}

// HandleList handles GET /leaderboards.
func (h *LeaderboardHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.ListLeaderboards(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /leaderboards/{leaderboardID}.
func (h *LeaderboardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	lb, err := h.deps.GetLeaderboard(r.Context(), chi.URLParam(r, "leaderboardID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// HandleArchive handles DELETE /leaderboards/{leaderboardID}.
func (h *LeaderboardHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ArchiveLeaderboard(r.Context(), chi.URLParam(r, "leaderboardID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTop handles GET /leaderboards/{leaderboardID}/top?limit=N&offset=M.
// Missing or zero limits fall back to the service default; large limits are
// capped by the service.
func (h *LeaderboardHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "leaderboardID")
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	entries, err := h.deps.GetTopPlayers(r.Context(), id, service.TopOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topResponse{LeaderboardID: id, Offset: offset, Entries: entries})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
	}
	return n, nil
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/okian/podium/internal/adapters/notify"
	"github.com/okian/podium/pkg/logger"
)

// EventsHandler streams leaderboard events as Server-Sent Events.
type EventsHandler struct {
	subs      Subscriptions
	heartbeat time.Duration
	logger    logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(subs Subscriptions, heartbeat time.Duration, log logger.Logger) *EventsHandler {
	return &EventsHandler{subs: subs, heartbeat: heartbeat, logger: log}
}

// HandleStream handles GET /leaderboards/{leaderboardID}/events. The stream
// ends when the client goes away or the hub closes the connection.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || h.subs == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", ErrNoStreaming)
		return
	}

	lbID := chi.URLParam(r, "leaderboardID")
	connID := uuid.NewString()
	events, err := h.subs.Subscribe(connID, lbID)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	}
	defer h.subs.Disconnect(connID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, ": connected %s\n\n", connID)
	flusher.Flush()

	ctx := r.Context()
	h.logger.Debug(ctx, "event stream opened",
		logger.String("connection_id", connID),
		logger.String("leaderboard_id", lbID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn(ctx, "drop unencodable event", logger.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/domain/dedupe"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	dedupe.Deduper

	SubmitScore(ctx context.Context, sub model.ScoreSubmission) (model.SubmitResult, error)
	GetTopPlayers(ctx context.Context, leaderboardID string, opts service.TopOptions) ([]model.RankingEntry, error)
	GetPlayerRank(ctx context.Context, leaderboardID, playerID string) (model.RankingEntry, error)
	RemovePlayer(ctx context.Context, leaderboardID, playerID string) error

	CreateLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error)
	GetLeaderboard(ctx context.Context, id string) (model.Leaderboard, error)
	ListLeaderboards(ctx context.Context) ([]model.Leaderboard, error)
	ArchiveLeaderboard(ctx context.Context, id string) error
}

// Subscriptions registers streaming connections for leaderboard events.
type Subscriptions interface {
	Subscribe(connectionID, leaderboardID string) (<-chan model.Event, error)
	Disconnect(connectionID string)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	scoresHandler      *ScoresHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler

	limiter *rate.Limiter
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	rps       float64
	burst     int
	heartbeat time.Duration
	logger    logger.Logger
}

// WithRateLimit limits score submissions to rps with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *serverConfig) {
		c.rps = rps
		c.burst = burst
	}
}

// WithHeartbeat sets the interval of keep-alive comments on event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(c *serverConfig) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// WithLogger sets the HTTP layer logger.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, subs Subscriptions, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{heartbeat: 15 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("http")
	}

	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		scoresHandler:      NewScoresHandler(deps),
		eventsHandler:      NewEventsHandler(subs, cfg.heartbeat, cfg.logger),
		leaderboardHandler: NewLeaderboardHandler(deps),
		rankHandler:        NewRankHandler(deps),
	}
	if cfg.rps > 0 {
		burst := cfg.burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.rps), burst)
	}
	return s
}

// Routes returns a router with every API route attached.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Route("/leaderboards", func(r chi.Router) {
		r.Post("/", MetricsMiddleware(s.leaderboardHandler.HandleCreate, "leaderboards"))
		r.Get("/", MetricsMiddleware(s.leaderboardHandler.HandleList, "leaderboards"))

		r.Route("/{leaderboardID}", func(r chi.Router) {
			r.Get("/", MetricsMiddleware(s.leaderboardHandler.HandleGet, "leaderboard"))
			r.Delete("/", MetricsMiddleware(s.leaderboardHandler.HandleArchive, "leaderboard"))
			r.Post("/scores", MetricsMiddleware(RateLimit(s.limiter, s.scoresHandler.HandleSubmit), "scores"))
			r.Get("/top", MetricsMiddleware(s.leaderboardHandler.HandleTop, "top"))
			r.Get("/events", s.eventsHandler.HandleStream)
			r.Get("/players/{playerID}/rank", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
			r.Delete("/players/{playerID}", MetricsMiddleware(s.rankHandler.HandleRemove, "player"))
		})
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates the service error taxonomy to HTTP.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "not_started", err)
	case errors.Is(err, service.ErrInternalInconsistency):
		writeError(w, http.StatusInternalServerError, "internal_inconsistency", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// Package handler exposes the game server's JSON API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/metrics"
	"github.com/snake-arena/internal/service"
	"github.com/snake-arena/internal/websocket"
)

const serviceName = "snake-arena-api"

// Pinger reports whether the datastore is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP API needs. Hub and Gatherer are optional.
type Deps struct {
	Auth        *auth.Service
	Leaderboard *service.LeaderboardService
	LivePlayers *service.LivePlayerService
	Admin       *service.AdminService
	Hub         *websocket.Hub
	Store       Pinger
	Metrics     metrics.Recorder
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	auth        *auth.Service
	leaderboard *service.LeaderboardService
	live        *service.LivePlayerService
	admin       *service.AdminService
	hub         *websocket.Hub
	store       Pinger
	metrics     metrics.Recorder
	gatherer    prometheus.Gatherer
	limiter     *userLimiter
	config      *config.Config
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps, cfg *config.Config) *Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		auth:        deps.Auth,
		leaderboard: deps.Leaderboard,
		live:        deps.LivePlayers,
		admin:       deps.Admin,
		hub:         deps.Hub,
		store:       deps.Store,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		limiter:     newUserLimiter(cfg.LivePlayers.PingRate, cfg.LivePlayers.PingBurst),
		config:      cfg,
		logger:      deps.Logger,
	}
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware(h.config.Server.CORSOrigins))

	r.Get("/health", h.HealthCheck)
	r.Get("/health/ready", h.ReadyCheck)

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}
	if h.config.Metrics.Enabled && h.gatherer != nil {
		r.Handle(h.config.Metrics.Path, metrics.Handler(h.gatherer))
	}

	r.Route(h.config.Server.APIPrefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Group(func(r chi.Router) {
				r.Use(h.requireAuth)
				r.Get("/me", h.Me)
				r.Post("/logout", h.Logout)
			})
		})

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", h.ListScores)
			r.Get("/high-score", h.GetHighScore)
			r.Get("/top", h.GetTop)
			r.Get("/rank/{userID}", h.GetPlayerRank)
			r.With(h.requireAuth).Post("/", h.SubmitScore)
		})

		r.Route("/live-players", func(r chi.Router) {
			r.Get("/", h.ListLivePlayers)
			r.With(h.requireAuth).Post("/ping", h.Ping)
			r.With(h.requireAuth).Delete("/me", h.LeaveGame)
			r.Get("/{id}", h.GetLivePlayer)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(h.requireSuperuser)
			r.Get("/stats", h.GetStats)
			r.Get("/users", h.ListUsers)
			r.Delete("/users/{userID}", h.DeleteUser)
			r.Delete("/live-players", h.ClearLivePlayers)
		})

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// writeError maps an error to its status code and writes {"detail": ...}.
// Only unexpected errors are logged at error level, with the request id.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := http.StatusInternalServerError, "internal server error"

	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict):
		status, detail = http.StatusBadRequest, publicMessage(err)
	case errors.Is(err, domain.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		status, detail = http.StatusUnauthorized, publicMessage(err)
	case errors.Is(err, domain.ErrForbidden):
		status, detail = http.StatusForbidden, publicMessage(err)
	case errors.Is(err, domain.ErrNotFound):
		status, detail = http.StatusNotFound, publicMessage(err)
	case errors.Is(err, domain.ErrUnavailable):
		status, detail = http.StatusServiceUnavailable, domain.ErrUnavailable.Error()
		h.logger.Warn("dependency unavailable",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}

	h.writeJSON(w, status, ErrorResponse{Detail: detail})
}

// publicMessage drops the kind prefix ("invalid request: ", "conflict: ", ...)
// and any operation context added while the error travelled up.
func publicMessage(err error) string {
	msg := err.Error()
	for _, kind := range []error{domain.ErrValidation, domain.ErrConflict, domain.ErrUnauthenticated, domain.ErrForbidden, domain.ErrNotFound} {
		prefix := kind.Error() + ": "
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
	}
	return msg
}

// decodeJSON decodes a request body; decoding failures are validation errors
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return errInvalidBody
	}
	return nil
}

var (
	errInvalidBody  = fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	errInvalidQuery = fmt.Errorf("%w: invalid query parameter", domain.ErrValidation)
)

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_connections":    h.hub.GetTotalConnections(),
		"live_player_watchers": h.hub.GetSubscriberCount(websocket.TopicLivePlayers),
	})
}

// HealthCheck returns service liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

// ReadyCheck reports whether the datastore is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"service":  serviceName,
				"database": "disconnected",
			})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"service":  serviceName,
		"database": "connected",
	})
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snake-arena/internal/domain"
)

// ListLivePlayers returns every game in progress
func (h *Handler) ListLivePlayers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.live.List())
}

// GetLivePlayer returns one game in progress
func (h *Handler) GetLivePlayer(w http.ResponseWriter, r *http.Request) {
	state, err := h.live.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// Ping records a heartbeat from the authenticated player
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if !h.limiter.Allow(user.ID) {
		h.metrics.RecordPingRateLimited()
		w.Header().Set("Retry-After", "1")
		h.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Detail: "too many heartbeats"})
		return
	}

	var hb domain.Heartbeat
	if err := decodeJSON(r, &hb); err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.live.Ping(user, hb); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaveGame removes the authenticated player's session for a mode
func (h *Handler) LeaveGame(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.live.Leave(userFromContext(r.Context()), mode)
	w.WriteHeader(http.StatusNoContent)
}

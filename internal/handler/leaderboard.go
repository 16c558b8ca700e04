package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/metrics"
)

// ListScores returns every score entry, best first, optionally for one mode
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseOptionalMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	scores, err := h.leaderboard.Scores(r.Context(), mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scores)
}

// SubmitScore records a finished game for the authenticated user
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var submission domain.ScoreSubmission
	if err := decodeJSON(r, &submission); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.leaderboard.SubmitScore(r.Context(), userFromContext(r.Context()), submission, metrics.SourceHTTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// GetHighScore returns a user's best score; unknown users score 0
func (h *Handler) GetHighScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := domain.ParseOptionalMode(q.Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	score, err := h.leaderboard.HighScore(r.Context(), q.Get("userId"), mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, domain.HighScore{Score: score})
}

// parseRequiredMode reads the mode query parameter, defaulting to walls
func parseRequiredMode(r *http.Request) (domain.Mode, error) {
	s := r.URL.Query().Get("mode")
	if s == "" {
		return domain.ModeWalls, nil
	}
	return domain.ParseMode(s)
}

// GetTop returns the best score of the top users in a mode
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	mode, err := parseRequiredMode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			h.writeError(w, r, errInvalidQuery)
			return
		}
	}

	entries, err := h.leaderboard.TopScores(r.Context(), mode, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// GetPlayerRank returns a user's rank in a mode
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	mode, err := parseRequiredMode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.leaderboard.PlayerRank(r.Context(), mode, chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

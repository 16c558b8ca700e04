package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const defaultUserPageSize = 100

// GetStats returns user and game counts
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// ListUsers returns a page of users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := intQuery(r, "skip", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit", defaultUserPageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	users, err := h.admin.ListUsers(r.Context(), skip, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

// DeleteUser removes a user and everything they own
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteUser(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "userID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearLivePlayers removes every live session
func (h *Handler) ClearLivePlayers(w http.ResponseWriter, r *http.Request) {
	h.admin.ClearLivePlayers()
	w.WriteHeader(http.StatusNoContent)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errInvalidQuery
	}
	return n, nil
}

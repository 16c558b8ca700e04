package handler

import (
	"net/http"

	"github.com/snake-arena/internal/domain"
)

// Signup registers a new account
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.auth.Signup(r.Context(), creds.Email, creds.Password, creds.Username)
	h.metrics.RecordAuth("signup", err == nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// Login exchanges credentials for a token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.auth.Login(r.Context(), creds.Email, creds.Password)
	h.metrics.RecordAuth("login", err == nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Me returns the authenticated user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

// Logout is a no-op for stateless tokens; clients drop their token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/livescan/internal/db"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/logging"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// SessionStore reads persisted sessions.
type SessionStore interface {
	Get(ctx context.Context, id string) (*db.SessionRow, error)
	List(ctx context.Context, limit int) ([]*db.SessionRow, error)
}

// HostStore reads the hosts persisted for a session.
type HostStore interface {
	ListBySession(ctx context.Context, sessionID string) ([]*db.HostRow, error)
}

// SessionsResponse lists persisted sessions.
type SessionsResponse struct {
	Sessions []*db.SessionRow `json:"sessions"`
	Count    int              `json:"count"`
}

// SessionsHandler serves the session history.
type SessionsHandler struct {
	sessions SessionStore
	hosts    HostStore
	logger   *logging.Logger
}

// NewSessionsHandler creates a session history handler.
func NewSessionsHandler(sessions SessionStore, hostStore HostStore, logger *logging.Logger) *SessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionsHandler{
		sessions: sessions,
		hosts:    hostStore,
		logger:   logger.WithComponent("api.sessions"),
	}
}

// List returns recent sessions, newest first.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryParamInt(r, "limit", defaultSessionLimit)
	if err == nil && (limit < 1 || limit > maxSessionLimit) {
		err = errors.ErrConfigInvalid("limit", limit)
	}
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	rows, err := h.sessions.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorDatabase("Failed to list sessions", err)
		writeCodedError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*db.SessionRow{}
	}
	writeJSON(w, r, http.StatusOK, SessionsResponse{Sessions: rows, Count: len(rows)})
}

// Get returns one session.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	row, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, row)
}

// Hosts returns the hosts a session stored.
func (h *SessionsHandler) Hosts(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		writeCodedError(w, r, err)
		return
	}
	rows, err := h.hosts.ListBySession(r.Context(), id)
	if err != nil {
		h.logger.ErrorDatabase("Failed to list session hosts", err, "session_id", id)
		writeCodedError(w, r, err)
		return
	}

	out := make([]hosts.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Record())
	}
	writeJSON(w, r, http.StatusOK, HostsResponse{Hosts: out, Count: len(out)})
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeCodedError(w, r, errors.NewConfigFieldError(errors.CodeValidation, "invalid session ID", "id", raw))
		return "", false
	}
	return id.String(), true
}

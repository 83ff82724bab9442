package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/identity"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// sessionSummary is the list-view shape: no turns, only sidebar fields.
type sessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsStarred    bool      `json:"is_starred"`
	TurnCount    int       `json:"turn_count"`
}

func summarize(s *domain.Session) sessionSummary {
	return sessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		IsStarred:    s.IsStarred,
		TurnCount:    len(s.Turns),
	}
}

// HandleListSessions returns the user's visible sessions, newest first.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.sessions.ListVisibleSessions(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	JSON(w, http.StatusOK, out)
}

// HandleCreateSession opens a fresh session seeded with the greeting. The
// session stays out of the sidebar until the first user message arrives.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	s, err := h.sessions.CreateSession(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	JSON(w, http.StatusCreated, s)
}

// HandleGetSession returns one session with its full transcript. Opening a
// session also makes it the current one, so id-less chat messages follow it.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	s, err := h.sessions.SwitchSession(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, s)
}

type updateSessionRequest struct {
	Title     *string `json:"title,omitempty"`
	IsStarred *bool   `json:"is_starred,omitempty"`
}

// HandleUpdateSession renames and/or stars a session.
func (h *Handler) HandleUpdateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.IsStarred == nil {
		Error(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if req.Title != nil {
		if *req.Title == "" {
			Error(w, http.StatusBadRequest, "title cannot be empty")
			return
		}
		if err := h.sessions.RenameSession(r.Context(), userID, sessionID, *req.Title); err != nil {
			h.writeSessionError(w, err, "failed to rename session")
			return
		}
	}
	if req.IsStarred != nil {
		if err := h.sessions.SetStarred(r.Context(), userID, sessionID, *req.IsStarred); err != nil {
			h.writeSessionError(w, err, "failed to star session")
			return
		}
	}

	s, err := h.sessions.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		h.writeSessionError(w, err, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, summarize(s))
}

// HandleDeleteSession removes a session and cancels its pending title task.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.sessions.DeleteSession(r.Context(), userID, sessionID); err != nil {
		h.writeSessionError(w, err, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, session.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	Error(w, http.StatusInternalServerError, fallback)
}

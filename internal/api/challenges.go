package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fortulabs/fortu-chat/internal/identity"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// HandleListChallenges returns the user's challenge history, newest first.
func (h *Handler) HandleListChallenges(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	challenges, err := h.sessions.ListChallenges(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list challenges")
		return
	}
	JSON(w, http.StatusOK, challenges)
}

// HandleGetChallenge returns one challenge record.
func (h *Handler) HandleGetChallenge(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	challengeID := chi.URLParam(r, "challengeID")

	ch, err := h.sessions.GetChallenge(r.Context(), userID, challengeID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "challenge not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load challenge")
		return
	}
	JSON(w, http.StatusOK, ch)
}

// HandleUnselectedQuestions returns the questions shown for a challenge that
// the user never picked, for later follow-up.
func (h *Handler) HandleUnselectedQuestions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	challengeID := chi.URLParam(r, "challengeID")

	questions, err := h.sessions.UnselectedQuestions(r.Context(), userID, challengeID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "challenge not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load questions")
		return
	}
	JSON(w, http.StatusOK, questions)
}

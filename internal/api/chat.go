package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fortulabs/fortu-chat/internal/dialogue"
	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/identity"
)

type chatRequest struct {
	SessionID         string                 `json:"session_id,omitempty"`
	Message           string                 `json:"message"`
	SelectedQuestions []domain.Question      `json:"selected_questions,omitempty"`
	Action            domain.SelectionAction `json:"action,omitempty"`
}

type chatResponse struct {
	SessionID     string       `json:"session_id"`
	AssistantTurn *domain.Turn `json:"assistant_turn"`
}

// HandleChat runs one conversational exchange and returns the assistant turn.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Rate-limit by userID only so rotating connection IDs does not reset
	// the window.
	if !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	slog.Info("chat request",
		"user_id", userID,
		"session_id", req.SessionID,
		"message_length", len(req.Message),
	)

	res, err := h.orchestrator.SendTurn(r.Context(), dialogue.SendRequest{
		UserID:            userID,
		SessionID:         req.SessionID,
		Message:           req.Message,
		SelectedQuestions: req.SelectedQuestions,
		Action:            req.Action,
	})
	if err != nil {
		slog.Error("chat turn failed", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	JSON(w, http.StatusOK, chatResponse{
		SessionID:     res.SessionID,
		AssistantTurn: res.AssistantTurn,
	})
}

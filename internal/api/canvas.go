package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fortulabs/fortu-chat/internal/canvas"
	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/identity"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// activeCanvas resolves the user's controller and checks that the canvas is
// showing the question session named in the path. Operations on a stale id
// get a conflict; the client must switch first.
func (h *Handler) activeCanvas(w http.ResponseWriter, r *http.Request) (*canvas.Controller, bool) {
	userID := identity.UserIDFromContext(r.Context())
	questionSessionID := chi.URLParam(r, "questionSessionID")

	ctrl := h.canvases.ForUser(userID)
	if ctrl.ActiveID() != questionSessionID {
		Error(w, http.StatusConflict, "canvas is not on this question session")
		return nil, false
	}
	return ctrl, true
}

// HandleCanvasState returns the canvas snapshot for the active session.
func (h *Handler) HandleCanvasState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.activeCanvas(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.State())
}

// HandleCanvasSwitch makes the named question session the active one.
func (h *Handler) HandleCanvasSwitch(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	questionSessionID := chi.URLParam(r, "questionSessionID")

	state, err := h.canvases.ForUser(userID).SwitchSession(r.Context(), questionSessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "question session not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to switch canvas")
		return
	}
	JSON(w, http.StatusOK, state)
}

// HandleCanvasGenerate regenerates both question lists.
func (h *Handler) HandleCanvasGenerate(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.activeCanvas(w, r)
	if !ok {
		return
	}
	state, err := ctrl.Generate(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to generate questions")
		return
	}
	JSON(w, http.StatusOK, state)
}

type canvasSelectRequest struct {
	QuestionID string `json:"question_id"`
}

// HandleCanvasSelect toggles one question's selected flag.
func (h *Handler) HandleCanvasSelect(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.activeCanvas(w, r)
	if !ok {
		return
	}

	var req canvasSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		Error(w, http.StatusBadRequest, "question_id is required")
		return
	}

	state, err := ctrl.Toggle(r.Context(), req.QuestionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "question not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to toggle question")
		return
	}
	JSON(w, http.StatusOK, state)
}

type canvasSendRequest struct {
	ChatSessionID string                 `json:"chat_session_id"`
	Action        domain.SelectionAction `json:"action,omitempty"`
}

// HandleCanvasSend packages the selection into a synthesized chat message.
func (h *Handler) HandleCanvasSend(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.activeCanvas(w, r)
	if !ok {
		return
	}

	var req canvasSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action := req.Action
	if action == "" {
		action = domain.ActionRefine
	}

	res, err := ctrl.Send(r.Context(), req.ChatSessionID, action)
	if err != nil {
		switch {
		case errors.Is(err, canvas.ErrNoSelection):
			Error(w, http.StatusBadRequest, "no questions selected")
		case errors.Is(err, canvas.ErrDuplicateSend):
			Error(w, http.StatusConflict, "selection already sent")
		default:
			Error(w, http.StatusInternalServerError, "failed to send selection")
		}
		return
	}
	JSON(w, http.StatusOK, res)
}

// Package api provides HTTP handlers for the fortu chat API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fortulabs/fortu-chat/internal/canvas"
	"github.com/fortulabs/fortu-chat/internal/dialogue"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// maxRequestBodySize caps chat request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler provides the HTTP surface over the session manager, the dialogue
// orchestrator, and the canvas controllers.
type Handler struct {
	sessions     *session.Manager
	orchestrator *dialogue.Orchestrator
	canvases     *canvas.Registry
	limiter      *RateLimiter
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *session.Manager, orchestrator *dialogue.Orchestrator, canvases *canvas.Registry, limiter *RateLimiter) *Handler {
	return &Handler{
		sessions:     sessions,
		orchestrator: orchestrator,
		canvases:     canvases,
		limiter:      limiter,
	}
}

// RegisterRoutes mounts all API routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.HandleListSessions)
		r.Post("/", h.HandleCreateSession)
		r.Get("/{sessionID}", h.HandleGetSession)
		r.Patch("/{sessionID}", h.HandleUpdateSession)
		r.Delete("/{sessionID}", h.HandleDeleteSession)
	})

	r.Route("/api/challenges", func(r chi.Router) {
		r.Get("/", h.HandleListChallenges)
		r.Get("/{challengeID}", h.HandleGetChallenge)
		r.Get("/{challengeID}/unselected", h.HandleUnselectedQuestions)
	})

	r.Route("/api/canvas/{questionSessionID}", func(r chi.Router) {
		r.Get("/", h.HandleCanvasState)
		r.Post("/generate", h.HandleCanvasGenerate)
		r.Post("/select", h.HandleCanvasSelect)
		r.Post("/send", h.HandleCanvasSend)
		r.Post("/switch", h.HandleCanvasSwitch)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

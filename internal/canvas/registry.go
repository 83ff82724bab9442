package canvas

import (
	"sync"

	"github.com/fortulabs/fortu-chat/internal/llm"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// Registry hands out one canvas controller per user, created lazily.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller

	sessions *session.Manager
	gen      llm.QuestionGenerator
	sender   Sender
}

// NewRegistry creates an empty controller registry.
func NewRegistry(sessions *session.Manager, gen llm.QuestionGenerator, sender Sender) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		sessions:    sessions,
		gen:         gen,
		sender:      sender,
	}
}

// ForUser returns the user's controller, creating it on first use.
func (r *Registry) ForUser(userID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.controllers[userID]
	if !ok {
		ctrl = NewController(userID, r.sessions, r.gen, r.sender)
		r.controllers[userID] = ctrl
	}
	return ctrl
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TitleSentinel is the placeholder title a session carries until the one-shot
// title rewrite has run.
const TitleSentinel = "New Chat"

// Session is an ordered conversation. A session is "visible" (listed and
// persisted) only once it contains at least one user turn; sessions holding
// nothing but the seeded greeting are ephemeral.
type Session struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Turns          []Turn    `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	IsStarred      bool      `json:"is_starred"`
	IsSaved        bool      `json:"is_saved"`
	HasUserMessage bool      `json:"has_user_message"`

	// TitleGenerated records that the one-shot title rewrite has been
	// scheduled, whether or not it succeeded.
	TitleGenerated bool `json:"title_generated"`
}

// NewSession creates a session seeded with a single assistant greeting turn.
func NewSession(greeting string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Title:        TitleSentinel,
		Turns:        []Turn{NewTurn(RoleAssistant, greeting)},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Visible reports whether the session belongs in listings and durable storage.
func (s *Session) Visible() bool {
	return s.HasUserMessage && s.IsSaved
}

// Append adds a turn and updates activity bookkeeping. It returns true when
// the turn is the session's first user-authored turn, which flips the session
// visible as part of the same mutation.
func (s *Session) Append(t Turn) (firstUserTurn bool) {
	s.Turns = append(s.Turns, t)
	s.LastActivity = t.Timestamp
	if t.Role == RoleUser && !s.HasUserMessage {
		s.HasUserMessage = true
		s.IsSaved = true
		return true
	}
	return false
}

// LastAssistantText returns the text of the most recent assistant turn, or ""
// when the session has none.
func (s *Session) LastAssistantText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleAssistant {
			return s.Turns[i].Text
		}
	}
	return ""
}

package session

import (
	"context"
	"log/slog"

	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/llm"
)

// titleTurnLimit bounds how much of the transcript the title service sees.
const titleTurnLimit = 4

// scheduleTitleLocked launches the one-shot title task for a session. The
// snapshot of opening turns is taken under the caller's lock; the task itself
// re-resolves the session by id before applying the result, so a session
// deleted (or a list rearranged) in the interim is left alone. On failure the
// session keeps its sentinel title and the one-shot stays consumed.
func (m *Manager) scheduleTitleLocked(st *userState, userID string, s *domain.Session) {
	turns := make([]llm.Message, 0, titleTurnLimit)
	for _, t := range s.Turns {
		if len(turns) == titleTurnLimit {
			break
		}
		turns = append(turns, llm.Message{Role: string(t.Role), Content: t.Text})
	}

	ctx, cancel := context.WithCancel(context.Background())
	st.titleCancels[s.ID] = cancel
	sessionID := s.ID

	go func() {
		defer cancel()

		title, err := m.titles.GenerateTitle(ctx, turns)
		if err != nil {
			slog.Warn("title generation failed, keeping sentinel",
				"user_id", userID, "session_id", sessionID, "error", err)
			return
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		st, ok := m.users[userID]
		if !ok {
			return
		}
		delete(st.titleCancels, sessionID)
		target, ok := st.sessions[sessionID]
		if !ok {
			// Deleted while the call was in flight.
			return
		}
		if target.Title != domain.TitleSentinel {
			// Renamed by hand while the call was in flight.
			return
		}
		target.Title = title
		if target.Visible() {
			m.persistSessionsLocked(context.Background(), userID, st)
		}
		slog.Info("session title generated", "user_id", userID, "session_id", sessionID, "title", title)
	}()
}

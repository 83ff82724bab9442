// Package session implements conversation bookkeeping over the blob store:
// chat sessions with the visibility rule, the one-shot title rewrite, and the
// challenge / question-session records.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/llm"
	"github.com/fortulabs/fortu-chat/internal/store"
)

// ErrNotFound is returned when a session or record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultGreeting seeds every new session's assistant turn.
const DefaultGreeting = "Hi, I'm your fortu.ai guide. Tell me about the business challenge on your mind and we'll shape it into a question worth answering."

// Manager owns all per-user conversation state. Every mutation is applied
// atomically under one lock so visibility filtering never observes a
// half-applied transition (a turn appended but HasUserMessage not yet set).
type Manager struct {
	kv       store.KV
	titles   llm.TitleGenerator // nil disables title rewrites
	greeting string

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	loadedSessions   bool
	loadedChallenges bool
	loadedQuestions  bool

	sessions   map[string]*domain.Session
	challenges map[string]*domain.ChallengeSession
	questions  map[string]*domain.QuestionSession

	// titleCancels holds the cancel funcs of in-flight title tasks so a
	// session deleted mid-flight never applies a stale update.
	titleCancels map[string]context.CancelFunc

	// currentID is the session the user last created or switched to;
	// id-less messages land there.
	currentID string
}

// NewManager creates a session manager over the given blob store.
func NewManager(kv store.KV, titles llm.TitleGenerator) *Manager {
	return &Manager{
		kv:       kv,
		titles:   titles,
		greeting: DefaultGreeting,
		users:    make(map[string]*userState),
	}
}

func sessionsKey(userID string) string { return "sessions:" + userID }
func challengesKey(userID string) string { return "challenges:" + userID }
func questionsKey(userID string) string { return "question_sessions:" + userID }

// CreateSession creates a fresh session seeded with the greeting turn. The
// session stays ephemeral (unlisted, unpersisted) until its first user turn.
func (m *Manager) CreateSession(ctx context.Context, userID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	s := domain.NewSession(m.greeting)
	st.sessions[s.ID] = s
	st.currentID = s.ID
	return cloneSession(s), nil
}

// SwitchSession makes the session the user's current one and returns its
// transcript. Id-less messages are routed to the current session.
func (m *Manager) SwitchSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sessionLocked(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	m.users[userID].currentID = s.ID
	return cloneSession(s), nil
}

// CurrentSession returns the user's current session, or nil when none is
// set (or the current one was deleted).
func (m *Manager) CurrentSession(ctx context.Context, userID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.currentID == "" {
		return nil, nil
	}
	s, ok := st.sessions[st.currentID]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

// GetSession returns a copy of the session, or ErrNotFound.
func (m *Manager) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sessionLocked(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return cloneSession(s), nil
}

// ListVisibleSessions returns sessions containing at least one user turn,
// most recently active first. Ephemeral greeting-only sessions never appear.
func (m *Manager) ListVisibleSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Session
	for _, s := range st.sessions {
		if s.Visible() {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// AppendTurn appends a turn to the session. The first user turn flips the
// session visible and schedules the one-shot title rewrite as part of the
// same mutation. Returns the updated session.
func (m *Manager) AppendTurn(ctx context.Context, userID, sessionID string, t domain.Turn) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	first := s.Append(t)
	if first && m.titles != nil && !s.TitleGenerated {
		s.TitleGenerated = true
		m.scheduleTitleLocked(st, userID, s)
	}
	if s.Visible() {
		m.persistSessionsLocked(ctx, userID, st)
	}
	return cloneSession(s), nil
}

// RenameSession sets the session title.
func (m *Manager) RenameSession(ctx context.Context, userID, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sessionLocked(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	s.Title = title
	if s.Visible() {
		m.persistSessionsLocked(ctx, userID, m.users[userID])
	}
	return nil
}

// SetStarred sets the session's starred flag.
func (m *Manager) SetStarred(ctx context.Context, userID, sessionID string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sessionLocked(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	s.IsStarred = starred
	if s.Visible() {
		m.persistSessionsLocked(ctx, userID, m.users[userID])
	}
	return nil
}

// DeleteSession removes the session and cancels any in-flight title task.
func (m *Manager) DeleteSession(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := st.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if cancel, ok := st.titleCancels[sessionID]; ok {
		cancel()
		delete(st.titleCancels, sessionID)
	}
	delete(st.sessions, sessionID)
	if st.currentID == sessionID {
		st.currentID = ""
	}
	m.persistSessionsLocked(ctx, userID, st)
	return nil
}

// Close cancels all in-flight title tasks.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.users {
		for id, cancel := range st.titleCancels {
			cancel()
			delete(st.titleCancels, id)
		}
	}
}

func (m *Manager) sessionLocked(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return s, nil
}

// userLocked returns the in-memory state for a user, loading the session
// collection from storage on first access. Callers hold m.mu.
func (m *Manager) userLocked(ctx context.Context, userID string) (*userState, error) {
	st, ok := m.users[userID]
	if !ok {
		st = &userState{
			sessions:     make(map[string]*domain.Session),
			challenges:   make(map[string]*domain.ChallengeSession),
			questions:    make(map[string]*domain.QuestionSession),
			titleCancels: make(map[string]context.CancelFunc),
		}
		m.users[userID] = st
	}
	if !st.loadedSessions {
		st.loadedSessions = true
		var stored []*domain.Session
		if err := m.loadCollection(ctx, sessionsKey(userID), &stored); err != nil {
			return nil, err
		}
		for _, s := range stored {
			// Only visible sessions are ever written, but a hand-edited
			// blob could violate that; re-filter on load.
			if s.Visible() {
				st.sessions[s.ID] = s
			}
		}
	}
	return st, nil
}

// loadCollection reads and decodes one collection blob. A corrupt blob is
// discarded as empty state with a warning, never surfaced as an error.
func (m *Manager) loadCollection(ctx context.Context, key string, out any) error {
	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %q: %w", key, err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Warn("discarding corrupt collection blob", "key", key, "error", err)
	}
	return nil
}

// persistSessionsLocked writes the visible-sessions subset. Persistence is
// best effort; a storage failure is logged, not propagated.
func (m *Manager) persistSessionsLocked(ctx context.Context, userID string, st *userState) {
	visible := make([]*domain.Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		if s.Visible() {
			visible = append(visible, s)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].LastActivity.After(visible[j].LastActivity)
	})
	m.persist(ctx, sessionsKey(userID), visible)
}

func (m *Manager) persist(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to encode collection", "key", key, "error", err)
		return
	}
	if err := m.kv.Set(ctx, key, raw); err != nil {
		slog.Warn("failed to persist collection", "key", key, "error", err)
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	out := *s
	out.Turns = append([]domain.Turn(nil), s.Turns...)
	return &out
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fortulabs/fortu-chat/internal/domain"
)

// CreateChallenge opens a challenge-history record in the exploring state.
func (m *Manager) CreateChallenge(ctx context.Context, userID, originalChallenge string) (*domain.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.challengesLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	c := domain.NewChallengeSession(originalChallenge)
	st.challenges[c.ID] = c
	m.persistChallengesLocked(ctx, userID, st)
	return cloneChallenge(c), nil
}

// GetChallenge returns a copy of a challenge record, or ErrNotFound.
func (m *Manager) GetChallenge(ctx context.Context, userID, challengeID string) (*domain.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.challengesLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	c, ok := st.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, ErrNotFound)
	}
	return cloneChallenge(c), nil
}

// ListChallenges returns all challenge records, newest first.
func (m *Manager) ListChallenges(ctx context.Context, userID string) ([]*domain.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.challengesLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ChallengeSession, 0, len(st.challenges))
	for _, c := range st.challenges {
		out = append(out, cloneChallenge(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// ActiveChallenge returns the newest challenge record that has not completed,
// or nil when every record is done. A user can run several challenges; only
// the newest open one receives conversation updates.
func (m *Manager) ActiveChallenge(ctx context.Context, userID string) (*domain.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.challengesLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	var newest *domain.ChallengeSession
	for _, c := range st.challenges {
		if c.Status == domain.ChallengeCompleted {
			continue
		}
		if newest == nil || c.Timestamp.After(newest.Timestamp) {
			newest = c
		}
	}
	if newest == nil {
		return nil, nil
	}
	return cloneChallenge(newest), nil
}

// UpdateChallenge applies fn to the stored record atomically and persists the
// result. fn returning an error aborts the update.
func (m *Manager) UpdateChallenge(ctx context.Context, userID, challengeID string, fn func(*domain.ChallengeSession) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.challengesLocked(ctx, userID)
	if err != nil {
		return err
	}
	c, ok := st.challenges[challengeID]
	if !ok {
		return fmt.Errorf("challenge %s: %w", challengeID, ErrNotFound)
	}
	if err := fn(c); err != nil {
		return err
	}
	m.persistChallengesLocked(ctx, userID, st)
	return nil
}

// UnselectedQuestions computes allQuestions minus selectedQuestions for a
// challenge by id-set difference.
func (m *Manager) UnselectedQuestions(ctx context.Context, userID, challengeID string) ([]domain.Question, error) {
	c, err := m.GetChallenge(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	return c.Unselected(), nil
}

// CreateQuestionSession opens a question-search session. It is only called
// once the classifier has judged a challenge ready for search.
func (m *Manager) CreateQuestionSession(ctx context.Context, userID, question, refinedChallenge string) (*domain.QuestionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.questionsLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := domain.NewQuestionSession(question, refinedChallenge)
	st.questions[q.ID] = q
	m.persistQuestionsLocked(ctx, userID, st)
	return cloneQuestionSession(q), nil
}

// GetQuestionSession returns a copy of a question session, or ErrNotFound.
func (m *Manager) GetQuestionSession(ctx context.Context, userID, sessionID string) (*domain.QuestionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.questionsLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	q, ok := st.questions[sessionID]
	if !ok {
		return nil, fmt.Errorf("question session %s: %w", sessionID, ErrNotFound)
	}
	return cloneQuestionSession(q), nil
}

// ListQuestionSessions returns all question sessions, newest first.
func (m *Manager) ListQuestionSessions(ctx context.Context, userID string) ([]*domain.QuestionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.questionsLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.QuestionSession, 0, len(st.questions))
	for _, q := range st.questions {
		out = append(out, cloneQuestionSession(q))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// FindQuestionSessionByChallenge returns the newest question session for a
// refined challenge, or nil.
func (m *Manager) FindQuestionSessionByChallenge(ctx context.Context, userID, refinedChallenge string) (*domain.QuestionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.questionsLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	var newest *domain.QuestionSession
	for _, q := range st.questions {
		if q.RefinedChallenge != refinedChallenge {
			continue
		}
		if newest == nil || q.Timestamp.After(newest.Timestamp) {
			newest = q
		}
	}
	if newest == nil {
		return nil, nil
	}
	return cloneQuestionSession(newest), nil
}

// UpdateQuestionSession applies fn to the stored session atomically and
// persists the result.
func (m *Manager) UpdateQuestionSession(ctx context.Context, userID, sessionID string, fn func(*domain.QuestionSession) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.questionsLocked(ctx, userID)
	if err != nil {
		return err
	}
	q, ok := st.questions[sessionID]
	if !ok {
		return fmt.Errorf("question session %s: %w", sessionID, ErrNotFound)
	}
	if err := fn(q); err != nil {
		return err
	}
	m.persistQuestionsLocked(ctx, userID, st)
	return nil
}

func (m *Manager) challengesLocked(ctx context.Context, userID string) (*userState, error) {
	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !st.loadedChallenges {
		st.loadedChallenges = true
		var stored []*domain.ChallengeSession
		if err := m.loadCollection(ctx, challengesKey(userID), &stored); err != nil {
			return nil, err
		}
		for _, c := range stored {
			st.challenges[c.ID] = c
		}
	}
	return st, nil
}

func (m *Manager) questionsLocked(ctx context.Context, userID string) (*userState, error) {
	st, err := m.userLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !st.loadedQuestions {
		st.loadedQuestions = true
		var stored []*domain.QuestionSession
		if err := m.loadCollection(ctx, questionsKey(userID), &stored); err != nil {
			return nil, err
		}
		for _, q := range stored {
			// Duplicate ids within one session's combined set violate the
			// question identity contract; drop the record rather than serve
			// ambiguous selection state.
			if err := domain.ValidateQuestionIDs(q.FortuQuestions, q.AIQuestions); err != nil {
				slog.Warn("discarding question session with conflicting ids",
					"user_id", userID, "session_id", q.ID, "error", err)
				continue
			}
			st.questions[q.ID] = q
		}
	}
	return st, nil
}

func (m *Manager) persistChallengesLocked(ctx context.Context, userID string, st *userState) {
	all := make([]*domain.ChallengeSession, 0, len(st.challenges))
	for _, c := range st.challenges {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	m.persist(ctx, challengesKey(userID), all)
}

func (m *Manager) persistQuestionsLocked(ctx context.Context, userID string, st *userState) {
	all := make([]*domain.QuestionSession, 0, len(st.questions))
	for _, q := range st.questions {
		all = append(all, q)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	m.persist(ctx, questionsKey(userID), all)
}

func cloneChallenge(c *domain.ChallengeSession) *domain.ChallengeSession {
	out := *c
	out.SelectedQuestions = append([]domain.Question(nil), c.SelectedQuestions...)
	out.AllQuestions = append([]domain.Question(nil), c.AllQuestions...)
	return &out
}

func cloneQuestionSession(q *domain.QuestionSession) *domain.QuestionSession {
	out := *q
	out.FortuQuestions = append([]domain.Question(nil), q.FortuQuestions...)
	out.AIQuestions = append([]domain.Question(nil), q.AIQuestions...)
	out.SelectedQuestions = append([]domain.Question(nil), q.SelectedQuestions...)
	return &out
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/llm"
	"github.com/fortulabs/fortu-chat/internal/store"
)

// memKV is an in-memory store.KV for tests.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Ping(context.Context) error { return nil }
func (m *memKV) Close() error               { return nil }

var _ store.KV = (*memKV)(nil)

// fakeTitles is a TitleGenerator whose result and release are controlled by
// the test.
type fakeTitles struct {
	title   string
	err     error
	release chan struct{} // when non-nil, GenerateTitle blocks until closed
	calls   int
	mu      sync.Mutex
}

func (f *fakeTitles) GenerateTitle(ctx context.Context, _ []llm.Message) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.title, f.err
}

func (f *fakeTitles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestVisibilityRequiresUserTurn(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	m := NewManager(kv, nil)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Greeting-only session: unlisted and unpersisted.
	listed, err := m.ListVisibleSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisibleSessions failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("greeting-only session must not be listed, got %d", len(listed))
	}
	if blob, _ := kv.Get(ctx, sessionsKey("u1")); blob != nil {
		t.Fatal("greeting-only session must not be persisted")
	}

	if _, err := m.AppendTurn(ctx, "u1", s.ID, domain.NewTurn(domain.RoleUser, "hello")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	listed, err = m.ListVisibleSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisibleSessions failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != s.ID {
		t.Fatalf("session with a user turn must be listed, got %d", len(listed))
	}
	if blob, _ := kv.Get(ctx, sessionsKey("u1")); blob == nil {
		t.Fatal("visible session must be persisted")
	}
}

func TestCurrentSessionFollowsSwitchAndDelete(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemKV(), nil)
	ctx := context.Background()

	s1, err := m.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	s2, err := m.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// The most recently created session is current.
	cur, err := m.CurrentSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if cur == nil || cur.ID != s2.ID {
		t.Fatalf("current = %+v, want %s", cur, s2.ID)
	}

	if _, err := m.SwitchSession(ctx, "u1", s1.ID); err != nil {
		t.Fatalf("SwitchSession failed: %v", err)
	}
	cur, err = m.CurrentSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if cur == nil || cur.ID != s1.ID {
		t.Fatalf("current after switch = %+v, want %s", cur, s1.ID)
	}

	if _, err := m.SwitchSession(ctx, "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SwitchSession to unknown id = %v, want ErrNotFound", err)
	}

	// Deleting the current session clears the pointer.
	if err := m.DeleteSession(ctx, "u1", s1.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	cur, err = m.CurrentSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if cur != nil {
		t.Fatalf("current after delete = %+v, want nil", cur)
	}
}

func TestListVisibleSessionsOrder(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemKV(), nil)
	ctx := context.Background()

	a, _ := m.CreateSession(ctx, "u1")
	b, _ := m.CreateSession(ctx, "u1")

	early := domain.NewTurn(domain.RoleUser, "first")
	early.Timestamp = time.Now().Add(-time.Hour)
	if _, err := m.AppendTurn(ctx, "u1", a.ID, early); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	if _, err := m.AppendTurn(ctx, "u1", b.ID, domain.NewTurn(domain.RoleUser, "second")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	listed, err := m.ListVisibleSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisibleSessions failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != b.ID {
		t.Fatalf("expected most recently active first, got %+v", listed)
	}
}

func TestSessionsSurviveReload(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	ctx := context.Background()

	m := NewManager(kv, nil)
	s, _ := m.CreateSession(ctx, "u1")
	if _, err := m.AppendTurn(ctx, "u1", s.ID, domain.NewTurn(domain.RoleUser, "persist me")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	// A fresh manager over the same store sees the session, timestamps
	// reconstituted.
	m2 := NewManager(kv, nil)
	got, err := m2.GetSession(ctx, "u1", s.ID)
	if err != nil {
		t.Fatalf("GetSession after reload failed: %v", err)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("expected 2 turns after reload, got %d", len(got.Turns))
	}
	if got.Turns[1].Timestamp.IsZero() {
		t.Error("expected timestamps to be reconstituted")
	}
	if !got.Visible() {
		t.Error("reloaded session must remain visible")
	}
}

func TestCorruptBlobDiscarded(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	ctx := context.Background()
	if err := kv.Set(ctx, sessionsKey("u1"), []byte("{not json")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	m := NewManager(kv, nil)
	listed, err := m.ListVisibleSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("corrupt blob must be treated as empty state, got error: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty state, got %d sessions", len(listed))
	}
}

func TestTitleRewriteOncePerSession(t *testing.T) {
	t.Parallel()

	titles := &fakeTitles{title: "Churn rescue plan"}
	m := NewManager(newMemKV(), titles)
	ctx := context.Background()

	s, _ := m.CreateSession(ctx, "u1")
	if _, err := m.AppendTurn(ctx, "u1", s.ID, domain.NewTurn(domain.RoleUser, "churn is bad")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	if _, err := m.AppendTurn(ctx, "u1", s.ID, domain.NewTurn(domain.RoleUser, "really bad")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	waitFor(t, func() bool {
		got, err := m.GetSession(ctx, "u1", s.ID)
		return err == nil && got.Title == "Churn rescue plan"
	})
	if titles.callCount() != 1 {
		t.Fatalf("title generation must run at most once, ran %d times", titles.callCount())
	}
}

func TestTitleFailureKeepsSentinel(t *testing.T) {
	t.Parallel()

	titles := &fakeTitles{err: errors.New("provider down")}
	m := NewManager(newMemKV(), titles)
	ctx := context.Background()

	s, _ := m.CreateSession(ctx, "u1")
	if _, err := m.AppendTurn(ctx, "u1", s.ID, domain.NewTurn(domain.RoleUser, "hi")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	waitFor(t, func() bool { return titles.callCount() == 1 })
	got, err := m.GetSession(ctx, "u1", s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Title != domain.TitleSentinel {
		t.Errorf("expected sentinel title after failure, got %q", got.Title)
	}
}

func TestDeleteCancelsTitleTask(t *testing.T) {
	t.Parallel()

	titles := &fakeTitles{title: "stale", release: make(chan struct{})}
	m := NewManager(newMemKV(), titles)
	ctx := context.Background()

	s, _ := m.CreateSession(ctx, "u1")
	if _, err := m.AppendTurn(ctx, "u1", s.ID, domain.NewTurn(domain.RoleUser, "hi")); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	if err := m.DeleteSession(ctx, "u1", s.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	close(titles.release)

	// The stale update must not resurrect the session.
	time.Sleep(50 * time.Millisecond)
	if _, err := m.GetSession(ctx, "u1", s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestChallengeStatusForwardOnly(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemKV(), nil)
	ctx := context.Background()

	c, err := m.CreateChallenge(ctx, "u1", "we are losing customers")
	if err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}
	if c.Status != domain.ChallengeExploring {
		t.Fatalf("expected exploring, got %s", c.Status)
	}

	if err := m.UpdateChallenge(ctx, "u1", c.ID, func(cs *domain.ChallengeSession) error {
		return cs.Advance(domain.ChallengeRefined)
	}); err != nil {
		t.Fatalf("advance to refined failed: %v", err)
	}
	if err := m.UpdateChallenge(ctx, "u1", c.ID, func(cs *domain.ChallengeSession) error {
		return cs.Advance(domain.ChallengeExploring)
	}); err == nil {
		t.Fatal("expected backward transition to fail")
	}
}

func TestUnselectedQuestionsByIDSetDifference(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemKV(), nil)
	ctx := context.Background()

	c, _ := m.CreateChallenge(ctx, "u1", "growth")
	q1 := domain.Question{ID: "q1", Question: "How do we grow?", Source: domain.SourceFortu}
	q2 := domain.Question{ID: "q2", Question: "How do we retain?", Source: domain.SourceOpenAI}
	q3 := domain.Question{ID: "q3", Question: "How do we hire?", Source: domain.SourceOpenAI}

	if err := m.UpdateChallenge(ctx, "u1", c.ID, func(cs *domain.ChallengeSession) error {
		cs.RecordQuestions([]domain.Question{q1, q2, q3})
		cs.SelectedQuestions = []domain.Question{q2}
		return nil
	}); err != nil {
		t.Fatalf("UpdateChallenge failed: %v", err)
	}

	unselected, err := m.UnselectedQuestions(ctx, "u1", c.ID)
	if err != nil {
		t.Fatalf("UnselectedQuestions failed: %v", err)
	}
	if len(unselected) != 2 {
		t.Fatalf("expected 2 unselected, got %d", len(unselected))
	}
	for _, q := range unselected {
		if q.ID == "q2" {
			t.Error("selected question leaked into unselected set")
		}
	}
}

func TestQuestionSessionStrictProgression(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemKV(), nil)
	ctx := context.Background()

	q, err := m.CreateQuestionSession(ctx, "u1", "churn", "How do we cut churn so that revenue stabilizes?")
	if err != nil {
		t.Fatalf("CreateQuestionSession failed: %v", err)
	}
	if q.Status != domain.QuestionAsking {
		t.Fatalf("expected asking, got %s", q.Status)
	}

	advance := func(next domain.QuestionStatus) error {
		return m.UpdateQuestionSession(ctx, "u1", q.ID, func(qs *domain.QuestionSession) error {
			return qs.Advance(next)
		})
	}
	if err := advance(domain.QuestionSearching); err != nil {
		t.Fatalf("advance to searching failed: %v", err)
	}
	if err := advance(domain.QuestionMatchesFound); err != nil {
		t.Fatalf("advance to matches_found failed: %v", err)
	}
	if err := advance(domain.QuestionSearching); err == nil {
		t.Fatal("expected backward transition to fail")
	}
}

func TestQuestionSessionDuplicateIDsRejectedOnLoad(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	ctx := context.Background()
	blob := `[{"id":"qs1","question":"x","status":"asking","timestamp":"2026-01-01T00:00:00Z",
		"fortu_questions":[{"id":"dup","question":"a","source":"fortu"}],
		"ai_questions":[{"id":"dup","question":"b","source":"openai"}]}]`
	if err := kv.Set(ctx, questionsKey("u1"), []byte(blob)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	m := NewManager(kv, nil)
	if _, err := m.GetQuestionSession(ctx, "u1", "qs1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected duplicate-id session to be dropped, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

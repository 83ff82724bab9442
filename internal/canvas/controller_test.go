package canvas

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fortulabs/fortu-chat/internal/dialogue"
	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/llm"
	"github.com/fortulabs/fortu-chat/internal/session"
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

// fakeGen scripts the two question services independently.
type fakeGen struct {
	mu             sync.Mutex
	matched        []llm.GeneratedQuestion
	matchedErr     error
	suggested      []llm.GeneratedQuestion
	suggestedErr   error
	matchedCalls   int
	suggestedCalls int
}

func (f *fakeGen) GenerateMatched(context.Context, string) ([]llm.GeneratedQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchedCalls++
	return f.matched, f.matchedErr
}

func (f *fakeGen) GenerateSuggested(context.Context, string, []string) ([]llm.GeneratedQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestedCalls++
	return f.suggested, f.suggestedErr
}

var _ llm.QuestionGenerator = (*fakeGen)(nil)

// fakeSender records synthesized messages instead of running a conversation.
type fakeSender struct {
	requests []dialogue.SendRequest
	err      error
}

func (f *fakeSender) SendTurn(_ context.Context, req dialogue.SendRequest) (*dialogue.SendResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &dialogue.SendResult{SessionID: req.SessionID}, nil
}

const testRefined = "How do we reduce churn for our SaaS product so that retention rises from 70% to 85%?"

func newTestController(t *testing.T, gen *fakeGen, sender *fakeSender) (*Controller, *session.Manager, *domain.QuestionSession) {
	t.Helper()
	mgr := session.NewManager(newMemKV(), nil)
	qs, err := mgr.CreateQuestionSession(context.Background(), "u1", "churn", testRefined)
	if err != nil {
		t.Fatalf("CreateQuestionSession: %v", err)
	}
	return NewController("u1", mgr, gen, sender), mgr, qs
}

func TestGenerateFailureIsolatedToOneList(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{
		matchedErr: errors.New("search backend down"),
		suggested: []llm.GeneratedQuestion{
			{Question: "What drives churn in month two?"},
			{Question: "Which accounts churn fastest?"},
			{Question: "What does onboarding completion look like?"},
		},
	}
	ctrl, mgr, qs := newTestController(t, gen, &fakeSender{})
	ctx := context.Background()

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if len(state.FortuQuestions) != 0 {
		t.Fatalf("expected empty matched list, got %d", len(state.FortuQuestions))
	}
	if len(state.AIQuestions) != 3 {
		t.Fatalf("expected 3 suggested questions, got %d", len(state.AIQuestions))
	}
	for _, q := range state.AIQuestions {
		if q.Source != domain.SourceOpenAI {
			t.Errorf("suggested question tagged %q, want %q", q.Source, domain.SourceOpenAI)
		}
		if q.Status != domain.StatusAI {
			t.Errorf("suggested question status %q, want %q", q.Status, domain.StatusAI)
		}
	}
	if state.Banner != generationBanner {
		t.Fatalf("banner = %q, want the single generation banner", state.Banner)
	}

	stored, err := mgr.GetQuestionSession(ctx, "u1", qs.ID)
	if err != nil {
		t.Fatalf("GetQuestionSession: %v", err)
	}
	if stored.Status != domain.QuestionMatchesFound {
		t.Fatalf("stored status = %q, want %q", stored.Status, domain.QuestionMatchesFound)
	}
	if len(stored.AIQuestions) != 3 {
		t.Fatalf("stored suggested count = %d, want 3", len(stored.AIQuestions))
	}
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{
		matched: []llm.GeneratedQuestion{
			{Question: "How did others fix retention at this stage?", Status: "In instance"},
			{Question: "What pricing changes cut churn elsewhere?", Status: "In instance"},
		},
	}
	ctrl, _, qs := newTestController(t, gen, &fakeSender{})
	ctx := context.Background()

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	target := state.FortuQuestions[0].ID

	state, err = ctrl.Toggle(ctx, target)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !state.FortuQuestions[0].Selected {
		t.Fatal("first toggle did not select the question")
	}
	if state.FortuQuestions[1].Selected {
		t.Fatal("toggle touched a question other than its target")
	}

	state, err = ctrl.Toggle(ctx, target)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if state.FortuQuestions[0].Selected {
		t.Fatal("second toggle did not restore the original state")
	}

	if _, err := ctrl.Toggle(ctx, "missing-id"); err == nil {
		t.Fatal("expected an error for an unknown question id")
	}
}

func TestSendDebouncesUnchangedSelection(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{
		matched: []llm.GeneratedQuestion{
			{Question: "How did others fix retention at this stage?"},
			{Question: "What pricing changes cut churn elsewhere?"},
		},
	}
	sender := &fakeSender{}
	ctrl, _, qs := newTestController(t, gen, sender)
	ctx := context.Background()

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	first := state.FortuQuestions[0].ID
	second := state.FortuQuestions[1].ID

	if _, err := ctrl.Toggle(ctx, first); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionRefine); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.requests) != 1 {
		t.Fatalf("sender calls = %d, want 1", len(sender.requests))
	}
	req := sender.requests[0]
	if !req.IsAuto {
		t.Fatal("synthesized message not flagged as auto")
	}
	if len(req.SelectedQuestions) != 1 || req.SelectedQuestions[0].ID != first {
		t.Fatalf("sent selection = %+v, want the toggled question", req.SelectedQuestions)
	}

	// Selection is cleared after a successful send.
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionRefine); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("Send after clear = %v, want ErrNoSelection", err)
	}

	// Re-selecting the same set reproduces the fingerprint and is suppressed.
	if _, err := ctrl.Toggle(ctx, first); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionRefine); !errors.Is(err, ErrDuplicateSend) {
		t.Fatalf("Send with unchanged selection = %v, want ErrDuplicateSend", err)
	}

	// A different set goes through.
	if _, err := ctrl.Toggle(ctx, second); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionBoth); err != nil {
		t.Fatalf("Send with changed selection: %v", err)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("sender calls = %d, want 2", len(sender.requests))
	}
}

func TestSendFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{matched: []llm.GeneratedQuestion{{Question: "How do we rebuild trust with churned accounts?"}}}
	sender := &fakeSender{err: errors.New("store unavailable")}
	ctrl, _, qs := newTestController(t, gen, sender)
	ctx := context.Background()

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if _, err := ctrl.Toggle(ctx, state.FortuQuestions[0].ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionRefine); err == nil {
		t.Fatal("expected the sender error to propagate")
	}

	sender.err = nil
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionRefine); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("sender calls = %d, want 2", len(sender.requests))
	}
}

func TestSwitchSessionRestoresStoredSelections(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{}
	ctrl, mgr, qs := newTestController(t, gen, &fakeSender{})
	ctx := context.Background()

	kept := domain.NewQuestion("How do we shorten time to first value?", domain.SourceFortu, "In instance")
	kept.Selected = true
	other := domain.NewQuestion("What does week-one engagement predict?", domain.SourceOpenAI, domain.StatusAI)
	if err := mgr.UpdateQuestionSession(ctx, "u1", qs.ID, func(q *domain.QuestionSession) error {
		q.FortuQuestions = []domain.Question{kept}
		q.AIQuestions = []domain.Question{other}
		q.SelectedQuestions = []domain.Question{kept}
		return nil
	}); err != nil {
		t.Fatalf("UpdateQuestionSession: %v", err)
	}

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if gen.matchedCalls != 0 || gen.suggestedCalls != 0 {
		t.Fatal("stored questions must load without regenerating")
	}
	if len(state.FortuQuestions) != 1 || !state.FortuQuestions[0].Selected {
		t.Fatalf("stored selection not restored: %+v", state.FortuQuestions)
	}
	if len(state.AIQuestions) != 1 || state.AIQuestions[0].Selected {
		t.Fatalf("unselected stored question changed: %+v", state.AIQuestions)
	}
}

func TestSwitchSessionAutoGeneratesWhenEmpty(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{matched: []llm.GeneratedQuestion{{Question: "How did comparable firms lift retention?"}}}
	ctrl, _, qs := newTestController(t, gen, &fakeSender{})
	ctx := context.Background()

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if gen.matchedCalls != 1 || gen.suggestedCalls != 1 {
		t.Fatalf("generation calls = %d/%d, want 1/1", gen.matchedCalls, gen.suggestedCalls)
	}
	if len(state.FortuQuestions) != 1 {
		t.Fatalf("auto-generate produced %d matched questions, want 1", len(state.FortuQuestions))
	}

	// The second switch finds stored questions and must not regenerate.
	if _, err := ctrl.SwitchSession(ctx, qs.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if gen.matchedCalls != 1 {
		t.Fatalf("generation re-ran on switch, calls = %d", gen.matchedCalls)
	}
}

func TestSwitchSessionAutoGenerateIsOneShot(t *testing.T) {
	t.Parallel()
	// Both services come back empty, so the session keeps no stored
	// questions and only the one-shot flag prevents regeneration.
	gen := &fakeGen{}
	ctrl, mgr, qs := newTestController(t, gen, &fakeSender{})
	ctx := context.Background()

	if _, err := ctrl.SwitchSession(ctx, qs.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if _, err := ctrl.SwitchSession(ctx, qs.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if gen.matchedCalls != 1 {
		t.Fatalf("generation calls = %d, want 1 for repeated switches to the same session", gen.matchedCalls)
	}

	// Switching away and back clears the guard.
	other, err := mgr.CreateQuestionSession(ctx, "u1", "pricing", "How do we price for mid-market accounts?")
	if err != nil {
		t.Fatalf("CreateQuestionSession: %v", err)
	}
	if _, err := ctrl.SwitchSession(ctx, other.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if _, err := ctrl.SwitchSession(ctx, qs.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if gen.matchedCalls != 3 {
		t.Fatalf("generation calls = %d, want 3 after switching away and back", gen.matchedCalls)
	}
}

func TestSendRecordsSelectionOnChallenge(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{matched: []llm.GeneratedQuestion{{Question: "How do we rebuild trust with churned accounts?"}}}
	ctrl, mgr, qs := newTestController(t, gen, &fakeSender{})
	ctx := context.Background()

	ch, err := mgr.CreateChallenge(ctx, "u1", "we keep losing customers")
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if err := mgr.UpdateChallenge(ctx, "u1", ch.ID, func(rec *domain.ChallengeSession) error {
		rec.RefinedChallenge = testRefined
		return rec.Advance(domain.ChallengeRefined)
	}); err != nil {
		t.Fatalf("UpdateChallenge: %v", err)
	}

	state, err := ctrl.SwitchSession(ctx, qs.ID)
	if err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	target := state.FortuQuestions[0].ID
	if _, err := ctrl.Toggle(ctx, target); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := ctrl.Send(ctx, "chat-1", domain.ActionRefine); err != nil {
		t.Fatalf("Send: %v", err)
	}

	updated, err := mgr.GetChallenge(ctx, "u1", ch.ID)
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if len(updated.SelectedQuestions) != 1 || updated.SelectedQuestions[0].ID != target {
		t.Fatalf("challenge selectedQuestions = %+v, want the sent question", updated.SelectedQuestions)
	}
	found := false
	for _, q := range updated.AllQuestions {
		if q.ID == target {
			found = true
		}
	}
	if !found {
		t.Fatal("sent question missing from challenge allQuestions")
	}

	stored, err := mgr.GetQuestionSession(ctx, "u1", qs.ID)
	if err != nil {
		t.Fatalf("GetQuestionSession: %v", err)
	}
	if len(stored.SelectedQuestions) != 0 {
		t.Fatalf("stored selection not cleared: %+v", stored.SelectedQuestions)
	}
}

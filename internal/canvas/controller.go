// Package canvas manages the side panel's question workflow: fetching the
// matched and suggested question lists for a refined challenge, tracking
// selection state, and feeding selections back into the conversation.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/fortulabs/fortu-chat/internal/dialogue"
	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/llm"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// ErrDuplicateSend means the unchanged selection set was already sent; the
// synthesized message is suppressed.
var ErrDuplicateSend = errors.New("selection already sent")

// ErrNoSelection means no question is currently selected.
var ErrNoSelection = errors.New("no questions selected")

// generationBanner is the single user-visible error shown when a question
// list fails to populate. Failures are isolated per list; the surviving list
// still renders.
const generationBanner = "Some questions couldn't be generated. The rest are ready, and you can retry for more."

// Sender sends a synthesized message into the conversation. Implemented by
// the dialogue orchestrator.
type Sender interface {
	SendTurn(ctx context.Context, req dialogue.SendRequest) (*dialogue.SendResult, error)
}

// Controller owns one user's canvas state. All one-shot flags and the
// last-sent fingerprint live here as fields, never as package state, so
// concurrent users cannot leak into each other.
type Controller struct {
	userID   string
	sessions *session.Manager
	gen      llm.QuestionGenerator
	sender   Sender

	mu            sync.Mutex
	activeID      string
	fortu         []domain.Question
	ai            []domain.Question
	banner        string
	lastSent      string
	autoGenerated bool // one-shot per active session, reset on switch
}

// State is a render-ready snapshot of the canvas.
type State struct {
	QuestionSessionID string            `json:"question_session_id,omitempty"`
	FortuQuestions    []domain.Question `json:"fortu_questions"`
	AIQuestions       []domain.Question `json:"ai_questions"`
	Banner            string            `json:"banner,omitempty"`
}

// NewController creates a canvas controller for one user.
func NewController(userID string, sessions *session.Manager, gen llm.QuestionGenerator, sender Sender) *Controller {
	return &Controller{
		userID:   userID,
		sessions: sessions,
		gen:      gen,
		sender:   sender,
	}
}

// ActiveID returns the id of the active question session, or "".
func (c *Controller) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// State returns the current canvas snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	return State{
		QuestionSessionID: c.activeID,
		FortuQuestions:    append([]domain.Question(nil), c.fortu...),
		AIQuestions:       append([]domain.Question(nil), c.ai...),
		Banner:            c.banner,
	}
}

// SwitchSession makes a question session the active one. In-memory lists are
// cleared first and stored questions are reloaded with their selection flags.
// When the session has a refined challenge but no stored questions yet,
// generation is auto-triggered exactly once. The one-shot guard is cleared
// only here, on the next switch.
func (c *Controller) SwitchSession(ctx context.Context, questionSessionID string) (State, error) {
	qs, err := c.sessions.GetQuestionSession(ctx, c.userID, questionSessionID)
	if err != nil {
		return State{}, err
	}

	c.mu.Lock()
	if c.activeID != qs.ID {
		c.autoGenerated = false
		c.lastSent = ""
	}
	c.activeID = qs.ID
	c.fortu = nil
	c.ai = nil
	c.banner = ""

	if len(qs.FortuQuestions) > 0 || len(qs.AIQuestions) > 0 {
		c.fortu = qs.FortuQuestions
		c.ai = qs.AIQuestions
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}

	if qs.RefinedChallenge != "" && !c.autoGenerated {
		c.autoGenerated = true
		c.mu.Unlock()
		return c.Generate(ctx)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	return snap, nil
}

// Generate fetches both question lists for the active session's refined
// challenge. The two calls run concurrently; a failure in either is isolated
// to its own list and surfaces as a single banner.
func (c *Controller) Generate(ctx context.Context) (State, error) {
	c.mu.Lock()
	activeID := c.activeID
	c.mu.Unlock()
	if activeID == "" {
		return State{}, fmt.Errorf("no active question session")
	}

	qs, err := c.sessions.GetQuestionSession(ctx, c.userID, activeID)
	if err != nil {
		return State{}, err
	}
	if qs.RefinedChallenge == "" {
		return State{}, fmt.Errorf("question session %s has no refined challenge", qs.ID)
	}

	known := questionTexts(qs.FortuQuestions)

	var (
		wg                       sync.WaitGroup
		matched, suggested       []llm.GeneratedQuestion
		matchedErr, suggestedErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		matched, matchedErr = c.gen.GenerateMatched(ctx, qs.RefinedChallenge)
	}()
	go func() {
		defer wg.Done()
		suggested, suggestedErr = c.gen.GenerateSuggested(ctx, qs.RefinedChallenge, known)
	}()
	wg.Wait()

	var fortu, ai []domain.Question
	for _, g := range matched {
		fortu = append(fortu, domain.NewQuestion(g.Question, domain.SourceFortu, g.Status))
	}
	for _, g := range suggested {
		status := g.Status
		if status == "" {
			status = domain.StatusAI
		}
		ai = append(ai, domain.NewQuestion(g.Question, domain.SourceOpenAI, status))
	}
	if matchedErr != nil {
		slog.Warn("matched question generation failed", "user_id", c.userID, "error", matchedErr)
	}
	if suggestedErr != nil {
		slog.Warn("suggested question generation failed", "user_id", c.userID, "error", suggestedErr)
	}

	if err := c.sessions.UpdateQuestionSession(ctx, c.userID, qs.ID, func(q *domain.QuestionSession) error {
		q.FortuQuestions = fortu
		q.AIQuestions = ai
		q.SelectedQuestions = nil
		if len(fortu) > 0 || len(ai) > 0 {
			return q.Advance(domain.QuestionMatchesFound)
		}
		return nil
	}); err != nil {
		return State{}, fmt.Errorf("store generated questions: %w", err)
	}
	c.recordOnChallenge(ctx, qs.RefinedChallenge, append(append([]domain.Question(nil), fortu...), ai...))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID != qs.ID {
		// Session switched while generation was in flight; drop the stale
		// in-memory update (stored state above is still correct).
		return c.snapshotLocked(), nil
	}
	c.fortu = fortu
	c.ai = ai
	c.banner = ""
	if matchedErr != nil || suggestedErr != nil {
		c.banner = generationBanner
	}
	return c.snapshotLocked(), nil
}

// Toggle flips the selected flag of exactly one question across both lists.
func (c *Controller) Toggle(ctx context.Context, questionID string) (State, error) {
	c.mu.Lock()
	found := toggleIn(c.fortu, questionID) || toggleIn(c.ai, questionID)
	if !found {
		c.mu.Unlock()
		return State{}, fmt.Errorf("question %s: %w", questionID, session.ErrNotFound)
	}
	activeID := c.activeID
	fortu := append([]domain.Question(nil), c.fortu...)
	ai := append([]domain.Question(nil), c.ai...)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	// Selection flags round-trip through the stored session so a later
	// switch restores them.
	if activeID != "" {
		if err := c.sessions.UpdateQuestionSession(ctx, c.userID, activeID, func(q *domain.QuestionSession) error {
			q.FortuQuestions = fortu
			q.AIQuestions = ai
			q.SelectedQuestions = domain.SelectedFrom(fortu, ai)
			return nil
		}); err != nil {
			slog.Warn("failed to persist selection", "user_id", c.userID, "error", err)
		}
	}
	return snap, nil
}

// Send packages the selected questions into a synthesized message and hands
// it to the conversation, then clears the selection. An unchanged selection
// set is never sent twice in a row (sorted-id fingerprint debounce).
func (c *Controller) Send(ctx context.Context, chatSessionID string, action domain.SelectionAction) (*dialogue.SendResult, error) {
	c.mu.Lock()
	selected := domain.SelectedFrom(c.fortu, c.ai)
	if len(selected) == 0 {
		c.mu.Unlock()
		return nil, ErrNoSelection
	}
	fp := fingerprint(selected)
	if fp == c.lastSent {
		c.mu.Unlock()
		return nil, ErrDuplicateSend
	}
	c.lastSent = fp
	activeID := c.activeID
	c.mu.Unlock()

	res, err := c.sender.SendTurn(ctx, dialogue.SendRequest{
		UserID:            c.userID,
		SessionID:         chatSessionID,
		Message:           selectionMessage(action),
		SelectedQuestions: selected,
		Action:            action,
		IsAuto:            true,
	})
	if err != nil {
		// Allow a retry of the same selection after a storage-level failure.
		c.mu.Lock()
		c.lastSent = ""
		c.mu.Unlock()
		return nil, err
	}

	c.clearSelection(ctx, activeID, selected)
	return res, nil
}

func (c *Controller) clearSelection(ctx context.Context, activeID string, sent []domain.Question) {
	c.mu.Lock()
	for i := range c.fortu {
		c.fortu[i].Selected = false
	}
	for i := range c.ai {
		c.ai[i].Selected = false
	}
	fortu := append([]domain.Question(nil), c.fortu...)
	ai := append([]domain.Question(nil), c.ai...)
	c.mu.Unlock()

	if activeID != "" {
		if err := c.sessions.UpdateQuestionSession(ctx, c.userID, activeID, func(q *domain.QuestionSession) error {
			q.FortuQuestions = fortu
			q.AIQuestions = ai
			q.SelectedQuestions = nil
			return nil
		}); err != nil {
			slog.Warn("failed to clear stored selection", "user_id", c.userID, "error", err)
		}
	}

	// The picks become part of the challenge history.
	active, err := c.sessions.ActiveChallenge(ctx, c.userID)
	if err != nil || active == nil {
		return
	}
	if err := c.sessions.UpdateChallenge(ctx, c.userID, active.ID, func(ch *domain.ChallengeSession) error {
		ch.RecordQuestions(sent)
		have := make(map[string]bool, len(ch.SelectedQuestions))
		for _, q := range ch.SelectedQuestions {
			have[q.ID] = true
		}
		for _, q := range sent {
			if !have[q.ID] {
				ch.SelectedQuestions = append(ch.SelectedQuestions, q)
			}
		}
		return nil
	}); err != nil {
		slog.Warn("failed to record selection on challenge", "user_id", c.userID, "error", err)
	}
}

// recordOnChallenge accumulates newly shown questions into the matching
// challenge record's allQuestions set.
func (c *Controller) recordOnChallenge(ctx context.Context, refined string, shown []domain.Question) {
	if len(shown) == 0 {
		return
	}
	challenges, err := c.sessions.ListChallenges(ctx, c.userID)
	if err != nil {
		return
	}
	for _, ch := range challenges {
		if ch.RefinedChallenge != refined {
			continue
		}
		if err := c.sessions.UpdateChallenge(ctx, c.userID, ch.ID, func(rec *domain.ChallengeSession) error {
			rec.RecordQuestions(shown)
			return nil
		}); err != nil {
			slog.Warn("failed to accumulate questions on challenge", "user_id", c.userID, "error", err)
		}
		return
	}
}

func selectionMessage(action domain.SelectionAction) string {
	switch action {
	case domain.ActionInstance:
		return "I've selected the following questions. I'd like to set up my instance with them."
	case domain.ActionBoth:
		return "I've selected the following questions. Let's refine my challenge further, and I'd also like to set up my instance with them."
	default:
		return "I've selected the following questions. Let's use them to refine my challenge further."
	}
}

func toggleIn(list []domain.Question, id string) bool {
	for i := range list {
		if list[i].ID == id {
			list[i].Selected = !list[i].Selected
			return true
		}
	}
	return false
}

func fingerprint(qs []domain.Question) string {
	ids := make([]string, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func questionTexts(qs []domain.Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Question)
	}
	return out
}

// Package dialogue owns the request/response cycle with the completion
// service: prompt assembly, the model call, and merging the classifier's
// verdicts with the raw reply into the structured turn the UI consumes.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fortulabs/fortu-chat/internal/classify"
	"github.com/fortulabs/fortu-chat/internal/domain"
	"github.com/fortulabs/fortu-chat/internal/llm"
	"github.com/fortulabs/fortu-chat/internal/session"
)

// Notifier receives assistant turns for push delivery to the UI. Implemented
// by the events hub; nil disables push.
type Notifier interface {
	PublishTurn(userID, sessionID string, turn *domain.Turn)
}

// Orchestrator coordinates one exchange per SendTurn call.
type Orchestrator struct {
	sessions  *session.Manager
	completer llm.Completer
	notifier  Notifier
}

// NewOrchestrator creates a dialogue orchestrator. notifier may be nil.
func NewOrchestrator(sessions *session.Manager, completer llm.Completer, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		completer: completer,
		notifier:  notifier,
	}
}

// SendRequest is one user message entering the conversation.
type SendRequest struct {
	UserID            string
	SessionID         string
	Message           string
	SelectedQuestions []domain.Question
	Action            domain.SelectionAction

	// IsAuto marks messages synthesized by the canvas workflow rather than
	// typed by the user. Auto messages always use the refinement persona.
	IsAuto bool
}

// SendResult is the outcome of one exchange.
type SendResult struct {
	SessionID     string
	AssistantTurn *domain.Turn
}

// SendTurn runs one full exchange: session resolution, optimistic user-turn
// append, persona-tagged completion, classification of the reply, challenge
// and question-session upkeep, and the assistant-turn append. A completion
// failure degrades into a fixed apology turn, never an error; errors are
// reserved for storage-level faults.
func (o *Orchestrator) SendTurn(ctx context.Context, req SendRequest) (*SendResult, error) {
	sess, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}
	priorTurns := len(sess.Turns)

	userText := req.Message
	if len(req.SelectedQuestions) > 0 {
		userText += formatSelectedQuestions(req.SelectedQuestions)
	}
	userTurn := domain.NewTurn(domain.RoleUser, userText)
	userTurn.SelectedQuestions = req.SelectedQuestions
	userTurn.SelectedAction = req.Action
	userTurn.IsAuto = req.IsAuto

	sess, err = o.sessions.AppendTurn(ctx, req.UserID, sess.ID, userTurn)
	if err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	persona := classify.PersonaRefinement
	if !req.IsAuto {
		persona = classify.ChoosePersona(req.Message, priorTurns)
	}
	if persona == classify.PersonaRefinement && !req.IsAuto {
		if err := o.ensureChallenge(ctx, req.UserID, req.Message); err != nil {
			slog.Warn("failed to open challenge record", "user_id", req.UserID, "error", err)
		}
	}

	transcript := make([]llm.Message, 0, priorTurns)
	for _, t := range sess.Turns[:priorTurns] {
		transcript = append(transcript, llm.Message{Role: string(t.Role), Content: t.Text})
	}

	reply, err := o.completer.Complete(ctx, systemPrompt(persona), transcript, userText)
	if err != nil {
		// Fixed apology instead of a propagated error; no classification on
		// a failed call.
		slog.Warn("completion failed", "user_id", req.UserID, "session_id", sess.ID, "error", err)
		return o.appendAssistant(ctx, req.UserID, sess.ID, domain.NewTurn(domain.RoleAssistant, apologyText))
	}

	turn := domain.NewTurn(domain.RoleAssistant, reply)
	switch {
	case classify.IsInstanceSetupRequest(reply, req.Message):
		// Instance setup takes precedence over search for a single turn.
		turn.Canvas = &domain.CanvasTrigger{Type: domain.CanvasInstanceSetup}
		turn.Text += instanceGuidance
		o.completeChallenge(ctx, req.UserID)

	case classify.ReadyForQuestionSearch(reply, req.Message, priorTurns+1):
		refined := classify.ExtractRefinedChallenge(reply, sess.Turns)
		if refined != "" {
			if err := o.markSearchReady(ctx, req.UserID, req.Message, refined); err != nil {
				slog.Warn("failed to record search readiness", "user_id", req.UserID, "error", err)
			}
			turn.Canvas = &domain.CanvasTrigger{
				Type:             domain.CanvasFortuQuestions,
				RefinedChallenge: refined,
				SearchReady:      true,
			}
			turn.Text += searchGuidance
		}
	}

	return o.appendAssistant(ctx, req.UserID, sess.ID, turn)
}

func (o *Orchestrator) resolveSession(ctx context.Context, req SendRequest) (*domain.Session, error) {
	if req.SessionID != "" {
		sess, err := o.sessions.GetSession(ctx, req.UserID, req.SessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}
	// Id-less messages land in the current session when one exists.
	if req.SessionID == "" {
		sess, err := o.sessions.CurrentSession(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}
	// Lazy materialization: a session is only created once a user turn is
	// about to be appended.
	sess, err := o.sessions.CreateSession(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (o *Orchestrator) appendAssistant(ctx context.Context, userID, sessionID string, turn domain.Turn) (*SendResult, error) {
	if _, err := o.sessions.AppendTurn(ctx, userID, sessionID, turn); err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	if o.notifier != nil {
		o.notifier.PublishTurn(userID, sessionID, &turn)
	}
	return &SendResult{SessionID: sessionID, AssistantTurn: &turn}, nil
}

// ensureChallenge opens a challenge record the first time a user's challenge
// enters the clarification flow. The active record is reused only while it is
// still exploring; once it has refined, a fresh challenge statement opens its
// own record instead of disturbing the finished one.
func (o *Orchestrator) ensureChallenge(ctx context.Context, userID, message string) error {
	active, err := o.sessions.ActiveChallenge(ctx, userID)
	if err != nil {
		return err
	}
	if active != nil {
		if active.Status == domain.ChallengeExploring || !classify.MentionsChallenge(message) {
			return nil
		}
	}
	_, err = o.sessions.CreateChallenge(ctx, userID, message)
	return err
}

// markSearchReady advances the challenge record to refined and opens (or
// advances) the question session for the refined challenge, status searching.
// When the active record already holds a different refined challenge the
// refinement belongs to a new record; each refined challenge keeps its own.
func (o *Orchestrator) markSearchReady(ctx context.Context, userID, originalMessage, refined string) error {
	active, err := o.sessions.ActiveChallenge(ctx, userID)
	if err != nil {
		return err
	}
	if active != nil && active.Status != domain.ChallengeExploring && active.RefinedChallenge != refined {
		active = nil
	}
	if active == nil {
		if active, err = o.sessions.CreateChallenge(ctx, userID, originalMessage); err != nil {
			return err
		}
	}
	if err := o.sessions.UpdateChallenge(ctx, userID, active.ID, func(c *domain.ChallengeSession) error {
		c.RefinedChallenge = refined
		c.FortuGuidanceProvided = true
		return c.Advance(domain.ChallengeRefined)
	}); err != nil {
		return err
	}

	qs, err := o.sessions.FindQuestionSessionByChallenge(ctx, userID, refined)
	if err != nil {
		return err
	}
	if qs == nil {
		if qs, err = o.sessions.CreateQuestionSession(ctx, userID, active.OriginalChallenge, refined); err != nil {
			return err
		}
	}
	return o.sessions.UpdateQuestionSession(ctx, userID, qs.ID, func(q *domain.QuestionSession) error {
		return q.Advance(domain.QuestionSearching)
	})
}

// completeChallenge marks the active challenge handed off to instance setup.
func (o *Orchestrator) completeChallenge(ctx context.Context, userID string) {
	active, err := o.sessions.ActiveChallenge(ctx, userID)
	if err != nil || active == nil {
		return
	}
	if err := o.sessions.UpdateChallenge(ctx, userID, active.ID, func(c *domain.ChallengeSession) error {
		c.FortuGuidanceProvided = true
		return c.Advance(domain.ChallengeCompleted)
	}); err != nil {
		slog.Warn("failed to complete challenge", "user_id", userID, "challenge_id", active.ID, "error", err)
	}
}

func formatSelectedQuestions(qs []domain.Question) string {
	var b strings.Builder
	b.WriteString("\n\nSelected questions:\n")
	for _, q := range qs {
		b.WriteString("- ")
		b.WriteString(q.Question)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

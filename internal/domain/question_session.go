package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the lifecycle of a question-search session. Progression
// is strictly forward: asking -> searching -> matches_found -> refined.
type QuestionStatus string

const (
	QuestionAsking       QuestionStatus = "asking"
	QuestionSearching    QuestionStatus = "searching"
	QuestionMatchesFound QuestionStatus = "matches_found"
	QuestionRefined      QuestionStatus = "refined"
)

var questionRank = map[QuestionStatus]int{
	QuestionAsking:       0,
	QuestionSearching:    1,
	QuestionMatchesFound: 2,
	QuestionRefined:      3,
}

// QuestionSession tracks one distinct refined-challenge search: the two
// generated question lists and the user's selection across them.
type QuestionSession struct {
	ID                string         `json:"id"`
	Question          string         `json:"question"`
	RefinedChallenge  string         `json:"refined_challenge,omitempty"`
	FortuQuestions    []Question     `json:"fortu_questions,omitempty"`
	AIQuestions       []Question     `json:"ai_questions,omitempty"`
	SelectedQuestions []Question     `json:"selected_questions,omitempty"`
	Status            QuestionStatus `json:"status"`
	Timestamp         time.Time      `json:"timestamp"`
}

// NewQuestionSession opens a search session in the asking state.
func NewQuestionSession(question, refinedChallenge string) *QuestionSession {
	return &QuestionSession{
		ID:               uuid.NewString(),
		Question:         question,
		RefinedChallenge: refinedChallenge,
		Status:           QuestionAsking,
		Timestamp:        time.Now(),
	}
}

// Advance moves the session forward; moving backward is an error and a
// same-state advance is a no-op.
func (q *QuestionSession) Advance(next QuestionStatus) error {
	cur, ok := questionRank[q.Status]
	if !ok {
		return fmt.Errorf("unknown question status %q", q.Status)
	}
	want, ok := questionRank[next]
	if !ok {
		return fmt.Errorf("unknown question status %q", next)
	}
	if want < cur {
		return fmt.Errorf("question status cannot move backward: %s -> %s", q.Status, next)
	}
	q.Status = next
	return nil
}

// Combined returns both question lists as one slice, fortu first.
func (q *QuestionSession) Combined() []Question {
	out := make([]Question, 0, len(q.FortuQuestions)+len(q.AIQuestions))
	out = append(out, q.FortuQuestions...)
	out = append(out, q.AIQuestions...)
	return out
}

// NewQuestion mints a question for this session with a fresh id.
func NewQuestion(text string, source QuestionSource, status string) Question {
	return Question{
		ID:       uuid.NewString(),
		Question: text,
		Source:   source,
		Status:   status,
	}
}

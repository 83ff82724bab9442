package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus is the lifecycle of a challenge history record.
type ChallengeStatus string

const (
	ChallengeExploring ChallengeStatus = "exploring"
	ChallengeRefined   ChallengeStatus = "refined"
	ChallengeCompleted ChallengeStatus = "completed"
)

var challengeRank = map[ChallengeStatus]int{
	ChallengeExploring: 0,
	ChallengeRefined:   1,
	ChallengeCompleted: 2,
}

// ChallengeSession is one challenge-history record. AllQuestions accumulates
// every question ever shown for the challenge; SelectedQuestions is always a
// subset of it by id.
type ChallengeSession struct {
	ID                    string          `json:"id"`
	OriginalChallenge     string          `json:"original_challenge"`
	RefinedChallenge      string          `json:"refined_challenge,omitempty"`
	SelectedQuestions     []Question      `json:"selected_questions,omitempty"`
	AllQuestions          []Question      `json:"all_questions,omitempty"`
	Timestamp             time.Time       `json:"timestamp"`
	Status                ChallengeStatus `json:"status"`
	FortuGuidanceProvided bool            `json:"fortu_guidance_provided"`
}

// NewChallengeSession opens a challenge record in the exploring state.
func NewChallengeSession(originalChallenge string) *ChallengeSession {
	return &ChallengeSession{
		ID:                uuid.NewString(),
		OriginalChallenge: originalChallenge,
		Timestamp:         time.Now(),
		Status:            ChallengeExploring,
	}
}

// Advance moves the record forward. The lifecycle never moves backward; a
// same-state advance is a no-op so callers can advance idempotently.
func (c *ChallengeSession) Advance(next ChallengeStatus) error {
	cur, ok := challengeRank[c.Status]
	if !ok {
		return fmt.Errorf("unknown challenge status %q", c.Status)
	}
	want, ok := challengeRank[next]
	if !ok {
		return fmt.Errorf("unknown challenge status %q", next)
	}
	if want < cur {
		return fmt.Errorf("challenge status cannot move backward: %s -> %s", c.Status, next)
	}
	c.Status = next
	return nil
}

// RecordQuestions accumulates newly shown questions into AllQuestions,
// skipping ids already present.
func (c *ChallengeSession) RecordQuestions(qs []Question) {
	known := make(map[string]struct{}, len(c.AllQuestions))
	for _, q := range c.AllQuestions {
		known[q.ID] = struct{}{}
	}
	for _, q := range qs {
		if _, ok := known[q.ID]; ok {
			continue
		}
		known[q.ID] = struct{}{}
		c.AllQuestions = append(c.AllQuestions, q)
	}
}

// Unselected computes AllQuestions minus SelectedQuestions by id-set
// difference.
func (c *ChallengeSession) Unselected() []Question {
	selected := make(map[string]struct{}, len(c.SelectedQuestions))
	for _, q := range c.SelectedQuestions {
		selected[q.ID] = struct{}{}
	}
	var out []Question
	for _, q := range c.AllQuestions {
		if _, ok := selected[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}

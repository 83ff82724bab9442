package domain

import "fmt"

// QuestionSource tags which generation service produced a question.
type QuestionSource string

const (
	SourceFortu  QuestionSource = "fortu"
	SourceOpenAI QuestionSource = "openai"
)

// StatusAI marks AI-suggested questions for rendering. Source plus status
// determine rendering only; identity is the id alone.
const StatusAI = "AI"

// Question is a single generated question. Selected is mutable UI state that
// round-trips the user's picks back into the conversation; everything else is
// fixed at generation time.
type Question struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Source   QuestionSource `json:"source"`
	Selected bool           `json:"selected,omitempty"`
	Status   string         `json:"status,omitempty"`
}

// ValidateQuestionIDs rejects duplicate ids within one combined question set.
// Duplicates are a contract violation; this runs when reloading stored blobs.
func ValidateQuestionIDs(lists ...[]Question) error {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, q := range list {
			if _, dup := seen[q.ID]; dup {
				return fmt.Errorf("duplicate question id %q", q.ID)
			}
			seen[q.ID] = struct{}{}
		}
	}
	return nil
}

// SelectedFrom returns the questions in the given lists with Selected set.
func SelectedFrom(lists ...[]Question) []Question {
	var out []Question
	for _, list := range lists {
		for _, q := range list {
			if q.Selected {
				out = append(out, q)
			}
		}
	}
	return out
}

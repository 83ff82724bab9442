// Package domain contains core domain types for the fortu chat application.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SelectionAction says what the user wants done with questions they picked
// on the canvas.
type SelectionAction string

const (
	ActionRefine   SelectionAction = "refine"
	ActionInstance SelectionAction = "instance"
	ActionBoth     SelectionAction = "both"
)

// CanvasType identifies which canvas surface an assistant turn should open.
type CanvasType string

const (
	CanvasFortuQuestions CanvasType = "fortuQuestions"
	CanvasInstanceSetup  CanvasType = "fortuInstanceSetup"
)

// CanvasTrigger is the metadata attached to an assistant turn when the
// conversation has reached a state that should open the side canvas.
type CanvasTrigger struct {
	Type             CanvasType `json:"type"`
	RefinedChallenge string     `json:"refined_challenge,omitempty"`
	SearchReady      bool       `json:"search_ready,omitempty"`
}

// Turn is a single message in a session. Turns are immutable once appended.
type Turn struct {
	ID                string          `json:"id"`
	Role              Role            `json:"role"`
	Text              string          `json:"text"`
	Timestamp         time.Time       `json:"timestamp"`
	SelectedQuestions []Question      `json:"selected_questions,omitempty"`
	SelectedAction    SelectionAction `json:"selected_action,omitempty"`
	Canvas            *CanvasTrigger  `json:"canvas,omitempty"`
	IsAuto            bool            `json:"is_auto,omitempty"`
}

// NewTurn creates a turn with a fresh id and the current timestamp.
func NewTurn(role Role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Package llm wraps the hosted model APIs behind small interfaces: one-shot
// chat completion, question generation for the canvas, and session title
// generation. Callers own all fallback behavior; this package only reports
// errors.
package llm

import "context"

// Message is one transcript entry sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces one assistant reply for a persona-tagged prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, transcript []Message, userMessage string) (string, error)
}

// GeneratedQuestion is one question returned by a generation service. The
// services answer either a plain string array or an object array; both decode
// into this shape.
type GeneratedQuestion struct {
	Question string `json:"question"`
	Status   string `json:"status,omitempty"`
}

// QuestionGenerator produces the two canvas question lists. GenerateMatched
// asks for database-matched style questions; GenerateSuggested asks for fresh
// AI suggestions, passing the matched set as context to avoid duplication.
type QuestionGenerator interface {
	GenerateMatched(ctx context.Context, refinedChallenge string) ([]GeneratedQuestion, error)
	GenerateSuggested(ctx context.Context, refinedChallenge string, related []string) ([]GeneratedQuestion, error)
}

// TitleGenerator summarizes the opening turns of a session into a short
// title.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, turns []Message) (string, error)
}

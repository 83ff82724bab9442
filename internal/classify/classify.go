// Package classify holds the conversation-stage heuristics: persona routing,
// the canvas readiness gate, refined-challenge extraction, and instance-setup
// detection. Everything here is a pure function of text; callers perform I/O
// based on the verdicts.
//
// These are best-effort keyword heuristics, not a grammar. False positives
// and negatives are tolerated by contract: a wrong verdict yields a
// suboptimal persona tone or an unopened canvas, never a broken state.
package classify

import (
	"strings"

	"github.com/fortulabs/fortu-chat/internal/domain"
)

// Persona selects the system prompt for the next model call.
type Persona string

const (
	PersonaGeneral    Persona = "general"
	PersonaRefinement Persona = "challenge-refinement"
)

// MinTurnsForSearch is the conversation depth required before the readiness
// gate may open the canvas. Counted over the whole transcript, greeting
// included.
const MinTurnsForSearch = 4

// earlyTurnLimit bounds how many prior turns still count as "early in the
// session" for persona routing.
const earlyTurnLimit = 2

// shortMessageWords is the word count under which a statement without a
// question mark reads as a terse problem drop ("churn is killing us").
const shortMessageWords = 8

var distressVocab = []string{
	"stuck", "struggling", "overwhelmed", "frustrated", "worried",
	"lost", "confused", "desperate", "anxious", "failing",
}

var challengeVocab = []string{
	"challenge", "problem", "issue", "churn", "revenue", "growth",
	"retention", "customers", "sales", "costs", "strategy", "team",
	"business", "market", "competition", "margin", "pipeline",
}

var vagueVocab = []string{
	"not sure", "somehow", "maybe", "sort of", "kind of", "i think",
	"don't know", "dont know", "unclear", "vague", "something",
}

var helpVocab = []string{
	"help", "advice", "guidance", "where do i start", "what should i do",
	"can you", "could you",
}

// completionVocab is the strong phrasing the refinement persona uses when it
// believes the challenge statement is done.
var completionVocab = []string{
	"perfect", "great", "excellent", "we've refined", "we have refined",
	"that captures", "captures your challenge", "ready to search",
	"ready to find", "does this capture", "shall we",
}

var affirmationVocab = []string{
	"yes", "yep", "yeah", "correct", "right", "exactly", "sounds good",
	"that's it", "thats it", "perfect", "go ahead", "let's do it",
	"lets do it", "sure",
}

// canvasReturnVocab marks synthesized messages carrying canvas selections
// back into the chat. When one of these fires the readiness gate must stay
// closed; re-triggering the canvas off its own output would loop.
var canvasReturnVocab = []string{
	"i've selected the following questions",
	"i have selected the following questions",
	"selected questions:",
	"from the canvas",
}

var instanceSetupVocab = []string{
	"set up your instance",
	"set up my instance",
	"instance setup",
	"branded instance",
	"create your instance",
	"fortu instance",
	"get started with your instance",
}

// ChoosePersona picks the system prompt for the next completion. priorTurns
// is the transcript length before the new message is appended.
func ChoosePersona(message string, priorTurns int) Persona {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return PersonaGeneral
	}

	hasChallenge := containsAny(msg, challengeVocab)
	switch {
	case hasChallenge && containsAny(msg, distressVocab):
		return PersonaRefinement
	case hasChallenge && containsAny(msg, vagueVocab):
		return PersonaRefinement
	case priorTurns <= earlyTurnLimit && containsAny(msg, helpVocab):
		return PersonaRefinement
	case len(strings.Fields(msg)) < shortMessageWords && !strings.Contains(msg, "?"):
		return PersonaRefinement
	}
	return PersonaGeneral
}

// ReadyForQuestionSearch reports whether the exchange has produced a refined
// challenge the user has confirmed, making it safe to open the question
// canvas. All of the following must hold: the reply carries strong completion
// phrasing bound to a "how do we" formulation, the user's message is an
// affirmative confirmation, the message is not itself a canvas-selection
// return, and the conversation is at least MinTurnsForSearch turns deep.
func ReadyForQuestionSearch(reply, userMessage string, turnCount int) bool {
	msg := strings.ToLower(userMessage)
	// A canvas return can read as an affirmation; it wins the tie so the
	// canvas is never re-triggered by its own selections.
	if containsAny(msg, canvasReturnVocab) {
		return false
	}
	if turnCount < MinTurnsForSearch {
		return false
	}
	rep := strings.ToLower(reply)
	if !strings.Contains(rep, "how do we") || !containsAny(rep, completionVocab) {
		return false
	}
	return containsAny(msg, affirmationVocab)
}

// IsInstanceSetupRequest reports whether either side of the exchange asks for
// the branded-instance setup flow.
func IsInstanceSetupRequest(reply, userMessage string) bool {
	return containsAny(strings.ToLower(userMessage), instanceSetupVocab) ||
		containsAny(strings.ToLower(reply), instanceSetupVocab)
}

// MentionsChallenge reports whether a message names a business-challenge
// topic, as opposed to conversational filler like thanks or affirmations.
func MentionsChallenge(message string) bool {
	return containsAny(strings.ToLower(message), challengeVocab)
}

// IsCanvasReturn reports whether a message is a synthesized
// selections-from-canvas message.
func IsCanvasReturn(message string) bool {
	return containsAny(strings.ToLower(message), canvasReturnVocab)
}

// AssistantHistoryText pulls assistant turn texts out of a transcript, newest
// first, for the extraction fallback scan.
func AssistantHistoryText(history []domain.Turn) []string {
	var out []string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleAssistant {
			out = append(out, history[i].Text)
		}
	}
	return out
}

func containsAny(s string, vocab []string) bool {
	for _, v := range vocab {
		if strings.Contains(s, v) {
			return true
		}
	}
	return false
}

package dialogue

import "github.com/fortulabs/fortu-chat/internal/classify"

const generalPrompt = `You are fortu.ai's consulting assistant. You help business
leaders think clearly about their organisations. Be direct, concise, and
practical. When a real business challenge surfaces, steer the conversation
toward articulating it precisely.`

const refinementPrompt = `You are fortu.ai's challenge-refinement specialist. Your
job is to turn a vague business worry into one precise question of the form
"How do we <action> so that <measurable outcome>?". Ask one clarifying
question at a time. When you believe the challenge is fully shaped, state the
refined question explicitly and ask the user to confirm it.`

// apologyText is the fixed fallback turn when the completion service fails.
const apologyText = "I'm sorry — I'm having trouble thinking that through right now. Please try again in a moment."

// searchGuidance is appended to the assistant reply when the question canvas
// opens.
const searchGuidance = "\n\nI've opened the canvas on the right: it shows questions matched from past engagements alongside fresh suggestions. Pick the ones that resonate and send them back to me."

// instanceGuidance is appended when the instance-setup canvas opens.
const instanceGuidance = "\n\nI've opened the instance setup panel on the right. Fill it in and we'll get your branded fortu.ai instance ready."

func systemPrompt(p classify.Persona) string {
	if p == classify.PersonaRefinement {
		return refinementPrompt
	}
	return generalPrompt
}

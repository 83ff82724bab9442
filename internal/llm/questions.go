package llm

import (
	"encoding/json"
	"strings"
)

// ParseQuestions decodes a generation-service reply. The services answer with
// either a JSON array of strings or a JSON array of {question, status}
// objects, sometimes wrapped in a markdown code fence; anything else falls
// back to a bullet-line scan. Unparseable input yields an empty slice, never
// an error.
func ParseQuestions(raw string) []GeneratedQuestion {
	text := stripCodeFence(strings.TrimSpace(raw))

	var strs []string
	if err := json.Unmarshal([]byte(text), &strs); err == nil {
		out := make([]GeneratedQuestion, 0, len(strs))
		for _, s := range strs {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, GeneratedQuestion{Question: s})
			}
		}
		return out
	}

	var objs []GeneratedQuestion
	if err := json.Unmarshal([]byte(text), &objs); err == nil {
		out := make([]GeneratedQuestion, 0, len(objs))
		for _, q := range objs {
			if q.Question = strings.TrimSpace(q.Question); q.Question != "" {
				out = append(out, q)
			}
		}
		return out
	}

	return scanBulletLines(text)
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func scanBulletLines(text string) []GeneratedQuestion {
	var out []GeneratedQuestion
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789. ")
		line = strings.Trim(line, `"`)
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		out = append(out, GeneratedQuestion{Question: line})
	}
	return out
}

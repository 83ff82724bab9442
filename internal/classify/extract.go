package classify

import (
	"regexp"
	"strings"

	"github.com/fortulabs/fortu-chat/internal/domain"
)

// markerPattern matches an explicit refined-challenge announcement followed
// by a quoted "How do we ...?" sentence, e.g.
//
//	Your refined challenge is: "How do we reduce churn so that retention rises?"
var markerPattern = regexp.MustCompile(
	`(?is)(?:refined challenge|your challenge)[^"“]{0,80}["“]\s*(how do we\b[^"”?]*\?)`)

// barePattern matches any bare "How do we ...?" sentence.
var barePattern = regexp.MustCompile(`(?is)\b(how do we\b[^?]*\?)`)

// ExtractRefinedChallenge pulls the normalized "How do we ...?" string out of
// model output. Search order: an explicit marker phrase with a quoted
// sentence in the reply, then any bare "How do we ...?" sentence in the
// reply, then the most recent prior assistant turn containing one. Returns ""
// when nothing matches. The function is pure and idempotent.
func ExtractRefinedChallenge(reply string, history []domain.Turn) string {
	if m := markerPattern.FindStringSubmatch(reply); m != nil {
		return normalizeChallenge(m[1])
	}
	if m := barePattern.FindStringSubmatch(reply); m != nil {
		return normalizeChallenge(m[1])
	}
	for _, text := range AssistantHistoryText(history) {
		if m := barePattern.FindStringSubmatch(text); m != nil {
			return normalizeChallenge(m[1])
		}
	}
	return ""
}

// normalizeChallenge collapses whitespace and capitalizes the leading "How".
func normalizeChallenge(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

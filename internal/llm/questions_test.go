package llm

import "testing"

func TestParseQuestionsStringArray(t *testing.T) {
	t.Parallel()

	raw := `["How do we grow?", " How do we retain customers? ", ""]`
	got := ParseQuestions(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got))
	}
	if got[1].Question != "How do we retain customers?" {
		t.Errorf("expected trimmed question, got %q", got[1].Question)
	}
}

func TestParseQuestionsObjectArray(t *testing.T) {
	t.Parallel()

	raw := `[{"question": "How do we cut costs?", "status": "AI"}, {"question": "How do we scale?"}]`
	got := ParseQuestions(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got))
	}
	if got[0].Status != "AI" {
		t.Errorf("expected status to survive decoding, got %q", got[0].Status)
	}
}

func TestParseQuestionsCodeFence(t *testing.T) {
	t.Parallel()

	raw := "```json\n[\"How do we win?\"]\n```"
	got := ParseQuestions(raw)
	if len(got) != 1 || got[0].Question != "How do we win?" {
		t.Fatalf("expected fenced JSON to decode, got %#v", got)
	}
}

func TestParseQuestionsBulletFallback(t *testing.T) {
	t.Parallel()

	raw := "Here are some ideas:\n- How do we grow faster?\n- How do we hire better?\nThanks!"
	got := ParseQuestions(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 bullet questions, got %d: %#v", len(got), got)
	}
}

func TestParseQuestionsGarbage(t *testing.T) {
	t.Parallel()

	if got := ParseQuestions("no questions here"); len(got) != 0 {
		t.Fatalf("expected empty slice for unparseable input, got %#v", got)
	}
}

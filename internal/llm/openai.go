package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client implements Completer, QuestionGenerator, and TitleGenerator on the
// official OpenAI API. Every call is bounded by the configured timeout so a
// stalled provider degrades into the callers' fallback paths instead of
// hanging a request.
type Client struct {
	client  openai.Client
	model   openai.ChatModel
	timeout time.Duration
}

// NewClient creates an OpenAI-backed client.
func NewClient(apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   openai.ChatModel(model),
		timeout: timeout,
	}
}

// Complete sends the persona prompt, transcript, and new user message as one
// chat completion and returns the reply text.
func (c *Client) Complete(ctx context.Context, systemPrompt string, transcript []Message, userMessage string) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(transcript)+2)
	msgs = append(msgs, openai.SystemMessage(systemPrompt))
	for _, m := range transcript {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(userMessage))
	return c.complete(ctx, msgs)
}

// GenerateMatched asks for database-matched style questions for a refined
// challenge.
func (c *Client) GenerateMatched(ctx context.Context, refinedChallenge string) ([]GeneratedQuestion, error) {
	prompt := fmt.Sprintf(
		"Find up to 6 proven questions from past engagements that match this refined business challenge:\n\n%s\n\n"+
			"Respond with a JSON array of question strings only.", refinedChallenge)
	raw, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(matchedSystemPrompt),
		openai.UserMessage(prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("generate matched questions: %w", err)
	}
	return ParseQuestions(raw), nil
}

// GenerateSuggested asks for fresh AI-suggested questions, passing the
// matched set so the model avoids duplicating it.
func (c *Client) GenerateSuggested(ctx context.Context, refinedChallenge string, related []string) ([]GeneratedQuestion, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest up to 6 new questions that explore this refined business challenge:\n\n%s\n", refinedChallenge)
	if len(related) > 0 {
		b.WriteString("\nAvoid duplicating these already-matched questions:\n")
		for _, q := range related {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	b.WriteString("\nRespond with a JSON array of question strings only.")

	raw, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(suggestedSystemPrompt),
		openai.UserMessage(b.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("generate suggested questions: %w", err)
	}
	return ParseQuestions(raw), nil
}

// GenerateTitle summarizes the opening turns into a short session title.
func (c *Client) GenerateTitle(ctx context.Context, turns []Message) (string, error) {
	var b strings.Builder
	b.WriteString("Write a title of at most five words for this conversation. Respond with the title only.\n\n")
	for _, m := range turns {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	raw, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(titleSystemPrompt),
		openai.UserMessage(b.String()),
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := strings.Trim(strings.TrimSpace(raw), `"`)
	if title == "" {
		return "", fmt.Errorf("empty title from model")
	}
	return title, nil
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

const matchedSystemPrompt = "You are fortu.ai's question matcher. You surface proven " +
	"\"How do we ... so that ...?\" questions from past client engagements that fit a refined challenge."

const suggestedSystemPrompt = "You are fortu.ai's question strategist. You propose sharp new " +
	"\"How do we ... so that ...?\" questions that open different angles on a refined challenge."

const titleSystemPrompt = "You summarize consulting conversations into very short titles."

package llm

import (
	"context"
	"fmt"
	"strings"
)

const clarifierSystemPrompt = `You speak for persona %q. The user's message is too short or vague to answer.
Ask one brief, friendly clarifying question that would let you help. Reply with the question only.`

// DefaultClarifyingQuestion is served when the model cannot be reached.
const DefaultClarifyingQuestion = "Could you tell me a bit more about what you'd like to know?"

// Clarifier asks the model for a single clarifying question.
type Clarifier struct {
	client Client
	model  string
}

func NewClarifier(client Client, model string) *Clarifier {
	if client == nil {
		panic("llm: client cannot be nil")
	}
	return &Clarifier{client: client, model: model}
}

func (c *Clarifier) Clarify(ctx context.Context, personaID, message string) (string, error) {
	resp, err := c.client.Complete(ctx, Request{
		Model:       c.model,
		System:      []string{fmt.Sprintf(clarifierSystemPrompt, personaID)},
		Messages:    []Message{{Role: RoleUser, Content: message}},
		MaxTokens:   96,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("llm: clarify: %w", err)
	}
	question := strings.TrimSpace(resp.Text)
	if question == "" {
		return DefaultClarifyingQuestion, nil
	}
	return question, nil
}

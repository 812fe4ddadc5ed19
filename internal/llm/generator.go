package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loicricci/albee-poc-sub001/internal/signals"
)

const generatorSystemPrompt = `You answer on behalf of persona %q using only the reference passages provided.
Reply with a single JSON object and nothing else:
{"answer": "<your reply>", "confidence": <number between 0 and 1>}
confidence is how sure you are that the passages support the answer. Use a low value when they do not.`

// Generator drafts answers through an LLM client and reports the model's
// self-assessed confidence.
type Generator struct {
	client    Client
	model     string
	maxTokens int32
}

func NewGenerator(client Client, model string) *Generator {
	if client == nil {
		panic("llm: client cannot be nil")
	}
	return &Generator{client: client, model: model, maxTokens: 512}
}

func (g *Generator) Generate(ctx context.Context, personaID, query string, passages []string) (signals.Generation, error) {
	var user strings.Builder
	if len(passages) > 0 {
		user.WriteString("Reference passages:\n")
		for i, p := range passages {
			fmt.Fprintf(&user, "[%d] %s\n", i+1, p)
		}
		user.WriteString("\n")
	} else {
		user.WriteString("Reference passages: none\n\n")
	}
	user.WriteString("Question: ")
	user.WriteString(query)

	resp, err := g.client.Complete(ctx, Request{
		Model:       g.model,
		System:      []string{fmt.Sprintf(generatorSystemPrompt, personaID)},
		Messages:    []Message{{Role: RoleUser, Content: user.String()}},
		MaxTokens:   g.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return signals.Generation{}, fmt.Errorf("llm: generate: %w", err)
	}
	return ParseGeneration(resp.Text)
}

// ParseGeneration reads the JSON reply. When the model ignored the format the
// raw text becomes the answer with no confidence.
func ParseGeneration(text string) (signals.Generation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return signals.Generation{}, errors.New("llm: empty generation")
	}
	var out struct {
		Answer     string   `json:"answer"`
		Confidence *float64 `json:"confidence"`
	}
	if obj, ok := jsonObject(text); ok && json.Unmarshal([]byte(obj), &out) == nil && strings.TrimSpace(out.Answer) != "" {
		return signals.Generation{Text: strings.TrimSpace(out.Answer), Confidence: out.Confidence}, nil
	}
	return signals.Generation{Text: text}, nil
}

// jsonObject extracts the outermost {...} span, tolerating code fences.
func jsonObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

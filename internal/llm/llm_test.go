package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	in   *bedrockruntime.ConverseInput
	text string
	err  error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: f.text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
	}, nil
}

type stubClient struct {
	calls int
	last  Request
	resp  Response
	err   error
}

func (s *stubClient) Complete(_ context.Context, req Request) (Response, error) {
	s.calls++
	s.last = req
	return s.resp, s.err
}

func TestBedrockClientComplete(t *testing.T) {
	api := &fakeConverse{text: "  hello  "}
	c := NewBedrockClient(api)

	resp, err := c.Complete(context.Background(), Request{
		Model:       "anthropic.claude-3-haiku",
		System:      []string{"be brief", ""},
		Messages:    []Message{{Role: RoleSystem, Content: "extra rule"}, {Role: RoleUser, Content: "hi"}},
		Temperature: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Len(t, api.in.System, 2, "system messages are folded into system blocks")
	assert.Len(t, api.in.Messages, 1)
	assert.Nil(t, api.in.InferenceConfig, "no overrides leaves inference config unset")
}

func TestBedrockClientRejectsBadInput(t *testing.T) {
	c := NewBedrockClient(&fakeConverse{text: "x"})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err, "model id is required")

	_, err = c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: "tool", Content: "hi"}}})
	assert.Error(t, err)

	_, err = NewBedrockClient(&fakeConverse{text: "   "}).Complete(context.Background(),
		Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err, "blank output is an error")
}

func TestFallbackClient(t *testing.T) {
	ctx := context.Background()

	primary := &stubClient{resp: Response{Text: "primary"}}
	fallback := &stubClient{resp: Response{Text: "fallback"}}
	resp, err := NewFallbackClient(primary, fallback, nil).Complete(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Text)
	assert.Zero(t, fallback.calls)

	primary.err = errors.New("throttled")
	resp, err = NewFallbackClient(primary, fallback, nil).Complete(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)

	fallback.err = errors.New("quota")
	_, err = NewFallbackClient(primary, fallback, nil).Complete(ctx, Request{})
	assert.EqualError(t, err, "quota")

	_, err = NewFallbackClient(primary, nil, nil).Complete(ctx, Request{})
	assert.EqualError(t, err, "throttled")
}

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		answer     string
		confidence *float64
		wantErr    bool
	}{
		{"json", `{"answer": "Use cold butter.", "confidence": 0.82}`, "Use cold butter.", ptr(0.82), false},
		{"fenced", "```json\n{\"answer\": \"Yes\", \"confidence\": 85}\n```", "Yes", ptr(85), false},
		{"no confidence", `{"answer": "Maybe"}`, "Maybe", nil, false},
		{"plain text", "Just bake it longer.", "Just bake it longer.", nil, false},
		{"empty answer field", `{"answer": "", "confidence": 0.9}`, `{"answer": "", "confidence": 0.9}`, nil, false},
		{"blank", "   ", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGeneration(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.answer, got.Text)
			assert.Equal(t, tt.confidence, got.Confidence)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestGeneratorBuildsPromptFromPassages(t *testing.T) {
	client := &stubClient{resp: Response{Text: `{"answer":"Two hours.","confidence":0.7}`}}
	g := NewGenerator(client, "model-x")

	gen, err := g.Generate(context.Background(), "chef", "How long to proof dough?", []string{"Proof until doubled.", "Warm kitchens are faster."})
	require.NoError(t, err)
	assert.Equal(t, "Two hours.", gen.Text)
	require.NotNil(t, gen.Confidence)
	assert.InDelta(t, 0.7, *gen.Confidence, 1e-9)

	assert.Equal(t, "model-x", client.last.Model)
	assert.Contains(t, client.last.System[0], `"chef"`)
	prompt := client.last.Messages[0].Content
	assert.True(t, strings.Contains(prompt, "[1] Proof until doubled.") && strings.Contains(prompt, "[2] Warm kitchens"))
	assert.True(t, strings.HasSuffix(prompt, "Question: How long to proof dough?"))

	client.err = errors.New("down")
	_, err = g.Generate(context.Background(), "chef", "q", nil)
	assert.Error(t, err)
}

func TestClarifier(t *testing.T) {
	client := &stubClient{resp: Response{Text: "What dish are you cooking?"}}
	q, err := NewClarifier(client, "m").Clarify(context.Background(), "chef", "Hi")
	require.NoError(t, err)
	assert.Equal(t, "What dish are you cooking?", q)

	client.resp = Response{Text: "  "}
	q, err = NewClarifier(client, "m").Clarify(context.Background(), "chef", "Hi")
	require.NoError(t, err)
	assert.Equal(t, DefaultClarifyingQuestion, q)

	client.err = errors.New("down")
	_, err = NewClarifier(client, "m").Clarify(context.Background(), "chef", "Hi")
	assert.Error(t, err)
}

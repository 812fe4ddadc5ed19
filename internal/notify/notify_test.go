package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

type fakeSendGrid struct {
	message *mail.SGMailV3
	status  int
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.message = m
	return &rest.Response{StatusCode: f.status}, nil
}

type capturingSender struct {
	mu   sync.Mutex
	sent []EmailMessage
}

func (c *capturingSender) Send(_ context.Context, msg EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func sampleEscalation() escalation.Escalation {
	return escalation.Escalation{
		ID:             "esc-1",
		PersonaID:      "chef-ana",
		UserID:         "user-9",
		ConversationID: "conv-1",
		Status:         escalation.StatusAccepted,
		Question:       "How long should I rest a brisket after smoking it overnight?",
		ContextSummary: "Talking about low and slow barbecue",
		OfferedAt:      time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventNotifierPublishesLifecycleEvents(t *testing.T) {
	client := &fakeSQS{}
	n := NewEventNotifier(client, "https://sqs.local/queue/escalations")
	n.now = func() time.Time { return time.Date(2026, 10, 16, 12, 5, 0, 0, time.UTC) }
	ctx := context.Background()
	e := sampleEscalation()

	require.NoError(t, n.EscalationOffered(ctx, e))
	require.NoError(t, n.EscalationAccepted(ctx, e))
	require.NoError(t, n.EscalationAnswered(ctx, e, canonical.Answer{ID: "ans-7"}))
	require.Len(t, client.inputs, 3)

	wantTypes := []string{EventOffered, EventAccepted, EventAnswered}
	for i, in := range client.inputs {
		assert.Equal(t, "https://sqs.local/queue/escalations", aws.ToString(in.QueueUrl))
		assert.Equal(t, wantTypes[i], aws.ToString(in.MessageAttributes["type"].StringValue))
		assert.Equal(t, "chef-ana", aws.ToString(in.MessageAttributes["persona_id"].StringValue))

		var evt Event
		require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &evt))
		assert.Equal(t, wantTypes[i], evt.Type)
		assert.Equal(t, "esc-1", evt.Escalation.ID)
		assert.True(t, evt.OccurredAt.Equal(time.Date(2026, 10, 16, 12, 5, 0, 0, time.UTC)))
	}

	var answered Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.inputs[2].MessageBody)), &answered))
	assert.Equal(t, "ans-7", answered.CanonicalAnswerID)
}

func TestEventNotifierWrapsSendErrors(t *testing.T) {
	client := &fakeSQS{err: errors.New("throttled")}
	n := NewEventNotifier(client, "q")

	err := n.EscalationOffered(context.Background(), sampleEscalation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), EventOffered)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewEventNotifierPanicsWithoutQueue(t *testing.T) {
	assert.Panics(t, func() { NewEventNotifier(&fakeSQS{}, "") })
	assert.Panics(t, func() { NewEventNotifier(nil, "q") })
}

func TestOwnerEmailNotifierEmailsOnAccept(t *testing.T) {
	policies := policy.NewMemoryStore()
	cfg := policy.DefaultConfig("chef-ana")
	cfg.OwnerEmail = "ana@example.com"
	require.NoError(t, policies.Put(context.Background(), cfg))

	sender := &capturingSender{}
	n := NewOwnerEmailNotifier(sender, policies, logging.Discard())
	e := sampleEscalation()

	require.NoError(t, n.EscalationOffered(context.Background(), e))
	assert.Empty(t, sender.sent, "offers are not emailed")

	require.NoError(t, n.EscalationAccepted(context.Background(), e))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "ana@example.com", msg.To)
	assert.True(t, strings.HasPrefix(msg.Subject, "New question for chef-ana: "))
	assert.Contains(t, msg.Body, e.Question)
	assert.Contains(t, msg.Body, "Context: Talking about low and slow barbecue")
	assert.Contains(t, msg.HTML, "esc-1")

	require.NoError(t, n.EscalationAnswered(context.Background(), e, canonical.Answer{ID: "ans-7"}))
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[1].Body, "ans-7")
}

func TestOwnerEmailNotifierSkipsWithoutOwnerEmail(t *testing.T) {
	sender := &capturingSender{}
	n := NewOwnerEmailNotifier(sender, policy.NewMemoryStore(), logging.Discard())

	require.NoError(t, n.EscalationAccepted(context.Background(), sampleEscalation()))
	assert.Empty(t, sender.sent)
}

type failingPolicies struct{}

func (failingPolicies) Get(context.Context, string) (policy.Config, error) {
	return policy.Config{}, errors.New("redis: timeout")
}

func TestOwnerEmailNotifierReportsPolicyErrors(t *testing.T) {
	sender := &capturingSender{}
	n := NewOwnerEmailNotifier(sender, failingPolicies{}, logging.Discard())

	err := n.EscalationAccepted(context.Background(), sampleEscalation())
	require.Error(t, err)
	assert.Empty(t, sender.sent)
}

type erroringNotifier struct{ calls int }

func (e *erroringNotifier) EscalationOffered(context.Context, escalation.Escalation) error {
	e.calls++
	return errors.New("boom")
}

func (e *erroringNotifier) EscalationAccepted(context.Context, escalation.Escalation) error {
	e.calls++
	return errors.New("boom")
}

func (e *erroringNotifier) EscalationAnswered(context.Context, escalation.Escalation, canonical.Answer) error {
	e.calls++
	return errors.New("boom")
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	failing := &erroringNotifier{}
	client := &fakeSQS{}
	m := Multi{failing, nil, NewEventNotifier(client, "q")}

	err := m.EscalationOffered(context.Background(), sampleEscalation())
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, client.inputs, 1, "a failing notifier does not stop the rest")
}

func TestSESSenderBuildsMessage(t *testing.T) {
	client := &fakeSES{}
	s := NewSESSender(client, SESConfig{FromEmail: "noreply@example.com"}, logging.Discard())

	err := s.Send(context.Background(), EmailMessage{To: "ana@example.com", Subject: "Hi", Body: "plain", HTML: "<p>rich</p>"})
	require.NoError(t, err)
	require.NotNil(t, client.input)
	assert.Equal(t, "Persona Orchestrator <noreply@example.com>", aws.ToString(client.input.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "plain", aws.ToString(client.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>rich</p>", aws.ToString(client.input.Content.Simple.Body.Html.Data))
}

func TestSESSenderErrors(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))

	s := NewSESSender(&fakeSES{err: errors.New("quota")}, SESConfig{FromEmail: "a@b.c"}, logging.Discard())
	require.Error(t, s.Send(context.Background(), EmailMessage{To: "x@y.z", Subject: "s", Body: "b"}))
}

func TestSendGridSender(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "a@b.c"}, nil))

	client := &fakeSendGrid{status: 202}
	s := newSendGridSender(client, SendGridConfig{FromEmail: "noreply@example.com", FromName: "Ana's Kitchen"}, logging.Discard())
	require.NoError(t, s.Send(context.Background(), EmailMessage{To: "fan@example.com", Subject: "Hello", Body: "text"}))
	require.NotNil(t, client.message)
	assert.Equal(t, "Hello", client.message.Subject)
	assert.Equal(t, "Ana's Kitchen", client.message.From.Name)

	client.status = 500
	require.Error(t, s.Send(context.Background(), EmailMessage{To: "fan@example.com", Subject: "Hello", Body: "text"}))

	var nilSender *SendGridSender
	require.Error(t, nilSender.Send(context.Background(), EmailMessage{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

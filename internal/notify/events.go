package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
)

// Event types published to the escalation events queue.
const (
	EventOffered  = "escalation.offered.v1"
	EventAccepted = "escalation.accepted.v1"
	EventAnswered = "escalation.answered.v1"
)

// Event is the JSON body of one queue message.
type Event struct {
	Type              string                `json:"type"`
	OccurredAt        time.Time             `json:"occurred_at"`
	Escalation        escalation.Escalation `json:"escalation"`
	CanonicalAnswerID string                `json:"canonical_answer_id,omitempty"`
}

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventNotifier publishes escalation lifecycle events to an SQS queue.
type EventNotifier struct {
	client   SQSAPI
	queueURL string
	now      func() time.Time
}

func NewEventNotifier(client SQSAPI, queueURL string) *EventNotifier {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &EventNotifier{client: client, queueURL: queueURL, now: time.Now}
}

func (n *EventNotifier) EscalationOffered(ctx context.Context, e escalation.Escalation) error {
	return n.publish(ctx, Event{Type: EventOffered, Escalation: e})
}

func (n *EventNotifier) EscalationAccepted(ctx context.Context, e escalation.Escalation) error {
	return n.publish(ctx, Event{Type: EventAccepted, Escalation: e})
}

func (n *EventNotifier) EscalationAnswered(ctx context.Context, e escalation.Escalation, answer canonical.Answer) error {
	return n.publish(ctx, Event{Type: EventAnswered, Escalation: e, CanonicalAnswerID: answer.ID})
}

func (n *EventNotifier) publish(ctx context.Context, evt Event) error {
	evt.OccurredAt = n.now().UTC()
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", evt.Type, err)
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type":       {DataType: aws.String("String"), StringValue: aws.String(evt.Type)},
			"persona_id": {DataType: aws.String("String"), StringValue: aws.String(evt.Escalation.PersonaID)},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: send %s: %w", evt.Type, err)
	}
	return nil
}

var _ escalation.Notifier = (*EventNotifier)(nil)

package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// OwnerEmailNotifier emails the persona owner when a user accepts an
// escalation and confirms once the owner's answer is stored. Personas
// without an owner email are skipped.
type OwnerEmailNotifier struct {
	email    EmailSender
	policies policy.Reader
	logger   *logging.Logger
}

func NewOwnerEmailNotifier(email EmailSender, policies policy.Reader, logger *logging.Logger) *OwnerEmailNotifier {
	if email == nil {
		panic("notify: email sender cannot be nil")
	}
	if policies == nil {
		panic("notify: policy reader cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OwnerEmailNotifier{email: email, policies: policies, logger: logger}
}

// EscalationOffered is a no-op: owners only hear about accepted escalations.
func (n *OwnerEmailNotifier) EscalationOffered(context.Context, escalation.Escalation) error {
	return nil
}

func (n *OwnerEmailNotifier) EscalationAccepted(ctx context.Context, e escalation.Escalation) error {
	to, err := n.ownerEmail(ctx, e.PersonaID)
	if err != nil || to == "" {
		return err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "A user asked a question your persona could not answer confidently.\n\n")
	fmt.Fprintf(&text, "Question: %s\n", e.Question)
	if e.ContextSummary != "" {
		fmt.Fprintf(&text, "Context: %s\n", e.ContextSummary)
	}
	fmt.Fprintf(&text, "Escalation: %s\n", e.ID)

	htmlBody := fmt.Sprintf(
		"<p>A user asked a question your persona could not answer confidently.</p><p><strong>Question:</strong> %s</p><p><small>Escalation %s</small></p>",
		html.EscapeString(e.Question), html.EscapeString(e.ID),
	)

	return n.email.Send(ctx, EmailMessage{
		To:      to,
		Subject: "New question for " + e.PersonaID + ": " + truncate(e.Question, 60),
		Body:    text.String(),
		HTML:    htmlBody,
	})
}

func (n *OwnerEmailNotifier) EscalationAnswered(ctx context.Context, e escalation.Escalation, answer canonical.Answer) error {
	to, err := n.ownerEmail(ctx, e.PersonaID)
	if err != nil || to == "" {
		return err
	}
	body := fmt.Sprintf("Your answer to %q is now reused for similar questions.\n\nCanonical answer: %s\n", truncate(e.Question, 120), answer.ID)
	return n.email.Send(ctx, EmailMessage{
		To:      to,
		Subject: "Answer saved for " + e.PersonaID,
		Body:    body,
	})
}

func (n *OwnerEmailNotifier) ownerEmail(ctx context.Context, personaID string) (string, error) {
	cfg, err := n.policies.Get(ctx, personaID)
	if err != nil {
		return "", fmt.Errorf("notify: load policy for %s: %w", personaID, err)
	}
	if cfg.OwnerEmail == "" {
		n.logger.Debug("notify: no owner email configured", "persona_id", personaID)
	}
	return cfg.OwnerEmail, nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// Multi fans each event out to every notifier. All notifiers run even when
// one fails; the errors are joined.
type Multi []escalation.Notifier

func (m Multi) EscalationOffered(ctx context.Context, e escalation.Escalation) error {
	return m.each(func(n escalation.Notifier) error { return n.EscalationOffered(ctx, e) })
}

func (m Multi) EscalationAccepted(ctx context.Context, e escalation.Escalation) error {
	return m.each(func(n escalation.Notifier) error { return n.EscalationAccepted(ctx, e) })
}

func (m Multi) EscalationAnswered(ctx context.Context, e escalation.Escalation, answer canonical.Answer) error {
	return m.each(func(n escalation.Notifier) error { return n.EscalationAnswered(ctx, e, answer) })
}

func (m Multi) each(fn func(escalation.Notifier) error) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ escalation.Notifier = (*OwnerEmailNotifier)(nil)
	_ escalation.Notifier = Multi(nil)
)

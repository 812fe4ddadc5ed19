package orchestrator

import "github.com/loicricci/albee-poc-sub001/internal/routing"

const (
	offerText = "I'm not confident I can answer that well on my own. " +
		"Would you like me to pass your question to the person behind this persona?"
	queuedText = "Done! Your question has been passed along. You'll get an answer here once it has been reviewed."
)

// refusalText is the polite message shown for a path F trigger.
func refusalText(t routing.Trigger) string {
	switch t {
	case routing.TriggerTierNotAllowed:
		return "Sorry, this persona isn't taking messages from your account right now."
	case routing.TriggerBlockedTopic:
		return "Sorry, that's a topic I can't discuss."
	case routing.TriggerEscalationsDisabled:
		return "Sorry, I can't answer that one confidently, and I'm not able to pass questions along right now."
	case routing.TriggerDailyLimit:
		return "You've reached today's limit for questions passed along. Please try again tomorrow."
	case routing.TriggerWeeklyLimit:
		return "You've reached this week's limit for questions passed along. Please try again next week."
	case routing.TriggerLimitAtAccept:
		return "Sorry, the question limit was reached before your request went through. Please try again later."
	case routing.TriggerBudgetUnavailable, routing.TriggerEscalationFailed:
		return "Sorry, I can't pass your question along right now. Please try again in a little while."
	default:
		return "Sorry, I can't help with that."
	}
}

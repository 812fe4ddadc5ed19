// Package routing is the decision router: a pure, ordered rule set that
// maps signals, the owner's policy and the requester's context to exactly
// one of six response paths.
package routing

import "fmt"

// Path is the closed set of routing outcomes.
type Path string

const (
	PathAutoAnswer      Path = "A"
	PathClarify         Path = "B"
	PathCanonical       Path = "C"
	PathOfferEscalation Path = "D"
	PathQueueEscalation Path = "E"
	PathRefuse          Path = "F"
)

// Paths lists every path in order.
var Paths = []Path{
	PathAutoAnswer, PathClarify, PathCanonical,
	PathOfferEscalation, PathQueueEscalation, PathRefuse,
}

// Valid reports whether p is one of the six paths.
func (p Path) Valid() bool {
	switch p {
	case PathAutoAnswer, PathClarify, PathCanonical,
		PathOfferEscalation, PathQueueEscalation, PathRefuse:
		return true
	}
	return false
}

// Name is the human-readable label used in logs and dashboards.
func (p Path) Name() string {
	switch p {
	case PathAutoAnswer:
		return "auto_answer"
	case PathClarify:
		return "clarify"
	case PathCanonical:
		return "canonical"
	case PathOfferEscalation:
		return "offer_escalation"
	case PathQueueEscalation:
		return "queue_escalation"
	case PathRefuse:
		return "refuse"
	default:
		return "unknown"
	}
}

// ParsePath validates a stored path value.
func ParsePath(s string) (Path, error) {
	p := Path(s)
	if !p.Valid() {
		return "", fmt.Errorf("routing: unknown path %q", s)
	}
	return p, nil
}

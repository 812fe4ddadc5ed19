// Package counters implements the per-(persona, user, period) escalation
// budget. Every backend exposes the same primitive: an atomic
// compare-and-increment across one or more periods.
package counters

import (
	"context"
	"fmt"
	"time"
)

// Period is a counting window.
type Period string

const (
	Day  Period = "day"
	Week Period = "week"
)

// Limit caps the count for one period.
type Limit struct {
	Period Period
	Max    int
}

// Usage is a point-in-time read of a user's counters for one persona.
type Usage struct {
	Today    int
	ThisWeek int
}

// Store is the counter store boundary.
type Store interface {
	// TryIncrement adds one to every period in limits only if none of them
	// would exceed its Max. It either charges all periods or none and
	// reports which happened. It must be atomic against concurrent callers.
	TryIncrement(ctx context.Context, personaID, userID string, at time.Time, limits ...Limit) (bool, error)
	// Usage reads the day and ISO-week counters containing at.
	Usage(ctx context.Context, personaID, userID string, at time.Time) (Usage, error)
}

// DayAndWeek builds the limits charged when an escalation is accepted.
func DayAndWeek(maxPerDay, maxPerWeek int) []Limit {
	return []Limit{{Period: Day, Max: maxPerDay}, {Period: Week, Max: maxPerWeek}}
}

// PeriodKey names the window containing at, in UTC: "2026-10-16" for days and
// "2026-W42" for ISO weeks.
func PeriodKey(p Period, at time.Time) string {
	at = at.UTC()
	switch p {
	case Day:
		return at.Format("2006-01-02")
	case Week:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return string(p) + ":" + at.Format("2006-01-02")
	}
}

// retention is how long a period's counter is kept after first use. It
// outlives the window so late reads inside the window never see a reset.
func retention(p Period) time.Duration {
	if p == Week {
		return 15 * 24 * time.Hour
	}
	return 48 * time.Hour
}

func validLimits(limits []Limit) bool {
	if len(limits) == 0 {
		return false
	}
	for _, l := range limits {
		if l.Max <= 0 {
			return false
		}
	}
	return true
}

package decisionlog

import "github.com/loicricci/albee-poc-sub001/internal/routing"

// Divergence is a recorded decision the current router would make
// differently.
type Divergence struct {
	RecordID string           `json:"record_id"`
	Recorded routing.Decision `json:"recorded"`
	Replayed routing.Decision `json:"replayed"`
}

// ReplayReport summarizes a replay run.
type ReplayReport struct {
	Replayed    int          `json:"replayed"`
	Skipped     int          `json:"skipped"`
	Divergences []Divergence `json:"divergences"`
}

// Replay re-runs router over the snapshots in records. Records without a
// snapshot (accept-time outcomes) are skipped.
func Replay(router *routing.Router, records []Record) ReplayReport {
	report := ReplayReport{Divergences: []Divergence{}}
	for _, rec := range records {
		if rec.Snapshot == nil {
			report.Skipped++
			continue
		}
		report.Replayed++
		got := router.Decide(rec.Snapshot.Input)
		if got.Path != rec.Snapshot.Decision.Path || got.Trigger != rec.Snapshot.Decision.Trigger {
			report.Divergences = append(report.Divergences, Divergence{
				RecordID: rec.ID,
				Recorded: rec.Snapshot.Decision,
				Replayed: got,
			})
		}
	}
	return report
}

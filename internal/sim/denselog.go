package sim

import (
	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/policy"
)

// StepRecord is the full snapshot of one timestep: what every agent saw,
// what it did, what it earned for it, and whether the episode ended.
type StepRecord struct {
	Step         int                           `json:"step"`
	Observations map[string]policy.Observation `json:"observations"`
	Actions      map[string]econ.Decision      `json:"actions"`
	Rewards      map[string]float64            `json:"rewards"`
	Terminations map[string]bool               `json:"terminations"`
}

// DenseLog is the append-only per-timestep record, owned exclusively by
// the orchestrator. Policies and agents never read it; it exists for
// post-hoc analysis and external persistence.
type DenseLog struct {
	records []StepRecord
}

// Append adds one timestep's snapshot.
func (l *DenseLog) Append(r StepRecord) {
	l.records = append(l.records, r)
}

// Len returns the number of recorded timesteps.
func (l *DenseLog) Len() int { return len(l.records) }

// Records returns the recorded snapshots in timestep order.
func (l *DenseLog) Records() []StepRecord {
	return append([]StepRecord(nil), l.records...)
}

// At returns the snapshot for one timestep index.
func (l *DenseLog) At(step int) (StepRecord, bool) {
	if step < 0 || step >= len(l.records) {
		return StepRecord{}, false
	}
	return l.records[step], true
}

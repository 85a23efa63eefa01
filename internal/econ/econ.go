// Package econ holds the contracts shared by every layer of the simulator:
// the per-agent decision record and the error taxonomy.
package econ

import "errors"

// Error taxonomy. Configuration and invariant errors are fatal; decision and
// external-service errors are recoverable and handled by the orchestrator.
var (
	// ErrConfiguration marks invalid construction-time input: malformed
	// bracket schedules, zero agents, step caps outside (0,1).
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidDecision marks a decision outside its contractual range.
	// The orchestrator substitutes DefaultDecision and counts it.
	ErrInvalidDecision = errors.New("decision out of range")

	// ErrExternalService marks a text-generation backend failure that
	// survived the retry budget.
	ErrExternalService = errors.New("external service failure")

	// ErrInvariant marks a broken state invariant: a core bug.
	// Runs must stop rather than continue on corrupted state.
	ErrInvariant = errors.New("state invariant violated")
)

// Decision is one agent's choice for one month: whether to work and what
// fraction of spendable resources to consume.
type Decision struct {
	Work            int     `json:"work"`        // 0 or 1
	ConsumptionFrac float64 `json:"consumption"` // [0, 1]
}

// DefaultDecision is substituted when a policy produces an unusable
// decision: work full time, consume half of spendable resources.
func DefaultDecision() Decision {
	return Decision{Work: 1, ConsumptionFrac: 0.5}
}

// Validate reports ErrInvalidDecision unless the decision is in range.
func (d Decision) Validate() error {
	if d.Work != 0 && d.Work != 1 {
		return ErrInvalidDecision
	}
	if d.ConsumptionFrac < 0 || d.ConsumptionFrac > 1 {
		return ErrInvalidDecision
	}
	return nil
}

// Clamp returns the decision with its consumption fraction forced into
// [0, 1] and work forced into {0, 1}.
func (d Decision) Clamp() Decision {
	if d.Work != 0 {
		d.Work = 1
	}
	if d.ConsumptionFrac < 0 {
		d.ConsumptionFrac = 0
	}
	if d.ConsumptionFrac > 1 {
		d.ConsumptionFrac = 1
	}
	return d
}

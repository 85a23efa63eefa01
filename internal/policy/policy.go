// Package policy maps per-agent observations to monthly work/consumption
// decisions. Two interchangeable variants: a closed-form rule policy and a
// text-generation-backed policy.
package policy

import (
	"context"

	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/tax"
)

// Observation is the per-agent view of the world at the start of a month.
// The fixed fields are the contract; Extra carries open-ended metadata
// that never enters the numeric path.
type Observation struct {
	AgentID int `json:"agent_id"`
	Step    int `json:"step"`

	// Identity (immutable, for the generative prompt).
	Name string `json:"name"`
	Age  int    `json:"age"`
	City string `json:"city"`
	Job  string `json:"job"`

	// Own economic state as of the end of last month.
	Employed         bool    `json:"employed"`
	OfferedJob       string  `json:"offered_job,omitempty"`
	Wealth           float64 `json:"wealth"`
	Skill            float64 `json:"skill"`
	Income           float64 `json:"income"`      // last realized monthly income
	LastIncome       float64 `json:"last_income"` // one month earlier
	ConsumptionFrac  float64 `json:"consumption_frac"`
	ConsumptionSpent float64 `json:"consumption_spent"`
	HourlyWage       float64 `json:"hourly_wage"` // wage multiplier × base rate

	// Market cross-section.
	Price          float64 `json:"price"`
	PriceInflation float64 `json:"price_inflation"`
	WageInflation  float64 `json:"wage_inflation"`
	InterestRate   float64 `json:"interest_rate"`

	// Planner side.
	TaxBrackets []tax.Bracket `json:"tax_brackets"`

	Extra map[string]float64 `json:"extra,omitempty"`
}

// Policy produces one decision per agent per month. Decide is called from
// parallel workers for different agents within the same timestep, never
// twice for the same agent in one timestep.
type Policy interface {
	Decide(ctx context.Context, obs Observation) (econ.Decision, error)

	// Defaulted reports how many decisions were substituted with the safe
	// default so far.
	Defaulted() int
}

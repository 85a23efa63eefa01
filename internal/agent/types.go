// Package agent provides the per-agent economic state and its deterministic
// transition rules.
package agent

// ConsumptionRule tags which closed-form consumption model a rule-driven
// agent follows. Chosen once at creation, immutable for the episode.
type ConsumptionRule uint8

const (
	// RulePriceElasticity lowers consumption as the goods price rises
	// relative to the agent's resources.
	RulePriceElasticity ConsumptionRule = iota
	// RuleHabitBuffer targets a wealth buffer relative to income growth.
	RuleHabitBuffer
)

// RuleParams are the per-agent parameters of the closed-form policy,
// fixed at creation alongside the rule variant.
type RuleParams struct {
	Consumption ConsumptionRule `json:"consumption_rule"`
	Beta        float64         `json:"beta"`  // price sensitivity (rule A)
	Gamma       float64         `json:"gamma"` // work propensity curvature
	Habit       float64         `json:"habit"` // buffer target in months of income (rule B)
}

// Profile is the immutable identity of one agent. Set once, never mutated.
type Profile struct {
	Name string     `json:"name"`
	Age  int        `json:"age"`
	City string     `json:"city"`
	Job  string     `json:"job"`
	Rule RuleParams `json:"rule"`
}

// Agent is one economic participant. Everything outside Profile is mutable
// state owned exclusively by the agent's own transition call.
type Agent struct {
	ID      int     `json:"id"`
	Profile Profile `json:"profile"`

	Skill            float64 `json:"skill"`             // productivity multiplier, positive
	Wealth           float64 `json:"wealth"`            // carries forward between months
	Income           float64 `json:"income"`            // most recent realized income
	LastIncome       float64 `json:"last_income"`       // income one period earlier
	ConsumptionFrac  float64 `json:"consumption_frac"`  // chosen fraction, [0,1]
	ConsumptionSpent float64 `json:"consumption_spent"` // currency spent this period
	Employed         bool    `json:"employed"`
	OfferedJob       string  `json:"offered_job,omitempty"` // shown while unemployed
}

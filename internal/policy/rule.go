package policy

import (
	"context"
	"math"
	"math/rand"

	"github.com/talgya/macrosim/internal/agent"
	"github.com/talgya/macrosim/internal/econ"
)

const epsilon = 1e-9

// RulePolicy is the deterministic closed-form variant. Each agent carries
// its own rule tag and parameters, fixed at creation; all randomness is
// derived from the episode seed, the agent, and the step, so identical
// seeds replay identical decision sequences regardless of worker order.
type RulePolicy struct {
	seed  int64
	grid  float64 // consumption fraction step size, e.g. 0.02
	rules map[int]agent.RuleParams
}

// NewRulePolicy builds the rule policy for a fixed population.
func NewRulePolicy(seed int64, grid float64, agents []*agent.Agent) *RulePolicy {
	rules := make(map[int]agent.RuleParams, len(agents))
	for _, a := range agents {
		rules[a.ID] = a.Profile.Rule
	}
	if grid <= 0 || grid > 1 {
		grid = 0.02
	}
	return &RulePolicy{seed: seed, grid: grid, rules: rules}
}

// Decide implements Policy.
func (p *RulePolicy) Decide(_ context.Context, obs Observation) (econ.Decision, error) {
	params := p.rules[obs.AgentID]
	rng := rand.New(rand.NewSource(decisionSeed(p.seed, obs.AgentID, obs.Step)))

	work := p.decideWork(rng, obs, params)

	var frac float64
	switch params.Consumption {
	case agent.RuleHabitBuffer:
		frac = p.habitBufferFraction(obs, params)
	default:
		frac = p.priceElasticityFraction(obs, params)
	}

	return econ.Decision{Work: work, ConsumptionFrac: frac}, nil
}

// Defaulted implements Policy. The rule policy never substitutes.
func (p *RulePolicy) Defaulted() int { return 0 }

// decideWork draws a Bernoulli with success probability rising as the
// agent's wealth buffer thins relative to income.
func (p *RulePolicy) decideWork(rng *rand.Rand, obs Observation, params agent.RuleParams) int {
	buffer := obs.Wealth*(1+obs.InterestRate) + epsilon
	prob := clamp01(math.Pow(obs.Income/buffer, params.Gamma))
	if rng.Float64() < prob {
		return 1
	}
	return 0
}

// priceElasticityFraction: consumption falls as the goods price rises
// relative to the agent's resources; beta controls the sensitivity.
// Beta is stored positive and applied as a negative elasticity.
func (p *RulePolicy) priceElasticityFraction(obs Observation, params agent.RuleParams) float64 {
	ratio := obs.Price / (epsilon + obs.Wealth + obs.Income)
	raw := math.Pow(ratio, -params.Beta)
	steps := math.Floor(raw / p.grid)
	if steps < 0 {
		steps = 0
	}
	if max := math.Floor(1 / p.grid); steps > max {
		steps = max
	}
	return clamp01(steps * p.grid)
}

// habitBufferFraction: spend down toward a wealth buffer of h months of
// income, tempered by realized income growth.
func (p *RulePolicy) habitBufferFraction(obs Observation, params agent.RuleParams) float64 {
	lastIncome := obs.LastIncome + epsilon
	g := obs.Income/lastIncome - 1
	target := params.Habit / (1 + obs.InterestRate)
	d := obs.Wealth/lastIncome - target
	c := 1 + (d-target*g)/(1+g+epsilon)
	return p.snap(clamp01(c))
}

// snap rounds a fraction down onto the decision grid.
func (p *RulePolicy) snap(frac float64) float64 {
	return clamp01(math.Floor(frac/p.grid) * p.grid)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// decisionSeed mixes episode seed, agent, and step into an independent
// stream per decision, so replays and resumed runs agree exactly.
func decisionSeed(seed int64, agentID, step int) int64 {
	x := uint64(seed) ^ 0x9E3779B97F4A7C15
	x ^= uint64(agentID+1) * 0xBF58476D1CE4E5B9
	x ^= uint64(step+1) * 0x94D049BB133111EB
	x ^= x >> 31
	x *= 0x9E3779B97F4A7C15
	x ^= x >> 29
	return int64(x >> 1)
}

// Package sim orchestrates the monthly macroeconomy timestep: observation
// assembly, decision collection, taxation and redistribution, agent state
// transitions, market updates, and dense logging. Timesteps are strictly
// sequential; within one timestep, only decision production runs in
// parallel, and all shared state is written once by this package after
// every decision has landed.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"github.com/talgya/macrosim/internal/agent"
	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/market"
	"github.com/talgya/macrosim/internal/policy"
	"github.com/talgya/macrosim/internal/tax"
)

// PlannerKey is the distinguished entry in every mapping for the passive
// tax-and-redistribution planner.
const PlannerKey = "p"

const epsilon = 1e-9

// Params fixes the episode mechanics.
type Params struct {
	EpisodeLength  int     // months per episode
	HoursPerPeriod float64 // labor hours in a working month
	BaseWageRate   float64 // currency per skill-hour at wage multiplier 1
	Productivity   float64 // goods units per skill-hour worked
	PeriodScale    float64 // periods per year (12 for months)
	WealthFloor    float64 // tolerated negative wealth from float error

	// Reward shaping: CRRA utility of real consumption minus a linear
	// labor disutility.
	CRRA            float64
	LaborDisutility float64

	// Market update cadence for the interest rate, in steps.
	RateUpdateEvery int

	Concurrency int // max parallel decision workers
}

// Simulation owns the full episode state. Not safe for concurrent use;
// the internal worker pool is the only parallelism.
type Simulation struct {
	params   Params
	agents   []*agent.Agent
	market   *market.State
	schedule *tax.Schedule
	pol      policy.Policy
	drift    *agent.SkillDrift
	offerRNG *rand.Rand

	log       DenseLog
	step      int
	done      bool
	defaulted int // decisions substituted by the orchestrator

	lastTotalTax float64
	lastLumpSum  float64
}

// New assembles a simulation. All construction errors are configuration
// errors; nothing is partially usable on failure.
func New(params Params, agents []*agent.Agent, mkt *market.State, schedule *tax.Schedule,
	pol policy.Policy, drift *agent.SkillDrift, seed int64) (*Simulation, error) {

	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: simulation requires at least one agent", econ.ErrConfiguration)
	}
	if params.EpisodeLength <= 0 {
		return nil, fmt.Errorf("%w: episode length must be positive, got %d", econ.ErrConfiguration, params.EpisodeLength)
	}
	if params.HoursPerPeriod <= 0 || params.BaseWageRate <= 0 || params.Productivity <= 0 {
		return nil, fmt.Errorf("%w: hours, base wage, and productivity must be positive", econ.ErrConfiguration)
	}
	if params.PeriodScale <= 0 {
		return nil, fmt.Errorf("%w: period scale must be positive", econ.ErrConfiguration)
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 1
	}
	if params.RateUpdateEvery <= 0 {
		params.RateUpdateEvery = 12
	}

	return &Simulation{
		params:   params,
		agents:   agents,
		market:   mkt,
		schedule: schedule,
		pol:      pol,
		drift:    drift,
		offerRNG: rand.New(rand.NewSource(seed + 500)),
	}, nil
}

// Reset initializes the episode and returns the first observation mapping.
// Agents start with their expected full-time income as last income, so
// closed-form rules have a meaningful baseline in month zero.
func (s *Simulation) Reset() (map[string]policy.Observation, error) {
	s.step = 0
	s.done = false
	s.defaulted = 0
	s.log = DenseLog{}

	for _, a := range s.agents {
		a.Income = a.Skill * s.market.Wage() * s.params.HoursPerPeriod * s.params.BaseWageRate
		a.LastIncome = a.Income
		a.Employed = true
	}
	return s.Observations(), nil
}

// Step advances one month given the full action mapping. Missing or
// out-of-range decisions are replaced by the safe default and counted;
// invariant violations abort the run.
func (s *Simulation) Step(actions map[string]econ.Decision) (
	map[string]policy.Observation, map[string]float64, map[string]bool, map[string]any, error) {

	if s.done {
		return nil, nil, nil, nil, fmt.Errorf("%w: episode already terminated at step %d", econ.ErrInvariant, s.step)
	}

	n := len(s.agents)
	decisions := make([]econ.Decision, n)
	incomes := make([]float64, n)
	taxes := make([]float64, n)

	// Validate decisions; the orchestrator owns the fallback.
	for i, a := range s.agents {
		dec, ok := actions[Key(a.ID)]
		if !ok {
			dec = econ.DefaultDecision()
			s.defaulted++
		} else if dec.Validate() != nil {
			dec = econ.DefaultDecision()
			s.defaulted++
		}
		decisions[i] = dec
	}

	// Income and central taxation over the full cross-section.
	totalTax := 0.0
	for i, a := range s.agents {
		income, err := a.IncomeFor(decisions[i], s.market.Wage(), s.params.HoursPerPeriod, s.params.BaseWageRate)
		if err != nil {
			return nil, nil, nil, nil, err // unreachable after validation
		}
		incomes[i] = income
		taxes[i] = s.schedule.PeriodTax(income)
		totalTax += taxes[i]
	}
	lumpSum, err := tax.Redistribute(totalTax, n)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	s.lastTotalTax = totalTax
	s.lastLumpSum = lumpSum

	// Apply transitions and aggregate the cross-section.
	rewards := make(map[string]float64, n+1)
	goodsSupplied := 0.0
	goodsDemanded := 0.0
	employed := 0
	price := s.market.Price()

	for i, a := range s.agents {
		in := agent.TransitionInput{
			Income:      incomes[i],
			Tax:         taxes[i],
			LumpSum:     lumpSum,
			SavingRate:  s.market.InterestRate(),
			PeriodScale: s.params.PeriodScale,
		}
		if err := a.Apply(decisions[i], in); err != nil {
			return nil, nil, nil, nil, err
		}
		if err := a.CheckInvariant(s.params.WealthFloor); err != nil {
			return nil, nil, nil, nil, err
		}

		if decisions[i].Work == 1 {
			employed++
			goodsSupplied += a.Skill * s.params.HoursPerPeriod * s.params.Productivity
		}
		goodsDemanded += a.ConsumptionSpent / math.Max(price, epsilon)

		rewards[Key(a.ID)] = s.reward(a, decisions[i])
	}
	rewards[PlannerKey] = 0

	// Market updates: exactly once per timestep, after all decisions.
	employmentRate := float64(employed) / float64(n)
	s.market.UpdatePrice(goodsDemanded, goodsSupplied)
	s.market.UpdateWage(employmentRate)
	if (s.step+1)%s.params.RateUpdateEvery == 0 {
		window := s.params.RateUpdateEvery
		s.market.UpdateInterest(s.market.PriceInflation(window), 1-employmentRate)
	}
	if err := s.market.CheckStepInvariant(); err != nil {
		return nil, nil, nil, nil, err
	}

	// Skill drift and job offers for next month.
	for _, a := range s.agents {
		a.Advance(s.drift, s.step)
		if !a.Employed {
			a.OfferedJob = agent.OfferJob(s.offerRNG, a)
		}
	}

	s.market.AdvanceStep()
	s.step++
	s.done = s.step >= s.params.EpisodeLength

	obs := s.Observations()
	terms := s.terminations()
	info := map[string]any{
		"step":            s.step,
		"price":           s.market.Price(),
		"wage":            s.market.Wage(),
		"interest_rate":   s.market.InterestRate(),
		"employment_rate": employmentRate,
		"total_tax":       totalTax,
		"lump_sum":        lumpSum,
		"defaulted":       s.Defaulted(),
	}

	actionsByKey := make(map[string]econ.Decision, n)
	for i, a := range s.agents {
		actionsByKey[Key(a.ID)] = decisions[i]
	}
	s.log.Append(StepRecord{
		Step:         s.step - 1,
		Observations: obs,
		Actions:      actionsByKey,
		Rewards:      rewards,
		Terminations: terms,
	})

	return obs, rewards, terms, info, nil
}

// reward is CRRA utility of real consumption less a linear labor cost.
func (s *Simulation) reward(a *agent.Agent, dec econ.Decision) float64 {
	real := a.ConsumptionSpent/math.Max(s.market.Price(), epsilon) + epsilon
	var u float64
	if s.params.CRRA == 1 {
		u = math.Log(real)
	} else {
		u = (math.Pow(real, 1-s.params.CRRA) - 1) / (1 - s.params.CRRA)
	}
	return u - s.params.LaborDisutility*float64(dec.Work)
}

// Observations builds the current observation mapping, including the
// distinguished planner entry.
func (s *Simulation) Observations() map[string]policy.Observation {
	out := make(map[string]policy.Observation, len(s.agents)+1)
	for _, a := range s.agents {
		out[Key(a.ID)] = s.observe(a)
	}
	out[PlannerKey] = s.plannerObservation()
	return out
}

func (s *Simulation) observe(a *agent.Agent) policy.Observation {
	return policy.Observation{
		AgentID:          a.ID,
		Step:             s.step,
		Name:             a.Profile.Name,
		Age:              a.Profile.Age,
		City:             a.Profile.City,
		Job:              a.Profile.Job,
		Employed:         a.Employed,
		OfferedJob:       a.OfferedJob,
		Wealth:           a.Wealth,
		Skill:            a.Skill,
		Income:           a.Income,
		LastIncome:       a.LastIncome,
		ConsumptionFrac:  a.ConsumptionFrac,
		ConsumptionSpent: a.ConsumptionSpent,
		HourlyWage:       s.market.Wage() * s.params.BaseWageRate,
		Price:            s.market.Price(),
		PriceInflation:   s.market.PriceInflation(3),
		WageInflation:    s.market.WageInflation(3),
		InterestRate:     s.market.InterestRate(),
		TaxBrackets:      s.schedule.Brackets(),
	}
}

// plannerObservation carries the aggregates a planning layer would read.
// The planner is passive in this core; the entry exists so the mappings
// stay complete.
func (s *Simulation) plannerObservation() policy.Observation {
	totalWealth := 0.0
	employed := 0
	for _, a := range s.agents {
		totalWealth += a.Wealth
		if a.Employed {
			employed++
		}
	}
	return policy.Observation{
		AgentID:      -1,
		Step:         s.step,
		Name:         "planner",
		Price:        s.market.Price(),
		InterestRate: s.market.InterestRate(),
		TaxBrackets:  s.schedule.Brackets(),
		Extra: map[string]float64{
			"total_wealth":    totalWealth,
			"employment_rate": float64(employed) / float64(len(s.agents)),
			"total_tax":       s.lastTotalTax,
			"lump_sum":        s.lastLumpSum,
			"wage_multiplier": s.market.Wage(),
		},
	}
}

func (s *Simulation) terminations() map[string]bool {
	out := make(map[string]bool, len(s.agents)+1)
	for _, a := range s.agents {
		out[Key(a.ID)] = s.done
	}
	out[PlannerKey] = s.done
	return out
}

// Key maps an agent ID to its mapping key.
func Key(agentID int) string { return strconv.Itoa(agentID) }

// Accessors for reporting and persistence.

func (s *Simulation) Agents() []*agent.Agent  { return s.agents }
func (s *Simulation) Market() *market.State   { return s.market }
func (s *Simulation) Log() *DenseLog          { return &s.log }
func (s *Simulation) CurrentStep() int        { return s.step }
func (s *Simulation) Done() bool              { return s.done }
func (s *Simulation) Params() Params          { return s.params }
func (s *Simulation) Schedule() *tax.Schedule { return s.schedule }

// Defaulted counts orchestrator substitutions plus policy-level ones.
func (s *Simulation) Defaulted() int {
	return s.defaulted + s.pol.Defaulted()
}

// RestoreStep rewinds the counters to resume from a checkpointed step.
func (s *Simulation) RestoreStep(step int) {
	s.step = step
	s.done = step >= s.params.EpisodeLength
}

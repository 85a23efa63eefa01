package agent

import (
	"fmt"

	"github.com/talgya/macrosim/internal/econ"
)

// TransitionInput carries everything a single agent's monthly update needs
// beyond its own decision. Tax and lump sum are computed centrally by the
// orchestrator from the full cross-section before any agent applies.
type TransitionInput struct {
	Income      float64 // this period's gross income, from IncomeFor
	Tax         float64 // tax owed on that income
	LumpSum     float64 // equal redistribution share
	SavingRate  float64 // annual interest rate on retained wealth
	PeriodScale float64 // periods per year, prorates the saving rate
}

// IncomeFor returns the gross income a decision would earn this period:
// hours at the prevailing wage, scaled by skill, or nothing if the agent
// chose leisure. Fails with econ.ErrInvalidDecision on out-of-range input;
// the orchestrator owns the fallback.
func (a *Agent) IncomeFor(dec econ.Decision, wageMultiplier, hoursPerPeriod, baseWageRate float64) (float64, error) {
	if err := dec.Validate(); err != nil {
		return 0, fmt.Errorf("agent %d: %w", a.ID, err)
	}
	return float64(dec.Work) * a.Skill * wageMultiplier * hoursPerPeriod * baseWageRate, nil
}

// Apply advances the agent one period under the decision.
//
// Accounting law: wealthNext + consumptionSpent*(1+r') =
// (wealth + netIncome + lumpSum)*(1+r') where r' is the prorated saving
// rate. Spending happens before interest accrues on the remainder.
func (a *Agent) Apply(dec econ.Decision, in TransitionInput) error {
	if err := dec.Validate(); err != nil {
		return fmt.Errorf("agent %d: %w", a.ID, err)
	}
	dec = dec.Clamp()

	netIncome := in.Income - in.Tax
	spendable := a.Wealth + netIncome + in.LumpSum
	spent := dec.ConsumptionFrac * spendable
	growth := 1 + in.SavingRate/in.PeriodScale

	a.LastIncome = a.Income
	a.Income = in.Income
	a.ConsumptionFrac = dec.ConsumptionFrac
	a.ConsumptionSpent = spent
	a.Wealth = (spendable - spent) * growth
	a.Employed = dec.Work == 1
	if a.Employed {
		a.OfferedJob = ""
	}
	return nil
}

// CheckInvariant verifies the agent's state is still inside its envelope.
// Small negative wealth from float error is tolerated up to floor.
func (a *Agent) CheckInvariant(floor float64) error {
	if a.Wealth < -floor {
		return fmt.Errorf("%w: agent %d wealth %g below floor", econ.ErrInvariant, a.ID, a.Wealth)
	}
	if a.Skill <= 0 {
		return fmt.Errorf("%w: agent %d skill %g not positive", econ.ErrInvariant, a.ID, a.Skill)
	}
	if a.ConsumptionFrac < 0 || a.ConsumptionFrac > 1 {
		return fmt.Errorf("%w: agent %d consumption fraction %g", econ.ErrInvariant, a.ID, a.ConsumptionFrac)
	}
	return nil
}

// Package tax implements the progressive-bracket tax engine and the flat
// redistribution mechanism.
package tax

import (
	"fmt"
	"math"

	"github.com/talgya/macrosim/internal/econ"
)

// Bracket is one rung of a progressive schedule: income above Lower (up to
// the next bracket's Lower) is taxed at Rate.
type Bracket struct {
	Lower float64 `json:"lower"`
	Rate  float64 `json:"rate"`
}

// Schedule is an ordered progressive tax table. Constructed once from
// configuration and never mutated mid-episode; policy experiments swap the
// whole schedule between episodes.
type Schedule struct {
	brackets []Bracket

	// Scale annualizes period income before the bracket walk and prorates
	// the tax back. Brackets are quoted per year; periods are months.
	scale float64
}

// NewSchedule validates and builds a schedule. The bracket list must start
// at lower bound 0, have strictly increasing bounds, and carry
// non-decreasing rates in [0, 1). Scale must be positive.
func NewSchedule(brackets []Bracket, scale float64) (*Schedule, error) {
	if len(brackets) == 0 {
		return nil, fmt.Errorf("%w: empty bracket schedule", econ.ErrConfiguration)
	}
	if brackets[0].Lower != 0 {
		return nil, fmt.Errorf("%w: first bracket must start at 0, got %g", econ.ErrConfiguration, brackets[0].Lower)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: period scale must be positive, got %g", econ.ErrConfiguration, scale)
	}
	for i, b := range brackets {
		if b.Rate < 0 || b.Rate >= 1 {
			return nil, fmt.Errorf("%w: bracket %d rate %g outside [0,1)", econ.ErrConfiguration, i, b.Rate)
		}
		if i == 0 {
			continue
		}
		if b.Lower <= brackets[i-1].Lower {
			return nil, fmt.Errorf("%w: bracket bounds must be strictly increasing (%g after %g)",
				econ.ErrConfiguration, b.Lower, brackets[i-1].Lower)
		}
		if b.Rate < brackets[i-1].Rate {
			return nil, fmt.Errorf("%w: bracket rates must be non-decreasing (%g after %g)",
				econ.ErrConfiguration, b.Rate, brackets[i-1].Rate)
		}
	}
	s := &Schedule{brackets: make([]Bracket, len(brackets)), scale: scale}
	copy(s.brackets, brackets)
	return s, nil
}

// Brackets returns a copy of the bracket table for observation building.
func (s *Schedule) Brackets() []Bracket {
	out := make([]Bracket, len(s.brackets))
	copy(out, s.brackets)
	return out
}

// Scale returns the annualization factor.
func (s *Schedule) Scale() float64 { return s.scale }

// ComputeTax returns the tax owed on one income under the schedule.
// Each bracket taxes the slice of income between its lower bound and the
// next bound; the top bracket is unbounded. Zero income owes zero;
// the result is monotone non-decreasing in income.
func ComputeTax(income float64, s *Schedule) float64 {
	if income <= 0 {
		return 0
	}
	tax := 0.0
	for i, b := range s.brackets {
		upper := math.Inf(1)
		if i+1 < len(s.brackets) {
			upper = s.brackets[i+1].Lower
		}
		taxed := math.Min(income, upper) - b.Lower
		if taxed <= 0 {
			continue
		}
		tax += taxed * b.Rate
	}
	return tax
}

// PeriodTax annualizes one period's income, taxes it, and prorates the
// tax back to the period.
func (s *Schedule) PeriodTax(periodIncome float64) float64 {
	return ComputeTax(periodIncome*s.scale, s) / s.scale
}

// Redistribute splits the period's total tax take into identical lump
// sums, one per agent, regardless of each agent's own contribution.
func Redistribute(totalTax float64, nAgents int) (float64, error) {
	if nAgents <= 0 {
		return 0, fmt.Errorf("%w: redistribution requires at least one agent, got %d", econ.ErrConfiguration, nAgents)
	}
	return totalTax / float64(nAgents), nil
}

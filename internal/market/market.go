// Package market tracks the shared price, wage, and interest-rate state.
// Price and wage move by capped signed steps driven by the aggregate
// cross-section of agent behavior; only the orchestrator calls the update
// methods, at most once per timestep each.
package market

import (
	"fmt"
	"math"

	"github.com/talgya/macrosim/internal/econ"
)

const epsilon = 1e-9

// Params fixes the update rule for one episode.
type Params struct {
	InitialPrice float64 // goods price at step 0
	InitialWage  float64 // wage multiplier at step 0
	InterestRate float64 // annual rate; starting value under the Taylor rule

	MaxPriceInflation float64 // cap on |price step| per timestep, (0,1)
	MaxWageInflation  float64 // cap on |wage step| per timestep, (0,1)

	PriceAdjustment  float64 // fraction of the excess-demand ratio applied per step
	WageAdjustment   float64 // fraction of the employment gap applied per step
	TargetEmployment float64 // employment rate at which the wage holds still

	// Taylor-rule coefficients; ignored unless RateRule is "taylor".
	RateRule        string  // "fixed" or "taylor"
	NaturalRate     float64 // r*
	TargetInflation float64 // pi*
	InflationCoeff  float64 // a_pi
	UnemploymentGap float64 // u*
	UnemployCoeff   float64 // a_u
}

// State is the singleton market, mutated only at end of timestep.
type State struct {
	params Params

	price float64
	wage  float64
	rate  float64
	step  int

	priceHist []float64
	wageHist  []float64
	rateHist  []float64
}

// New validates params and builds the market at step 0.
func New(p Params) (*State, error) {
	if p.InitialPrice <= 0 || p.InitialWage <= 0 {
		return nil, fmt.Errorf("%w: price and wage must start positive (price=%g wage=%g)",
			econ.ErrConfiguration, p.InitialPrice, p.InitialWage)
	}
	if p.MaxPriceInflation <= 0 || p.MaxPriceInflation >= 1 {
		return nil, fmt.Errorf("%w: max price inflation %g outside (0,1)", econ.ErrConfiguration, p.MaxPriceInflation)
	}
	if p.MaxWageInflation <= 0 || p.MaxWageInflation >= 1 {
		return nil, fmt.Errorf("%w: max wage inflation %g outside (0,1)", econ.ErrConfiguration, p.MaxWageInflation)
	}
	if p.RateRule != "fixed" && p.RateRule != "taylor" {
		return nil, fmt.Errorf("%w: unknown rate rule %q", econ.ErrConfiguration, p.RateRule)
	}
	return &State{
		params:    p,
		price:     p.InitialPrice,
		wage:      p.InitialWage,
		rate:      p.InterestRate,
		priceHist: []float64{p.InitialPrice},
		wageHist:  []float64{p.InitialWage},
		rateHist:  []float64{p.InterestRate},
	}, nil
}

// Restore rebuilds a market mid-episode from persisted histories.
func Restore(p Params, priceHist, wageHist, rateHist []float64, step int) (*State, error) {
	s, err := New(p)
	if err != nil {
		return nil, err
	}
	if len(priceHist) == 0 || len(wageHist) == 0 || len(rateHist) == 0 {
		return nil, fmt.Errorf("%w: empty market history", econ.ErrConfiguration)
	}
	s.priceHist = priceHist
	s.wageHist = wageHist
	s.rateHist = rateHist
	s.price = priceHist[len(priceHist)-1]
	s.wage = wageHist[len(wageHist)-1]
	s.rate = rateHist[len(rateHist)-1]
	s.step = step
	return s, nil
}

// Params returns the episode's update-rule parameters.
func (s *State) Params() Params { return s.params }

func (s *State) Price() float64        { return s.price }
func (s *State) Wage() float64         { return s.wage }
func (s *State) InterestRate() float64 { return s.rate }
func (s *State) Step() int             { return s.step }

// PriceHistory returns the full price path including the initial value.
func (s *State) PriceHistory() []float64 { return append([]float64(nil), s.priceHist...) }

// WageHistory returns the full wage path including the initial value.
func (s *State) WageHistory() []float64 { return append([]float64(nil), s.wageHist...) }

// RateHistory returns the interest-rate path.
func (s *State) RateHistory() []float64 { return append([]float64(nil), s.rateHist...) }

// PriceInflation returns the relative price change over the trailing window,
// annualized over that window, for observations and the Taylor rule.
func (s *State) PriceInflation(window int) float64 {
	return trailingChange(s.priceHist, window)
}

// WageInflation returns the relative wage change over the trailing window.
func (s *State) WageInflation(window int) float64 {
	return trailingChange(s.wageHist, window)
}

func trailingChange(hist []float64, window int) float64 {
	if len(hist) < 2 {
		return 0
	}
	if window >= len(hist) {
		window = len(hist) - 1
	}
	old := hist[len(hist)-1-window]
	if old <= epsilon {
		return 0
	}
	return hist[len(hist)-1]/old - 1
}

// UpdatePrice moves the price one capped step in the direction of excess
// demand. The step magnitude is the configured fraction of the excess-demand
// ratio, clamped to ±MaxPriceInflation.
func (s *State) UpdatePrice(aggregateDemand, aggregateSupply float64) float64 {
	imbalance := (aggregateDemand - aggregateSupply) / math.Max(aggregateSupply, epsilon)
	step := clampStep(s.params.PriceAdjustment*imbalance, s.params.MaxPriceInflation)
	s.price *= 1 + step
	s.priceHist = append(s.priceHist, s.price)
	return s.price
}

// UpdateWage moves the wage multiplier one capped step. Labor scarcer than
// the target employment rate bids the wage up; abundance bids it down.
func (s *State) UpdateWage(employmentRate float64) float64 {
	gap := (s.params.TargetEmployment - employmentRate) / math.Max(s.params.TargetEmployment, epsilon)
	step := clampStep(s.params.WageAdjustment*gap, s.params.MaxWageInflation)
	s.wage *= 1 + step
	s.wageHist = append(s.wageHist, s.wage)
	return s.wage
}

// UpdateInterest recomputes the annual rate. Under "fixed" the rate never
// moves. Under "taylor" it follows
//
//	r = max(0, r* + pi + a_pi*(pi - pi*) + a_u*(u* - u))
//
// from trailing annual price inflation and the current unemployment rate.
func (s *State) UpdateInterest(annualInflation, unemploymentRate float64) float64 {
	if s.params.RateRule == "taylor" {
		p := s.params
		r := p.NaturalRate + annualInflation +
			p.InflationCoeff*(annualInflation-p.TargetInflation) +
			p.UnemployCoeff*(p.UnemploymentGap-unemploymentRate)
		s.rate = math.Max(0, r)
	}
	s.rateHist = append(s.rateHist, s.rate)
	return s.rate
}

// AdvanceStep increments the timestep counter after all updates landed.
func (s *State) AdvanceStep() { s.step++ }

// CheckStepInvariant verifies the last price and wage steps stayed inside
// their caps. A violation is a core bug, not recoverable.
func (s *State) CheckStepInvariant() error {
	if err := checkCap(s.priceHist, s.params.MaxPriceInflation, "price"); err != nil {
		return err
	}
	return checkCap(s.wageHist, s.params.MaxWageInflation, "wage")
}

func checkCap(hist []float64, cap float64, name string) error {
	if len(hist) < 2 {
		return nil
	}
	prev := hist[len(hist)-2]
	cur := hist[len(hist)-1]
	if math.Abs(cur-prev) > cap*prev*(1+epsilon) {
		return fmt.Errorf("%w: %s step %g -> %g exceeds cap %g", econ.ErrInvariant, name, prev, cur, cap)
	}
	return nil
}

func clampStep(step, cap float64) float64 {
	if step > cap {
		return cap
	}
	if step < -cap {
		return -cap
	}
	return step
}

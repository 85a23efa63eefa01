package agent

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/econ"
)

func TestIncomeFor_WorkAndLeisure(t *testing.T) {
	a := &Agent{ID: 1, Skill: 2.0}

	income, err := a.IncomeFor(econ.Decision{Work: 1, ConsumptionFrac: 0.5}, 1.1, 168, 7.25)
	require.NoError(t, err)
	assert.InDelta(t, 2.0*1.1*168*7.25, income, 1e-9)

	income, err = a.IncomeFor(econ.Decision{Work: 0, ConsumptionFrac: 0.5}, 1.1, 168, 7.25)
	require.NoError(t, err)
	assert.Zero(t, income)
}

func TestIncomeFor_RejectsOutOfRangeDecision(t *testing.T) {
	a := &Agent{ID: 1, Skill: 1}
	for _, dec := range []econ.Decision{
		{Work: 2, ConsumptionFrac: 0.5},
		{Work: -1, ConsumptionFrac: 0.5},
		{Work: 1, ConsumptionFrac: 1.5},
		{Work: 1, ConsumptionFrac: -0.1},
	} {
		_, err := a.IncomeFor(dec, 1, 168, 7.25)
		assert.ErrorIs(t, err, econ.ErrInvalidDecision, "decision %+v", dec)
	}
}

func TestApply_AccountingLaw(t *testing.T) {
	a := &Agent{ID: 3, Skill: 1, Wealth: 500, Income: 900}
	in := TransitionInput{
		Income:      1000,
		Tax:         150,
		LumpSum:     40,
		SavingRate:  0.03,
		PeriodScale: 12,
	}
	dec := econ.Decision{Work: 1, ConsumptionFrac: 0.4}
	require.NoError(t, a.Apply(dec, in))

	spendable := 500.0 + (1000 - 150) + 40
	growth := 1 + 0.03/12

	assert.InDelta(t, 0.4*spendable, a.ConsumptionSpent, 1e-9)
	// wealthNext + spent*growth == spendable*growth
	assert.InDelta(t, spendable*growth, a.Wealth+a.ConsumptionSpent*growth, 1e-9)
	assert.InDelta(t, 1000, a.Income, 1e-12)
	assert.InDelta(t, 900, a.LastIncome, 1e-12)
	assert.True(t, a.Employed)
}

func TestApply_ConsumptionNeverExceedsSpendable(t *testing.T) {
	a := &Agent{ID: 4, Skill: 1, Wealth: 100}
	in := TransitionInput{Income: 50, Tax: 10, LumpSum: 5, SavingRate: 0, PeriodScale: 12}
	require.NoError(t, a.Apply(econ.Decision{Work: 1, ConsumptionFrac: 1.0}, in))

	assert.InDelta(t, 145.0, a.ConsumptionSpent, 1e-9)
	assert.InDelta(t, 0.0, a.Wealth, 1e-9)
}

func TestApply_LeisureClearsOffer(t *testing.T) {
	a := &Agent{ID: 5, Skill: 1, Wealth: 10, OfferedJob: "machinist"}
	in := TransitionInput{SavingRate: 0, PeriodScale: 12}

	require.NoError(t, a.Apply(econ.Decision{Work: 0, ConsumptionFrac: 0.2}, in))
	assert.False(t, a.Employed)
	assert.Equal(t, "machinist", a.OfferedJob, "offer stands while unemployed")

	require.NoError(t, a.Apply(econ.Decision{Work: 1, ConsumptionFrac: 0.2}, in))
	assert.True(t, a.Employed)
	assert.Empty(t, a.OfferedJob)
}

func TestCheckInvariant(t *testing.T) {
	a := &Agent{ID: 6, Skill: 1, Wealth: -1e-9, ConsumptionFrac: 0.5}
	assert.NoError(t, a.CheckInvariant(1e-6))

	a.Wealth = -10
	assert.ErrorIs(t, a.CheckInvariant(1e-6), econ.ErrInvariant)

	a.Wealth = 10
	a.Skill = 0
	assert.ErrorIs(t, a.CheckInvariant(1e-6), econ.ErrInvariant)
}

func TestSkillDrift_BoundedAndDeterministic(t *testing.T) {
	d1 := NewSkillDrift(42, 0.02, 0.1, true)
	d2 := NewSkillDrift(42, 0.02, 0.1, true)

	for step := 0; step < 240; step++ {
		for id := 0; id < 10; id++ {
			drift := d1.Drift(id, step)
			assert.LessOrEqual(t, math.Abs(drift), 0.02)
			assert.Equal(t, drift, d2.Drift(id, step))
		}
	}
}

func TestSkillDrift_DisabledIsZero(t *testing.T) {
	d := NewSkillDrift(42, 0.02, 0.1, false)
	a := &Agent{ID: 1, Skill: 1.5}
	a.Advance(d, 10)
	assert.InDelta(t, 1.5, a.Skill, 1e-12)
}

func TestNewPopulation_DeterministicFromSeed(t *testing.T) {
	cfg := PopulationConfig{
		Size: 20, Seed: 7, InitialWealth: 100, SkillSigma: 0.5,
		BetaMin: 0.5, BetaMax: 2, GammaMin: 0.5, GammaMax: 2, HabitMonths: 2,
	}
	a, err := NewPopulation(cfg)
	require.NoError(t, err)
	b, err := NewPopulation(cfg)
	require.NoError(t, err)

	require.Len(t, a, 20)
	for i := range a {
		assert.Equal(t, *a[i], *b[i])
		assert.Positive(t, a[i].Skill)
		assert.GreaterOrEqual(t, a[i].Profile.Age, 18)
		assert.GreaterOrEqual(t, a[i].Profile.Rule.Beta, 0.5)
		assert.LessOrEqual(t, a[i].Profile.Rule.Gamma, 2.0)
	}
}

func TestNewPopulation_RejectsEmpty(t *testing.T) {
	_, err := NewPopulation(PopulationConfig{Size: 0})
	assert.ErrorIs(t, err, econ.ErrConfiguration)
}

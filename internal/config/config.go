// Package config loads and validates the episode configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/talgya/macrosim/internal/agent"
	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/market"
	"github.com/talgya/macrosim/internal/sim"
	"github.com/talgya/macrosim/internal/tax"
)

// Config is the full episode configuration, loaded once before the run.
type Config struct {
	Population    int    `json:"population" validate:"gt=0"`
	EpisodeLength int    `json:"episodeLength" validate:"gt=0"`
	Seed          int64  `json:"seed"`
	Policy        string `json:"policy" validate:"oneof=rule generative"`
	Concurrency   int    `json:"concurrency" validate:"gte=1"`

	// Labor market.
	HoursPerPeriod float64 `json:"hoursPerPeriod" validate:"gt=0"`
	BaseWageRate   float64 `json:"baseWageRate" validate:"gt=0"`
	Productivity   float64 `json:"productivity" validate:"gt=0"`

	// Initial population.
	InitialWealth float64 `json:"initialWealth" validate:"gte=0"`
	SkillSigma    float64 `json:"skillSigma" validate:"gte=0"`

	// Skill drift.
	SkillDriftEnabled   bool    `json:"skillDriftEnabled"`
	SkillDriftAmplitude float64 `json:"skillDriftAmplitude" validate:"gte=0,lt=1"`
	SkillDriftFrequency float64 `json:"skillDriftFrequency" validate:"gte=0"`

	// Taxation.
	TaxBrackets []tax.Bracket `json:"taxBrackets"`
	PeriodScale float64       `json:"periodScale" validate:"gt=0"`

	// Market.
	InitialPrice      float64 `json:"initialPrice" validate:"gt=0"`
	InitialWage       float64 `json:"initialWage" validate:"gt=0"`
	InterestRate      float64 `json:"interestRate" validate:"gte=0"`
	MaxPriceInflation float64 `json:"maxPriceInflation" validate:"gt=0,lt=1"`
	MaxWageInflation  float64 `json:"maxWageInflation" validate:"gt=0,lt=1"`
	PriceAdjustment   float64 `json:"priceAdjustment" validate:"gt=0"`
	WageAdjustment    float64 `json:"wageAdjustment" validate:"gt=0"`
	TargetEmployment  float64 `json:"targetEmployment" validate:"gt=0,lte=1"`
	RateRule          string  `json:"rateRule" validate:"oneof=fixed taylor"`
	NaturalRate       float64 `json:"naturalRate"`
	TargetInflation   float64 `json:"targetInflation"`
	InflationCoeff    float64 `json:"inflationCoeff"`
	UnemploymentGap   float64 `json:"unemploymentGap"`
	UnemployCoeff     float64 `json:"unemployCoeff"`

	// Closed-form policy parameter draws.
	ConsumptionGrid float64 `json:"consumptionGrid" validate:"gt=0,lte=1"`
	BetaMin         float64 `json:"betaMin" validate:"gt=0"`
	BetaMax         float64 `json:"betaMax" validate:"gt=0"`
	GammaMin        float64 `json:"gammaMin" validate:"gt=0"`
	GammaMax        float64 `json:"gammaMax" validate:"gt=0"`
	HabitMonths     float64 `json:"habitMonths" validate:"gt=0"`

	// Reward shaping.
	CRRA            float64 `json:"crra" validate:"gt=0"`
	LaborDisutility float64 `json:"laborDisutility" validate:"gte=0"`

	WealthFloor     float64 `json:"wealthFloor" validate:"gte=0"`
	CheckpointEvery int     `json:"checkpointEvery" validate:"gte=1"`

	// Generative backend.
	Model            string  `json:"model"`
	BaseURL          string  `json:"baseURL"`
	MaxTokens        int     `json:"maxTokens" validate:"gte=1"`
	MaxAttempts      int     `json:"maxAttempts" validate:"gte=1"`
	BackoffMillis    int     `json:"backoffMillis" validate:"gte=0"`
	InputPricePer1K  float64 `json:"inputPricePer1K" validate:"gte=0"`
	OutputPricePer1K float64 `json:"outputPricePer1K" validate:"gte=0"`
}

// Default returns the baseline configuration: 100 agents, 20 simulated
// years, annualized 2018-style brackets, rule policy.
func Default() Config {
	return Config{
		Population:    100,
		EpisodeLength: 240,
		Seed:          42,
		Policy:        "rule",
		Concurrency:   8,

		HoursPerPeriod: 168,
		BaseWageRate:   7.25,
		Productivity:   1,

		InitialWealth: 1000,
		SkillSigma:    0.5,

		SkillDriftEnabled:   true,
		SkillDriftAmplitude: 0.02,
		SkillDriftFrequency: 0.1,

		TaxBrackets: []tax.Bracket{
			{Lower: 0, Rate: 0.10},
			{Lower: 9700, Rate: 0.12},
			{Lower: 39475, Rate: 0.22},
			{Lower: 84200, Rate: 0.24},
			{Lower: 160725, Rate: 0.32},
			{Lower: 204100, Rate: 0.35},
			{Lower: 510300, Rate: 0.37},
		},
		PeriodScale: 12,

		InitialPrice:      100,
		InitialWage:       1,
		InterestRate:      0.03,
		MaxPriceInflation: 0.10,
		MaxWageInflation:  0.05,
		PriceAdjustment:   0.2,
		WageAdjustment:    0.1,
		TargetEmployment:  0.96,
		RateRule:          "fixed",
		NaturalRate:       0.01,
		TargetInflation:   0.02,
		InflationCoeff:    0.5,
		UnemploymentGap:   0.04,
		UnemployCoeff:     0.5,

		ConsumptionGrid: 0.02,
		BetaMin:         0.8,
		BetaMax:         1.5,
		GammaMin:        0.8,
		GammaMax:        1.5,
		HabitMonths:     2,

		CRRA:            1,
		LaborDisutility: 0.1,

		WealthFloor:     1e-6,
		CheckpointEvery: 12,

		Model:            "gpt-4o-mini",
		MaxTokens:        64,
		MaxAttempts:      3,
		BackoffMillis:    2000,
		InputPricePer1K:  0.00015,
		OutputPricePer1K: 0.0006,
	}
}

// Load reads a JSON config file over the defaults and validates the result.
// An empty path yields validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse config: %v", econ.ErrConfiguration, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field consistency.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", econ.ErrConfiguration, err)
	}
	if c.BetaMax < c.BetaMin || c.GammaMax < c.GammaMin {
		return fmt.Errorf("%w: parameter draw bounds inverted", econ.ErrConfiguration)
	}
	// The schedule constructor owns bracket-shape validation.
	if _, err := tax.NewSchedule(c.TaxBrackets, c.PeriodScale); err != nil {
		return err
	}
	return nil
}

// Schedule builds the immutable tax schedule.
func (c Config) Schedule() (*tax.Schedule, error) {
	return tax.NewSchedule(c.TaxBrackets, c.PeriodScale)
}

// MarketParams builds the market update-rule parameters.
func (c Config) MarketParams() market.Params {
	return market.Params{
		InitialPrice:      c.InitialPrice,
		InitialWage:       c.InitialWage,
		InterestRate:      c.InterestRate,
		MaxPriceInflation: c.MaxPriceInflation,
		MaxWageInflation:  c.MaxWageInflation,
		PriceAdjustment:   c.PriceAdjustment,
		WageAdjustment:    c.WageAdjustment,
		TargetEmployment:  c.TargetEmployment,
		RateRule:          c.RateRule,
		NaturalRate:       c.NaturalRate,
		TargetInflation:   c.TargetInflation,
		InflationCoeff:    c.InflationCoeff,
		UnemploymentGap:   c.UnemploymentGap,
		UnemployCoeff:     c.UnemployCoeff,
	}
}

// SimParams builds the orchestrator parameters.
func (c Config) SimParams() sim.Params {
	return sim.Params{
		EpisodeLength:   c.EpisodeLength,
		HoursPerPeriod:  c.HoursPerPeriod,
		BaseWageRate:    c.BaseWageRate,
		Productivity:    c.Productivity,
		PeriodScale:     c.PeriodScale,
		WealthFloor:     c.WealthFloor,
		CRRA:            c.CRRA,
		LaborDisutility: c.LaborDisutility,
		RateUpdateEvery: int(c.PeriodScale),
		Concurrency:     c.Concurrency,
	}
}

// PopulationConfig builds the initial population sampler settings.
func (c Config) PopulationConfig() agent.PopulationConfig {
	return agent.PopulationConfig{
		Size:          c.Population,
		Seed:          c.Seed,
		InitialWealth: c.InitialWealth,
		SkillSigma:    c.SkillSigma,
		BetaMin:       c.BetaMin,
		BetaMax:       c.BetaMax,
		GammaMin:      c.GammaMin,
		GammaMax:      c.GammaMax,
		HabitMonths:   c.HabitMonths,
	}
}

// Backoff returns the fixed retry backoff as a duration.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

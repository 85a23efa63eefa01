// Population construction: samples immutable identities and starting
// economic state from the episode seed.
package agent

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/talgya/macrosim/internal/econ"
)

var firstNames = []string{
	"Ava", "Noah", "Mia", "Liam", "Zoe", "Ethan", "Ruth", "Omar", "Ines", "Jonas",
	"Tara", "Felix", "Nora", "Dmitri", "Lucia", "Marcus", "Priya", "Owen", "Elif", "Hugo",
	"Sana", "Viktor", "Clara", "Ralph", "Yuki", "Andre", "Leila", "Tomas", "Greta", "Ivan",
}

var lastNames = []string{
	"Reyes", "Okafor", "Lindqvist", "Moreau", "Tanaka", "Novak", "Silva", "Haddad",
	"Kovacs", "Brennan", "Ortiz", "Fischer", "Adeyemi", "Petrov", "Walsh", "Castillo",
	"Berg", "Nakamura", "Iversen", "Duarte",
}

var cities = []string{
	"Springfield", "Riverton", "Lakeside", "Fairview", "Milbrook",
	"Eastport", "Crestwood", "Harborview", "Stonebridge", "Maple Falls",
}

var jobs = []string{
	"line cook", "electrician", "warehouse clerk", "nurse", "software developer",
	"teacher", "delivery driver", "accountant", "machinist", "retail associate",
	"carpenter", "lab technician", "paralegal", "bus driver", "graphic designer",
}

// PopulationConfig controls initial population sampling.
type PopulationConfig struct {
	Size          int
	Seed          int64
	InitialWealth float64
	SkillSigma    float64 // lognormal spread of initial skill around 1.0

	// Closed-form policy parameter draws.
	BetaMin, BetaMax   float64
	GammaMin, GammaMax float64
	HabitMonths        float64
}

// NewPopulation samples the initial population. Identities, rule variants,
// and rule parameters are fixed here and never mutated afterwards.
func NewPopulation(cfg PopulationConfig) ([]*Agent, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: population size must be positive, got %d", econ.ErrConfiguration, cfg.Size)
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 300))

	out := make([]*Agent, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		rule := RulePriceElasticity
		if rng.Float64() < 0.5 {
			rule = RuleHabitBuffer
		}
		p := Profile{
			Name: firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))],
			Age:  18 + rng.Intn(48),
			City: cities[rng.Intn(len(cities))],
			Job:  jobs[rng.Intn(len(jobs))],
			Rule: RuleParams{
				Consumption: rule,
				Beta:        cfg.BetaMin + rng.Float64()*(cfg.BetaMax-cfg.BetaMin),
				Gamma:       cfg.GammaMin + rng.Float64()*(cfg.GammaMax-cfg.GammaMin),
				Habit:       cfg.HabitMonths,
			},
		}
		out = append(out, &Agent{
			ID:      i,
			Profile: p,
			Skill:   math.Exp(rng.NormFloat64() * cfg.SkillSigma),
			Wealth:  cfg.InitialWealth,
		})
	}
	return out, nil
}

// OfferJob draws a job offer string for an unemployed agent. The offer
// leans toward the agent's own trade but sometimes crosses fields.
func OfferJob(rng *rand.Rand, a *Agent) string {
	if rng.Float64() < 0.6 {
		return a.Profile.Job
	}
	return jobs[rng.Intn(len(jobs))]
}

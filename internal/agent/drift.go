package agent

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// agentSpacing separates agents far enough on the noise surface that their
// drift paths are uncorrelated.
const agentSpacing = 7.31

// SkillDrift produces each agent's per-period skill drift as a smooth
// bounded walk over a noise surface: deterministic from the episode seed,
// bounded by the amplitude by construction.
type SkillDrift struct {
	noise     opensimplex.Noise
	amplitude float64
	frequency float64
	enabled   bool
}

// NewSkillDrift builds the drift source. Amplitude is the maximum absolute
// relative change per period; zero amplitude or enabled=false freezes skill.
func NewSkillDrift(seed int64, amplitude, frequency float64, enabled bool) *SkillDrift {
	return &SkillDrift{
		noise:     opensimplex.NewNormalized(seed),
		amplitude: amplitude,
		frequency: frequency,
		enabled:   enabled && amplitude > 0,
	}
}

// Drift returns the relative skill change for one agent at one step,
// in [-amplitude, +amplitude].
func (d *SkillDrift) Drift(agentID, step int) float64 {
	if !d.enabled {
		return 0
	}
	// NewNormalized yields [0,1); recenter to [-1,1).
	n := d.noise.Eval2(float64(agentID)*agentSpacing, float64(step)*d.frequency)
	return d.amplitude * (2*n - 1)
}

// Advance applies one period of drift to the agent's skill.
func (a *Agent) Advance(d *SkillDrift, step int) {
	a.Skill *= 1 + d.Drift(a.ID, step)
}

package agentrt

import "math/rand"

// ResponseProbability implements SPEC_FULL.md §12's supplemented formula for
// whether a human agent acts this tick: extraversion raises the odds
// monotonically, and high neuroticism lowers them, but only in proportion
// to how stressed the agent already is.
func ResponseProbability(extraversion, neuroticism float64, stress int) float64 {
	stressFactor := float64(stress) / 10.0
	p := 0.15 + 0.5*extraversion - 0.3*neuroticism*stressFactor
	if p < 0.05 {
		return 0.05
	}
	if p > 0.95 {
		return 0.95
	}
	return p
}

// ShouldAct draws a uniform sample from rng and reports whether the agent
// acts this tick (true) or skips it (false). A skipped tick produces no
// actions or message, per §4.6.
func ShouldAct(rng *rand.Rand, extraversion, neuroticism float64, stress int) bool {
	p := ResponseProbability(extraversion, neuroticism, stress)
	return rng.Float64() <= p
}

package personality

import (
	"math"
	"sort"
	"time"
)

// dominantTraitCount is how many top traits a profile names.
const dominantTraitCount = 3

// Profile is the computed personality snapshot served to the orchestrator
// and cached per user.
type Profile struct {
	UserID string `json:"user_id"`

	// ActiveValues maps trait name to its current active value.
	ActiveValues map[string]float64 `json:"active_values"`

	// Dominant lists the strongest traits, strongest first.
	Dominant []string `json:"dominant"`

	Metrics Metrics `json:"metrics"`

	// Protections lists the identity protections that fired while computing
	// the profile.
	Protections []Protection `json:"protections,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// Metrics are aggregate descriptors of a trait distribution.
type Metrics struct {
	// Stability is 1 minus the normalised standard deviation: 1 means all
	// traits sit at the same level.
	Stability float64 `json:"stability"`

	// Dominance is the gap between the mean of the top three traits and the
	// mean of the rest.
	Dominance float64 `json:"dominance"`

	// Balance is the normalised Shannon entropy of the distribution: 1
	// means perfectly even.
	Balance float64 `json:"balance"`
}

// ComputeProfile builds the snapshot for state.
func (e *Engine) ComputeProfile(state *UserState) Profile {
	values, protections := e.ActiveValues(state)
	return Profile{
		UserID:       state.UserID,
		ActiveValues: values,
		Dominant:     dominantTraits(values, dominantTraitCount),
		Metrics:      computeMetrics(values),
		Protections:  protections,
		ComputedAt:   e.now(),
	}
}

func dominantTraits(values map[string]float64, n int) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if values[names[i]] != values[names[j]] {
			return values[names[i]] > values[names[j]]
		}
		return names[i] < names[j]
	})
	if n > len(names) {
		n = len(names)
	}
	return names[:n]
}

func computeMetrics(values map[string]float64) Metrics {
	n := len(values)
	if n == 0 {
		return Metrics{}
	}

	var sum float64
	sorted := make([]float64, 0, n)
	for _, v := range values {
		sum += v
		sorted = append(sorted, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	mean := sum / float64(n)

	var variance float64
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	// Stddev of values in [0,1] is at most 0.5.
	stability := clamp(1-math.Sqrt(variance)/0.5, 0, 1)

	var dominance float64
	if n > dominantTraitCount {
		var topSum, restSum float64
		for i, v := range sorted {
			if i < dominantTraitCount {
				topSum += v
			} else {
				restSum += v
			}
		}
		dominance = clamp(topSum/dominantTraitCount-restSum/float64(n-dominantTraitCount), 0, 1)
	}

	var balance float64
	if sum > 0 && n > 1 {
		var entropy float64
		for _, v := range sorted {
			if p := v / sum; p > 0 {
				entropy -= p * math.Log(p)
			}
		}
		balance = clamp(entropy/math.Log(float64(n)), 0, 1)
	}

	return Metrics{Stability: stability, Dominance: dominance, Balance: balance}
}

package analysis

import (
	"math"
	"sort"
	"strings"

	"github.com/MrWong99/solace/internal/stm"
)

// DetectionThreshold is the minimum strength for a trait expression to be
// reported at all.
const DetectionThreshold = 0.3

// Detection is one observed trait expression in the bot's own messages.
type Detection struct {
	Trait    string
	Strength float64

	// Mode is the generation mode the window ran under, carried through so
	// manifestations can be correlated with it later.
	Mode string
}

// traitProfile describes how one personality trait shows up in text.
type traitProfile struct {
	markers []string

	// modeAffinity scales the raw signal per generation mode; a trait that
	// the mode actively elicits counts for less as evidence of the trait
	// itself. Missing modes default to 1.
	modeAffinity map[string]float64

	// emotionAffinity names user emotions that make this trait's expression
	// expected rather than notable.
	emotionAffinity []string
}

var traitProfiles = map[string]traitProfile{
	"empathy": {
		markers: []string{
			"understand", "hear you", "that sounds", "must be", "with you",
			"makes sense", "valid", "natural to",
		},
		modeAffinity:    map[string]float64{"talk": 0.8},
		emotionAffinity: []string{"sadness", "grief", "fear", "nervousness"},
	},
	"curiosity": {
		markers: []string{
			"tell me more", "curious", "wonder", "what about", "how did",
			"why do", "interesting", "what was",
		},
		modeAffinity: map[string]float64{"expert": 0.9},
	},
	"warmth": {
		markers: []string{
			"glad", "happy for", "wonderful", "lovely", "care", "here for",
			"proud of",
		},
		emotionAffinity: []string{"joy", "gratitude", "love"},
	},
	"playfulness": {
		markers: []string{
			"haha", "fun", "let's play", "bet", "race you", "silly", "wink",
		},
		modeAffinity: map[string]float64{"creative": 0.8, "expert": 1.2},
	},
	"assertiveness": {
		markers: []string{
			"i think", "i'd suggest", "my view", "disagree", "honestly",
			"to be direct",
		},
	},
	"reflectiveness": {
		markers: []string{
			"thinking about", "on reflection", "looking back", "notice that",
			"pattern", "reminds me",
		},
	},
	"humor": {
		markers: []string{
			"joke", "pun", "ironic", "funny enough", "classic", "touché",
		},
		modeAffinity: map[string]float64{"creative": 0.8},
	},
	"patience": {
		markers: []string{
			"take your time", "no rush", "whenever you", "step by step",
			"one thing at a time",
		},
	},
}

// DetectTraits scans the bot's messages in rows for trait expressions.
// mode is the generation mode the window ran under; dominantEmotions are the
// user's recent dominant emotion labels. Results are sorted by descending
// strength; only detections at or above [DetectionThreshold] are returned.
func DetectTraits(rows []stm.Row, mode string, dominantEmotions []string) []Detection {
	var corpus []string
	for _, row := range rows {
		if row.Kind == stm.KindBot {
			corpus = append(corpus, strings.ToLower(row.Content))
		}
	}
	if len(corpus) == 0 {
		return nil
	}

	emotions := make(map[string]struct{}, len(dominantEmotions))
	for _, e := range dominantEmotions {
		emotions[e] = struct{}{}
	}

	var out []Detection
	for trait, profile := range traitProfiles {
		hits := 0
		for _, text := range corpus {
			for _, marker := range profile.markers {
				hits += strings.Count(text, marker)
			}
		}
		if hits == 0 {
			continue
		}

		// Logarithmic in marker count: repetition is weaker evidence than
		// first occurrence.
		strength := math.Log1p(float64(hits)) / math.Log1p(8)

		if affinity, ok := profile.modeAffinity[mode]; ok {
			strength *= affinity
		}
		for _, e := range profile.emotionAffinity {
			if _, ok := emotions[e]; ok {
				// The context called for this trait; discount it once.
				strength *= 0.85
				break
			}
		}

		strength = clamp01(strength)
		if strength < DetectionThreshold {
			continue
		}
		out = append(out, Detection{Trait: trait, Strength: strength, Mode: mode})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].Trait < out[j].Trait
	})
	return out
}

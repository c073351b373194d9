// Package mode classifies what kind of response a user message calls for.
// Three candidate modes compete on tiered text patterns; a partner-model
// recommendation with enough confidence overrides the text scoring, and a
// stable recent history raises the bar for switching away.
package mode

import (
	"math"
	"strings"
	"unicode"

	"github.com/MrWong99/solace/internal/config"
)

// Mode is a generation mode.
type Mode string

const (
	// ModeTalk is empathetic free conversation.
	ModeTalk Mode = "talk"

	// ModeExpert is factual, structured answering.
	ModeExpert Mode = "expert"

	// ModeCreative is storytelling and invention.
	ModeCreative Mode = "creative"

	// ModeBase is the neutral default when nothing scores high enough.
	ModeBase Mode = "base"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeTalk, ModeExpert, ModeCreative, ModeBase:
		return true
	}
	return false
}

// candidates are the modes that compete on text patterns. ModeBase never
// competes; it is the floor.
var candidates = []Mode{ModeTalk, ModeExpert, ModeCreative}

// Pattern tier weights.
const (
	exactPhraseWeight = 3.0
	contextualWeight  = 1.0
	domainWeight      = 1.0

	// enhancerFactor and suppressorFactor scale contextual hits when the
	// message carries the mode's enhancer or suppressor words.
	enhancerFactor   = 1.5
	suppressorFactor = 0.5

	// questionBoost is added to the expert score for interrogative messages.
	questionBoost = 0.8

	// fallbackConfidence is the confidence assigned when no tier scores and
	// the message reads as plain conversation.
	fallbackConfidence = 0.5

	// historyWindow is how many recent modes must agree to count as stable.
	historyWindow = 3
)

// Input is one detection request.
type Input struct {
	// Text is the user message.
	Text string

	// History holds recently detected modes, oldest first.
	History []Mode

	// PartnerMode and PartnerConfidence carry the partner model's
	// recommendation, when one exists.
	PartnerMode       Mode
	PartnerConfidence float64
}

// Result is one completed detection.
type Result struct {
	Mode       Mode
	Confidence float64

	// Source names what decided the mode: "partner", "patterns",
	// "fallback" or "base".
	Source string
}

// Detector scores messages against the mode vocabularies.
type Detector struct {
	cfg config.ModeConfig
}

// NewDetector creates a Detector with the given tuning.
func NewDetector(cfg config.ModeConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect classifies in.Text.
func (d *Detector) Detect(in Input) Result {
	if in.PartnerMode.IsValid() && in.PartnerMode != ModeBase &&
		in.PartnerConfidence >= d.cfg.ConfidenceThreshold {
		return Result{Mode: in.PartnerMode, Confidence: in.PartnerConfidence, Source: "partner"}
	}

	lower := strings.ToLower(in.Text)
	words := wordSet(lower)

	scores := make(map[Mode]float64, len(candidates))
	total := 0.0
	for _, m := range candidates {
		s := scoreCandidate(lower, words, vocabularies[m])
		if m == ModeExpert && isInterrogative(lower, words) {
			s += questionBoost
		}
		scores[m] = s
		total += s
	}

	if total == 0 {
		return d.applyHistory(fallback(), in.History)
	}

	best := ModeBase
	bestScore := 0.0
	for _, m := range candidates {
		if scores[m] > bestScore {
			best, bestScore = m, scores[m]
		}
	}

	norm := d.cfg.ScoreNormalizationFactor
	if norm <= 0 {
		norm = 1
	}
	confidence := math.Min(1, bestScore/norm)

	result := d.applyHistory(Result{Mode: best, Confidence: confidence, Source: "patterns"}, in.History)
	if result.Confidence < d.cfg.ConfidenceThreshold {
		return Result{Mode: ModeBase, Confidence: result.Confidence, Source: "base"}
	}
	return result
}

// applyHistory rewards agreement with a stable recent history and dampens
// switches away from it.
func (d *Detector) applyHistory(r Result, history []Mode) Result {
	stable, ok := stableMode(history)
	if !ok || d.cfg.StableHistoryMultiplier <= 1 {
		return r
	}
	if r.Mode == stable {
		r.Confidence = math.Min(1, r.Confidence*d.cfg.StableHistoryMultiplier)
		return r
	}
	// Leaving an established mode needs proportionally more evidence.
	r.Confidence /= d.cfg.StableHistoryMultiplier
	return r
}

// stableMode reports the mode the last [historyWindow] entries agree on.
func stableMode(history []Mode) (Mode, bool) {
	if len(history) < historyWindow {
		return ModeBase, false
	}
	window := history[len(history)-historyWindow:]
	for _, m := range window[1:] {
		if m != window[0] {
			return ModeBase, false
		}
	}
	if window[0] == ModeBase {
		return ModeBase, false
	}
	return window[0], true
}

// scoreCandidate runs the three pattern tiers for one candidate mode.
func scoreCandidate(lower string, words map[string]struct{}, v vocabulary) float64 {
	score := 0.0
	for _, phrase := range v.exactPhrases {
		if strings.Contains(lower, phrase) {
			score += exactPhraseWeight
		}
	}

	contextual := 0.0
	for _, w := range v.contextual {
		if _, ok := words[w]; ok {
			contextual += contextualWeight
		}
	}
	if contextual > 0 {
		if containsAny(words, v.enhancers) {
			contextual *= enhancerFactor
		}
		if containsAny(words, v.suppressors) {
			contextual *= suppressorFactor
		}
	}
	score += contextual

	domainHits := 0
	for _, w := range v.domain {
		if _, ok := words[w]; ok {
			domainHits++
		}
	}
	if domainHits > 0 {
		score += domainWeight * math.Log1p(float64(domainHits))
	}
	return score
}

// fallback is the simple-pattern net under the tiered scoring. A message that
// scores zero on every tier carries no expert or creative signal, so it reads
// as plain conversation: greetings, acknowledgements, emphatic or trailing-off
// fragments all land in talk.
func fallback() Result {
	return Result{Mode: ModeTalk, Confidence: fallbackConfidence, Source: "fallback"}
}

var questionWords = []string{"what", "why", "how", "when", "where", "which", "who"}

func isInterrogative(lower string, words map[string]struct{}) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	return containsAny(words, questionWords)
}

func containsAny(words map[string]struct{}, list []string) bool {
	for _, w := range list {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

func wordSet(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

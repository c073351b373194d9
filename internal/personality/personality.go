// Package personality implements the bot's trait core: a fixed set of base
// traits, per-user resonance coefficients that tune how strongly each trait
// manifests for that user, and the protection rules that keep adaptation from
// eroding the bot's identity.
//
// The active value of a trait for a user is
//
//	clamp(base × resonance × styleMod × emotionMod × temporalMod, 0, 1)
//
// with resonance confined to [0.7, 1.3] and style/emotion modifiers to
// [0.5, 1.5]. Core traits are floored at 0.4 × base after all modifiers, and
// no trait may move more than 0.2 × base within one session.
package personality

import (
	"errors"
	"time"
)

// Resonance coefficient bounds.
const (
	ResonanceMin     = 0.7
	ResonanceNeutral = 1.0
	ResonanceMax     = 1.3
)

// Modifier bounds for the style/emotion multipliers supplied by the
// orchestrator.
const (
	ModifierMin = 0.5
	ModifierMax = 1.5
)

// Protection ratios.
const (
	// coreFloorRatio floors a core trait's final value at this fraction of
	// its base value.
	coreFloorRatio = 0.4

	// sessionCapRatio caps a trait's absolute in-session change at this
	// fraction of its base value.
	sessionCapRatio = 0.2
)

// coreLearningRatio shrinks the effective learning rate for core traits.
const coreLearningRatio = 0.5

// ModifierType distinguishes the two context modifier channels.
type ModifierType string

const (
	ModifierStyle   ModifierType = "style"
	ModifierEmotion ModifierType = "emotion"
)

// ErrUnknownModifier reports an update with an unrecognised modifier type.
var ErrUnknownModifier = errors.New("personality: unknown modifier type")

// BaseTrait is one trait of the bot's fixed personality.
type BaseTrait struct {
	Name string

	// BaseValue is the trait's neutral strength in [0,1].
	BaseValue float64

	// Core traits are identity-bearing: they get the floor protection and a
	// reduced learning rate.
	Core bool
}

// DefaultBaseTraits is the bot's built-in personality. Stored to the
// personality_base_traits table on first migration; the table wins afterwards
// so operators can tune values without a rebuild.
var DefaultBaseTraits = []BaseTrait{
	{Name: "empathy", BaseValue: 0.85, Core: true},
	{Name: "curiosity", BaseValue: 0.75, Core: true},
	{Name: "warmth", BaseValue: 0.80, Core: true},
	{Name: "playfulness", BaseValue: 0.60},
	{Name: "assertiveness", BaseValue: 0.45},
	{Name: "reflectiveness", BaseValue: 0.70},
	{Name: "humor", BaseValue: 0.55},
	{Name: "patience", BaseValue: 0.75},
}

// TemporalModifier returns the wall-clock trait multiplier: the bot is a bit
// dimmer at night and brightest during the day.
func TemporalModifier(now time.Time) float64 {
	switch hour := now.Hour(); {
	case hour >= 6 && hour < 11:
		return 0.9 // morning
	case hour >= 11 && hour < 18:
		return 1.0 // day
	case hour >= 18 && hour < 23:
		return 0.95 // evening
	default:
		return 0.85 // night
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package personality

import (
	"math"
	"math/rand/v2"
	"time"
)

// UserState is the per-user resonance state. Fields are exported for JSON
// persistence; mutate only through the [Engine].
type UserState struct {
	UserID string `json:"user_id"`

	// Resonance maps trait name to coefficient in [ResonanceMin,
	// ResonanceMax]. Missing traits count as neutral 1.0.
	Resonance map[string]float64 `json:"resonance"`

	// SessionStart records each trait's active value at session start, the
	// anchor for the session change cap.
	SessionStart map[string]float64 `json:"session_start"`

	// StyleMod and EmotionMod are the most recent per-trait context
	// multipliers from the orchestrator, each in [ModifierMin, ModifierMax].
	// Missing traits count as 1.0.
	StyleMod   map[string]float64 `json:"style_mod"`
	EmotionMod map[string]float64 `json:"emotion_mod"`

	// InteractionCount drives the adaptation cadence.
	InteractionCount int `json:"interaction_count"`

	LastInteraction time.Time `json:"last_interaction"`
}

// NewUserState creates a neutral state for userID.
func NewUserState(userID string) *UserState {
	return &UserState{
		UserID:       userID,
		Resonance:    make(map[string]float64),
		SessionStart: make(map[string]float64),
		StyleMod:     make(map[string]float64),
		EmotionMod:   make(map[string]float64),
	}
}

func (s *UserState) resonanceFor(trait string) float64 {
	if c, ok := s.Resonance[trait]; ok {
		return c
	}
	return ResonanceNeutral
}

func modifierFor(mods map[string]float64, trait string) float64 {
	if m, ok := mods[trait]; ok {
		return clamp(m, ModifierMin, ModifierMax)
	}
	return 1.0
}

// Protection names which identity protections fired during a computation.
type Protection string

const (
	ProtectionCoreFloor  Protection = "core_constraints"
	ProtectionSessionCap Protection = "session_cap"
	ProtectionRecovery   Protection = "recovery"
	ProtectionDeviation  Protection = "deviation_budget"
)

// Engine computes active trait values and runs adaptation. It is pure state
// transformation over [UserState]; persistence and locking belong to the
// caller (the personality actor serialises per-user access).
type Engine struct {
	traits []BaseTrait

	recoveryDays int
	recoveryRate float64
	learningRate float64
	maxDeviation float64
	noiseLevel   float64

	// now and randFloat are injectable for tests.
	now       func() time.Time
	randFloat func() float64
}

// EngineConfig carries the adaptation tuning for [NewEngine].
type EngineConfig struct {
	RecoveryDays int
	RecoveryRate float64
	LearningRate float64
	MaxDeviation float64
	NoiseLevel   float64
}

// NewEngine creates an Engine over the given base traits.
func NewEngine(traits []BaseTrait, cfg EngineConfig) *Engine {
	if cfg.RecoveryRate <= 0 {
		cfg.RecoveryRate = 0.1
	}
	return &Engine{
		traits:       traits,
		recoveryDays: cfg.RecoveryDays,
		recoveryRate: cfg.RecoveryRate,
		learningRate: cfg.LearningRate,
		maxDeviation: cfg.MaxDeviation,
		noiseLevel:   cfg.NoiseLevel,
		now:          func() time.Time { return time.Now().UTC() },
		randFloat:    rand.Float64,
	}
}

// Traits returns the engine's base traits.
func (e *Engine) Traits() []BaseTrait { return e.traits }

// ActiveValues computes every trait's current active value for state,
// applying modifiers and protections in order. It returns the values and the
// protections that fired.
func (e *Engine) ActiveValues(state *UserState) (map[string]float64, []Protection) {
	temporal := TemporalModifier(e.now())
	fired := make(map[Protection]bool)
	out := make(map[string]float64, len(e.traits))

	for _, trait := range e.traits {
		v := trait.BaseValue *
			state.resonanceFor(trait.Name) *
			modifierFor(state.StyleMod, trait.Name) *
			modifierFor(state.EmotionMod, trait.Name) *
			temporal
		v = clamp(v, 0, 1)

		// Core floor first, then the session cap.
		if trait.Core {
			if floor := coreFloorRatio * trait.BaseValue; v < floor {
				v = floor
				fired[ProtectionCoreFloor] = true
			}
		}
		if start, ok := state.SessionStart[trait.Name]; ok {
			limit := sessionCapRatio * trait.BaseValue
			if delta := v - start; math.Abs(delta) > limit {
				v = start + math.Copysign(limit, delta)
				fired[ProtectionSessionCap] = true
			}
		}
		out[trait.Name] = v
	}

	return out, protectionList(fired)
}

// BeginSession anchors the session change cap at the current active values.
func (e *Engine) BeginSession(state *UserState) {
	state.SessionStart = make(map[string]float64, len(e.traits))
	values, _ := e.ActiveValues(state)
	for trait, v := range values {
		state.SessionStart[trait] = v
	}
}

// ApplyRecovery drifts resonance toward neutral when the user has been
// inactive past the recovery horizon: one interpolation step
// c' = c + rate×(1−c) per full inactive day beyond the horizon. Reports
// whether any coefficient moved.
func (e *Engine) ApplyRecovery(state *UserState) bool {
	if e.recoveryDays <= 0 || state.LastInteraction.IsZero() {
		return false
	}
	inactiveDays := int(e.now().Sub(state.LastInteraction).Hours() / 24)
	steps := inactiveDays - e.recoveryDays
	if steps <= 0 {
		return false
	}

	moved := false
	for trait, c := range state.Resonance {
		for i := 0; i < steps; i++ {
			c += e.recoveryRate * (ResonanceNeutral - c)
		}
		if math.Abs(c-ResonanceNeutral) < 1e-3 {
			c = ResonanceNeutral
		}
		if c != state.Resonance[trait] {
			moved = true
		}
		state.Resonance[trait] = c
	}
	return moved
}

// Adapt nudges resonance toward the observed preference multipliers with the
// configured learning rate; core traits move at half the rate. Coefficients
// are clamped, the total deviation is budgeted, and bounded noise keeps the
// system off fixed points. Returns the protections that fired.
func (e *Engine) Adapt(state *UserState, preferences map[string]float64) []Protection {
	fired := make(map[Protection]bool)
	if state.Resonance == nil {
		state.Resonance = make(map[string]float64)
	}

	for _, trait := range e.traits {
		target, ok := preferences[trait.Name]
		if !ok {
			continue
		}
		target = clamp(target, ResonanceMin, ResonanceMax)

		rate := e.learningRate
		if trait.Core {
			rate *= coreLearningRatio
		}

		c := state.resonanceFor(trait.Name)
		c += rate * (target - c)
		c += e.noiseLevel * (2*e.randFloat() - 1)
		state.Resonance[trait.Name] = clamp(c, ResonanceMin, ResonanceMax)
	}

	// Deviation budget: scale all deviations down proportionally when the
	// total drift from neutral exceeds the budget.
	if e.maxDeviation > 0 {
		var total float64
		for _, c := range state.Resonance {
			total += math.Abs(c - ResonanceNeutral)
		}
		if total > e.maxDeviation {
			scale := e.maxDeviation / total
			for trait, c := range state.Resonance {
				state.Resonance[trait] = ResonanceNeutral + (c-ResonanceNeutral)*scale
			}
			fired[ProtectionDeviation] = true
		}
	}

	return protectionList(fired)
}

// Touch records an interaction and reports whether the adaptation cadence is
// due (every interval interactions).
func (s *UserState) Touch(now time.Time, interval int) bool {
	s.InteractionCount++
	s.LastInteraction = now
	return interval > 0 && s.InteractionCount%interval == 0
}

func protectionList(fired map[Protection]bool) []Protection {
	if len(fired) == 0 {
		return nil
	}
	out := make([]Protection, 0, len(fired))
	for _, p := range []Protection{ProtectionCoreFloor, ProtectionSessionCap, ProtectionRecovery, ProtectionDeviation} {
		if fired[p] {
			out = append(out, p)
		}
	}
	return out
}

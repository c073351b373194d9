// Package partner implements the partner model: a versioned per-user persona
// describing how the user prefers to converse, used to bias mode detection.
//
// A persona carries a four-dimensional style vector. New observations replace
// the active persona only when the style shift is large enough to matter;
// every replacement is a new version and the prior row is deactivated in the
// same database transaction, so at most one row per user is ever active.
package partner

import (
	"context"
	"errors"
	"math"
	"time"
)

// Style vector component indices.
const (
	StylePlayfulness = iota
	StyleSeriousness
	StyleEmotionality
	StyleCreativity
	styleDims
)

// styleNames maps component index to wire name.
var styleNames = [styleDims]string{"playfulness", "seriousness", "emotionality", "creativity"}

// StyleVector is a user's conversational style, each component in [0,1].
type StyleVector [styleDims]float64

// MaxDelta returns the largest absolute per-component difference to other.
func (v StyleVector) MaxDelta(other StyleVector) float64 {
	var max float64
	for i := range v {
		if d := math.Abs(v[i] - other[i]); d > max {
			max = d
		}
	}
	return max
}

// Map renders the vector with named components.
func (v StyleVector) Map() map[string]float64 {
	out := make(map[string]float64, styleDims)
	for i, name := range styleNames {
		out[name] = v[i]
	}
	return out
}

// StyleVectorFromMap builds a vector from named components; missing names
// default to 0.5 (neutral).
func StyleVectorFromMap(m map[string]float64) StyleVector {
	var v StyleVector
	for i, name := range styleNames {
		if val, ok := m[name]; ok {
			v[i] = clamp01(val)
		} else {
			v[i] = 0.5
		}
	}
	return v
}

// ErrPersonaNotFound reports a lookup for a user without an active persona.
var ErrPersonaNotFound = errors.New("partner: persona not found")

// Persona is one version of a user's partner model.
type Persona struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Version is monotone per user; the newest version is the active one.
	Version int `json:"version"`

	Style StyleVector `json:"style"`

	// RecommendedMode is the generation mode this persona suggests, empty
	// when the analysis was inconclusive.
	RecommendedMode string  `json:"recommended_mode"`
	ModeConfidence  float64 `json:"mode_confidence"`

	// MessagesAnalyzed is the sample size behind this version.
	MessagesAnalyzed int `json:"messages_analyzed"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Manifestation is one detected trait expression, persisted in batches
// alongside a persona update.
type Manifestation struct {
	BatchID   string    `json:"batch_id"`
	UserID    string    `json:"user_id"`
	Trait     string    `json:"trait"`
	Strength  float64   `json:"strength"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists personas and trait manifestations. Implementations are safe
// for concurrent use.
type Store interface {
	// ActivePersona returns the user's active persona or
	// [ErrPersonaNotFound].
	ActivePersona(ctx context.Context, userID string) (*Persona, error)

	// SaveVersion writes persona as the user's new active version,
	// deactivating the prior one atomically, and returns the stored persona
	// with its assigned id and version.
	SaveVersion(ctx context.Context, persona Persona) (Persona, error)

	// RecordManifestations appends a batch of trait manifestations.
	RecordManifestations(ctx context.Context, batch []Manifestation) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Package ltm implements long-term memory: deciding which conversation turns
// are worth remembering and retrieving them later.
//
// Every completed turn is scored for novelty (how unlike the user's history it
// is) and importance (how emotionally and semantically weighty it is). Both
// scores must clear a per-user dynamic threshold before a memory row is
// persisted. New users pass through a cold-start calibration phase during
// which statistics accumulate but nothing is saved, so the threshold reflects
// the individual rather than a global default.
//
// Retrieval supports cosine similarity over stored embeddings and a plain
// newest-first fallback for turns without an embedding.
package ltm

import (
	"context"
	"errors"
	"time"
)

// MemoryType classifies whose world a memory belongs to.
type MemoryType string

const (
	// TypeSelfRelated marks turns about the assistant itself.
	TypeSelfRelated MemoryType = "self_related"

	// TypeUserRelated marks turns where the user talks about themselves.
	TypeUserRelated MemoryType = "user_related"

	// TypeWorldRelated marks everything else.
	TypeWorldRelated MemoryType = "world_related"
)

// TriggerReason names what made a turn memorable.
type TriggerReason string

const (
	TriggerEmotionalPeak      TriggerReason = "emotional_peak"
	TriggerSelfReference      TriggerReason = "self_reference"
	TriggerDeepInsight        TriggerReason = "deep_insight"
	TriggerPersonalRevelation TriggerReason = "personal_revelation"
	TriggerShift              TriggerReason = "shift"
)

// Errors returned by the package.
var (
	// ErrProfileNotFound reports a profile load for an unseen user.
	ErrProfileNotFound = errors.New("ltm: profile not found")

	// ErrEmptySnapshot reports an evaluation with an all-zero emotion
	// snapshot. Such turns carry no retention signal and are never stored.
	ErrEmptySnapshot = errors.New("ltm: emotional snapshot is all zero")

	// ErrUnknownSearchType reports a retrieval with an unrecognised
	// search_type.
	ErrUnknownSearchType = errors.New("ltm: unknown search type")
)

// Memory is one persisted long-term memory.
type Memory struct {
	ID     string
	UserID string

	// Fragment is the remembered user+bot turn pair.
	Fragment Fragment

	// EmotionalSnapshot is the turn's 28-label emotion distribution. Never
	// all zero for a persisted memory.
	EmotionalSnapshot map[string]float64

	// DominantEmotions are the snapshot's top labels, strongest first.
	DominantEmotions []string

	ImportanceScore float64
	NoveltyScore    float64

	MemoryType    MemoryType
	TriggerReason TriggerReason

	// SemanticTags are content keywords extracted from the fragment.
	SemanticTags []string

	// Embedding is the fragment's vector, when one was available at save
	// time. Memories without an embedding are reachable only via recent
	// search.
	Embedding []float32

	CreatedAt time.Time
}

// Fragment is one user+bot exchange.
type Fragment struct {
	UserText string `json:"user_text"`
	BotText  string `json:"bot_text"`
}

// SearchType selects the retrieval strategy.
type SearchType string

const (
	// SearchVector ranks by cosine similarity to a query vector.
	SearchVector SearchType = "vector"

	// SearchRecent returns the newest memories.
	SearchRecent SearchType = "recent"
)

// Store persists memories. Implementations are safe for concurrent use.
type Store interface {
	// Save persists m.
	Save(ctx context.Context, m Memory) error

	// SearchByVector returns up to limit memories of the user ordered by
	// ascending cosine distance to query. Memories without an embedding are
	// skipped.
	SearchByVector(ctx context.Context, userID string, query []float32, limit int) ([]Memory, error)

	// SearchRecent returns up to limit newest memories of the user.
	SearchRecent(ctx context.Context, userID string, limit int) ([]Memory, error)

	// CountForUser returns the user's persisted memory count.
	CountForUser(ctx context.Context, userID string) (int, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// ProfileStore persists per-user calibration statistics.
type ProfileStore interface {
	// Load returns the user's profile or [ErrProfileNotFound].
	Load(ctx context.Context, userID string) (*UserProfile, error)

	// Save upserts the profile.
	Save(ctx context.Context, p *UserProfile) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

package ltm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/emotion"
)

// Evaluation is the outcome of scoring one turn.
type Evaluation struct {
	Novelty    float64
	Importance float64
	Threshold  float64

	Trigger    TriggerReason
	MemoryType MemoryType
	Tags       []string

	// Calibrating is true when the user's profile has not yet completed
	// cold start; calibrating turns are never saved.
	Calibrating bool

	// Saved is true when both scores cleared the threshold and a memory was
	// persisted.
	Saved bool

	// Memory is the persisted row when Saved.
	Memory *Memory

	// Profile is the user's profile after folding in this turn.
	Profile *UserProfile
}

// Evaluator scores turns and persists the ones worth keeping. It owns the
// read-modify-write of user profiles; callers serialise per user (the LTM
// actor's single mailbox does).
type Evaluator struct {
	cfg      config.LTMConfig
	store    Store
	profiles ProfileStore
}

// NewEvaluator creates an Evaluator over the given stores.
func NewEvaluator(cfg config.LTMConfig, store Store, profiles ProfileStore) *Evaluator {
	return &Evaluator{cfg: cfg, store: store, profiles: profiles}
}

// Turn is one completed exchange submitted for evaluation.
type Turn struct {
	UserID    string
	Fragment  Fragment
	Emotions  map[string]float64
	Embedding []float32
}

// Evaluate scores turn and persists a memory when both novelty and
// importance clear the user's dynamic threshold. The profile statistics are
// updated for every turn, saved or not.
func (e *Evaluator) Evaluate(ctx context.Context, turn Turn) (Evaluation, error) {
	if emotion.Scores(turn.Emotions).AllZero() {
		return Evaluation{}, ErrEmptySnapshot
	}

	profile, err := e.profiles.Load(ctx, turn.UserID)
	switch {
	case err == nil:
	case errors.Is(err, ErrProfileNotFound):
		profile = NewUserProfile(turn.UserID)
	default:
		return Evaluation{}, fmt.Errorf("ltm: load profile: %w", err)
	}

	tags := ExtractTags(turn.Fragment.UserText)
	sample := Sample{Emotions: turn.Emotions, Tags: tags, Embedding: turn.Embedding}

	// Score against the profile as it stood before this turn, then fold the
	// turn in.
	novelty := NoveltyScore(profile, sample)
	threshold := profile.DynamicThreshold(e.cfg.ColdStartMinThreshold)
	calibrating := !profile.CalibrationComplete

	intensity := MaxIntensity(turn.Emotions)
	trigger := ClassifyTrigger(turn.Fragment.UserText, intensity)
	importance := ImportanceScore(turn.Fragment, turn.Emotions, trigger)

	profile.Observe(sample, novelty, e.cfg.ColdStartBufferSize)
	if err := e.profiles.Save(ctx, profile); err != nil {
		return Evaluation{}, fmt.Errorf("ltm: save profile: %w", err)
	}

	ev := Evaluation{
		Novelty:     novelty,
		Importance:  importance,
		Threshold:   threshold,
		Trigger:     trigger,
		MemoryType:  ClassifyMemoryType(turn.Fragment.UserText),
		Tags:        tags,
		Calibrating: calibrating,
		Profile:     profile,
	}

	if calibrating || novelty < threshold || importance < threshold {
		return ev, nil
	}

	mem := Memory{
		ID:                uuid.NewString(),
		UserID:            turn.UserID,
		Fragment:          turn.Fragment,
		EmotionalSnapshot: turn.Emotions,
		ImportanceScore:   importance,
		NoveltyScore:      novelty,
		MemoryType:        ev.MemoryType,
		TriggerReason:     trigger,
		SemanticTags:      tags,
		Embedding:         turn.Embedding,
		CreatedAt:         time.Now().UTC(),
	}
	mem.DominantEmotions = emotion.Scores(turn.Emotions).Dominant(3)
	if err := e.store.Save(ctx, mem); err != nil {
		return Evaluation{}, fmt.Errorf("ltm: save memory: %w", err)
	}

	ev.Saved = true
	ev.Memory = &mem
	return ev, nil
}

// Search retrieves memories for a user. Vector search falls back to recent
// when no query vector is given.
func (e *Evaluator) Search(ctx context.Context, userID string, searchType SearchType, query []float32, limit int) ([]Memory, error) {
	if limit <= 0 || limit > e.cfg.ContextLimit {
		limit = e.cfg.ContextLimit
	}
	switch searchType {
	case SearchVector:
		if len(query) == 0 {
			return e.store.SearchRecent(ctx, userID, limit)
		}
		return e.store.SearchByVector(ctx, userID, query, limit)
	case SearchRecent:
		return e.store.SearchRecent(ctx, userID, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSearchType, searchType)
	}
}

// Profile returns the user's profile, or a fresh one for unseen users.
func (e *Evaluator) Profile(ctx context.Context, userID string) (*UserProfile, error) {
	profile, err := e.profiles.Load(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return NewUserProfile(userID), nil
	}
	return profile, err
}

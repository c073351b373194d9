// Package emotion provides the 28-dimension emotion classification used to
// annotate conversation turns. Classification itself is a synchronous
// CPU-bound call behind the [Classifier] interface; [Pool] runs it on a
// bounded worker pool with a per-request timeout so the orchestrator never
// blocks on a slow classification.
package emotion

import (
	"errors"
	"sort"
)

// Labels is the fixed emotion taxonomy. Every [Scores] map carries exactly
// these keys.
var Labels = []string{
	"admiration", "amusement", "anger", "annoyance", "approval", "caring",
	"confusion", "curiosity", "desire", "disappointment", "disapproval",
	"disgust", "embarrassment", "excitement", "fear", "gratitude", "grief",
	"joy", "love", "nervousness", "optimism", "pride", "realization",
	"relief", "remorse", "sadness", "surprise", "neutral",
}

// ErrEmptyText reports a classification request with no text.
var ErrEmptyText = errors.New("emotion: empty text")

// Scores maps every label in [Labels] to a value in [0,1].
type Scores map[string]float64

// NewScores returns a Scores map with every label present at zero.
func NewScores() Scores {
	s := make(Scores, len(Labels))
	for _, label := range Labels {
		s[label] = 0
	}
	return s
}

// AllZero reports whether no label scored above zero.
func (s Scores) AllZero() bool {
	for _, v := range s {
		if v > 0 {
			return false
		}
	}
	return true
}

// Dominant returns the n highest-scoring labels in descending score order.
// Labels scoring zero are never included.
func (s Scores) Dominant(n int) []string {
	type scored struct {
		label string
		value float64
	}
	ranked := make([]scored, 0, len(s))
	for label, value := range s {
		if value > 0 {
			ranked = append(ranked, scored{label, value})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value > ranked[j].value
		}
		return ranked[i].label < ranked[j].label
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].label
	}
	return out
}

// Result is one completed classification.
type Result struct {
	// Scores holds the full 28-dimension vector.
	Scores Scores

	// Dominant lists the top-ranked labels, strongest first.
	Dominant []string
}

// Classifier scores a text across the emotion taxonomy. Implementations are
// synchronous and CPU-bound; run them through a [Pool].
type Classifier interface {
	Classify(text string) (Scores, error)
}

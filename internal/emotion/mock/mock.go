// Package mock provides a configurable [emotion.Classifier] test double.
package mock

import (
	"sync"

	"github.com/MrWong99/solace/internal/emotion"
)

// Classifier implements [emotion.Classifier] with configurable results.
// The zero value returns an all-neutral score map.
type Classifier struct {
	// Result is returned from Classify when ClassifyFunc is nil.
	Result emotion.Scores

	// Err, when set, is returned from every Classify call.
	Err error

	// ClassifyFunc, when set, overrides Result and Err.
	ClassifyFunc func(text string) (emotion.Scores, error)

	mu    sync.Mutex
	calls []string
}

var _ emotion.Classifier = (*Classifier)(nil)

// Classify implements [emotion.Classifier].
func (c *Classifier) Classify(text string) (emotion.Scores, error) {
	c.mu.Lock()
	c.calls = append(c.calls, text)
	c.mu.Unlock()

	if c.ClassifyFunc != nil {
		return c.ClassifyFunc(text)
	}
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Result != nil {
		return c.Result, nil
	}
	scores := emotion.NewScores()
	scores["neutral"] = 1
	return scores, nil
}

// Calls returns the texts passed to Classify, in order.
func (c *Classifier) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

package session

import (
	"time"
)

// pendingRequest tracks one in-flight user turn while the orchestrator
// gathers context from the other actors. Each dependency is marked done when
// its reply (or failure) arrives; after the soft deadline passes, optional
// dependencies stop blocking generation.
type pendingRequest struct {
	requestID string
	userID    string
	chatID    string
	text      string

	// origin is where the final BotResponse goes, normally the gateway
	// actor that forwarded the user message.
	origin string

	createdAt time.Time

	// deadline is the soft per-dependency deadline. Optional collaborators
	// that have not answered by then are skipped.
	deadline time.Time

	limitChecked bool

	stmDone bool
	context []any

	personalityDone bool
	profile         map[string]float64

	partnerDone       bool
	partnerMode       string
	partnerConfidence float64
	partnerVersion    int
	partnerCached     bool

	embeddingAsked bool
	embeddingDone  bool
	embedding      []float64

	ltmAsked bool
	ltmDone  bool
	memories []string

	emotionDone   bool
	emotions      []string
	emotionScores map[string]float64

	// generating is set once the request has been handed to the generation
	// actor, so late replies cannot trigger a second completion.
	generating bool
}

// ready reports whether enough context has arrived to generate. Short-term
// context is mandatory; everything else degrades to absent once the soft
// deadline has passed. Memory retrieval only blocks while a search is
// actually in flight.
func (p *pendingRequest) ready(now time.Time) bool {
	if !p.limitChecked || !p.stmDone {
		return false
	}
	expired := now.After(p.deadline)
	if !p.personalityDone && !expired {
		return false
	}
	if !p.partnerDone && !expired {
		return false
	}
	if p.embeddingAsked && !p.embeddingDone && !expired {
		return false
	}
	if p.ltmAsked && !p.ltmDone && !expired {
		return false
	}
	return true
}

func (p *pendingRequest) age(now time.Time) time.Duration {
	return now.Sub(p.createdAt)
}

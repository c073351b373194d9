// Package session holds the conversation orchestrator. One actor owns all
// live sessions and drives each user turn through the pipeline: limit check,
// parallel context gathering, mode detection, generation, then the follow-up
// writes (short-term storage, memory evaluation, periodic analysis).
package session

import (
	"time"

	"github.com/MrWong99/solace/internal/mode"
)

// Session is the in-memory state for one active user. It lives inside the
// orchestrator actor and is only touched from its mailbox goroutine.
type Session struct {
	UserID   string
	Username string

	CreatedAt    time.Time
	LastActivity time.Time

	// MessageCount counts user turns, including rejected ones.
	MessageCount int

	CurrentMode    mode.Mode
	ModeConfidence float64

	// ModeHistory holds recently detected modes, oldest first, bounded by
	// the orchestrator's history limit.
	ModeHistory []mode.Mode

	LastUserText string
	LastBotText  string

	// LastEmotion is the dominant-emotion snapshot of the latest analyzed
	// user turn.
	LastEmotion []string

	// PartnerVersion is the persona version last reported by the partner
	// model for this user.
	PartnerVersion int

	// cacheLookups is a bounded window of personality cache outcomes, used
	// for the per-session hit-rate figure in session info.
	cacheLookups []bool
}

func newSession(userID, username string, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		Username:     username,
		CreatedAt:    now,
		LastActivity: now,
		CurrentMode:  mode.ModeBase,
	}
}

func (s *Session) recordMode(m mode.Mode, confidence float64, limit int) {
	s.CurrentMode = m
	s.ModeConfidence = confidence
	s.ModeHistory = append(s.ModeHistory, m)
	if limit > 0 && len(s.ModeHistory) > limit {
		s.ModeHistory = s.ModeHistory[len(s.ModeHistory)-limit:]
	}
}

func (s *Session) recordCacheLookup(hit bool, limit int) {
	s.cacheLookups = append(s.cacheLookups, hit)
	if limit > 0 && len(s.cacheLookups) > limit {
		s.cacheLookups = s.cacheLookups[len(s.cacheLookups)-limit:]
	}
}

// cacheHitRate reports the fraction of recent personality lookups answered
// from cache. Returns 0 before the first lookup.
func (s *Session) cacheHitRate() float64 {
	if len(s.cacheLookups) == 0 {
		return 0
	}
	hits := 0
	for _, hit := range s.cacheLookups {
		if hit {
			hits++
		}
	}
	return float64(hits) / float64(len(s.cacheLookups))
}

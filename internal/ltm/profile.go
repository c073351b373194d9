package ltm

import (
	"maps"
	"math"
	"slices"
	"time"
)

// noveltyWindowSize bounds the rolling window of recent novelty scores used
// for the 90th-percentile threshold.
const noveltyWindowSize = 100

// maturityMidpointDays is where the maturity sigmoid crosses 0.5: a profile
// counts as half mature after this many days.
const maturityMidpointDays = 30.0

// UserProfile accumulates per-user statistics that calibrate the save
// threshold. Fields are exported for JSON persistence; mutate only through
// [UserProfile.Observe].
type UserProfile struct {
	UserID        string    `json:"user_id"`
	TotalMessages int       `json:"total_messages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// NoveltyWindow holds the most recent novelty scores, oldest first.
	NoveltyWindow []float64 `json:"novelty_window"`

	// CurrentPercentile90 is the 90th-percentile score over NoveltyWindow.
	CurrentPercentile90 float64 `json:"current_percentile_90"`

	// EmotionSums and EmotionSquares are running per-label moments, from
	// which the rolling mean and variance derive.
	EmotionSums    map[string]float64 `json:"emotion_sums"`
	EmotionSquares map[string]float64 `json:"emotion_squares"`

	// TagCounts is the rolling semantic-tag histogram.
	TagCounts map[string]int `json:"tag_counts"`
	TagTotal  int            `json:"tag_total"`

	// Centroid is the rolling mean of observed embeddings.
	Centroid      []float32 `json:"centroid,omitempty"`
	CentroidCount int       `json:"centroid_count"`

	// CalibrationComplete is true once TotalMessages reached the cold-start
	// buffer size. It never reverts.
	CalibrationComplete bool `json:"calibration_complete"`
}

// NewUserProfile creates an empty profile for userID.
func NewUserProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
		EmotionSums:    make(map[string]float64),
		EmotionSquares: make(map[string]float64),
		TagCounts:      make(map[string]int),
	}
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	out := *p
	out.NoveltyWindow = slices.Clone(p.NoveltyWindow)
	out.Centroid = slices.Clone(p.Centroid)
	out.EmotionSums = maps.Clone(p.EmotionSums)
	out.EmotionSquares = maps.Clone(p.EmotionSquares)
	out.TagCounts = maps.Clone(p.TagCounts)
	return &out
}

// Sample is one observed turn fed into the profile statistics.
type Sample struct {
	Emotions  map[string]float64
	Tags      []string
	Embedding []float32
}

// Observe folds one turn into the rolling statistics. novelty is the score
// computed against the profile state BEFORE this call; coldStartSize is the
// calibration buffer length.
func (p *UserProfile) Observe(sample Sample, novelty float64, coldStartSize int) {
	p.TotalMessages++
	p.UpdatedAt = time.Now().UTC()
	if p.TotalMessages >= coldStartSize {
		p.CalibrationComplete = true
	}

	// The very first turn has no history to score against; its novelty is
	// an artifact and would skew the percentile, so it is not recorded.
	if p.TotalMessages > 1 {
		p.NoveltyWindow = append(p.NoveltyWindow, novelty)
		if overflow := len(p.NoveltyWindow) - noveltyWindowSize; overflow > 0 {
			p.NoveltyWindow = append([]float64(nil), p.NoveltyWindow[overflow:]...)
		}
		p.CurrentPercentile90 = percentile(p.NoveltyWindow, 0.9)
	}

	for label, v := range sample.Emotions {
		p.EmotionSums[label] += v
		p.EmotionSquares[label] += v * v
	}

	for _, tag := range sample.Tags {
		p.TagCounts[tag]++
		p.TagTotal++
	}

	if len(sample.Embedding) > 0 {
		p.foldEmbedding(sample.Embedding)
	}
}

// foldEmbedding updates the rolling centroid with one vector.
func (p *UserProfile) foldEmbedding(vec []float32) {
	if len(p.Centroid) != len(vec) {
		// Dimension change (or first vector): restart the centroid.
		p.Centroid = slices.Clone(vec)
		p.CentroidCount = 1
		return
	}
	p.CentroidCount++
	n := float32(p.CentroidCount)
	for i, v := range vec {
		p.Centroid[i] += (v - p.Centroid[i]) / n
	}
}

// EmotionMean returns the rolling mean for label.
func (p *UserProfile) EmotionMean(label string) float64 {
	if p.TotalMessages == 0 {
		return 0
	}
	return p.EmotionSums[label] / float64(p.TotalMessages)
}

// EmotionStdDev returns the rolling standard deviation for label.
func (p *UserProfile) EmotionStdDev(label string) float64 {
	if p.TotalMessages == 0 {
		return 0
	}
	n := float64(p.TotalMessages)
	mean := p.EmotionSums[label] / n
	variance := p.EmotionSquares[label]/n - mean*mean
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// DynamicThreshold returns the effective save threshold:
// max(0.9 × p90, minThreshold).
func (p *UserProfile) DynamicThreshold(minThreshold float64) float64 {
	return math.Max(0.9*p.CurrentPercentile90, minThreshold)
}

// MaturityFactor returns the profile's weight in aggregate analytics, a
// sigmoid of the profile age in days with rate k.
func (p *UserProfile) MaturityFactor(now time.Time, k float64) float64 {
	ageDays := now.Sub(p.CreatedAt).Hours() / 24
	return 1 / (1 + math.Exp(-k*(ageDays-maturityMidpointDays)))
}

// percentile returns the q-quantile of scores using the nearest-rank method.
// Returns 0 for an empty slice.
func percentile(scores []float64, q float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

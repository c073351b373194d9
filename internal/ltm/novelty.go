package ltm

import "math"

// Blend weights for the three novelty factors. When a factor is unavailable
// (no embedding yet, no tags) the remaining weights are renormalised.
const (
	noveltySemanticWeight   = 0.40
	noveltyEmotionalWeight  = 0.35
	noveltyContextualWeight = 0.25
)

// NoveltyScore computes how unlike the user's history this turn is, in [0,1].
// It blends semantic distance to the rolling embedding centroid, emotional
// deviation from the rolling emotion distribution, and unfamiliarity of the
// extracted semantic tags. The profile must not yet include this turn.
func NoveltyScore(p *UserProfile, sample Sample) float64 {
	var sum, weight float64

	if s, ok := semanticNovelty(p, sample.Embedding); ok {
		sum += noveltySemanticWeight * s
		weight += noveltySemanticWeight
	}
	if e, ok := emotionalNovelty(p, sample.Emotions); ok {
		sum += noveltyEmotionalWeight * e
		weight += noveltyEmotionalWeight
	}
	if c, ok := contextualNovelty(p, sample.Tags); ok {
		sum += noveltyContextualWeight * c
		weight += noveltyContextualWeight
	}

	if weight == 0 {
		// Nothing to compare against: a brand-new profile sees everything
		// as maximally novel.
		return 1
	}
	return clamp01(sum / weight)
}

// semanticNovelty is the cosine distance between the turn's embedding and the
// rolling centroid, halved into [0,1].
func semanticNovelty(p *UserProfile, embedding []float32) (float64, bool) {
	if len(embedding) == 0 || p.CentroidCount == 0 || len(p.Centroid) != len(embedding) {
		return 0, false
	}
	sim := cosineSimilarity(p.Centroid, embedding)
	return clamp01((1 - sim) / 2), true
}

// emotionalNovelty measures deviation of the turn's emotion vector from the
// rolling per-label distribution. Each label's absolute z-score is squashed
// by z/(z+1); the top deviations dominate the result.
func emotionalNovelty(p *UserProfile, emotions map[string]float64) (float64, bool) {
	if p.TotalMessages == 0 || len(emotions) == 0 {
		return 0, false
	}

	var top1, top2, top3 float64
	for label, v := range emotions {
		dev := math.Abs(v - p.EmotionMean(label))
		if sd := p.EmotionStdDev(label); sd > 0 {
			dev /= sd
		} else if dev > 0 {
			// Constant history suddenly disturbed: strong deviation.
			dev = 3
		}
		score := dev / (dev + 1)
		switch {
		case score > top1:
			top1, top2, top3 = score, top1, top2
		case score > top2:
			top2, top3 = score, top2
		case score > top3:
			top3 = score
		}
	}
	return clamp01((top1 + top2 + top3) / 3), true
}

// contextualNovelty is how unfamiliar the turn's tags are relative to the
// rolling histogram. A tag seen c times contributes familiarity c/(c+3), so
// unseen tags count as fully novel and frequent ones saturate toward 0.
func contextualNovelty(p *UserProfile, tags []string) (float64, bool) {
	if len(tags) == 0 {
		return 0, false
	}
	var familiarity float64
	for _, tag := range tags {
		c := float64(p.TagCounts[tag])
		familiarity += c / (c + 3)
	}
	return clamp01(1 - familiarity/float64(len(tags))), true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

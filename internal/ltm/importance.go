package ltm

import "strings"

// Importance blend weights: emotional intensity carries most of the score,
// the trigger class anchors it, content length tops it up.
const (
	importanceIntensityWeight = 0.50
	importanceTriggerWeight   = 0.35
	importanceContentWeight   = 0.15

	// emotionalPeakIntensity is the max-component level at which a turn
	// counts as an emotional peak regardless of its text.
	emotionalPeakIntensity = 0.8

	// contentSaturationRunes is the fragment length at which the content
	// factor saturates.
	contentSaturationRunes = 200
)

// triggerWeights anchor the importance score per trigger class.
var triggerWeights = map[TriggerReason]float64{
	TriggerEmotionalPeak:      1.00,
	TriggerPersonalRevelation: 0.95,
	TriggerDeepInsight:        0.85,
	TriggerSelfReference:      0.70,
	TriggerShift:              0.50,
}

// Marker phrases for trigger and memory-type classification, matched against
// the lowercased user text. Ordered maps would overstate precision; first
// match in priority order wins.
var (
	revelationMarkers = []string{
		"never told", "never said", "first time i", "secret", "confess",
		"don't usually tell", "dont usually tell", "admit",
	}
	insightMarkers = []string{
		"i realize", "i realized", "i realise", "i realised",
		"now i understand", "i finally understand", "it means that",
		"makes sense now", "i see now",
	}
	selfMarkers = []string{
		"i feel", "i felt", "i am ", "i'm ", "im ", "my life", "myself",
		"i was", "i have been", "i've been",
	}
	assistantMarkers = []string{
		"you are", "you're", "your personality", "do you feel",
		"about you", "you said", "you told me",
	}
)

// ClassifyTrigger names why a turn is memorable. intensity is the emotion
// snapshot's max component; contextualNovelty biases toward [TriggerShift]
// when the text markers are silent.
func ClassifyTrigger(userText string, intensity float64) TriggerReason {
	text := strings.ToLower(userText)
	switch {
	case intensity >= emotionalPeakIntensity:
		return TriggerEmotionalPeak
	case containsAny(text, revelationMarkers):
		return TriggerPersonalRevelation
	case containsAny(text, insightMarkers):
		return TriggerDeepInsight
	case containsAny(text, selfMarkers):
		return TriggerSelfReference
	default:
		return TriggerShift
	}
}

// ClassifyMemoryType buckets a turn by subject.
func ClassifyMemoryType(userText string) MemoryType {
	text := strings.ToLower(userText)
	switch {
	case containsAny(text, assistantMarkers):
		return TypeSelfRelated
	case containsAny(text, selfMarkers):
		return TypeUserRelated
	default:
		return TypeWorldRelated
	}
}

// ImportanceScore produces the bounded importance of a turn from its
// emotional intensity, trigger class, and fragment length.
func ImportanceScore(fragment Fragment, emotions map[string]float64, trigger TriggerReason) float64 {
	intensity := MaxIntensity(emotions)

	content := float64(len([]rune(fragment.UserText))) / contentSaturationRunes
	if content > 1 {
		content = 1
	}

	return clamp01(importanceIntensityWeight*intensity +
		importanceTriggerWeight*triggerWeights[trigger] +
		importanceContentWeight*content)
}

// MaxIntensity returns the emotion snapshot's strongest non-neutral
// component.
func MaxIntensity(emotions map[string]float64) float64 {
	var max float64
	for label, v := range emotions {
		if label == "neutral" {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

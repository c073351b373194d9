// Package analysis derives the user's conversational style and the bot's
// trait expressions from recent short-term memory. Both analyzers are pure
// functions over message windows; the [Actor] schedules them and routes the
// results to the partner model and personality components.
package analysis

import (
	"math"
	"strings"
	"unicode"

	"github.com/MrWong99/solace/internal/partner"
	"github.com/MrWong99/solace/internal/stm"
)

// Style analysis tuning. The window the orchestrator hands over is already
// bounded, so these only shape scoring, not data volume.
const (
	// MinStyleMessages is the smallest user sample worth scoring. Below it
	// the analyzer returns a neutral vector with token confidence.
	MinStyleMessages = 5

	// styleDecay discounts older messages; the newest message has weight 1.
	styleDecay = 0.9

	// fullConfidenceSample is the user-message count at which sample size
	// stops limiting confidence.
	fullConfidenceSample = 20
)

// Feature blend weights for each style dimension.
const (
	lexicalWeight     = 0.5
	punctuationWeight = 0.3
	structuralWeight  = 0.2
)

// StyleResult is one completed style analysis.
type StyleResult struct {
	// Style is the user's scored conversational style.
	Style partner.StyleVector

	// Confidence reflects sample size and lexical diversity, in [0,1].
	Confidence float64

	// MessagesAnalyzed counts the user messages that contributed.
	MessagesAnalyzed int
}

// Marker vocabularies per style dimension. Matching is case-insensitive on
// whole words.
var (
	playfulMarkers = []string{
		"haha", "lol", "lmao", "fun", "funny", "joke", "kidding", "silly",
		"play", "hehe", "wow", "cool", "awesome", "yay",
	}
	seriousMarkers = []string{
		"therefore", "however", "consider", "specifically", "regarding",
		"analysis", "conclusion", "important", "precise", "structure",
		"process", "result", "evidence", "document",
	}
	emotionalMarkers = []string{
		"feel", "feeling", "love", "hate", "scared", "happy", "sad",
		"angry", "worried", "excited", "miss", "hurt", "heart", "cry",
	}
	creativeMarkers = []string{
		"imagine", "story", "dream", "what if", "picture", "invent",
		"create", "paint", "poem", "magic", "wonder", "pretend",
	}
)

// AnalyzeStyle scores the user's conversational style from rows, a window of
// short-term memory in chronological order. Bot rows are ignored. More recent
// messages weigh more.
func AnalyzeStyle(rows []stm.Row) StyleResult {
	var texts []string
	for _, row := range rows {
		if row.Kind == stm.KindUser && strings.TrimSpace(row.Content) != "" {
			texts = append(texts, row.Content)
		}
	}
	if len(texts) < MinStyleMessages {
		return StyleResult{
			Style:            partner.StyleVector{0.5, 0.5, 0.5, 0.5},
			Confidence:       0.1,
			MessagesAnalyzed: len(texts),
		}
	}

	var style partner.StyleVector
	var weightSum float64
	for i, text := range texts {
		w := math.Pow(styleDecay, float64(len(texts)-1-i))
		scores := scoreMessage(text)
		for d := range style {
			style[d] += w * scores[d]
		}
		weightSum += w
	}
	for d := range style {
		style[d] = clamp01(style[d] / weightSum)
	}

	sample := math.Min(1, float64(len(texts))/fullConfidenceSample)
	confidence := clamp01(0.6*sample + 0.4*lexicalDiversity(texts))

	return StyleResult{
		Style:            style,
		Confidence:       confidence,
		MessagesAnalyzed: len(texts),
	}
}

// scoreMessage scores a single message on all four dimensions.
func scoreMessage(text string) partner.StyleVector {
	lower := strings.ToLower(text)
	words := fields(lower)
	runes := []rune(text)

	lex := partner.StyleVector{
		markerScore(lower, words, playfulMarkers),
		markerScore(lower, words, seriousMarkers),
		markerScore(lower, words, emotionalMarkers),
		markerScore(lower, words, creativeMarkers),
	}

	exclaim := runeRatio(runes, '!')
	question := runeRatio(runes, '?')
	ellipsis := float64(strings.Count(text, "...")) / math.Max(1, float64(len(runes))/40)
	punct := partner.StyleVector{
		saturate(exclaim * 40),
		saturate(runeRatio(runes, ';')*80 + runeRatio(runes, ':')*40),
		saturate(exclaim*30 + ellipsis),
		saturate(question*20 + ellipsis*0.5),
	}

	length := float64(len(words))
	caps := capsRatio(runes)
	// Short bursts read playful, long built-out messages serious, shouting
	// emotional, varied vocabulary creative.
	structural := partner.StyleVector{
		saturate(12 / math.Max(1, length)),
		saturate(length / 40),
		saturate(caps * 8),
		saturate(lexicalDiversityWords(words)),
	}

	var out partner.StyleVector
	for d := range out {
		out[d] = clamp01(lexicalWeight*lex[d] + punctuationWeight*punct[d] + structuralWeight*structural[d])
	}
	return out
}

// markerScore saturates with the number of distinct marker hits.
func markerScore(lower string, words []string, markers []string) float64 {
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}
	hits := 0
	for _, marker := range markers {
		if strings.ContainsRune(marker, ' ') {
			if strings.Contains(lower, marker) {
				hits++
			}
			continue
		}
		if _, ok := wordSet[marker]; ok {
			hits++
		}
	}
	// Two distinct markers already make a strong signal.
	return saturate(float64(hits) / 2)
}

// lexicalDiversity is unique words over total words across the sample.
func lexicalDiversity(texts []string) float64 {
	var words []string
	for _, text := range texts {
		words = append(words, fields(strings.ToLower(text))...)
	}
	return lexicalDiversityWords(words)
}

func lexicalDiversityWords(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique)) / float64(len(words))
}

// fields splits on anything that is not a letter or digit.
func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func runeRatio(runes []rune, target rune) float64 {
	if len(runes) == 0 {
		return 0
	}
	count := 0
	for _, r := range runes {
		if r == target {
			count++
		}
	}
	return float64(count) / float64(len(runes))
}

func capsRatio(runes []rune) float64 {
	letters, upper := 0, 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// saturate maps a non-negative raw score into [0,1) with diminishing returns.
func saturate(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (v + 1)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

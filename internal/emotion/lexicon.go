package emotion

import (
	"strings"
)

// LexiconClassifier is the built-in keyword-based [Classifier]. It scores a
// text by matching lowercased tokens against a per-emotion lexicon and
// normalising by token count. Deployments with a real model register their
// own [Classifier]; this one keeps the pipeline functional without an
// external dependency.
type LexiconClassifier struct {
	lexicon map[string][]string
}

// Compile-time interface check.
var _ Classifier = (*LexiconClassifier)(nil)

// NewLexiconClassifier creates a classifier with the default lexicon.
func NewLexiconClassifier() *LexiconClassifier {
	return &LexiconClassifier{lexicon: defaultLexicon}
}

// Classify implements [Classifier].
func (c *LexiconClassifier) Classify(text string) (Scores, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	tokens := tokenize(text)
	scores := NewScores()
	if len(tokens) == 0 {
		scores["neutral"] = 1
		return scores, nil
	}

	matched := 0
	for _, token := range tokens {
		for label, words := range c.lexicon {
			for _, w := range words {
				if token == w {
					scores[label] += 1
					matched++
				}
			}
		}
	}

	if matched == 0 {
		scores["neutral"] = 1
		return scores, nil
	}

	// Normalise against the token count so long messages do not saturate.
	norm := float64(len(tokens))
	for label, v := range scores {
		score := v / norm
		if score > 1 {
			score = 1
		}
		scores[label] = score
	}
	return scores, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, strings.Trim(f, "'"))
		}
	}
	return out
}

// defaultLexicon is intentionally small; it covers common English affect
// words well enough for calibration and tests.
var defaultLexicon = map[string][]string{
	"admiration":     {"amazing", "impressive", "brilliant", "admire", "awesome"},
	"amusement":      {"funny", "hilarious", "lol", "haha", "amusing"},
	"anger":          {"angry", "furious", "hate", "rage", "mad"},
	"annoyance":      {"annoying", "irritating", "bothered", "ugh"},
	"approval":       {"agree", "right", "correct", "exactly", "yes"},
	"caring":         {"care", "hug", "comfort", "support", "gentle"},
	"confusion":      {"confused", "unclear", "puzzled", "lost"},
	"curiosity":      {"curious", "wonder", "interesting", "why", "how"},
	"desire":         {"want", "wish", "crave", "hope"},
	"disappointment": {"disappointed", "letdown", "shame", "pity"},
	"disapproval":    {"disagree", "wrong", "no", "nope"},
	"disgust":        {"disgusting", "gross", "awful", "nasty"},
	"embarrassment":  {"embarrassed", "awkward", "ashamed", "cringe"},
	"excitement":     {"excited", "thrilled", "stoked", "hyped"},
	"fear":           {"afraid", "scared", "terrified", "fear", "worried"},
	"gratitude":      {"thanks", "thank", "grateful", "appreciate"},
	"grief":          {"grief", "mourning", "loss", "died"},
	"joy":            {"happy", "joy", "glad", "delighted", "wonderful"},
	"love":           {"love", "adore", "darling", "dear"},
	"nervousness":    {"nervous", "anxious", "uneasy", "tense"},
	"optimism":       {"optimistic", "hopeful", "better", "improve"},
	"pride":          {"proud", "achievement", "accomplished"},
	"realization":    {"realize", "realized", "understand", "see", "aha"},
	"relief":         {"relief", "relieved", "phew", "finally"},
	"remorse":        {"sorry", "regret", "apologize", "fault"},
	"sadness":        {"sad", "unhappy", "depressed", "crying", "miss"},
	"surprise":       {"surprised", "unexpected", "wow", "whoa", "sudden"},
}

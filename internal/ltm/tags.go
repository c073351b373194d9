package ltm

import (
	"sort"
	"strings"
	"unicode"
)

// maxSemanticTags caps how many tags one turn contributes.
const maxSemanticTags = 8

// stopwords excluded from tag extraction. English function words plus chat
// filler; lowercase.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "nor": {}, "yet": {},
	"with": {}, "from": {}, "into": {}, "onto": {}, "over": {}, "under": {},
	"about": {}, "after": {}, "before": {}, "between": {}, "through": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "there": {}, "here": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {},
	"whom": {}, "whose": {}, "why": {}, "how": {},
	"have": {}, "has": {}, "had": {}, "been": {}, "being": {}, "was": {},
	"were": {}, "are": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"can": {}, "cannot": {}, "dont": {}, "don't": {}, "doesnt": {},
	"just": {}, "like": {}, "really": {}, "very": {}, "some": {}, "more": {},
	"most": {}, "much": {}, "many": {}, "such": {}, "then": {}, "than": {},
	"them": {}, "they": {}, "their": {}, "your": {}, "you": {}, "yours": {},
	"because": {}, "something": {}, "anything": {}, "everything": {},
	"know": {}, "think": {}, "feel": {}, "want": {}, "going": {}, "thing": {},
}

// ExtractTags pulls up to maxSemanticTags content keywords from text:
// lowercase words of four or more letters, stopwords removed, ranked by
// in-text frequency then alphabetically.
func ExtractTags(text string) []string {
	counts := make(map[string]int)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		word = strings.Trim(word, "'")
		if len([]rune(word)) < 4 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		counts[word]++
	}
	if len(counts) == 0 {
		return nil
	}

	tags := make([]string, 0, len(counts))
	for word := range counts {
		tags = append(tags, word)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > maxSemanticTags {
		tags = tags[:maxSemanticTags]
	}
	return tags
}

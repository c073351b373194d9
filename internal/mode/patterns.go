package mode

// vocabulary holds the tiered patterns of one candidate mode.
type vocabulary struct {
	// exactPhrases are matched as substrings and carry the highest weight.
	exactPhrases []string

	// contextual words are matched as whole words; enhancers and
	// suppressors scale their combined contribution.
	contextual  []string
	enhancers   []string
	suppressors []string

	// domain words contribute logarithmically in their hit count.
	domain []string
}

var vocabularies = map[Mode]vocabulary{
	ModeTalk: {
		exactPhrases: []string{
			"i need to talk", "can we talk", "i just want to vent",
			"i feel like", "nobody understands", "listen to me",
			"i had a rough", "i miss",
		},
		contextual: []string{
			"feel", "feeling", "feelings", "lonely", "relationship",
			"friend", "family", "worried", "sad", "happy", "tired",
			"stressed", "anxious", "hurt",
		},
		enhancers:   []string{"really", "so", "very", "terribly"},
		suppressors: []string{"code", "function", "install", "formula"},
		domain: []string{
			"mother", "father", "partner", "breakup", "wedding", "funeral",
			"birthday", "childhood", "dream", "argument",
		},
	},
	ModeExpert: {
		exactPhrases: []string{
			"how do i", "how does", "what is the", "explain to me",
			"help me understand", "step by step", "what's the difference",
			"can you explain",
		},
		contextual: []string{
			"explain", "difference", "compare", "define", "mean", "work",
			"works", "cause", "reason", "correct", "true",
		},
		enhancers:   []string{"exactly", "precisely", "technically"},
		suppressors: []string{"story", "pretend", "imagine"},
		domain: []string{
			"code", "function", "error", "database", "algorithm", "server",
			"tax", "law", "contract", "medical", "symptom", "install",
			"configure", "formula", "equation", "protocol",
		},
	},
	ModeCreative: {
		exactPhrases: []string{
			"write a story", "tell me a story", "write a poem",
			"let's imagine", "let's pretend", "role play", "make up a",
			"once upon a time",
		},
		contextual: []string{
			"story", "imagine", "poem", "character", "plot", "world",
			"magic", "invent", "pretend", "fantasy", "paint", "compose",
		},
		enhancers:   []string{"wild", "crazy", "original"},
		suppressors: []string{"explain", "exactly", "correct"},
		domain: []string{
			"dragon", "wizard", "spaceship", "kingdom", "villain", "hero",
			"verse", "rhyme", "lyrics", "scene", "chapter",
		},
	},
}

package generate

import (
	"github.com/MrWong99/solace/internal/mode"
	"github.com/MrWong99/solace/pkg/provider/llm"
)

// SamplingParams is the fixed sampling profile of one generation mode.
type SamplingParams struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
}

// modeParams maps each generation mode to its sampling profile. Talk runs
// warm, expert runs cold and long, creative runs hot.
var modeParams = map[mode.Mode]SamplingParams{
	mode.ModeTalk: {
		Temperature:      0.9,
		TopP:             0.95,
		MaxTokens:        600,
		FrequencyPenalty: 0.3,
		PresencePenalty:  0.4,
	},
	mode.ModeExpert: {
		Temperature: 0.3,
		TopP:        0.9,
		MaxTokens:   1000,
	},
	mode.ModeCreative: {
		Temperature:      1.1,
		TopP:             0.98,
		MaxTokens:        1200,
		FrequencyPenalty: 0.5,
		PresencePenalty:  0.7,
	},
	mode.ModeBase: {
		Temperature:      0.7,
		TopP:             0.95,
		MaxTokens:        700,
		FrequencyPenalty: 0.2,
		PresencePenalty:  0.2,
	},
}

// ParamsFor returns the sampling profile for m, falling back to the base
// profile for unknown modes.
func ParamsFor(m mode.Mode) SamplingParams {
	if p, ok := modeParams[m]; ok {
		return p
	}
	return modeParams[mode.ModeBase]
}

// modePrompts are the per-mode system prompt fragments prepended to the
// personality-derived prompt.
var modePrompts = map[mode.Mode]string{
	mode.ModeTalk:     "Hold a warm, attentive conversation. Follow the user's emotional thread and answer as a close companion would.",
	mode.ModeExpert:   "Answer factually and structured. Be precise, cite the reasoning behind claims, and say so when unsure.",
	mode.ModeCreative: "Co-create freely. Take imaginative risks, build vivid scenes, and keep the user's ideas at the centre.",
	mode.ModeBase:     "Respond naturally and helpfully.",
}

// apply stamps the sampling profile onto req.
func (p SamplingParams) apply(req *llm.CompletionRequest) {
	req.Temperature = p.Temperature
	req.TopP = p.TopP
	req.MaxTokens = p.MaxTokens
	req.FrequencyPenalty = p.FrequencyPenalty
	req.PresencePenalty = p.PresencePenalty
}

package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/mode"
	"github.com/MrWong99/solace/pkg/provider/llm"
)

// promptInput is everything a GenerateResponse payload contributes to the
// model request.
type promptInput struct {
	userText string
	mode     mode.Mode
	context  []llm.Message
	memories []string
	profile  map[string]float64
	emotions []string
}

// promptInputFromPayload decodes the orchestrator's payload shape.
func promptInputFromPayload(payload map[string]any) promptInput {
	in := promptInput{
		userText: actor.PayloadString(payload, "text"),
		mode:     mode.Mode(actor.PayloadString(payload, "mode")),
		memories: actor.PayloadStrings(payload, "memories"),
		profile:  actor.PayloadFloatMap(payload, "profile"),
		emotions: actor.PayloadStrings(payload, "emotions"),
	}
	if !in.mode.IsValid() {
		in.mode = mode.ModeBase
	}
	for _, item := range actor.PayloadSlice(payload, "context") {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role := actor.PayloadString(entry, "role")
		content := actor.PayloadString(entry, "content")
		if role == "" || content == "" {
			continue
		}
		in.context = append(in.context, llm.Message{Role: role, Content: content})
	}
	return in
}

// buildRequest assembles the model request: mode prompt plus personality and
// memory context in the system prompt, conversation history as messages, the
// current user text last.
func buildRequest(in promptInput) llm.CompletionRequest {
	var req llm.CompletionRequest
	ParamsFor(in.mode).apply(&req)
	req.SystemPrompt = systemPrompt(in)

	req.Messages = append(req.Messages, in.context...)
	if in.userText != "" {
		req.Messages = append(req.Messages, llm.Message{Role: "user", Content: in.userText})
	}
	return req
}

func systemPrompt(in promptInput) string {
	var b strings.Builder
	b.WriteString(modePrompts[in.mode])

	if len(in.profile) > 0 {
		b.WriteString("\n\nYour current trait expression (0 = absent, 1 = defining):")
		for _, trait := range sortedKeys(in.profile) {
			fmt.Fprintf(&b, "\n- %s: %.2f", trait, in.profile[trait])
		}
	}
	if len(in.memories) > 0 {
		b.WriteString("\n\nWhat you remember about this user:")
		for _, memory := range in.memories {
			b.WriteString("\n- ")
			b.WriteString(memory)
		}
	}
	if len(in.emotions) > 0 {
		fmt.Fprintf(&b, "\n\nThe user's message reads as: %s.", strings.Join(in.emotions, ", "))
	}
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

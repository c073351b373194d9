package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/observe"
	"github.com/MrWong99/solace/internal/resilience"
	"github.com/MrWong99/solace/pkg/provider/llm"
)

// ActorID is the runtime id of the generation actor.
const ActorID = "generation"

// Options tunes the generation actor beyond the per-mode sampling profiles.
type Options struct {
	// JSONFallback re-issues a structured request in plain-text mode when
	// the model returned syntactically broken JSON.
	JSONFallback bool

	// StreamChunks forwards incremental chunks to the requester while the
	// completion runs.
	StreamChunks bool
}

// Actor turns GenerateResponse requests into LLM completions. The provider
// call runs behind a circuit breaker; an open breaker fails the request
// immediately instead of queueing load onto a struggling backend.
type Actor struct {
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
	sender   actor.Sender
	events   actor.EventSink
	metrics  *observe.Metrics
	opts     Options
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the generation actor. breaker, events and metrics may be
// nil; a nil breaker disables circuit breaking.
func NewActor(provider llm.Provider, breaker *resilience.CircuitBreaker, sender actor.Sender, events actor.EventSink, metrics *observe.Metrics, opts Options) *Actor {
	return &Actor{
		provider: provider,
		breaker:  breaker,
		sender:   sender,
		events:   events,
		metrics:  metrics,
		opts:     opts,
	}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgGenerateResponse:
		return a.handleGenerate(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("generate: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleGenerate(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	requestID := actor.PayloadString(msg.Payload, "request_id")

	in := promptInputFromPayload(msg.Payload)
	req := buildRequest(in)
	if len(req.Messages) == 0 {
		return a.nack(ctx, msg, "empty request")
	}
	wantJSON := actor.PayloadString(msg.Payload, "format") == "json"
	if wantJSON {
		req.Format = llm.FormatJSON
	}

	start := time.Now()
	content, finishReason, usage, err := a.complete(ctx, msg, req)
	a.recordDuration(ctx, start)
	if err != nil {
		a.recordProviderError(ctx, "complete")
		slog.Error("generate: completion failed",
			"user_id", userID, "mode", in.mode, "error", err)
		return a.reply(ctx, msg, actor.MsgGenerationFailed, map[string]any{
			"user_id":    userID,
			"error":      err.Error(),
			"open":       errors.Is(err, resilience.ErrCircuitOpen),
			"request_id": requestID,
		})
	}

	if wantJSON && !validJSONObject(content) {
		a.emit(ctx, eventstore.GenerationStream(userID), eventstore.TypeJSONValidationFailed, map[string]any{
			"user_id":  userID,
			"model":    a.provider.ModelID(),
			"fallback": a.opts.JSONFallback,
		})
		if a.opts.JSONFallback {
			// Re-issue once without the format constraint; raw text beats
			// no answer.
			req.Format = llm.FormatText
			start = time.Now()
			content, finishReason, usage, err = a.complete(ctx, msg, req)
			a.recordDuration(ctx, start)
			if err != nil {
				a.recordProviderError(ctx, "json_fallback")
				return a.reply(ctx, msg, actor.MsgGenerationFailed, map[string]any{
					"user_id":    userID,
					"error":      err.Error(),
					"request_id": requestID,
				})
			}
			wantJSON = false
		}
	}

	if usage != nil {
		a.emit(ctx, eventstore.GenerationStream(userID), eventstore.TypeCacheHitMetric, map[string]any{
			"user_id":                  userID,
			"model":                    a.provider.ModelID(),
			"prompt_tokens":            usage.PromptTokens,
			"completion_tokens":        usage.CompletionTokens,
			"prompt_cache_hit_tokens":  usage.PromptCacheHitTokens,
			"prompt_cache_miss_tokens": usage.PromptCacheMissTokens,
		})
	}

	payload := map[string]any{
		"user_id":       userID,
		"content":       content,
		"mode":          string(in.mode),
		"finish_reason": finishReason,
		"is_json":       wantJSON,
		"request_id":    requestID,
	}
	if usage != nil {
		payload["total_tokens"] = usage.TotalTokens
	}
	return a.reply(ctx, msg, actor.MsgGenerationComplete, payload)
}

// complete runs one model call behind the breaker, streaming when enabled.
func (a *Actor) complete(ctx context.Context, msg actor.Message, req llm.CompletionRequest) (content, finishReason string, usage *llm.Usage, err error) {
	run := func() error {
		if a.opts.StreamChunks && msg.ReplyTo != "" {
			content, finishReason, usage, err = a.stream(ctx, msg, req)
			return err
		}
		resp, cerr := a.provider.Complete(ctx, req)
		if cerr != nil {
			return cerr
		}
		content, finishReason, usage = resp.Content, resp.FinishReason, &resp.Usage
		return nil
	}

	if a.breaker == nil {
		err = run()
	} else {
		err = a.breaker.Execute(run)
	}
	if err != nil {
		return "", "", nil, err
	}
	return content, finishReason, usage, nil
}

// stream consumes a streaming completion, forwarding each text chunk to the
// requester as it arrives.
func (a *Actor) stream(ctx context.Context, msg actor.Message, req llm.CompletionRequest) (string, string, *llm.Usage, error) {
	ch, err := a.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", "", nil, err
	}

	var b strings.Builder
	finishReason := ""
	var usage *llm.Usage
	for chunk := range ch {
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			out := actor.NewMessage(actor.MsgStreamChunk, map[string]any{
				"user_id":    actor.PayloadString(msg.Payload, "user_id"),
				"text":       chunk.Text,
				"request_id": actor.PayloadString(msg.Payload, "request_id"),
			})
			out.SenderID = ActorID
			if serr := a.sender.Send(ctx, msg.ReplyTo, out); serr != nil {
				slog.Warn("generate: chunk forward failed", "error", serr)
			}
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if err := ctx.Err(); err != nil {
		return "", "", nil, err
	}
	if finishReason == "error" {
		return "", "", nil, fmt.Errorf("generate: stream ended with error finish")
	}
	return b.String(), finishReason, usage, nil
}

// validJSONObject reports whether content parses as a JSON object.
func validJSONObject(content string) bool {
	var out map[string]any
	return json.Unmarshal([]byte(strings.TrimSpace(content)), &out) == nil
}

func (a *Actor) recordDuration(ctx context.Context, start time.Time) {
	if a.metrics == nil || a.metrics.LLMDuration == nil {
		return
	}
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
}

func (a *Actor) recordProviderError(ctx context.Context, kind string) {
	if a.metrics == nil || a.metrics.ProviderErrors == nil {
		return
	}
	a.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", a.provider.ModelID()),
		attribute.String("kind", kind),
	))
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("generate: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("generate: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
	return a.reply(ctx, msg, actor.MsgNack, map[string]any{
		"reason":     reason,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) emit(ctx context.Context, streamID, eventType string, payload map[string]any) {
	if a.events == nil {
		return
	}
	if _, err := a.events.Emit(ctx, streamID, eventType, payload); err != nil {
		slog.Warn("generate: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}

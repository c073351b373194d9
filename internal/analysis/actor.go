package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/partner"
	"github.com/MrWong99/solace/internal/personality"
	"github.com/MrWong99/solace/internal/stm"
)

// ActorID is the runtime id of the analysis actor.
const ActorID = "analysis"

// recommendationFloor is the minimum dominant style score that produces a
// mode recommendation; below it the analysis stays inconclusive.
const recommendationFloor = 0.55

// Actor runs the style and trait analyzers on message windows handed over by
// the orchestrator and routes the results to the partner model and
// personality actors. Analysis is advisory; failures are logged and never
// propagate back into the conversation path.
type Actor struct {
	sender actor.Sender
	events actor.EventSink
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the analysis actor. events may be nil.
func NewActor(sender actor.Sender, events actor.EventSink) *Actor {
	return &Actor{sender: sender, events: events}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgRunAnalysis:
		return a.handleRun(ctx, msg)
	case actor.MsgAnalyzeStyle:
		return a.handleStyle(ctx, msg)
	case actor.MsgAnalyzeTraits:
		return a.handleTraits(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("analysis: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleStyle(ctx context.Context, msg actor.Message) error {
	rows := rowsFromPayload(msg.Payload)
	result := AnalyzeStyle(rows)
	return a.reply(ctx, msg, actor.MsgStyleAnalyzed, map[string]any{
		"style":             result.Style.Map(),
		"confidence":        result.Confidence,
		"messages_analyzed": result.MessagesAnalyzed,
		"request_id":        actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) handleTraits(ctx context.Context, msg actor.Message) error {
	rows := rowsFromPayload(msg.Payload)
	detections := DetectTraits(rows,
		actor.PayloadString(msg.Payload, "mode"),
		actor.PayloadStrings(msg.Payload, "emotions"))
	return a.reply(ctx, msg, actor.MsgTraitsAnalyzed, map[string]any{
		"traits":     detectionPayload(detections),
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

// handleRun is the periodic full pass: style analysis feeds the partner
// model, trait detections ride along as manifestations, and the observed
// style nudges personality modifiers.
func (a *Actor) handleRun(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	rows := rowsFromPayload(msg.Payload)
	mode := actor.PayloadString(msg.Payload, "mode")
	emotions := actor.PayloadStrings(msg.Payload, "emotions")

	style := AnalyzeStyle(rows)
	detections := DetectTraits(rows, mode, emotions)

	update := actor.NewMessage(actor.MsgUpdatePartnerModel, map[string]any{
		"user_id":           userID,
		"style":             style.Style.Map(),
		"recommended_mode":  recommendMode(style),
		"mode_confidence":   style.Confidence,
		"messages_analyzed": style.MessagesAnalyzed,
		"traits":            detectionPayload(detections),
		"request_id":        actor.PayloadString(msg.Payload, "request_id"),
	})
	update.SenderID = ActorID
	if err := a.sender.Send(ctx, partner.ActorID, update); err != nil {
		slog.Warn("analysis: partner update failed", "user_id", userID, "error", err)
	}

	adapt := actor.NewMessage(actor.MsgAdaptPersonality, map[string]any{
		"user_id":       userID,
		"modifier_type": string(personality.ModifierStyle),
		"modifier_data": styleModifiers(style.Style),
	})
	adapt.SenderID = ActorID
	if err := a.sender.Send(ctx, personality.ActorID, adapt); err != nil {
		slog.Warn("analysis: personality update failed", "user_id", userID, "error", err)
	}

	a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeModeDetected, map[string]any{
		"user_id":          userID,
		"source":           "analysis",
		"recommended_mode": recommendMode(style),
		"mode_confidence":  style.Confidence,
		"traits_detected":  len(detections),
	})

	return a.reply(ctx, msg, actor.MsgAnalysisComplete, map[string]any{
		"user_id":           userID,
		"style":             style.Style.Map(),
		"confidence":        style.Confidence,
		"messages_analyzed": style.MessagesAnalyzed,
		"traits_detected":   len(detections),
		"request_id":        actor.PayloadString(msg.Payload, "request_id"),
	})
}

// recommendMode maps the dominant style dimension to a generation mode, or
// returns empty when no dimension stands out.
func recommendMode(result StyleResult) string {
	best, bestScore := -1, recommendationFloor
	for d, score := range result.Style {
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	switch best {
	case partner.StylePlayfulness, partner.StyleEmotionality:
		return "talk"
	case partner.StyleSeriousness:
		return "expert"
	case partner.StyleCreativity:
		return "creative"
	default:
		return ""
	}
}

// styleModifiers converts the observed user style into trait modifiers in
// [0.5,1.5]: a strongly playful user amplifies the bot's playful traits, and
// so on.
func styleModifiers(style partner.StyleVector) map[string]float64 {
	return map[string]float64{
		"playfulness":    0.5 + style[partner.StylePlayfulness],
		"humor":          0.5 + style[partner.StylePlayfulness],
		"reflectiveness": 0.5 + style[partner.StyleSeriousness],
		"assertiveness":  0.5 + style[partner.StyleSeriousness],
		"empathy":        0.5 + style[partner.StyleEmotionality],
		"warmth":         0.5 + style[partner.StyleEmotionality],
		"curiosity":      0.5 + style[partner.StyleCreativity],
	}
}

// rowsFromPayload rebuilds a message window from the wire shape produced by
// the STM text context format.
func rowsFromPayload(payload map[string]any) []stm.Row {
	raw := actor.PayloadSlice(payload, "messages")
	rows := make([]stm.Row, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind := stm.MessageKind(actor.PayloadString(entry, "type"))
		if !kind.IsValid() {
			continue
		}
		rows = append(rows, stm.Row{
			Kind:    kind,
			Content: actor.PayloadString(entry, "content"),
		})
	}
	return rows
}

func detectionPayload(detections []Detection) []any {
	out := make([]any, 0, len(detections))
	for _, d := range detections {
		out = append(out, map[string]any{
			"trait":    d.Trait,
			"strength": d.Strength,
			"mode":     d.Mode,
		})
	}
	return out
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("analysis: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("analysis: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
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
		slog.Warn("analysis: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}

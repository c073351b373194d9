// Package limits enforces the per-user daily message quota. The counter
// lives in the distributed cache keyed by UTC day, so every process sharing
// the redis instance sees the same count and the key expires on its own at
// midnight.
package limits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/cache"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/observe"
)

// ActorID is the runtime id of the limits actor.
const ActorID = "limits"

// Actor answers CheckLimit requests against the daily quota. A cache failure
// degrades to allowing the message; losing a day of quota enforcement is
// cheaper than refusing every user.
type Actor struct {
	cfg     config.LimitsConfig
	cache   cache.Cache
	sender  actor.Sender
	events  actor.EventSink
	metrics *observe.Metrics

	// now is injectable for deterministic day-boundary tests.
	now func() time.Time
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the limits actor. events and metrics may be nil.
func NewActor(cfg config.LimitsConfig, c cache.Cache, sender actor.Sender, events actor.EventSink, metrics *observe.Metrics) *Actor {
	return &Actor{
		cfg:     cfg,
		cache:   c,
		sender:  sender,
		events:  events,
		metrics: metrics,
		now:     time.Now,
	}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgCheckLimit:
		return a.handleCheck(ctx, msg)
	case actor.MsgResetLimits:
		return a.handleReset(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("limits: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleCheck(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	requestID := actor.PayloadString(msg.Payload, "request_id")

	if a.cfg.DailyMessages <= 0 {
		return a.reply(ctx, msg, actor.MsgLimitResponse, map[string]any{
			"user_id":     userID,
			"allowed":     true,
			"approaching": false,
			"remaining":   -1,
			"request_id":  requestID,
		})
	}

	now := a.now().UTC()
	count, err := a.cache.Incr(ctx, a.quotaKey(userID, now), untilMidnight(now))
	if err != nil {
		// Degraded: quota bookkeeping must never block the conversation.
		slog.Warn("limits: counter unavailable, allowing", "user_id", userID, "error", err)
		return a.reply(ctx, msg, actor.MsgLimitResponse, map[string]any{
			"user_id":     userID,
			"allowed":     true,
			"approaching": false,
			"remaining":   -1,
			"degraded":    true,
			"request_id":  requestID,
		})
	}

	limit := int64(a.cfg.DailyMessages)
	allowed := count <= limit
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	approaching := allowed && float64(count) >= a.cfg.WarningThreshold*float64(limit)

	if !allowed {
		if a.metrics != nil && a.metrics.LimitRejections != nil {
			a.metrics.LimitRejections.Add(ctx, 1)
		}
		a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeLimitExceeded, map[string]any{
			"user_id": userID,
			"count":   count,
			"limit":   limit,
		})
	}

	return a.reply(ctx, msg, actor.MsgLimitResponse, map[string]any{
		"user_id":     userID,
		"allowed":     allowed,
		"approaching": approaching,
		"remaining":   remaining,
		"request_id":  requestID,
	})
}

func (a *Actor) handleReset(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	if err := a.cache.Delete(ctx, a.quotaKey(userID, a.now().UTC())); err != nil {
		return fmt.Errorf("limits: reset %s: %w", userID, err)
	}
	return a.reply(ctx, msg, actor.MsgAck, map[string]any{
		"user_id":    userID,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) quotaKey(userID string, now time.Time) string {
	return "limits:user:" + userID + ":" + now.Format("2006-01-02")
}

// untilMidnight returns the duration to the next UTC midnight, the natural
// expiry of a daily counter.
func untilMidnight(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Sub(now)
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("limits: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("limits: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
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
		slog.Warn("limits: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}

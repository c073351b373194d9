// Package actor implements the message-passing runtime the Solace components
// run on: bounded FIFO mailboxes, one consumer goroutine per actor, retrying
// delivery guarded by per-recipient circuit breakers, and a dead-letter queue
// for messages that could not be delivered.
//
// Ordering is per-mailbox FIFO only; nothing is guaranteed across actors.
// A handler is never invoked concurrently with itself.
package actor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageType tags every message with its semantic kind. The enumeration is
// closed: handlers switch over these values and treat anything else as a
// protocol error.
type MessageType string

// Session and orchestration.
const (
	MsgUserMessage         MessageType = "UserMessage"
	MsgBotResponse         MessageType = "BotResponse"
	MsgSessionCreated      MessageType = "SessionCreated"
	MsgSessionClosed       MessageType = "SessionClosed"
	MsgGetSessionInfo      MessageType = "GetSessionInfo"
	MsgSessionInfoResponse MessageType = "SessionInfoResponse"
	MsgSessionJanitorTick  MessageType = "SessionJanitorTick"
)

// Rate limiting.
const (
	MsgCheckLimit           MessageType = "CheckLimit"
	MsgLimitResponse        MessageType = "LimitResponse"
	MsgLimitWarning         MessageType = "LimitWarning"
	MsgSubscriptionExpiring MessageType = "SubscriptionExpiring"
	MsgResetLimits          MessageType = "ResetLimits"
)

// Short-term memory.
const (
	MsgStoreMemory     MessageType = "StoreMemory"
	MsgMemoryStored    MessageType = "MemoryStored"
	MsgGetContext      MessageType = "GetContext"
	MsgContextResponse MessageType = "ContextResponse"
	MsgClearUserMemory MessageType = "ClearUserMemory"
	MsgMemoryCleared   MessageType = "MemoryCleared"
)

// Long-term memory.
const (
	MsgEvaluateMemory     MessageType = "EvaluateMemory"
	MsgGetLtmMemory       MessageType = "GetLtmMemory"
	MsgLtmResponse        MessageType = "LtmResponse"
	MsgLtmSaved           MessageType = "LtmSaved"
	MsgLtmRejected        MessageType = "LtmRejected"
	MsgGetLtmProfile      MessageType = "GetLtmProfile"
	MsgLtmProfileResponse MessageType = "LtmProfileResponse"
)

// Embeddings.
const (
	MsgGenerateEmbedding MessageType = "GenerateEmbedding"
	MsgEmbeddingResponse MessageType = "EmbeddingResponse"
	MsgEmbeddingFailed   MessageType = "EmbeddingFailed"
)

// Partner model.
const (
	MsgGetPartnerModel      MessageType = "GetPartnerModel"
	MsgPartnerModelResponse MessageType = "PartnerModelResponse"
	MsgUpdatePartnerModel   MessageType = "UpdatePartnerModel"
	MsgPartnerModelUpdated  MessageType = "PartnerModelUpdated"
)

// Personality.
const (
	MsgGetPersonalityProfile      MessageType = "GetPersonalityProfile"
	MsgPersonalityProfileResponse MessageType = "PersonalityProfileResponse"
	MsgAdaptPersonality           MessageType = "AdaptPersonality"
	MsgPersonalityAdapted         MessageType = "PersonalityAdapted"
	MsgGetResonance               MessageType = "GetResonance"
	MsgResonanceResponse          MessageType = "ResonanceResponse"
)

// Emotion classification.
const (
	MsgAnalyzeEmotion  MessageType = "AnalyzeEmotion"
	MsgEmotionResponse MessageType = "EmotionResponse"
	MsgEmotionFailed   MessageType = "EmotionFailed"
)

// Mode detection.
const (
	MsgDetectMode   MessageType = "DetectMode"
	MsgModeDetected MessageType = "ModeDetected"
)

// Generation.
const (
	MsgGenerateResponse   MessageType = "GenerateResponse"
	MsgGenerationComplete MessageType = "GenerationComplete"
	MsgGenerationFailed   MessageType = "GenerationFailed"
	MsgStreamChunk        MessageType = "StreamChunk"
)

// Style and trait analysis.
const (
	MsgRunAnalysis      MessageType = "RunAnalysis"
	MsgAnalyzeStyle     MessageType = "AnalyzeStyle"
	MsgStyleAnalyzed    MessageType = "StyleAnalyzed"
	MsgAnalyzeTraits    MessageType = "AnalyzeTraits"
	MsgTraitsAnalyzed   MessageType = "TraitsAnalyzed"
	MsgAnalysisComplete MessageType = "AnalysisComplete"
)

// Storage and caching.
const (
	MsgPersistEvent     MessageType = "PersistEvent"
	MsgEventPersisted   MessageType = "EventPersisted"
	MsgArchiveNow       MessageType = "ArchiveNow"
	MsgArchiveComplete  MessageType = "ArchiveComplete"
	MsgInvalidateCache  MessageType = "InvalidateCache"
	MsgCacheInvalidated MessageType = "CacheInvalidated"
	MsgFlushBuffers     MessageType = "FlushBuffers"
	MsgCleanup          MessageType = "Cleanup"
)

// Control plane.
const (
	MsgShutdown       MessageType = "Shutdown"
	MsgPing           MessageType = "Ping"
	MsgPong           MessageType = "Pong"
	MsgHealthCheck    MessageType = "HealthCheck"
	MsgHealthResponse MessageType = "HealthResponse"
	MsgAck            MessageType = "Ack"
	MsgNack           MessageType = "Nack"
	MsgErrorResponse  MessageType = "ErrorResponse"
	MsgTimeout        MessageType = "Timeout"
)

// Message is the unit of communication between actors. Payloads carry value
// copies only; actors never share mutable state.
type Message struct {
	// ID uniquely identifies the message.
	ID string

	// SenderID names the originating actor. Empty for external inputs.
	SenderID string

	// Type is the semantic tag handlers dispatch on.
	Type MessageType

	// Payload is the structured message body.
	Payload map[string]any

	// Timestamp is when the message was created.
	Timestamp time.Time

	// ReplyTo names the actor a response should be routed to, when the
	// sender expects one.
	ReplyTo string
}

// NewMessage constructs a Message with a fresh id and timestamp.
func NewMessage(msgType MessageType, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Actor is the contract a component implements to join the runtime.
//
// Receive is invoked from the actor's single consumer goroutine, never
// concurrently with itself. Returning an error logs the failure and keeps the
// actor running; it does not crash the loop.
type Actor interface {
	// ID returns the stable actor id used for addressing.
	ID() string

	// Receive handles one message.
	Receive(ctx context.Context, msg Message) error
}

// Lifecycle states of a registered actor.
type State int32

const (
	StateRegistered State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

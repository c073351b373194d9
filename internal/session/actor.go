package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/analysis"
	"github.com/MrWong99/solace/internal/embed"
	"github.com/MrWong99/solace/internal/emotion"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/generate"
	"github.com/MrWong99/solace/internal/limits"
	"github.com/MrWong99/solace/internal/ltm"
	"github.com/MrWong99/solace/internal/mode"
	"github.com/MrWong99/solace/internal/observe"
	"github.com/MrWong99/solace/internal/partner"
	"github.com/MrWong99/solace/internal/personality"
	"github.com/MrWong99/solace/internal/stm"
)

// ActorID is the runtime id of the session orchestrator.
const ActorID = "session"

// Config tunes the orchestrator. Zero values fall back to the defaults
// below.
type Config struct {
	// ComponentTimeout is the soft deadline for optional collaborators
	// (personality, partner, embedding, memory search). After it passes,
	// a turn proceeds without the missing pieces.
	ComponentTimeout time.Duration

	// PendingTTL is the hard lifetime of an in-flight turn. The janitor
	// expires older ones and notifies the origin.
	PendingTTL time.Duration

	// SessionTTL is how long an idle session survives before the janitor
	// drops it.
	SessionTTL time.Duration

	// AnalysisInterval triggers a background style and trait analysis
	// every n-th user message. Zero disables the cadence.
	AnalysisInterval int

	// AnalysisWindow is how many recent messages the analysis reads.
	AnalysisWindow int

	// ContextLimit caps the short-term rows fetched per turn. Zero uses
	// the short-term store's default.
	ContextLimit int

	// ModeHistoryLimit bounds the per-session mode history.
	ModeHistoryLimit int
}

const (
	defaultComponentTimeout = 2 * time.Second
	defaultPendingTTL       = 30 * time.Second
	defaultSessionTTL       = 30 * time.Minute
	defaultAnalysisWindow   = 50
	defaultModeHistoryLimit = 20

	// cacheLookupWindow bounds the per-session cache-outcome window.
	cacheLookupWindow = 50
)

func (c Config) withDefaults() Config {
	if c.ComponentTimeout <= 0 {
		c.ComponentTimeout = defaultComponentTimeout
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = defaultPendingTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = defaultAnalysisWindow
	}
	if c.ModeHistoryLimit <= 0 {
		c.ModeHistoryLimit = defaultModeHistoryLimit
	}
	return c
}

// analysisJob tracks one background analysis waiting for its context window.
type analysisJob struct {
	userID   string
	mode     string
	emotions []string
	started  time.Time
}

// Actor orchestrates user turns across the other actors. All state is owned
// by the mailbox goroutine; no locking.
type Actor struct {
	cfg      Config
	detector *mode.Detector
	sender   actor.Sender
	events   actor.EventSink
	metrics  *observe.Metrics

	sessions map[string]*Session
	pending  map[string]*pendingRequest
	analysis map[string]analysisJob

	// now is swappable for tests.
	now func() time.Time
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the orchestrator. events and metrics may be nil.
func NewActor(cfg Config, detector *mode.Detector, sender actor.Sender, events actor.EventSink, metrics *observe.Metrics) *Actor {
	return &Actor{
		cfg:      cfg.withDefaults(),
		detector: detector,
		sender:   sender,
		events:   events,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingRequest),
		analysis: make(map[string]analysisJob),
		now:      time.Now,
	}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgUserMessage:
		return a.handleUserMessage(ctx, msg)
	case actor.MsgLimitResponse:
		return a.handleLimitResponse(ctx, msg)
	case actor.MsgContextResponse:
		return a.handleContextResponse(ctx, msg)
	case actor.MsgEmbeddingResponse:
		return a.handleEmbeddingResponse(ctx, msg)
	case actor.MsgEmbeddingFailed:
		return a.handleEmbeddingFailed(ctx, msg)
	case actor.MsgLtmResponse:
		return a.handleLtmResponse(ctx, msg)
	case actor.MsgPartnerModelResponse:
		return a.handlePartnerResponse(ctx, msg)
	case actor.MsgPersonalityProfileResponse:
		return a.handlePersonalityResponse(ctx, msg)
	case actor.MsgEmotionResponse:
		return a.handleEmotionResponse(ctx, msg)
	case actor.MsgEmotionFailed:
		return a.handleEmotionFailed(ctx, msg)
	case actor.MsgGenerationComplete:
		return a.handleGenerationComplete(ctx, msg)
	case actor.MsgGenerationFailed:
		return a.handleGenerationFailed(ctx, msg)
	case actor.MsgStreamChunk:
		return a.handleStreamChunk(ctx, msg)
	case actor.MsgSessionJanitorTick:
		return a.handleJanitorTick(ctx)
	case actor.MsgGetSessionInfo:
		return a.handleSessionInfo(ctx, msg)
	case actor.MsgSessionClosed:
		return a.handleSessionClosed(ctx, msg)
	case actor.MsgNack:
		return a.handleNack(ctx, msg)
	case actor.MsgAck, actor.MsgLtmSaved, actor.MsgLtmRejected, actor.MsgMemoryStored, actor.MsgAnalysisComplete:
		// Fire-and-forget acknowledgements.
		return nil
	case actor.MsgPing:
		return a.reply(ctx, msg.ReplyTo, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("session: unhandled message type %q", msg.Type)
	}
}

// ─── Turn pipeline ──────────────────────────────────────────────────────────

func (a *Actor) handleUserMessage(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	text := actor.PayloadString(msg.Payload, "text")
	if userID == "" || text == "" {
		return a.nack(ctx, msg, "user_id and text required")
	}

	now := a.now()
	sess := a.sessionFor(ctx, userID, actor.PayloadString(msg.Payload, "username"), now)
	sess.MessageCount++
	sess.LastActivity = now
	sess.LastUserText = text

	requestID := actor.PayloadString(msg.Payload, "request_id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	origin := msg.ReplyTo
	if origin == "" {
		origin = msg.SenderID
	}

	p := &pendingRequest{
		requestID: requestID,
		userID:    userID,
		chatID:    actor.PayloadString(msg.Payload, "chat_id"),
		text:      text,
		origin:    origin,
		createdAt: now,
		deadline:  now.Add(a.cfg.ComponentTimeout),
	}
	a.pending[requestID] = p

	if err := a.ask(ctx, limits.ActorID, actor.MsgCheckLimit, map[string]any{
		"user_id":    userID,
		"request_id": requestID,
	}); err != nil {
		// No limiter registered: allow and move on.
		slog.Warn("session: limit check unavailable", "user_id", userID, "error", err)
		p.limitChecked = true
		a.fanOut(ctx, p)
	}
	return nil
}

func (a *Actor) handleLimitResponse(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	if !actor.PayloadBool(msg.Payload, "allowed") {
		a.forward(ctx, p, actor.MsgLimitResponse, map[string]any{
			"user_id":    p.userID,
			"chat_id":    p.chatID,
			"allowed":    false,
			"remaining":  actor.PayloadInt(msg.Payload, "remaining", 0),
			"limit":      actor.PayloadInt(msg.Payload, "limit", 0),
			"request_id": p.requestID,
		})
		delete(a.pending, p.requestID)
		return nil
	}
	expiring := actor.PayloadBool(msg.Payload, "subscription_expiring")
	if actor.PayloadBool(msg.Payload, "approaching") || expiring {
		a.forward(ctx, p, actor.MsgLimitWarning, map[string]any{
			"user_id":               p.userID,
			"chat_id":               p.chatID,
			"remaining":             actor.PayloadInt(msg.Payload, "remaining", 0),
			"subscription_expiring": expiring,
			"request_id":            p.requestID,
		})
	}
	p.limitChecked = true
	a.fanOut(ctx, p)
	return nil
}

// fanOut asks every collaborator for its slice of the turn context. The
// context fetch is queued before the user turn is stored, so the retrieved
// window never contains the message being answered.
func (a *Actor) fanOut(ctx context.Context, p *pendingRequest) {
	p.deadline = a.now().Add(a.cfg.ComponentTimeout)

	if err := a.ask(ctx, stm.ActorID, actor.MsgGetContext, map[string]any{
		"user_id":    p.userID,
		"limit":      a.cfg.ContextLimit,
		"format":     "structured",
		"request_id": p.requestID,
	}); err != nil {
		slog.Warn("session: context fetch unavailable", "user_id", p.userID, "error", err)
		p.stmDone = true
	}
	a.tell(ctx, stm.ActorID, actor.MsgStoreMemory, map[string]any{
		"user_id":      p.userID,
		"message_type": "user",
		"content":      p.text,
	})

	if err := a.ask(ctx, embed.ActorID, actor.MsgGenerateEmbedding, map[string]any{
		"user_id":    p.userID,
		"text":       p.text,
		"request_id": p.requestID,
	}); err == nil {
		p.embeddingAsked = true
	} else {
		p.embeddingDone = true
		a.searchMemories(ctx, p, nil)
	}

	if err := a.ask(ctx, partner.ActorID, actor.MsgGetPartnerModel, map[string]any{
		"user_id":    p.userID,
		"request_id": p.requestID,
	}); err != nil {
		p.partnerDone = true
	}
	if err := a.ask(ctx, personality.ActorID, actor.MsgGetPersonalityProfile, map[string]any{
		"user_id":    p.userID,
		"request_id": p.requestID,
	}); err != nil {
		p.personalityDone = true
	}
	if err := a.ask(ctx, emotion.ActorID, actor.MsgAnalyzeEmotion, map[string]any{
		"user_id":    p.userID,
		"text":       p.text,
		"request_id": p.requestID,
	}); err != nil {
		p.emotionDone = true
	}
	a.tryFinish(ctx, p)
}

func (a *Actor) handleContextResponse(ctx context.Context, msg actor.Message) error {
	requestID := actor.PayloadString(msg.Payload, "request_id")
	if job, ok := a.analysis[requestID]; ok {
		delete(a.analysis, requestID)
		a.tell(ctx, analysis.ActorID, actor.MsgRunAnalysis, map[string]any{
			"user_id":  job.userID,
			"messages": actor.PayloadSlice(msg.Payload, "messages"),
			"mode":     job.mode,
			"emotions": job.emotions,
		})
		return nil
	}

	p, ok := a.pending[requestID]
	if !ok {
		return nil
	}
	p.context = actor.PayloadSlice(msg.Payload, "messages")
	p.stmDone = true
	a.tryFinish(ctx, p)
	return nil
}

func (a *Actor) handleEmbeddingResponse(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.embedding = actor.PayloadFloats(msg.Payload, "embedding")
	p.embeddingDone = true
	a.searchMemories(ctx, p, p.embedding)
	a.tryFinish(ctx, p)
	return nil
}

func (a *Actor) handleEmbeddingFailed(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.embeddingDone = true
	a.searchMemories(ctx, p, nil)
	a.tryFinish(ctx, p)
	return nil
}

// searchMemories starts the long-term retrieval. With a query vector it runs
// a similarity search, otherwise it falls back to recency.
func (a *Actor) searchMemories(ctx context.Context, p *pendingRequest, vector []float64) {
	payload := map[string]any{
		"user_id":     p.userID,
		"search_type": "recent",
		"request_id":  p.requestID,
	}
	if len(vector) > 0 {
		payload["search_type"] = "vector"
		payload["query_vector"] = vector
	}
	if err := a.ask(ctx, ltm.ActorID, actor.MsgGetLtmMemory, payload); err == nil {
		p.ltmAsked = true
	}
}

func (a *Actor) handleLtmResponse(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.memories = memoryLines(actor.PayloadSlice(msg.Payload, "memories"))
	p.ltmDone = true
	a.tryFinish(ctx, p)
	return nil
}

func (a *Actor) handlePartnerResponse(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.partnerMode = actor.PayloadString(msg.Payload, "recommended_mode")
	p.partnerConfidence = actor.PayloadFloat(msg.Payload, "mode_confidence", 0)
	p.partnerVersion = actor.PayloadInt(msg.Payload, "version", 0)
	p.partnerDone = true
	if sess, ok := a.sessions[p.userID]; ok {
		sess.PartnerVersion = p.partnerVersion
	}
	a.tryFinish(ctx, p)
	return nil
}

func (a *Actor) handlePersonalityResponse(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.profile = actor.PayloadFloatMap(msg.Payload, "active_values")
	p.personalityDone = true
	if sess, ok := a.sessions[p.userID]; ok {
		sess.recordCacheLookup(actor.PayloadBool(msg.Payload, "cached"), cacheLookupWindow)
	}
	a.tryFinish(ctx, p)
	return nil
}

func (a *Actor) handleEmotionResponse(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.emotions = actor.PayloadStrings(msg.Payload, "dominant")
	p.emotionScores = actor.PayloadFloatMap(msg.Payload, "scores")
	p.emotionDone = true
	if sess, ok := a.sessions[p.userID]; ok {
		sess.LastEmotion = p.emotions
	}
	a.tryFinish(ctx, p)
	return nil
}

func (a *Actor) handleEmotionFailed(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	p.emotionDone = true
	a.tryFinish(ctx, p)
	return nil
}

// expireSlowCollaborators degrades optional dependencies that missed the
// soft deadline. An embedding still in flight falls back to a recency memory
// search, which gets one soft deadline of its own.
func (a *Actor) expireSlowCollaborators(ctx context.Context, p *pendingRequest) {
	now := a.now()
	if !now.After(p.deadline) {
		return
	}
	p.personalityDone = true
	p.partnerDone = true
	if p.embeddingAsked && !p.embeddingDone {
		p.embeddingDone = true
		a.searchMemories(ctx, p, nil)
		if p.ltmAsked {
			p.deadline = now.Add(a.cfg.ComponentTimeout)
		}
	}
}

// tryFinish hands the turn to the generation actor once enough context is
// in. Emotion analysis never blocks generation; its result only enriches the
// prompt when it arrives in time.
func (a *Actor) tryFinish(ctx context.Context, p *pendingRequest) {
	if p.generating {
		return
	}
	a.expireSlowCollaborators(ctx, p)
	if !p.ready(a.now()) {
		return
	}
	p.generating = true

	sess := a.sessions[p.userID]
	res := a.detector.Detect(mode.Input{
		Text:              p.text,
		History:           sess.ModeHistory,
		PartnerMode:       mode.Mode(p.partnerMode),
		PartnerConfidence: p.partnerConfidence,
	})
	sess.recordMode(res.Mode, res.Confidence, a.cfg.ModeHistoryLimit)
	a.emit(ctx, eventstore.UserStream(p.userID), eventstore.TypeModeDetected, map[string]any{
		"user_id":    p.userID,
		"mode":       string(res.Mode),
		"confidence": res.Confidence,
		"source":     res.Source,
	})

	if err := a.ask(ctx, generate.ActorID, actor.MsgGenerateResponse, map[string]any{
		"user_id":    p.userID,
		"text":       p.text,
		"mode":       string(res.Mode),
		"context":    p.context,
		"memories":   p.memories,
		"profile":    p.profile,
		"emotions":   p.emotions,
		"request_id": p.requestID,
	}); err != nil {
		a.fail(ctx, p, "generation unavailable")
	}
}

func (a *Actor) handleGenerationComplete(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	content := actor.PayloadString(msg.Payload, "content")
	sess := a.sessions[p.userID]
	if sess != nil {
		sess.LastBotText = content
	}

	if a.metrics != nil && a.metrics.TurnDuration != nil {
		a.metrics.TurnDuration.Record(ctx, p.age(a.now()).Seconds())
	}

	a.forward(ctx, p, actor.MsgBotResponse, map[string]any{
		"user_id":      p.userID,
		"chat_id":      p.chatID,
		"text":         content,
		"mode":         actor.PayloadString(msg.Payload, "mode"),
		"total_tokens": actor.PayloadInt(msg.Payload, "total_tokens", 0),
		"request_id":   p.requestID,
	})

	a.tell(ctx, stm.ActorID, actor.MsgStoreMemory, map[string]any{
		"user_id":      p.userID,
		"message_type": "bot",
		"content":      content,
	})
	if len(p.emotionScores) > 0 {
		a.tell(ctx, ltm.ActorID, actor.MsgEvaluateMemory, map[string]any{
			"user_id":   p.userID,
			"user_text": p.text,
			"bot_text":  content,
			"emotions":  p.emotionScores,
			"embedding": p.embedding,
		})
	}
	if sess != nil && a.cfg.AnalysisInterval > 0 && sess.MessageCount%a.cfg.AnalysisInterval == 0 {
		a.startAnalysis(ctx, sess)
	}

	delete(a.pending, p.requestID)
	return nil
}

func (a *Actor) handleGenerationFailed(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	a.fail(ctx, p, actor.PayloadString(msg.Payload, "error"))
	return nil
}

func (a *Actor) handleStreamChunk(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	a.forward(ctx, p, actor.MsgStreamChunk, map[string]any{
		"user_id":    p.userID,
		"chat_id":    p.chatID,
		"text":       actor.PayloadString(msg.Payload, "text"),
		"request_id": p.requestID,
	})
	return nil
}

// startAnalysis fetches a fresh message window and, once it arrives, hands
// it to the analysis actor. Tracked separately from turn pendings.
func (a *Actor) startAnalysis(ctx context.Context, sess *Session) {
	analysisID := "analysis-" + uuid.NewString()
	job := analysisJob{
		userID:   sess.UserID,
		mode:     string(sess.CurrentMode),
		emotions: sess.LastEmotion,
		started:  a.now(),
	}
	if err := a.ask(ctx, stm.ActorID, actor.MsgGetContext, map[string]any{
		"user_id":    sess.UserID,
		"limit":      a.cfg.AnalysisWindow,
		"format":     "text",
		"request_id": analysisID,
	}); err != nil {
		slog.Warn("session: analysis window fetch failed", "user_id", sess.UserID, "error", err)
		return
	}
	a.analysis[analysisID] = job
}

// ─── Housekeeping ───────────────────────────────────────────────────────────

func (a *Actor) handleJanitorTick(ctx context.Context) error {
	now := a.now()

	for id, p := range a.pending {
		if p.age(now) > a.cfg.PendingTTL {
			a.emit(ctx, eventstore.UserStream(p.userID), eventstore.TypePendingExpired, map[string]any{
				"user_id":    p.userID,
				"request_id": p.requestID,
				"age_ms":     p.age(now).Milliseconds(),
				"generating": p.generating,
			})
			a.forward(ctx, p, actor.MsgErrorResponse, map[string]any{
				"user_id":    p.userID,
				"chat_id":    p.chatID,
				"error":      "request timed out",
				"request_id": p.requestID,
			})
			delete(a.pending, id)
			continue
		}
		a.tryFinish(ctx, p)
	}

	for id, job := range a.analysis {
		if now.Sub(job.started) > a.cfg.PendingTTL {
			delete(a.analysis, id)
		}
	}

	for id, sess := range a.sessions {
		if now.Sub(sess.LastActivity) > a.cfg.SessionTTL {
			a.dropSession(ctx, id)
		}
	}
	return nil
}

func (a *Actor) handleSessionInfo(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	requestID := actor.PayloadString(msg.Payload, "request_id")
	sess, ok := a.sessions[userID]
	if !ok {
		return a.reply(ctx, msg.ReplyTo, actor.MsgSessionInfoResponse, map[string]any{
			"user_id":    userID,
			"exists":     false,
			"request_id": requestID,
		})
	}
	return a.reply(ctx, msg.ReplyTo, actor.MsgSessionInfoResponse, map[string]any{
		"user_id":         sess.UserID,
		"exists":          true,
		"username":        sess.Username,
		"message_count":   sess.MessageCount,
		"current_mode":    string(sess.CurrentMode),
		"mode_confidence": sess.ModeConfidence,
		"partner_version": sess.PartnerVersion,
		"cache_hit_rate":  sess.cacheHitRate(),
		"created_at":      sess.CreatedAt.Format(time.RFC3339),
		"last_activity":   sess.LastActivity.Format(time.RFC3339),
		"request_id":      requestID,
	})
}

func (a *Actor) handleSessionClosed(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if _, ok := a.sessions[userID]; !ok {
		return nil
	}
	a.dropSession(ctx, userID)
	return a.reply(ctx, msg.ReplyTo, actor.MsgAck, map[string]any{
		"user_id":    userID,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

// handleNack degrades the component identified by the sender instead of
// stalling the turn.
func (a *Actor) handleNack(ctx context.Context, msg actor.Message) error {
	p, ok := a.pendingFor(msg)
	if !ok {
		return nil
	}
	slog.Warn("session: collaborator nacked",
		"actor", msg.SenderID, "request_id", p.requestID,
		"reason", actor.PayloadString(msg.Payload, "reason"))

	switch msg.SenderID {
	case limits.ActorID:
		p.limitChecked = true
		a.fanOut(ctx, p)
		return nil
	case stm.ActorID:
		p.stmDone = true
	case ltm.ActorID:
		p.ltmDone = true
	case partner.ActorID:
		p.partnerDone = true
	case personality.ActorID:
		p.personalityDone = true
	case emotion.ActorID:
		p.emotionDone = true
	case embed.ActorID:
		p.embeddingDone = true
		a.searchMemories(ctx, p, nil)
	case generate.ActorID:
		a.fail(ctx, p, "generation rejected the request")
		return nil
	}
	a.tryFinish(ctx, p)
	return nil
}

// ─── Session and messaging helpers ──────────────────────────────────────────

func (a *Actor) sessionFor(ctx context.Context, userID, username string, now time.Time) *Session {
	if sess, ok := a.sessions[userID]; ok {
		if username != "" {
			sess.Username = username
		}
		return sess
	}
	sess := newSession(userID, username, now)
	a.sessions[userID] = sess
	a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeSessionCreated, map[string]any{
		"user_id":  userID,
		"username": username,
	})
	if a.metrics != nil && a.metrics.ActiveSessions != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session: created", "user_id", userID)
	return sess
}

func (a *Actor) dropSession(ctx context.Context, userID string) {
	delete(a.sessions, userID)
	if a.metrics != nil && a.metrics.ActiveSessions != nil {
		a.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Debug("session: dropped", "user_id", userID)
}

func (a *Actor) pendingFor(msg actor.Message) (*pendingRequest, bool) {
	p, ok := a.pending[actor.PayloadString(msg.Payload, "request_id")]
	return p, ok
}

// fail notifies the origin and forgets the turn.
func (a *Actor) fail(ctx context.Context, p *pendingRequest, reason string) {
	a.forward(ctx, p, actor.MsgErrorResponse, map[string]any{
		"user_id":    p.userID,
		"chat_id":    p.chatID,
		"error":      reason,
		"request_id": p.requestID,
	})
	delete(a.pending, p.requestID)
}

// ask sends a request that expects a reply back to this actor.
func (a *Actor) ask(ctx context.Context, target string, t actor.MessageType, payload map[string]any) error {
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	out.ReplyTo = ActorID
	if err := a.sender.Send(ctx, target, out); err != nil {
		return fmt.Errorf("session: ask %s: %w", target, err)
	}
	return nil
}

// tell sends a fire-and-forget message. Failures are logged, never fatal.
func (a *Actor) tell(ctx context.Context, target string, t actor.MessageType, payload map[string]any) {
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, target, out); err != nil {
		slog.Warn("session: send failed", "target", target, "type", t, "error", err)
	}
}

// forward delivers a message to the turn's origin.
func (a *Actor) forward(ctx context.Context, p *pendingRequest, t actor.MessageType, payload map[string]any) {
	if p.origin == "" {
		return
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, p.origin, out); err != nil {
		slog.Warn("session: forward failed", "origin", p.origin, "type", t, "error", err)
	}
}

func (a *Actor) reply(ctx context.Context, replyTo string, t actor.MessageType, payload map[string]any) error {
	if replyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, replyTo, out); err != nil {
		return fmt.Errorf("session: reply to %s: %w", replyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("session: rejecting message", "type", msg.Type, "reason", reason)
	return a.reply(ctx, msg.ReplyTo, actor.MsgNack, map[string]any{
		"reason":     reason,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) emit(ctx context.Context, streamID, eventType string, payload map[string]any) {
	if a.events == nil {
		return
	}
	if _, err := a.events.Emit(ctx, streamID, eventType, payload); err != nil {
		slog.Warn("session: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}

// memoryLines renders retrieved memories as prompt bullets.
func memoryLines(items []any) []string {
	var lines []string
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		userText := actor.PayloadString(entry, "user_text")
		if userText == "" {
			continue
		}
		if botText := actor.PayloadString(entry, "bot_text"); botText != "" {
			lines = append(lines, userText+" (you answered: "+botText+")")
		} else {
			lines = append(lines, userText)
		}
	}
	return lines
}

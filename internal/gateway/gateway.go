// Package gateway is the WebSocket edge of the service. Each chat client
// holds one connection; inbound frames become UserMessage actor messages and
// the orchestrator's replies flow back as JSON frames. The gateway itself is
// an actor so the orchestrator can address it like any other component.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/health"
	"github.com/MrWong99/solace/internal/observe"
	"github.com/MrWong99/solace/internal/session"
)

// ActorID is the runtime id of the gateway.
const ActorID = "gateway"

const (
	// outboundBuffer is the per-connection frame queue. Slow readers drop
	// frames rather than stall the orchestrator.
	outboundBuffer = 32

	writeTimeout = 10 * time.Second
)

// Frame is the wire format in both directions.
//
// Inbound frames carry Text and optionally ChatID. Outbound frames are typed:
// "response", "chunk", "error", "limit_exceeded" or "limit_warning".
type Frame struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Error     string `json:"error,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// conn is one connected client.
type conn struct {
	userID string
	out    chan Frame
	closed chan struct{}
}

// Server accepts WebSocket chats and bridges them onto the actor runtime.
type Server struct {
	sender  actor.Sender
	health  *health.Handler
	metrics *observe.Metrics

	mu    sync.RWMutex
	conns map[string]*conn
}

// Compile-time interface check.
var _ actor.Actor = (*Server)(nil)

// NewServer creates the gateway. health and metrics may be nil.
func NewServer(sender actor.Sender, h *health.Handler, metrics *observe.Metrics) *Server {
	if h == nil {
		h = health.New()
	}
	return &Server{
		sender:  sender,
		health:  h,
		metrics: metrics,
		conns:   make(map[string]*conn),
	}
}

// ID implements [actor.Actor].
func (s *Server) ID() string { return ActorID }

// Receive implements [actor.Actor]. Orchestrator output is routed to the
// connection of the addressed user; frames for absent users are dropped.
func (s *Server) Receive(_ context.Context, msg actor.Message) error {
	frame, ok := frameFor(msg)
	if !ok {
		return fmt.Errorf("gateway: unhandled message type %q", msg.Type)
	}
	userID := actor.PayloadString(msg.Payload, "user_id")

	s.mu.RLock()
	c := s.conns[userID]
	s.mu.RUnlock()
	if c == nil {
		slog.Debug("gateway: no connection for user", "user_id", userID, "type", msg.Type)
		return nil
	}
	select {
	case c.out <- frame:
	default:
		slog.Warn("gateway: dropping frame for slow reader", "user_id", userID, "type", frame.Type)
	}
	return nil
}

func frameFor(msg actor.Message) (Frame, bool) {
	base := Frame{
		ChatID:    actor.PayloadString(msg.Payload, "chat_id"),
		RequestID: actor.PayloadString(msg.Payload, "request_id"),
	}
	switch msg.Type {
	case actor.MsgBotResponse:
		base.Type = "response"
		base.Text = actor.PayloadString(msg.Payload, "text")
		base.Mode = actor.PayloadString(msg.Payload, "mode")
	case actor.MsgStreamChunk:
		base.Type = "chunk"
		base.Text = actor.PayloadString(msg.Payload, "text")
	case actor.MsgErrorResponse:
		base.Type = "error"
		base.Error = actor.PayloadString(msg.Payload, "error")
	case actor.MsgLimitResponse:
		base.Type = "limit_exceeded"
		base.Remaining = actor.PayloadInt(msg.Payload, "remaining", 0)
	case actor.MsgLimitWarning:
		base.Type = "limit_warning"
		base.Remaining = actor.PayloadInt(msg.Payload, "remaining", 0)
	default:
		return Frame{}, false
	}
	return base, true
}

// Routes builds the HTTP handler: the chat WebSocket, health probes and the
// Prometheus scrape endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("username")

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("gateway: accept failed", "user_id", userID, "error", err)
		return
	}

	c := &conn{
		userID: userID,
		out:    make(chan Frame, outboundBuffer),
		closed: make(chan struct{}),
	}
	s.register(c)
	defer s.unregister(c)

	ctx := r.Context()
	go s.writeLoop(ctx, ws, c)
	s.readLoop(ctx, ws, c, username)
	ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *conn, username string) {
	defer close(c.closed)
	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("gateway: read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		if frame.Text == "" {
			continue
		}
		msg := actor.NewMessage(actor.MsgUserMessage, map[string]any{
			"user_id":  c.userID,
			"username": username,
			"chat_id":  frame.ChatID,
			"text":     frame.Text,
		})
		msg.SenderID = ActorID
		msg.ReplyTo = ActorID
		if err := s.sender.Send(ctx, session.ActorID, msg); err != nil {
			slog.Warn("gateway: forward to orchestrator failed", "user_id", c.userID, "error", err)
			select {
			case c.out <- Frame{Type: "error", Error: "service unavailable"}:
			default:
			}
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, c *conn) {
	for {
		select {
		case frame := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, ws, frame)
			cancel()
			if err != nil {
				slog.Debug("gateway: write failed", "user_id", c.userID, "error", err)
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A reconnecting user replaces the old entry; its loops exit on their
	// own when the old socket dies.
	s.conns[c.userID] = c
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.userID] == c {
		delete(s.conns, c.userID)
	}
}

package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/campustrade/marketplace-chat/internal/bus"
	"github.com/campustrade/marketplace-chat/internal/http/middleware"
	"github.com/campustrade/marketplace-chat/internal/services"
)

// Inbound frame types. Anything else is ignored without error.
const (
	frameMessageSend = "message.send"
	frameReadUpdate  = "read.update"
)

var (
	// wsConnections gauges currently open gateway connections.
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_open",
			Help: "Current number of open WebSocket connections.",
		},
	)

	// wsFrames counts handled inbound frames by type ("unknown" for
	// unrecognized ones).
	wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_inbound_frames_total",
			Help: "Total number of inbound WebSocket frames by type.",
		},
		[]string{"type"},
	)

	// wsRefusals counts refused connection attempts by close code.
	wsRefusals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connections_refused_total",
			Help: "Total WebSocket connections refused at connect time.",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsFrames, wsRefusals)
}

// inboundFrame is the envelope clients send: message.send carries Text,
// read.update carries MessageID.
type inboundFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Gateway upgrades per-conversation connections and bridges them onto the
// fan-out bus. One connection serves one (user, conversation) pair.
type Gateway struct {
	Chat *services.ChatService
	Bus  bus.Bus

	// QueueSize caps the per-session send queue; 0 uses the default.
	QueueSize int

	upgrader websocket.Upgrader
}

// NewGateway constructs a Gateway over the given service and bus.
func NewGateway(chat *services.ChatService, b bus.Bus) *Gateway {
	return &Gateway{
		Chat: chat,
		Bus:  b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers enforce same-origin for the HTTP surface; WS auth is
			// carried by the identity middleware, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle is the gin handler for GET /ws/conversations/:id.
//
// The connection is upgraded first and then vetted, so refusals reach the
// client as distinct close codes: 4001 unauthenticated, 4003 not a
// participant, 1011 internal error. An accepted connection is subscribed to
// the conversation's bus channel and stays open until the client leaves; a
// failure while handling a single inbound frame never terminates it.
func (g *Gateway) Handle(c *gin.Context) {
	conversationID := c.Param("id")
	userID := middleware.UserID(c)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}
	session := NewSession(userID, conversationID, conn, g.QueueSize)
	session.Start()

	if userID == "" {
		wsRefusals.WithLabelValues("4001").Inc()
		session.CloseWithCode(CloseUnauthenticated, "authentication required")
		return
	}
	member, err := g.Chat.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		wsRefusals.WithLabelValues("1011").Inc()
		session.CloseWithCode(websocket.CloseInternalServerErr, "membership check failed")
		return
	}
	if !member {
		wsRefusals.WithLabelValues("4003").Inc()
		session.CloseWithCode(CloseForbidden, "not a participant")
		return
	}

	sub, err := g.Bus.Subscribe(c.Request.Context(), conversationID)
	if err != nil {
		wsRefusals.WithLabelValues("1011").Inc()
		session.CloseWithCode(websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	// Cancel is unconditionally safe, even when the pump never ran.
	defer sub.Cancel()

	wsConnections.Inc()
	defer wsConnections.Dec()
	log.Info().
		Str("user_id", userID).
		Str("conversation_id", conversationID).
		Msg("ws: connected")

	go g.pump(session, sub)
	g.readLoop(c, session)

	log.Info().
		Str("user_id", userID).
		Str("conversation_id", conversationID).
		Msg("ws: disconnected")
}

// pump forwards bus events to the session until either side ends.
func (g *Gateway) pump(s *Session, sub *bus.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("ws: marshal bus event")
				continue
			}
			if !s.TrySend(payload) {
				return
			}
		case <-s.Done():
			return
		}
	}
}

// readLoop consumes inbound frames until the connection drops. Every frame is
// handled inside a recover barrier so handler faults degrade to a logged,
// skipped frame.
func (g *Gateway) readLoop(c *gin.Context, s *Session) {
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleFrame(c, s, payload)
	}
}

func (g *Gateway) handleFrame(c *gin.Context, s *Session, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("user_id", s.UserID).
				Str("conversation_id", s.ConversationID).
				Msg("ws: frame handler panicked")
		}
	}()

	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		wsFrames.WithLabelValues("unknown").Inc()
		return
	}
	ctx := c.Request.Context()

	switch frame.Type {
	case frameMessageSend:
		wsFrames.WithLabelValues(frameMessageSend).Inc()
		_, err := g.Chat.Send(ctx, s.UserID, s.ConversationID, frame.Text)
		switch {
		case err == nil, errors.Is(err, services.ErrEmptyText):
			// Empty text is a documented silent drop.
		default:
			log.Warn().Err(err).Str("user_id", s.UserID).Msg("ws: send failed")
		}
	case frameReadUpdate:
		wsFrames.WithLabelValues(frameReadUpdate).Inc()
		if _, _, err := g.Chat.MarkRead(ctx, s.UserID, s.ConversationID, frame.MessageID); err != nil {
			log.Warn().Err(err).Str("user_id", s.UserID).Msg("ws: read update failed")
		}
	default:
		// Unknown frame kinds are ignored, never an error.
		wsFrames.WithLabelValues("unknown").Inc()
	}
}

// Package ws implements the live connection gateway: per-conversation
// WebSocket sessions bridged onto the fan-out bus.
//
// A Session owns the write side of one connection. All frames leave through
// the send queue and a single writer goroutine, so concurrent producers (bus
// pump, read-loop echoes) never interleave writes. The read side stays with
// the gateway's read loop.
package ws

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendQueueSize = 64
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
)

// Close codes distinguishing connect-time refusals so clients can react
// (redirect to login vs. show "not a member").
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
)

// Session is the write half of one live connection.
type Session struct {
	UserID         string
	ConversationID string

	conn   *websocket.Conn
	queue  chan []byte
	done   chan struct{}
	closed atomic.Bool
}

// NewSession wraps an upgraded connection. Start must be called before any
// TrySend.
func NewSession(userID, conversationID string, conn *websocket.Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Session{
		UserID:         userID,
		ConversationID: conversationID,
		conn:           conn,
		queue:          make(chan []byte, queueSize),
		done:           make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (s *Session) Start() {
	go s.writeLoop()
}

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// TrySend enqueues a frame without blocking. A full queue means the client
// stopped draining; the session is closed rather than stalling producers.
func (s *Session) TrySend(payload []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.queue <- payload:
		return true
	default:
		log.Warn().
			Str("user_id", s.UserID).
			Str("conversation_id", s.ConversationID).
			Msg("ws: send queue overflow, dropping connection")
		s.CloseWithCode(websocket.CloseInternalServerErr, "backpressure overflow")
		return false
	}
}

// Close shuts the session down with a normal closure.
func (s *Session) Close() {
	s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with the given code and tears the
// connection down. Safe to call more than once; only the first call wins.
func (s *Session) CloseWithCode(code int, reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)

	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case payload := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer        = 256
	pingInterval      = 30 * time.Second
	readDeadline      = 120 * time.Second
	writeDeadline     = 5 * time.Second
	saturationTimeout = 30 * time.Second
	maxFrameSize      = 256 << 10
)

// Session is one WebSocket connection. A dedicated writer goroutine owns the
// connection's write side; everything else goes through the send channel.
type Session struct {
	id            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	userID        uuid.UUID
	authenticated bool

	mu             sync.Mutex
	conversations  map[uuid.UUID]bool
	users          map[uuid.UUID]bool
	saturatedSince time.Time
	closed         bool
}

func newSession(conn *websocket.Conn, hub *Hub, userID uuid.UUID, authenticated bool) *Session {
	return &Session{
		id:            uuid.New().String(),
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBuffer),
		userID:        userID,
		authenticated: authenticated,
		conversations: make(map[uuid.UUID]bool),
		users:         make(map[uuid.UUID]bool),
	}
}

// enqueue hands a frame to the writer. When the buffer is full the frame is
// dropped and a lag notice queued in its place; a session saturated for 30 s
// is closed as unrecoverable. The mutex is held across the channel sends so a
// concurrent drop cannot close the channel mid-send; every send is
// non-blocking, so holding it is safe.
func (s *Session) enqueue(frame []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	select {
	case s.send <- frame:
		s.saturatedSince = time.Time{}
		s.mu.Unlock()
		return
	default:
	}

	if s.saturatedSince.IsZero() {
		s.saturatedSince = time.Now()
	}
	if time.Since(s.saturatedSince) > saturationTimeout {
		s.closeLocked()
		s.mu.Unlock()
		s.hub.forget(s)
		return
	}

	if raw := lagFrame(); raw != nil {
		select {
		case s.send <- raw:
		default:
		}
	}
	s.mu.Unlock()
}

// closeLocked marks the session closed and stops the writer. Caller holds
// s.mu. Reports whether this call performed the close.
func (s *Session) closeLocked() bool {
	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}

// lagFrame is the notice queued in place of frames dropped on a full buffer.
func lagFrame() []byte {
	env, err := newEnvelope(TypeLag, LagPayload{
		Message: "events dropped: client is reading too slowly",
	})
	if err != nil {
		return nil
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return raw
}

func (s *Session) sendEnvelope(env *Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.enqueue(raw)
}

func (s *Session) sendError(requestID, code, message string) {
	if env, err := replyTo(requestID, TypeError, ErrorPayload{Code: code, Message: message}); err == nil {
		s.sendEnvelope(env)
	}
}

// subscribe registers interest in a user's or conversation's events.
func (s *Session) subscribe(p SubscribePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UserID != nil {
		s.users[*p.UserID] = true
	}
	if p.ConversationID != nil {
		s.conversations[*p.ConversationID] = true
	}
}

func (s *Session) unsubscribe(p SubscribePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UserID != nil {
		delete(s.users, *p.UserID)
	}
	if p.ConversationID != nil {
		delete(s.conversations, *p.ConversationID)
	}
}

// wants reports whether the session should receive an event scoped to the
// given user and conversation. Authenticated operator sessions receive the
// global broadcast; public sessions only what they subscribed to.
func (s *Session) wants(userID, conversationID uuid.UUID) bool {
	if s.authenticated {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != uuid.Nil && s.users[userID] {
		return true
	}
	if conversationID != uuid.Nil && s.conversations[conversationID] {
		return true
	}
	return false
}

// writePump owns the connection's write side: queued frames plus pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection dies, dispatching each to the hub.
func (s *Session) readPump() {
	defer s.hub.drop(s)

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendError("", CodeBadPayload, "frame is not valid JSON")
			continue
		}
		s.hub.dispatch(s, &env)
	}
}

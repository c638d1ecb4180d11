package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	"github.com/google/uuid"
)

// Hub owns the set of live sessions and fans domain events out to them.
type Hub struct {
	dispatcher *Dispatcher
	log        *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(dispatcher *Dispatcher, bus events.Bus, log *logger.Logger) *Hub {
	h := &Hub{
		dispatcher: dispatcher,
		log:        log,
		sessions:   make(map[string]*Session),
	}
	h.subscribeDomainEvents(bus)
	return h
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	if env, err := newEnvelope(TypeConnected, ConnectedPayload{
		SessionID:     s.id,
		Authenticated: s.authenticated,
	}); err == nil {
		s.sendEnvelope(env)
	}
	h.log.Info("websocket session opened",
		"session_id", s.id, "authenticated", s.authenticated)
}

// drop removes a session and closes its send channel, which stops the writer.
func (h *Hub) drop(s *Session) {
	s.mu.Lock()
	closed := s.closeLocked()
	s.mu.Unlock()
	if !closed {
		return
	}
	h.forget(s)
}

// forget removes an already-closed session from the registry.
func (h *Hub) forget(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	h.log.Info("websocket session closed", "session_id", s.id)
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// dispatch routes one inbound frame from a session.
func (h *Hub) dispatch(s *Session, env *Envelope) {
	switch env.Type {
	case TypeConnect:
		if reply, err := replyTo(env.ID, TypeConnected, ConnectedPayload{
			SessionID:     s.id,
			Authenticated: s.authenticated,
		}); err == nil {
			s.sendEnvelope(reply)
		}
	case TypeHeartbeat:
		if reply, err := replyTo(env.ID, TypeHeartbeat, nil); err == nil {
			s.sendEnvelope(reply)
		}
	case TypeSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(env.ID, CodeBadPayload, "invalid subscribe payload")
			return
		}
		s.subscribe(p)
		if reply, err := replyTo(env.ID, TypeSubscribed, p); err == nil {
			s.sendEnvelope(reply)
		}
	case TypeUnsubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(env.ID, CodeBadPayload, "invalid unsubscribe payload")
			return
		}
		s.unsubscribe(p)
		if reply, err := replyTo(env.ID, TypeUnsubscribed, p); err == nil {
			s.sendEnvelope(reply)
		}
	case TypeRequest:
		var p RequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(env.ID, CodeBadPayload, "invalid request payload")
			return
		}
		h.dispatcher.Handle(s, env.ID, p)
	default:
		s.sendError(env.ID, CodeUnknownType, "unsupported frame type: "+env.Type)
	}
}

// broadcast delivers one event frame to every interested session.
func (h *Hub) broadcast(name string, userID, conversationID uuid.UUID, data any) {
	env, err := newEnvelope(TypeEvent, EventPayload{Name: name, Data: data})
	if err != nil {
		h.log.Error("failed to encode event frame", "event", name, "error", err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.wants(userID, conversationID) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(raw)
	}
}

// subscribeDomainEvents wires every domain event into the websocket fan-out.
func (h *Hub) subscribeDomainEvents(bus events.Bus) {
	forward := events.HandlerFunc(func(_ context.Context, event events.Event) error {
		userID, conversationID := eventScope(event)
		h.broadcast(event.EventName(), userID, conversationID, event)
		return nil
	})

	for _, name := range []string{
		events.MessageCreated{}.EventName(),
		events.MessageDeleted{}.EventName(),
		events.ConversationCreated{}.EventName(),
		events.ConversationUpdated{}.EventName(),
		events.LeadStageChanged{}.EventName(),
		events.MeetingCreated{}.EventName(),
		events.MeetingUpdated{}.EventName(),
		events.MeetingCancelled{}.EventName(),
	} {
		bus.Subscribe(name, forward)
	}
}

// eventScope extracts the user and conversation an event belongs to, so
// public sessions only see frames for parties they subscribed to.
func eventScope(event events.Event) (uuid.UUID, uuid.UUID) {
	switch e := event.(type) {
	case events.MessageCreated:
		return e.UserID, e.ConversationID
	case events.MessageDeleted:
		return uuid.Nil, e.ConversationID
	case events.ConversationCreated:
		return e.UserID, e.ConversationID
	case events.ConversationUpdated:
		return e.UserID, e.ConversationID
	case events.LeadStageChanged:
		return e.UserID, e.ConversationID
	case events.MeetingCreated:
		return e.UserID, e.ConversationID
	case events.MeetingUpdated:
		return uuid.Nil, uuid.Nil
	case events.MeetingCancelled:
		return uuid.Nil, uuid.Nil
	default:
		return uuid.Nil, uuid.Nil
	}
}

// Package realtime fans domain events out to operator UIs over WebSocket and
// serves resource requests on the same connection.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Frame types.
const (
	TypeConnect      = "connect"
	TypeConnected    = "connected"
	TypeSubscribe    = "subscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribe  = "unsubscribe"
	TypeUnsubscribed = "unsubscribed"
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeError        = "error"
	TypeEvent        = "event"
	TypeHeartbeat    = "heartbeat"
	TypeLag          = "lag"
)

// Error codes returned in error frames.
const (
	CodeUnknownType     = "unknown_type"
	CodeUnknownResource = "unknown_resource"
	CodeUnknownAction   = "unknown_action"
	CodeBadPayload      = "bad_payload"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal_error"
)

// Envelope is the frame wrapper every message uses in both directions.
// Payload is type-dependent; ID correlates responses with requests and lets
// clients deduplicate events.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RequestPayload routes a resource action.
type RequestPayload struct {
	Resource string          `json:"resource"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ResponsePayload answers a request.
type ResponsePayload struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Data     any    `json:"data,omitempty"`
}

// ErrorPayload reports a rejected frame or failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventPayload carries one domain event to subscribers.
type EventPayload struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// LagPayload warns a slow consumer that event frames were dropped.
type LagPayload struct {
	Message string `json:"message"`
}

// SubscribePayload scopes a session to a user's or conversation's events.
type SubscribePayload struct {
	UserID         *uuid.UUID `json:"userId,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}

// ConnectedPayload acknowledges the session after the handshake.
type ConnectedPayload struct {
	SessionID     string `json:"sessionId"`
	Authenticated bool   `json:"authenticated"`
}

func newEnvelope(frameType string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      frameType,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// replyTo builds an envelope answering a specific inbound frame id.
func replyTo(requestID, frameType string, payload any) (*Envelope, error) {
	env, err := newEnvelope(frameType, payload)
	if err != nil {
		return nil, err
	}
	if requestID != "" {
		env.ID = requestID
	}
	return env, nil
}

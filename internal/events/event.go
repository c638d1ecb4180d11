// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"github.com/TDXCORE/Agent-Test/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Conversation Domain Events
// =============================================================================

// MessageCreated is published after a message row commits, for both inbound
// user messages and outbound assistant messages.
type MessageCreated struct {
	BaseEvent
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	DeliveryFailed bool      `json:"deliveryFailed,omitempty"`
}

func (e MessageCreated) EventName() string { return "conversations.message.created" }

// MessageDeleted is published when a message is soft-deleted.
type MessageDeleted struct {
	BaseEvent
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
}

func (e MessageDeleted) EventName() string { return "conversations.message.deleted" }

// ConversationCreated is published when a new conversation is opened for a party.
type ConversationCreated struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Platform       string    `json:"platform"`
	ExternalID     string    `json:"externalId"`
}

func (e ConversationCreated) EventName() string { return "conversations.created" }

// ConversationUpdated is published when conversation status or agent_enabled changes.
type ConversationUpdated struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Status         string    `json:"status"`
	AgentEnabled   bool      `json:"agentEnabled"`
}

func (e ConversationUpdated) EventName() string { return "conversations.updated" }

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadStageChanged is published when a lead qualification advances (or is
// overridden) to a new stage.
type LeadStageChanged struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	PreviousStage  string    `json:"previousStage"`
	Stage          string    `json:"stage"`
}

func (e LeadStageChanged) EventName() string { return "leads.stage.changed" }

// =============================================================================
// Meeting Domain Events
// =============================================================================

// MeetingCreated is published when a meeting is scheduled on the remote calendar.
type MeetingCreated struct {
	BaseEvent
	MeetingID      uuid.UUID `json:"meetingId"`
	LeadID         uuid.UUID `json:"leadId"`
	UserID         uuid.UUID `json:"userId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Subject        string    `json:"subject"`
	StartTime      string    `json:"startTime"`
	EndTime        string    `json:"endTime"`
	JoinURL        string    `json:"joinUrl,omitempty"`
	AttendeeEmail  string    `json:"attendeeEmail,omitempty"`
}

func (e MeetingCreated) EventName() string { return "meetings.created" }

// MeetingUpdated is published when a meeting is rescheduled or patched.
type MeetingUpdated struct {
	BaseEvent
	MeetingID uuid.UUID `json:"meetingId"`
	LeadID    uuid.UUID `json:"leadId"`
	Status    string    `json:"status"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
}

func (e MeetingUpdated) EventName() string { return "meetings.updated" }

// MeetingCancelled is published when a meeting is cancelled locally and remotely.
type MeetingCancelled struct {
	BaseEvent
	MeetingID uuid.UUID `json:"meetingId"`
	LeadID    uuid.UUID `json:"leadId"`
}

func (e MeetingCancelled) EventName() string { return "meetings.cancelled" }

package store

import (
	"time"

	"github.com/google/uuid"
)

// Conversation status values.
const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message content types.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageAudio = "audio"
	MessageVideo = "video"
)

// Meeting status values.
const (
	MeetingScheduled   = "scheduled"
	MeetingCompleted   = "completed"
	MeetingCancelled   = "cancelled"
	MeetingRescheduled = "rescheduled"
)

type User struct {
	ID        uuid.UUID
	Phone     *string
	Email     *string
	FullName  string
	Company   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Conversation struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Platform     string
	ExternalID   string
	Status       string
	AgentEnabled bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	MessageType    string
	MediaURL       *string
	ExternalID     *string
	Read           bool
	DeliveryFailed bool
	CreatedAt      time.Time
}

type LeadQualification struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ConversationID  uuid.UUID
	Consent         bool
	CurrentStep     string
	ConsentRefusals int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type BantData struct {
	ID                  uuid.UUID
	LeadQualificationID uuid.UUID
	Budget              *string
	Authority           *string
	Need                *string
	Timeline            *string
	UpdatedAt           time.Time
}

type Requirement struct {
	ID                  uuid.UUID
	LeadQualificationID uuid.UUID
	AppType             *string
	Deadline            *string
}

type RequirementItem struct {
	ID            uuid.UUID
	RequirementID uuid.UUID
	Name          string
	Description   *string
}

type Meeting struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	LeadQualificationID uuid.UUID
	ExternalMeetingID   *string
	Subject             string
	StartTime           time.Time
	EndTime             time.Time
	Status              string
	OnlineMeetingURL    *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Party identifies an inbound sender before any rows exist for it.
type Party struct {
	Platform   string
	ExternalID string
	Phone      string
	Email      string
	FullName   string
}

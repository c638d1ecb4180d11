// Package agent wraps the LLM tool-call loop behind a single Advance
// operation. The runtime never touches persistent storage: every effect the
// model requests is recorded on the returned Turn and applied by the
// conversation orchestrator.
package agent

import (
	"sync"
	"time"
)

// Tool names the model may invoke.
const (
	ToolRecordConsent      = "record_consent"
	ToolRecordPersonalData = "record_personal_data"
	ToolRecordBant         = "record_bant"
	ToolRecordRequirements = "record_requirements"
	ToolGetAvailableSlots  = "get_available_slots"
	ToolScheduleMeeting    = "schedule_meeting"
	ToolRescheduleMeeting  = "reschedule_meeting"
	ToolFindMeetings       = "find_meetings"
	ToolCancelMeeting      = "cancel_meeting"
	ToolEndConversation    = "end_conversation"
)

// ConsentInput records the user's data-processing decision.
type ConsentInput struct {
	Granted bool `json:"granted"`
}

// PersonalDataInput carries contact fields extracted from the dialogue.
type PersonalDataInput struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Company  string `json:"company"`
}

// BantInput carries partial BANT answers; empty fields mean "not mentioned".
type BantInput struct {
	Budget    string `json:"budget"`
	Authority string `json:"authority"`
	Need      string `json:"need"`
	Timeline  string `json:"timeline"`
}

// RequirementsInput describes the project the user wants built.
type RequirementsInput struct {
	AppType      string   `json:"app_type"`
	Deadline     string   `json:"deadline"`
	Features     []string `json:"features"`
	Integrations []string `json:"integrations"`
}

// ScheduleInput requests a meeting at a concrete window.
type ScheduleInput struct {
	Start         time.Time `json:"-"`
	End           time.Time `json:"-"`
	Subject       string    `json:"subject"`
	AttendeeEmail string    `json:"attendee_email"`
}

// RescheduleInput moves an existing meeting to a new start.
type RescheduleInput struct {
	MeetingID string    `json:"meeting_id"`
	Start     time.Time `json:"-"`
}

// CancelInput cancels an existing meeting.
type CancelInput struct {
	MeetingID string `json:"meeting_id"`
}

// EndInput closes the conversation with a reason.
type EndInput struct {
	Reason string `json:"reason"`
}

// ToolInvocation is one recorded tool call. Name selects which payload
// pointer is set.
type ToolInvocation struct {
	Name         string
	Consent      *ConsentInput
	PersonalData *PersonalDataInput
	Bant         *BantInput
	Requirements *RequirementsInput
	Schedule     *ScheduleInput
	Reschedule   *RescheduleInput
	Cancel       *CancelInput
	End          *EndInput
}

// Turn is the immutable result of one Advance: the assistant's reply plus the
// tool effects for the orchestrator to apply, in order.
type Turn struct {
	AssistantText string
	Invocations   []ToolInvocation
	Fallback      bool
}

// recorder accumulates tool invocations while the model runs. Tools append to
// it concurrently-safely; the runtime snapshots it into the Turn.
type recorder struct {
	mu          sync.Mutex
	invocations []ToolInvocation
}

func (r *recorder) add(inv ToolInvocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)
}

func (r *recorder) snapshot() []ToolInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ToolInvocation, len(r.invocations))
	copy(out, r.invocations)
	return out
}

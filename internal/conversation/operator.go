package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/TDXCORE/Agent-Test/internal/agent"
	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/internal/qualification"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
)

// Operator-initiated mutations. These bypass the agent but go through the
// same persistence, validation, and event paths as agent turns.

// SendOperatorMessage persists an assistant-role message written by a human
// operator and delivers it to the user.
func (o *Orchestrator) SendOperatorMessage(ctx context.Context, conversationID uuid.UUID, content string) (*store.Message, error) {
	if content == "" {
		return nil, apperr.Validation("message content is required")
	}

	conv, err := o.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	user, err := o.store.GetUserByID(ctx, conv.UserID)
	if err != nil {
		return nil, err
	}

	msg, _, err := o.store.CreateMessage(ctx, store.NewMessage{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        content,
		MessageType:    store.MessageText,
		Read:           true,
	})
	if err != nil {
		return nil, err
	}

	deliveryFailed := false
	if _, err := o.messenger.SendText(ctx, conv.ExternalID, content); err != nil {
		deliveryFailed = true
		o.log.Error("operator message delivery failed",
			"conversation_id", conv.ID.String(), "error", err.Error())
		if markErr := o.store.MarkDeliveryFailed(ctx, msg.ID); markErr != nil {
			o.log.Error("failed to record delivery tombstone", "error", markErr.Error())
		}
	}

	o.bus.Publish(ctx, events.MessageCreated{
		BaseEvent:      events.NewBaseEvent(),
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         user.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		DeliveryFailed: deliveryFailed,
	})
	return msg, nil
}

// OverrideStage sets a lead's stage explicitly, bypassing the state machine
// gates. Used by operator tooling.
func (o *Orchestrator) OverrideStage(ctx context.Context, leadID uuid.UUID, stage string) (*store.LeadQualification, error) {
	valid := false
	for _, s := range qualification.Order {
		if string(s) == stage {
			valid = true
			break
		}
	}
	if !valid {
		return nil, apperr.Validation("unknown qualification stage " + stage)
	}

	lead, err := o.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.CurrentStep == stage {
		return lead, nil
	}

	updated, err := o.store.SetLeadStep(ctx, leadID, stage)
	if err != nil {
		return nil, err
	}
	o.publishStageChange(ctx, lead, lead.CurrentStep, updated.CurrentStep)
	return updated, nil
}

// SetAgentEnabled toggles the automated agent for a conversation. Setter
// available to operators taking over a dialogue.
func (o *Orchestrator) SetAgentEnabled(ctx context.Context, conversationID uuid.UUID, enabled bool) (*store.Conversation, error) {
	conv, err := o.store.SetAgentEnabled(ctx, conversationID, enabled)
	if err != nil {
		return nil, err
	}
	o.bus.Publish(ctx, events.ConversationUpdated{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Status:         conv.Status,
		AgentEnabled:   conv.AgentEnabled,
	})
	return conv, nil
}

// RescheduleByID moves a meeting through the scheduling cascade on behalf of
// an operator, keeping the original duration.
func (o *Orchestrator) RescheduleByID(ctx context.Context, meetingID uuid.UUID, start time.Time) (*store.Meeting, error) {
	meeting, err := o.store.GetMeetingByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	lead, err := o.store.GetLeadByID(ctx, meeting.LeadQualificationID)
	if err != nil {
		return nil, err
	}

	if err := o.applyReschedule(ctx, lead, &agent.RescheduleInput{
		MeetingID: meetingID.String(),
		Start:     start,
	}); err != nil {
		return nil, err
	}
	return o.store.GetMeetingByID(ctx, meetingID)
}

// CancelByID cancels a meeting remotely and locally on behalf of an operator.
func (o *Orchestrator) CancelByID(ctx context.Context, meetingID uuid.UUID) (*store.Meeting, error) {
	meeting, err := o.store.GetMeetingByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	lead, err := o.store.GetLeadByID(ctx, meeting.LeadQualificationID)
	if err != nil {
		return nil, err
	}

	if err := o.applyCancel(ctx, lead, &agent.CancelInput{MeetingID: meetingID.String()}); err != nil {
		return nil, err
	}
	return o.store.GetMeetingByID(ctx, meetingID)
}

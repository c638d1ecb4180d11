package conversation

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/TDXCORE/Agent-Test/internal/agent"
	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/logger"
	"github.com/TDXCORE/Agent-Test/platform/phone"
)

// toolFailureReply replaces the assistant text when a tool permanently fails,
// so the user gets an honest answer instead of a claim the action succeeded.
const toolFailureReply = "Lo siento, tuve un problema guardando esa información. ¿Puedes intentarlo de nuevo en unos minutos?"

const schedulingFailureReply = "No pude agendar la reunión en ese horario. ¿Te propongo otras opciones?"

type applyResult struct {
	overrideText string
	declined     bool
}

// applyInvocations executes the turn's tool effects in order. The first
// permanent failure stops the batch; the remaining invocations are skipped
// and the assistant text is replaced with a user-facing explanation.
func (o *Orchestrator) applyInvocations(ctx context.Context, lead *store.LeadQualification, user *store.User, invocations []agent.ToolInvocation, log *logger.Logger) applyResult {
	var result applyResult

	for _, inv := range invocations {
		var err error
		switch inv.Name {
		case agent.ToolRecordConsent:
			_, err = o.store.RecordConsent(ctx, lead.ID, inv.Consent.Granted)

		case agent.ToolRecordPersonalData:
			err = o.applyPersonalData(ctx, user.ID, inv.PersonalData)

		case agent.ToolRecordBant:
			_, err = o.store.UpsertBant(ctx, lead.ID, store.BantPatch{
				Budget:    strptr(inv.Bant.Budget),
				Authority: strptr(inv.Bant.Authority),
				Need:      strptr(inv.Bant.Need),
				Timeline:  strptr(inv.Bant.Timeline),
			})

		case agent.ToolRecordRequirements:
			err = o.applyRequirements(ctx, lead.ID, inv.Requirements)

		case agent.ToolScheduleMeeting:
			err = o.applySchedule(ctx, lead, user, inv.Schedule)
			if err != nil && apperr.Is(err, apperr.KindValidation) {
				log.Warn("meeting request rejected", "error", err.Error())
				result.overrideText = schedulingFailureReply
				return result
			}

		case agent.ToolRescheduleMeeting:
			err = o.applyReschedule(ctx, lead, inv.Reschedule)
			if err != nil && apperr.Is(err, apperr.KindValidation) {
				log.Warn("reschedule request rejected", "error", err.Error())
				result.overrideText = schedulingFailureReply
				return result
			}

		case agent.ToolCancelMeeting:
			err = o.applyCancel(ctx, lead, inv.Cancel)

		case agent.ToolFindMeetings:
			// Lookup only; the agent already narrated what it found.

		case agent.ToolEndConversation:
			if inv.End.Reason == "user_declined" {
				result.declined = true
			}

		default:
			log.Warn("agent requested unknown tool", "tool", inv.Name)
		}

		if err != nil {
			if apperr.IsRetriable(err) {
				log.Error("transient tool failure", "tool", inv.Name, "error", err.Error())
			} else {
				log.Error("permanent tool failure, skipping remaining invocations",
					"tool", inv.Name, "error", err.Error())
			}
			result.overrideText = toolFailureReply
			return result
		}
	}
	return result
}

func (o *Orchestrator) applyPersonalData(ctx context.Context, userID uuid.UUID, in *agent.PersonalDataInput) error {
	patch := store.UserPatch{
		FullName: strptr(in.FullName),
		Email:    strptr(in.Email),
		Company:  strptr(in.Company),
	}
	if in.Phone != "" {
		normalized := phone.NormalizeE164(in.Phone)
		patch.Phone = &normalized
	}
	_, err := o.store.UpdateUser(ctx, userID, patch)
	return err
}

func (o *Orchestrator) applyRequirements(ctx context.Context, leadID uuid.UUID, in *agent.RequirementsInput) error {
	features := make([]store.NewRequirementItem, 0, len(in.Features))
	for _, name := range in.Features {
		features = append(features, store.NewRequirementItem{Name: name})
	}
	integrations := make([]store.NewRequirementItem, 0, len(in.Integrations))
	for _, name := range in.Integrations {
		integrations = append(integrations, store.NewRequirementItem{Name: name})
	}
	_, err := o.store.CreateRequirementPackage(ctx, leadID,
		strptr(in.AppType), strptr(in.Deadline), features, integrations)
	return err
}

// applySchedule runs the scheduling validation cascade, creates the remote
// event, and persists the meeting.
func (o *Orchestrator) applySchedule(ctx context.Context, lead *store.LeadQualification, user *store.User, in *agent.ScheduleInput) error {
	if o.calendar == nil {
		return apperr.Dependency(errSchedulingDisabled.Error()).WithOp("conversation.schedule")
	}
	if err := o.validateSchedulingWindow(ctx, in.Start, in.End, in.AttendeeEmail); err != nil {
		return err
	}

	subject := in.Subject
	if subject == "" {
		subject = "Reunión de descubrimiento - " + user.FullName
	}

	attendees := []string{in.AttendeeEmail}
	event, err := o.calendar.CreateEvent(ctx, subject, in.Start, in.End, attendees,
		"Reunión agendada desde la conversación de calificación.", true)
	if err != nil {
		return err
	}

	meeting, err := o.store.CreateMeeting(ctx, store.NewMeeting{
		UserID:              user.ID,
		LeadQualificationID: lead.ID,
		ExternalMeetingID:   strptr(event.ExternalID),
		Subject:             subject,
		StartTime:           in.Start,
		EndTime:             in.End,
		OnlineMeetingURL:    strptr(event.JoinURL),
	})
	if err != nil {
		// The remote event exists but the local row failed; drop the remote
		// event so state stays consistent.
		if cancelErr := o.calendar.CancelEvent(ctx, event.ExternalID); cancelErr != nil {
			o.log.Error("failed to roll back remote event",
				"external_id", event.ExternalID, "error", cancelErr.Error())
		}
		return err
	}

	o.bus.Publish(ctx, events.MeetingCreated{
		BaseEvent:      events.NewBaseEvent(),
		MeetingID:      meeting.ID,
		LeadID:         lead.ID,
		UserID:         user.ID,
		ConversationID: lead.ConversationID,
		Subject:        meeting.Subject,
		StartTime:      meeting.StartTime.Format(time.RFC3339),
		EndTime:        meeting.EndTime.Format(time.RFC3339),
		JoinURL:        deref(meeting.OnlineMeetingURL),
		AttendeeEmail:  in.AttendeeEmail,
	})
	return nil
}

// applyReschedule keeps the original duration, revalidates the cascade for
// the new window, patches the remote event, and marks the row rescheduled.
func (o *Orchestrator) applyReschedule(ctx context.Context, lead *store.LeadQualification, in *agent.RescheduleInput) error {
	if o.calendar == nil {
		return apperr.Dependency(errSchedulingDisabled.Error()).WithOp("conversation.reschedule")
	}

	meeting, err := o.resolveMeeting(ctx, lead, in.MeetingID)
	if err != nil {
		return err
	}

	duration := meeting.EndTime.Sub(meeting.StartTime)
	newEnd := in.Start.Add(duration)
	if err := o.validateSchedulingWindow(ctx, in.Start, newEnd, ""); err != nil {
		return err
	}

	if meeting.ExternalMeetingID != nil {
		if _, err := o.calendar.UpdateEvent(ctx, *meeting.ExternalMeetingID, calendar.EventPatch{
			Start: &in.Start,
			End:   &newEnd,
		}); err != nil {
			return err
		}
	}

	updated, err := o.store.RescheduleMeeting(ctx, meeting.ID, in.Start, newEnd)
	if err != nil {
		return err
	}

	o.bus.Publish(ctx, events.MeetingUpdated{
		BaseEvent: events.NewBaseEvent(),
		MeetingID: updated.ID,
		LeadID:    lead.ID,
		Status:    updated.Status,
		StartTime: updated.StartTime.Format(time.RFC3339),
		EndTime:   updated.EndTime.Format(time.RFC3339),
	})
	return nil
}

func (o *Orchestrator) applyCancel(ctx context.Context, lead *store.LeadQualification, in *agent.CancelInput) error {
	meeting, err := o.resolveMeeting(ctx, lead, in.MeetingID)
	if err != nil {
		return err
	}

	if o.calendar != nil && meeting.ExternalMeetingID != nil {
		if err := o.calendar.CancelEvent(ctx, *meeting.ExternalMeetingID); err != nil {
			return err
		}
	}

	if _, err := o.store.SetMeetingStatus(ctx, meeting.ID, store.MeetingCancelled); err != nil {
		return err
	}

	o.bus.Publish(ctx, events.MeetingCancelled{
		BaseEvent: events.NewBaseEvent(),
		MeetingID: meeting.ID,
		LeadID:    lead.ID,
	})
	return nil
}

// resolveMeeting finds the meeting the agent refers to, falling back to the
// lead's single active meeting when the id is absent or unparseable.
func (o *Orchestrator) resolveMeeting(ctx context.Context, lead *store.LeadQualification, rawID string) (*store.Meeting, error) {
	if rawID != "" {
		if id, err := uuid.Parse(rawID); err == nil {
			return o.store.GetMeetingByID(ctx, id)
		}
	}
	return o.store.GetActiveMeetingForLead(ctx, lead.ID)
}

// validateSchedulingWindow is the cascade every scheduling mutation passes:
// attendee e-mail syntax, ordered window, minimum notice, weekday, working
// hours, and no overlap with the remote calendar. attendeeEmail may be empty
// for reschedules, which reuse the original attendee.
func (o *Orchestrator) validateSchedulingWindow(ctx context.Context, start, end time.Time, attendeeEmail string) error {
	if attendeeEmail != "" {
		if _, err := mail.ParseAddress(attendeeEmail); err != nil {
			return apperr.Validation(fmt.Sprintf("invalid attendee e-mail %q", attendeeEmail))
		}
	}
	if !start.Before(end) {
		return apperr.Validation("meeting start must be before end")
	}
	if notice := o.cfg.GetMinimumNotice(); notice > 0 && time.Until(start) < notice {
		return apperr.Validation("meeting requires more advance notice")
	}

	local := start.In(o.location)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return apperr.Validation("meetings are only available on weekdays")
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, o.location)
	open := dayStart.Add(time.Duration(o.cfg.GetWorkdayStartHour()) * time.Hour)
	close := dayStart.Add(time.Duration(o.cfg.GetWorkdayEndHour()) * time.Hour)
	if local.Before(open) || end.In(o.location).After(close) {
		return apperr.Validation("meeting is outside working hours")
	}

	busy, err := o.calendar.GetSchedule(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	for _, b := range busy {
		if start.Before(b.End.In(o.location)) && b.Start.In(o.location).Before(end) {
			return apperr.Validation("requested slot is no longer available")
		}
	}
	return nil
}

// AvailableSlots implements the agent's slot provider: open slots on the
// date, excluding any that violate the minimum scheduling notice.
func (o *Orchestrator) AvailableSlots(ctx context.Context, date time.Time, d time.Duration) ([]calendar.Slot, error) {
	if o.calendar == nil {
		return nil, nil
	}

	local := date.In(o.location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, o.location)

	busy, err := o.calendar.GetSchedule(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	slots := calendar.AvailableSlots(dayStart, d, busy, calendar.WorkWindow{
		Location:  o.location,
		StartHour: o.cfg.GetWorkdayStartHour(),
		EndHour:   o.cfg.GetWorkdayEndHour(),
	})

	earliest := time.Now().Add(o.cfg.GetMinimumNotice())
	open := slots[:0]
	for _, s := range slots {
		if s.Start.After(earliest) {
			open = append(open, s)
		}
	}
	return open, nil
}

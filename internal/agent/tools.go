package agent

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/qualification"
)

// SlotProvider resolves real availability so the agent can present slots the
// user can actually book. It is the single tool that executes inline; every
// other tool only records its invocation.
type SlotProvider interface {
	AvailableSlots(ctx context.Context, date time.Time, d time.Duration) ([]calendar.Slot, error)
}

type ackOutput struct {
	Message string `json:"message"`
}

// ToolsForStage returns the tool names valid at a qualification stage. The
// gated catalogue keeps the model from calling, say, schedule_meeting before
// consent exists.
func ToolsForStage(stage qualification.Stage) []string {
	switch stage {
	case qualification.StageStart, qualification.StageConsent:
		return []string{ToolRecordConsent, ToolEndConversation}
	case qualification.StagePersonalData:
		return []string{ToolRecordPersonalData, ToolEndConversation}
	case qualification.StageBant:
		return []string{ToolRecordBant, ToolEndConversation}
	case qualification.StageRequirements:
		return []string{ToolRecordRequirements, ToolEndConversation}
	case qualification.StageMeeting:
		return []string{
			ToolGetAvailableSlots, ToolScheduleMeeting, ToolRescheduleMeeting,
			ToolFindMeetings, ToolCancelMeeting, ToolEndConversation,
		}
	case qualification.StageCompleted:
		return []string{ToolRescheduleMeeting, ToolFindMeetings, ToolCancelMeeting}
	default:
		return nil
	}
}

// buildTools constructs the recorder-backed tool set, filtered to the allowed
// names.
func (rt *Runtime) buildTools(rec *recorder, allowed []string, slotDuration time.Duration) ([]tool.Tool, error) {
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	builders := map[string]func() (tool.Tool, error){
		ToolRecordConsent:      func() (tool.Tool, error) { return consentTool(rec) },
		ToolRecordPersonalData: func() (tool.Tool, error) { return personalDataTool(rec) },
		ToolRecordBant:         func() (tool.Tool, error) { return bantTool(rec) },
		ToolRecordRequirements: func() (tool.Tool, error) { return requirementsTool(rec) },
		ToolGetAvailableSlots:  func() (tool.Tool, error) { return rt.slotsTool(slotDuration) },
		ToolScheduleMeeting:    func() (tool.Tool, error) { return scheduleTool(rec, rt.location) },
		ToolRescheduleMeeting:  func() (tool.Tool, error) { return rescheduleTool(rec, rt.location) },
		ToolFindMeetings:       func() (tool.Tool, error) { return findMeetingsTool(rec) },
		ToolCancelMeeting:      func() (tool.Tool, error) { return cancelTool(rec) },
		ToolEndConversation:    func() (tool.Tool, error) { return endTool(rec) },
	}

	tools := make([]tool.Tool, 0, len(allowed))
	for _, name := range allowed {
		build, ok := builders[name]
		if !ok || !allowedSet[name] {
			continue
		}
		t, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build %s tool: %w", name, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func consentTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolRecordConsent,
		Description: "Records whether the user granted consent to process their personal data. Call with granted=true on acceptance, granted=false on refusal.",
	}, func(ctx tool.Context, input ConsentInput) (ackOutput, error) {
		rec.add(ToolInvocation{Name: ToolRecordConsent, Consent: &input})
		if input.Granted {
			return ackOutput{Message: "Consent recorded"}, nil
		}
		return ackOutput{Message: "Refusal recorded"}, nil
	})
}

func personalDataTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolRecordPersonalData,
		Description: "Saves the user's contact details. full_name is required; provide email and phone when the user shares them.",
	}, func(ctx tool.Context, input PersonalDataInput) (ackOutput, error) {
		if input.FullName == "" && input.Email == "" && input.Phone == "" {
			return ackOutput{}, fmt.Errorf("at least one of full_name, email or phone is required")
		}
		rec.add(ToolInvocation{Name: ToolRecordPersonalData, PersonalData: &input})
		return ackOutput{Message: "Contact details saved"}, nil
	})
}

func bantTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolRecordBant,
		Description: "Saves BANT qualification answers (budget, authority, need, timeline). Send only the fields the user just answered.",
	}, func(ctx tool.Context, input BantInput) (ackOutput, error) {
		if input.Budget == "" && input.Authority == "" && input.Need == "" && input.Timeline == "" {
			return ackOutput{}, fmt.Errorf("at least one BANT field is required")
		}
		rec.add(ToolInvocation{Name: ToolRecordBant, Bant: &input})
		return ackOutput{Message: "Qualification answers saved"}, nil
	})
}

func requirementsTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolRecordRequirements,
		Description: "Saves the project requirements: app_type (web, mobile, backend...), deadline, desired features and third-party integrations.",
	}, func(ctx tool.Context, input RequirementsInput) (ackOutput, error) {
		rec.add(ToolInvocation{Name: ToolRecordRequirements, Requirements: &input})
		return ackOutput{Message: "Requirements saved"}, nil
	})
}

type slotsInput struct {
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
}

type slotsOutput struct {
	Slots []string `json:"slots"`
}

func (rt *Runtime) slotsTool(defaultDuration time.Duration) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolGetAvailableSlots,
		Description: "Returns the open meeting slots for a date (YYYY-MM-DD). Use it before proposing times to the user.",
	}, func(ctx tool.Context, input slotsInput) (slotsOutput, error) {
		date, err := time.ParseInLocation("2006-01-02", input.Date, rt.location)
		if err != nil {
			return slotsOutput{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
		d := defaultDuration
		if input.DurationMinutes > 0 {
			d = time.Duration(input.DurationMinutes) * time.Minute
		}

		slots, err := rt.slots.AvailableSlots(context.Background(), date, d)
		if err != nil {
			return slotsOutput{}, err
		}

		out := slotsOutput{Slots: make([]string, 0, len(slots))}
		for _, s := range slots {
			out.Slots = append(out.Slots, s.Start.Format("2006-01-02 15:04")+" - "+s.End.Format("15:04"))
		}
		return out, nil
	})
}

type scheduleToolInput struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	Subject       string `json:"subject"`
	AttendeeEmail string `json:"attendee_email"`
}

func scheduleTool(rec *recorder, loc *time.Location) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolScheduleMeeting,
		Description: "Schedules the qualification meeting. start and end are local times in YYYY-MM-DD HH:MM format, attendee_email is the user's e-mail.",
	}, func(ctx tool.Context, input scheduleToolInput) (ackOutput, error) {
		start, err := parseLocalTime(input.Start, loc)
		if err != nil {
			return ackOutput{}, fmt.Errorf("invalid start: %w", err)
		}
		end, err := parseLocalTime(input.End, loc)
		if err != nil {
			return ackOutput{}, fmt.Errorf("invalid end: %w", err)
		}
		rec.add(ToolInvocation{Name: ToolScheduleMeeting, Schedule: &ScheduleInput{
			Start:         start,
			End:           end,
			Subject:       input.Subject,
			AttendeeEmail: input.AttendeeEmail,
		}})
		return ackOutput{Message: "Meeting request recorded"}, nil
	})
}

type rescheduleToolInput struct {
	MeetingID string `json:"meeting_id"`
	Start     string `json:"start"`
}

func rescheduleTool(rec *recorder, loc *time.Location) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolRescheduleMeeting,
		Description: "Moves an existing meeting to a new start time (YYYY-MM-DD HH:MM). The original duration is kept.",
	}, func(ctx tool.Context, input rescheduleToolInput) (ackOutput, error) {
		start, err := parseLocalTime(input.Start, loc)
		if err != nil {
			return ackOutput{}, fmt.Errorf("invalid start: %w", err)
		}
		rec.add(ToolInvocation{Name: ToolRescheduleMeeting, Reschedule: &RescheduleInput{
			MeetingID: input.MeetingID,
			Start:     start,
		}})
		return ackOutput{Message: "Reschedule request recorded"}, nil
	})
}

func findMeetingsTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolFindMeetings,
		Description: "Looks up the user's scheduled meetings so you can confirm or discuss them.",
	}, func(ctx tool.Context, input struct{}) (ackOutput, error) {
		rec.add(ToolInvocation{Name: ToolFindMeetings})
		return ackOutput{Message: "Meeting lookup recorded"}, nil
	})
}

func cancelTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolCancelMeeting,
		Description: "Cancels a scheduled meeting by its id.",
	}, func(ctx tool.Context, input CancelInput) (ackOutput, error) {
		rec.add(ToolInvocation{Name: ToolCancelMeeting, Cancel: &input})
		return ackOutput{Message: "Cancellation recorded"}, nil
	})
}

func endTool(rec *recorder) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        ToolEndConversation,
		Description: "Ends the conversation. Use reason 'user_declined' when the user does not want to continue.",
	}, func(ctx tool.Context, input EndInput) (ackOutput, error) {
		rec.add(ToolInvocation{Name: ToolEndConversation, End: &input})
		return ackOutput{Message: "Conversation closed"}, nil
	})
}

func parseLocalTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time must be YYYY-MM-DD HH:MM")
}

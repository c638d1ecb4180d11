package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/TDXCORE/Agent-Test/internal/agent"
	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/internal/messaging"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

// ---- fakes ----

type fakeStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*store.User
	conversations map[uuid.UUID]*store.Conversation
	leads         map[uuid.UUID]*store.LeadQualification
	messages      []*store.Message
	bant          map[uuid.UUID]*store.BantData
	requirements  map[uuid.UUID]*store.Requirement
	features      map[uuid.UUID][]store.RequirementItem
	meetings      map[uuid.UUID]*store.Meeting
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[uuid.UUID]*store.User),
		conversations: make(map[uuid.UUID]*store.Conversation),
		leads:         make(map[uuid.UUID]*store.LeadQualification),
		bant:          make(map[uuid.UUID]*store.BantData),
		requirements:  make(map[uuid.UUID]*store.Requirement),
		features:      make(map[uuid.UUID][]store.RequirementItem),
		meetings:      make(map[uuid.UUID]*store.Meeting),
	}
}

// seed creates a user, active conversation and lead at the given step.
func (f *fakeStore) seed(step string) *store.PartyState {
	f.mu.Lock()
	defer f.mu.Unlock()

	phone := "+573001112233"
	user := &store.User{ID: uuid.New(), Phone: &phone, FullName: "Ana Rodríguez"}
	conv := &store.Conversation{
		ID: uuid.New(), UserID: user.ID, Platform: "whatsapp",
		ExternalID: "573001112233", Status: store.ConversationActive, AgentEnabled: true,
	}
	lead := &store.LeadQualification{
		ID: uuid.New(), UserID: user.ID, ConversationID: conv.ID, CurrentStep: step,
	}
	f.users[user.ID] = user
	f.conversations[conv.ID] = conv
	f.leads[lead.ID] = lead
	return &store.PartyState{User: *user, Conversation: *conv, Lead: *lead}
}

func (f *fakeStore) UpsertUserAndOpenConversation(ctx context.Context, party store.Party) (*store.PartyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.conversations {
		if conv.Platform == party.Platform && conv.ExternalID == party.ExternalID && conv.Status == store.ConversationActive {
			var lead store.LeadQualification
			for _, l := range f.leads {
				if l.ConversationID == conv.ID {
					lead = *l
				}
			}
			return &store.PartyState{User: *f.users[conv.UserID], Conversation: *conv, Lead: lead}, nil
		}
	}
	phone := party.Phone
	user := &store.User{ID: uuid.New(), Phone: &phone, FullName: party.FullName}
	conv := &store.Conversation{
		ID: uuid.New(), UserID: user.ID, Platform: party.Platform,
		ExternalID: party.ExternalID, Status: store.ConversationActive, AgentEnabled: true,
	}
	lead := &store.LeadQualification{ID: uuid.New(), UserID: user.ID, ConversationID: conv.ID, CurrentStep: "start"}
	f.users[user.ID] = user
	f.conversations[conv.ID] = conv
	f.leads[lead.ID] = lead
	return &store.PartyState{User: *user, Conversation: *conv, Lead: *lead, NewConversation: true}, nil
}

func (f *fakeStore) GetConversationByID(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeStore) SetConversationStatus(ctx context.Context, id uuid.UUID, status string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	conv.Status = status
	copied := *conv
	return &copied, nil
}

func (f *fakeStore) SetAgentEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	conv.AgentEnabled = enabled
	copied := *conv
	return &copied, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, in store.NewMessage) (*store.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.ExternalID != nil && *in.ExternalID != "" {
		for _, m := range f.messages {
			if m.ExternalID != nil && *m.ExternalID == *in.ExternalID {
				return m, true, nil
			}
		}
	}
	msg := &store.Message{
		ID: uuid.New(), ConversationID: in.ConversationID, Role: in.Role,
		Content: in.Content, MessageType: in.MessageType, MediaURL: in.MediaURL,
		ExternalID: in.ExternalID, Read: in.Read, CreatedAt: time.Now(),
	}
	f.messages = append(f.messages, msg)
	return msg, false, nil
}

func (f *fakeStore) RecentHistory(ctx context.Context, conversationID uuid.UUID, windowSize int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Message, 0)
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.Role != store.RoleSystem {
			out = append(out, *m)
		}
	}
	if len(out) > windowSize {
		out = out[len(out)-windowSize:]
	}
	return out, nil
}

func (f *fakeStore) MarkDeliveryFailed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.DeliveryFailed = true
			return nil
		}
	}
	return apperr.NotFound("message not found")
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, id uuid.UUID, patch store.UserPatch) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	if patch.FullName != nil {
		u.FullName = *patch.FullName
	}
	if patch.Email != nil {
		u.Email = patch.Email
	}
	if patch.Phone != nil {
		u.Phone = patch.Phone
	}
	if patch.Company != nil {
		u.Company = patch.Company
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) GetLeadByID(ctx context.Context, id uuid.UUID) (*store.LeadQualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead not found")
	}
	copied := *l
	return &copied, nil
}

func (f *fakeStore) SetLeadStep(ctx context.Context, id uuid.UUID, step string) (*store.LeadQualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead not found")
	}
	l.CurrentStep = step
	copied := *l
	return &copied, nil
}

func (f *fakeStore) RecordConsent(ctx context.Context, id uuid.UUID, granted bool) (*store.LeadQualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead not found")
	}
	l.Consent = granted
	if granted {
		l.ConsentRefusals = 0
	} else {
		l.ConsentRefusals++
	}
	copied := *l
	return &copied, nil
}

func (f *fakeStore) ListStaleLeads(ctx context.Context, cutoff time.Time) ([]store.StaleLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.StaleLead, 0)
	for _, l := range f.leads {
		if l.CurrentStep == "completed" || l.CurrentStep == "abandoned" {
			continue
		}
		var lastTurn time.Time
		for _, m := range f.messages {
			if m.ConversationID == l.ConversationID && m.Role == store.RoleUser && m.CreatedAt.After(lastTurn) {
				lastTurn = m.CreatedAt
			}
		}
		if lastTurn.IsZero() {
			lastTurn = l.CreatedAt
		}
		if lastTurn.Before(cutoff) {
			out = append(out, store.StaleLead{Lead: *l, LastUserTurnAt: lastTurn})
		}
	}
	return out, nil
}

func (f *fakeStore) GetBant(ctx context.Context, leadID uuid.UUID) (*store.BantData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bant[leadID]
	if !ok {
		return nil, apperr.NotFound("bant data not found")
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) UpsertBant(ctx context.Context, leadID uuid.UUID, patch store.BantPatch) (*store.BantData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bant[leadID]
	if !ok {
		b = &store.BantData{ID: uuid.New(), LeadQualificationID: leadID}
		f.bant[leadID] = b
	}
	if patch.Budget != nil {
		b.Budget = patch.Budget
	}
	if patch.Authority != nil {
		b.Authority = patch.Authority
	}
	if patch.Need != nil {
		b.Need = patch.Need
	}
	if patch.Timeline != nil {
		b.Timeline = patch.Timeline
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) GetRequirement(ctx context.Context, leadID uuid.UUID) (*store.Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requirements[leadID]
	if !ok {
		return nil, apperr.NotFound("requirements not found")
	}
	copied := *r
	return &copied, nil
}

func (f *fakeStore) CreateRequirementPackage(ctx context.Context, leadID uuid.UUID, appType, deadline *string, features, integrations []store.NewRequirementItem) (*store.RequirementPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requirements[leadID]
	if !ok {
		r = &store.Requirement{ID: uuid.New(), LeadQualificationID: leadID}
		f.requirements[leadID] = r
	}
	if appType != nil {
		r.AppType = appType
	}
	if deadline != nil {
		r.Deadline = deadline
	}
	for _, item := range features {
		f.features[r.ID] = append(f.features[r.ID], store.RequirementItem{
			ID: uuid.New(), RequirementID: r.ID, Name: item.Name, Description: item.Description,
		})
	}
	return &store.RequirementPackage{Requirement: *r, Features: f.features[r.ID]}, nil
}

func (f *fakeStore) CountFeatures(ctx context.Context, leadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requirements[leadID]
	if !ok {
		return 0, nil
	}
	return len(f.features[r.ID]), nil
}

func (f *fakeStore) GetActiveMeetingForLead(ctx context.Context, leadID uuid.UUID) (*store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.LeadQualificationID == leadID && m.Status != store.MeetingCancelled {
			copied := *m
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("meeting not found")
}

func (f *fakeStore) GetMeetingByID(ctx context.Context, id uuid.UUID) (*store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting not found")
	}
	copied := *m
	return &copied, nil
}

func (f *fakeStore) CreateMeeting(ctx context.Context, in store.NewMeeting) (*store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &store.Meeting{
		ID: uuid.New(), UserID: in.UserID, LeadQualificationID: in.LeadQualificationID,
		ExternalMeetingID: in.ExternalMeetingID, Subject: in.Subject,
		StartTime: in.StartTime, EndTime: in.EndTime, Status: store.MeetingScheduled,
		OnlineMeetingURL: in.OnlineMeetingURL,
	}
	f.meetings[m.ID] = m
	return m, nil
}

func (f *fakeStore) RescheduleMeeting(ctx context.Context, id uuid.UUID, start, end time.Time) (*store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting not found")
	}
	m.StartTime = start
	m.EndTime = end
	m.Status = store.MeetingRescheduled
	copied := *m
	return &copied, nil
}

func (f *fakeStore) SetMeetingStatus(ctx context.Context, id uuid.UUID, status string) (*store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting not found")
	}
	m.Status = status
	copied := *m
	return &copied, nil
}

type fakeAgent struct {
	mu    sync.Mutex
	turns []*agent.Turn
	calls int
}

func (f *fakeAgent) Advance(ctx context.Context, history []agent.HistoryMessage, lead agent.LeadState, allowed []string) (*agent.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.turns) == 0 {
		return &agent.Turn{AssistantText: "ok"}, nil
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	return turn, nil
}

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	calls int
}

func (f *fakeMessenger) SendText(ctx context.Context, to, body string) (*messaging.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, apperr.Dependency("provider delivery retries exhausted")
	}
	f.sent = append(f.sent, body)
	return &messaging.SendResult{ExternalID: "wamid.test"}, nil
}

type fakeCalendar struct {
	mu        sync.Mutex
	busy      []calendar.BusyInterval
	created   int
	cancelled int
}

func (f *fakeCalendar) GetSchedule(ctx context.Context, from, to time.Time) ([]calendar.BusyInterval, error) {
	return f.busy, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, subject string, start, end time.Time, attendees []string, body string, online bool) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &calendar.Event{
		ExternalID: "evt-123", Subject: subject, Start: start, End: end,
		Attendees: attendees, JoinURL: "https://teams.example.com/join/abc",
	}, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, externalID string, patch calendar.EventPatch) (*calendar.Event, error) {
	return &calendar.Event{ExternalID: externalID}, nil
}

func (f *fakeCalendar) CancelEvent(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeBus) Publish(ctx context.Context, e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeBus) PublishSync(ctx context.Context, e events.Event) error {
	f.Publish(ctx, e)
	return nil
}

func (f *fakeBus) Subscribe(name string, h events.Handler) {}

func (f *fakeBus) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventName())
	}
	return out
}

type testConfig struct{}

func (testConfig) GetAgentTimeout() time.Duration     { return 5 * time.Second }
func (testConfig) GetMessagingTimeout() time.Duration { return time.Second }
func (testConfig) GetCalendarTimeout() time.Duration  { return time.Second }
func (testConfig) GetAbandonAfter() time.Duration     { return 7 * 24 * time.Hour }
func (testConfig) GetMinimumNotice() time.Duration    { return 48 * time.Hour }
func (testConfig) GetSlotDuration() time.Duration     { return time.Hour }
func (testConfig) GetWorkdayStartHour() int           { return 8 }
func (testConfig) GetWorkdayEndHour() int             { return 17 }

type fixture struct {
	store     *fakeStore
	agent     *fakeAgent
	messenger *fakeMessenger
	calendar  *fakeCalendar
	bus       *fakeBus
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFakeStore(),
		agent:     &fakeAgent{},
		messenger: &fakeMessenger{},
		calendar:  &fakeCalendar{},
		bus:       &fakeBus{},
	}
	f.orch = New(f.store, f.agent, f.messenger, f.calendar, f.bus,
		testConfig{}, time.UTC, 10, logger.New("development"))
	return f
}

// nextWeekday returns a weekday at the given hour UTC, at least minDays out.
func nextWeekday(minDays, hour int) time.Time {
	t := time.Now().UTC().AddDate(0, 0, minDays)
	t = time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// ---- tests ----

func TestIngestDeduplicatesByExternalID(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("consent")
	f.store.conversations[state.Conversation.ID].AgentEnabled = false

	in := Inbound{
		Party: store.Party{
			Platform: "whatsapp", ExternalID: state.Conversation.ExternalID,
			Phone: "+573001112233",
		},
		ExternalMessageID: "wamid.abc",
		Content:           "hola",
	}

	first, err := f.orch.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	second, err := f.orch.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate delivery to return the original message")
	}
	if len(f.store.messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(f.store.messages))
	}
}

func TestTurnRecordsConsentAndAdvances(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("consent")
	// Name still unknown, so the funnel stops at personal_data.
	f.store.users[state.User.ID].FullName = ""
	f.agent.turns = []*agent.Turn{{
		AssistantText: "¡Gracias! ¿Cuál es tu nombre completo?",
		Invocations: []agent.ToolInvocation{
			{Name: agent.ToolRecordConsent, Consent: &agent.ConsentInput{Granted: true}},
		},
	}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "sí, acepto", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	lead, _ := f.store.GetLeadByID(context.Background(), state.Lead.ID)
	if !lead.Consent {
		t.Fatal("expected consent to be recorded")
	}
	if lead.CurrentStep != "personal_data" {
		t.Fatalf("expected stage personal_data, got %s", lead.CurrentStep)
	}
	if len(f.messenger.sent) != 1 {
		t.Fatalf("expected 1 outbound message, got %d", len(f.messenger.sent))
	}
}

func TestTurnSkipsAgentWhenDisabled(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("consent")
	f.store.conversations[state.Conversation.ID].AgentEnabled = false

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "hola", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	if f.agent.calls != 0 {
		t.Fatalf("expected agent to be skipped, got %d calls", f.agent.calls)
	}
	if f.messenger.calls != 0 {
		t.Fatalf("expected no outbound message, got %d", f.messenger.calls)
	}
}

func TestSecondConsentRefusalAbandons(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("consent")
	f.store.leads[state.Lead.ID].ConsentRefusals = 1
	f.agent.turns = []*agent.Turn{{
		AssistantText: "Entiendo, que tengas buen día.",
		Invocations: []agent.ToolInvocation{
			{Name: agent.ToolRecordConsent, Consent: &agent.ConsentInput{Granted: false}},
		},
	}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "no", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	lead, _ := f.store.GetLeadByID(context.Background(), state.Lead.ID)
	if lead.CurrentStep != "abandoned" {
		t.Fatalf("expected abandoned after second refusal, got %s", lead.CurrentStep)
	}
	conv, _ := f.store.GetConversationByID(context.Background(), state.Conversation.ID)
	if conv.Status != store.ConversationClosed {
		t.Fatalf("expected conversation closed, got %s", conv.Status)
	}
	if len(f.messenger.sent) != 1 {
		t.Fatalf("expected the closing message to be sent, got %d", len(f.messenger.sent))
	}
}

func TestScheduleMeetingCompletesLead(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("meeting")
	email := "ana@acme.io"
	f.store.users[state.User.ID].Email = &email

	start := nextWeekday(4, 10)
	f.agent.turns = []*agent.Turn{{
		AssistantText: "¡Listo! Agendé la reunión.",
		Invocations: []agent.ToolInvocation{
			{Name: agent.ToolScheduleMeeting, Schedule: &agent.ScheduleInput{
				Start: start, End: start.Add(time.Hour),
				Subject: "Descubrimiento", AttendeeEmail: email,
			}},
		},
	}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "a las 10 está bien", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	meeting, err := f.store.GetActiveMeetingForLead(context.Background(), state.Lead.ID)
	if err != nil {
		t.Fatalf("expected a meeting to exist: %v", err)
	}
	if meeting.Status != store.MeetingScheduled {
		t.Fatalf("expected status scheduled, got %s", meeting.Status)
	}
	if meeting.ExternalMeetingID == nil || *meeting.ExternalMeetingID == "" {
		t.Fatal("expected an external meeting id")
	}
	lead, _ := f.store.GetLeadByID(context.Background(), state.Lead.ID)
	if lead.CurrentStep != "completed" {
		t.Fatalf("expected stage completed, got %s", lead.CurrentStep)
	}

	var sawCreated bool
	for _, name := range f.bus.names() {
		if name == "meetings.created" {
			sawCreated = true
		}
	}
	if !sawCreated {
		t.Fatal("expected meetings.created event")
	}
}

func TestScheduleRejectsShortNotice(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("meeting")

	// Two hours out: fails the 48 h notice check before any calendar lookup.
	start := time.Now().UTC().Add(2 * time.Hour)
	f.agent.turns = []*agent.Turn{{
		AssistantText: "Agendado para mañana.",
		Invocations: []agent.ToolInvocation{
			{Name: agent.ToolScheduleMeeting, Schedule: &agent.ScheduleInput{
				Start: start, End: start.Add(time.Hour), AttendeeEmail: "ana@acme.io",
			}},
		},
	}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "mañana", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	if _, err := f.store.GetActiveMeetingForLead(context.Background(), state.Lead.ID); err == nil {
		t.Fatal("expected no meeting to be created")
	}
	if f.calendar.created != 0 {
		t.Fatalf("expected no remote event, got %d", f.calendar.created)
	}
	if len(f.messenger.sent) != 1 || f.messenger.sent[0] != schedulingFailureReply {
		t.Fatalf("expected the scheduling failure reply, got %v", f.messenger.sent)
	}
	lead, _ := f.store.GetLeadByID(context.Background(), state.Lead.ID)
	if lead.CurrentStep != "meeting" {
		t.Fatalf("expected stage to remain meeting, got %s", lead.CurrentStep)
	}
}

func TestScheduleRejectsBusySlot(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("meeting")

	start := nextWeekday(4, 10)
	f.calendar.busy = []calendar.BusyInterval{{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)}}
	f.agent.turns = []*agent.Turn{{
		AssistantText: "Agendado.",
		Invocations: []agent.ToolInvocation{
			{Name: agent.ToolScheduleMeeting, Schedule: &agent.ScheduleInput{
				Start: start, End: start.Add(time.Hour), AttendeeEmail: "ana@acme.io",
			}},
		},
	}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "a las 10", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	if f.calendar.created != 0 {
		t.Fatalf("expected conflicting slot to be rejected, got %d events", f.calendar.created)
	}
}

func TestDeliveryFailureRecordsTombstone(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("consent")
	f.messenger.fail = true
	f.agent.turns = []*agent.Turn{{AssistantText: "hola!"}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "hola", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	var assistant *store.Message
	for _, m := range f.store.messages {
		if m.Role == store.RoleAssistant {
			assistant = m
		}
	}
	if assistant == nil {
		t.Fatal("expected the assistant message to be persisted despite delivery failure")
	}
	if !assistant.DeliveryFailed {
		t.Fatal("expected the delivery tombstone to be set")
	}
}

func TestOutboundMessagesStartRead(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("consent")
	f.agent.turns = []*agent.Turn{{AssistantText: "¡Hola! ¿En qué te ayudo?"}}

	msg, _, _ := f.store.CreateMessage(context.Background(), store.NewMessage{
		ConversationID: state.Conversation.ID, Role: store.RoleUser, Content: "hola", MessageType: store.MessageText,
	})
	f.orch.processTurn(turnWork{state: state, message: msg})

	if _, err := f.orch.SendOperatorMessage(context.Background(), state.Conversation.ID, "te escribo yo"); err != nil {
		t.Fatalf("operator message failed: %v", err)
	}

	// Only inbound user messages count toward unread tracking; everything the
	// agent or an operator writes is born read.
	for _, m := range f.store.messages {
		switch m.Role {
		case store.RoleAssistant:
			if !m.Read {
				t.Fatalf("assistant message %q persisted unread", m.Content)
			}
		case store.RoleUser:
			if m.Read {
				t.Fatalf("user message %q must start unread", m.Content)
			}
		}
	}
}

func TestSweepAbandoned(t *testing.T) {
	f := newFixture(t)
	state := f.store.seed("bant")
	f.store.leads[state.Lead.ID].CreatedAt = time.Now().Add(-8 * 24 * time.Hour)

	swept, err := f.orch.SweepAbandoned(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept lead, got %d", swept)
	}
	lead, _ := f.store.GetLeadByID(context.Background(), state.Lead.ID)
	if lead.CurrentStep != "abandoned" {
		t.Fatalf("expected abandoned, got %s", lead.CurrentStep)
	}
	conv, _ := f.store.GetConversationByID(context.Background(), state.Conversation.ID)
	if conv.Status != store.ConversationClosed {
		t.Fatalf("expected conversation closed, got %s", conv.Status)
	}
}

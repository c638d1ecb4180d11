// Package conversation serializes turn processing per conversation and is the
// single integration point deciding the user-visible consequences of tool and
// provider failures.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TDXCORE/Agent-Test/internal/agent"
	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/internal/messaging"
	"github.com/TDXCORE/Agent-Test/internal/qualification"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

const (
	mailboxCapacity = 64
	mailboxIdle     = 5 * time.Minute
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	UpsertUserAndOpenConversation(ctx context.Context, party store.Party) (*store.PartyState, error)
	GetConversationByID(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	SetConversationStatus(ctx context.Context, id uuid.UUID, status string) (*store.Conversation, error)
	SetAgentEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*store.Conversation, error)

	CreateMessage(ctx context.Context, in store.NewMessage) (*store.Message, bool, error)
	RecentHistory(ctx context.Context, conversationID uuid.UUID, windowSize int) ([]store.Message, error)
	MarkDeliveryFailed(ctx context.Context, id uuid.UUID) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, patch store.UserPatch) (*store.User, error)

	GetLeadByID(ctx context.Context, id uuid.UUID) (*store.LeadQualification, error)
	SetLeadStep(ctx context.Context, id uuid.UUID, step string) (*store.LeadQualification, error)
	RecordConsent(ctx context.Context, id uuid.UUID, granted bool) (*store.LeadQualification, error)
	ListStaleLeads(ctx context.Context, cutoff time.Time) ([]store.StaleLead, error)

	GetBant(ctx context.Context, leadID uuid.UUID) (*store.BantData, error)
	UpsertBant(ctx context.Context, leadID uuid.UUID, patch store.BantPatch) (*store.BantData, error)

	GetRequirement(ctx context.Context, leadID uuid.UUID) (*store.Requirement, error)
	CreateRequirementPackage(ctx context.Context, leadID uuid.UUID, appType, deadline *string, features, integrations []store.NewRequirementItem) (*store.RequirementPackage, error)
	CountFeatures(ctx context.Context, leadID uuid.UUID) (int, error)

	GetActiveMeetingForLead(ctx context.Context, leadID uuid.UUID) (*store.Meeting, error)
	GetMeetingByID(ctx context.Context, id uuid.UUID) (*store.Meeting, error)
	CreateMeeting(ctx context.Context, in store.NewMeeting) (*store.Meeting, error)
	RescheduleMeeting(ctx context.Context, id uuid.UUID, start, end time.Time) (*store.Meeting, error)
	SetMeetingStatus(ctx context.Context, id uuid.UUID, status string) (*store.Meeting, error)
}

// Agent produces one Turn per inbound user message.
type Agent interface {
	Advance(ctx context.Context, history []agent.HistoryMessage, lead agent.LeadState, allowed []string) (*agent.Turn, error)
}

// Messenger delivers outbound messages to the provider.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (*messaging.SendResult, error)
}

// Calendar is the remote calendar surface used by the tool executor. A nil
// Calendar disables scheduling.
type Calendar interface {
	GetSchedule(ctx context.Context, from, to time.Time) ([]calendar.BusyInterval, error)
	CreateEvent(ctx context.Context, subject string, start, end time.Time, attendees []string, body string, online bool) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, externalID string, patch calendar.EventPatch) (*calendar.Event, error)
	CancelEvent(ctx context.Context, externalID string) error
}

// Inbound is one user message arriving from the webhook.
type Inbound struct {
	Party             store.Party
	ExternalMessageID string
	Content           string
	MessageType       string
	MediaURL          *string
}

type turnWork struct {
	state   *store.PartyState
	message *store.Message
}

type mailbox struct {
	ch chan turnWork
}

// Orchestrator guarantees at most one in-flight advance per conversation;
// concurrent arrivals queue in arrival order.
type Orchestrator struct {
	store     Store
	agent     Agent
	messenger Messenger
	calendar  Calendar
	bus       events.Bus
	cfg       config.OrchestratorConfig
	location  *time.Location
	window    int
	log       *logger.Logger

	mu        sync.Mutex
	mailboxes map[uuid.UUID]*mailbox
	wg        sync.WaitGroup
}

func New(st Store, ag Agent, msgr Messenger, cal Calendar, bus events.Bus, cfg config.OrchestratorConfig, loc *time.Location, historyWindow int, log *logger.Logger) *Orchestrator {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Orchestrator{
		store:     st,
		agent:     ag,
		messenger: msgr,
		calendar:  cal,
		bus:       bus,
		cfg:       cfg,
		location:  loc,
		window:    historyWindow,
		log:       log,
		mailboxes: make(map[uuid.UUID]*mailbox),
	}
}

// Ingest persists the inbound message and queues the turn for processing.
// It returns once the row is committed so the webhook can acknowledge; the
// agent advance happens on the conversation's mailbox goroutine. Duplicate
// deliveries return the existing message without queueing a second turn.
func (o *Orchestrator) Ingest(ctx context.Context, in Inbound) (*store.Message, error) {
	state, err := o.store.UpsertUserAndOpenConversation(ctx, in.Party)
	if err != nil {
		return nil, err
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = store.MessageText
	}
	msg, duplicate, err := o.store.CreateMessage(ctx, store.NewMessage{
		ConversationID: state.Conversation.ID,
		Role:           store.RoleUser,
		Content:        in.Content,
		MessageType:    messageType,
		MediaURL:       in.MediaURL,
		ExternalID:     &in.ExternalMessageID,
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		return msg, nil
	}

	if state.NewConversation {
		o.bus.Publish(ctx, events.ConversationCreated{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: state.Conversation.ID,
			UserID:         state.User.ID,
			Platform:       state.Conversation.Platform,
			ExternalID:     state.Conversation.ExternalID,
		})
	}
	o.bus.Publish(ctx, events.MessageCreated{
		BaseEvent:      events.NewBaseEvent(),
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         state.User.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
	})

	o.enqueue(state.Conversation.ID, turnWork{state: state, message: msg})
	return msg, nil
}

// enqueue hands the work to the conversation's mailbox, starting a consumer
// goroutine if none is running.
func (o *Orchestrator) enqueue(conversationID uuid.UUID, work turnWork) {
	o.mu.Lock()
	mb, ok := o.mailboxes[conversationID]
	if !ok {
		mb = &mailbox{ch: make(chan turnWork, mailboxCapacity)}
		o.mailboxes[conversationID] = mb
		o.wg.Add(1)
		go o.consume(conversationID, mb)
	}
	o.mu.Unlock()

	select {
	case mb.ch <- work:
	default:
		// Mailbox saturated: drop and log rather than block the webhook.
		o.log.Error("conversation mailbox full, dropping turn",
			"conversation_id", conversationID.String())
	}
}

func (o *Orchestrator) consume(conversationID uuid.UUID, mb *mailbox) {
	defer o.wg.Done()
	idle := time.NewTimer(mailboxIdle)
	defer idle.Stop()

	for {
		select {
		case work, ok := <-mb.ch:
			if !ok {
				return
			}
			o.processTurn(work)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(mailboxIdle)
		case <-idle.C:
			o.mu.Lock()
			// A producer may have raced a send into the channel; keep the
			// mailbox alive in that case.
			if len(mb.ch) == 0 {
				delete(o.mailboxes, conversationID)
				o.mu.Unlock()
				return
			}
			o.mu.Unlock()
			idle.Reset(mailboxIdle)
		}
	}
}

// Shutdown waits for in-flight turns to finish.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for id, mb := range o.mailboxes {
		close(mb.ch)
		delete(o.mailboxes, id)
	}
	o.mu.Unlock()
}

// processTurn runs the full turn protocol for one inbound user message.
func (o *Orchestrator) processTurn(work turnWork) {
	conversationID := work.state.Conversation.ID
	log := o.log.WithConversationID(conversationID.String())

	timeout := o.cfg.GetAgentTimeout() + o.cfg.GetCalendarTimeout() + o.cfg.GetMessagingTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conv, err := o.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		log.Error("failed to reload conversation", "error", err.Error())
		return
	}
	if !conv.AgentEnabled || conv.Status != store.ConversationActive {
		// Operator took over or conversation closed; the message is stored
		// and broadcast, nothing to advance.
		return
	}

	lead, err := o.store.GetLeadByID(ctx, work.state.Lead.ID)
	if err != nil {
		log.Error("failed to reload lead", "error", err.Error())
		return
	}
	user, err := o.store.GetUserByID(ctx, lead.UserID)
	if err != nil {
		log.Error("failed to reload user", "error", err.Error())
		return
	}

	history, err := o.store.RecentHistory(ctx, conversationID, o.window)
	if err != nil {
		log.Error("failed to load history window", "error", err.Error())
		return
	}
	agentHistory := make([]agent.HistoryMessage, 0, len(history))
	for _, m := range history {
		agentHistory = append(agentHistory, agent.HistoryMessage{Role: m.Role, Content: m.Content})
	}

	stage := qualification.Stage(lead.CurrentStep)
	if stage == qualification.StageStart {
		// The first user turn moves the funnel to consent before the agent runs.
		if updated, err := o.store.SetLeadStep(ctx, lead.ID, string(qualification.StageConsent)); err == nil {
			o.publishStageChange(ctx, lead, string(stage), updated.CurrentStep)
			lead = updated
			stage = qualification.StageConsent
		}
	}

	leadState := agent.LeadState{
		Stage:    stage,
		FullName: user.FullName,
		Email:    deref(user.Email),
		Phone:    deref(user.Phone),
		Company:  deref(user.Company),
	}

	turn, err := o.agent.Advance(ctx, agentHistory, leadState, agent.ToolsForStage(stage))
	if err != nil {
		log.Error("agent advance failed", "error", err.Error())
		return
	}

	result := o.applyInvocations(ctx, lead, user, turn.Invocations, log)

	assistantText := turn.AssistantText
	if result.overrideText != "" {
		assistantText = result.overrideText
	}

	lead = o.advanceStage(ctx, lead, result.declined, log)

	if assistantText != "" {
		o.deliverAssistantMessage(ctx, conv, user, assistantText, log)
	}
}

// advanceStage recomputes the stage from persisted state and publishes the
// transition when it changes.
func (o *Orchestrator) advanceStage(ctx context.Context, lead *store.LeadQualification, declined bool, log *logger.Logger) *store.LeadQualification {
	fresh, err := o.store.GetLeadByID(ctx, lead.ID)
	if err != nil {
		log.Error("failed to reload lead for stage computation", "error", err.Error())
		return lead
	}

	snap, err := o.buildSnapshot(ctx, fresh, declined)
	if err != nil {
		log.Error("failed to build stage snapshot", "error", err.Error())
		return fresh
	}

	next := qualification.Next(snap)
	if string(next) == fresh.CurrentStep {
		return fresh
	}

	updated, err := o.store.SetLeadStep(ctx, fresh.ID, string(next))
	if err != nil {
		log.Error("failed to persist stage transition", "error", err.Error())
		return fresh
	}
	o.publishStageChange(ctx, fresh, fresh.CurrentStep, updated.CurrentStep)

	if next == qualification.StageAbandoned {
		if _, err := o.store.SetConversationStatus(ctx, fresh.ConversationID, store.ConversationClosed); err != nil {
			log.Error("failed to close abandoned conversation", "error", err.Error())
		}
	}
	return updated
}

func (o *Orchestrator) buildSnapshot(ctx context.Context, lead *store.LeadQualification, declined bool) (qualification.Snapshot, error) {
	snap := qualification.Snapshot{
		Current:         qualification.Stage(lead.CurrentStep),
		HasUserTurn:     true,
		ConsentGranted:  lead.Consent,
		ConsentRefusals: lead.ConsentRefusals,
		Declined:        declined,
	}

	user, err := o.store.GetUserByID(ctx, lead.UserID)
	if err != nil {
		return snap, err
	}
	snap.FullName = user.FullName
	snap.Email = deref(user.Email)
	snap.Phone = deref(user.Phone)

	if bant, err := o.store.GetBant(ctx, lead.ID); err == nil {
		snap.BantBudget = deref(bant.Budget)
		snap.BantAuthority = deref(bant.Authority)
		snap.BantNeed = deref(bant.Need)
		snap.BantTimeline = deref(bant.Timeline)
	} else if !apperr.IsNotFound(err) {
		return snap, err
	}

	if req, err := o.store.GetRequirement(ctx, lead.ID); err == nil {
		snap.AppType = deref(req.AppType)
		count, err := o.store.CountFeatures(ctx, lead.ID)
		if err != nil {
			return snap, err
		}
		snap.FeatureCount = count
	} else if !apperr.IsNotFound(err) {
		return snap, err
	}

	if meeting, err := o.store.GetActiveMeetingForLead(ctx, lead.ID); err == nil {
		snap.MeetingScheduled = meeting.Status == store.MeetingScheduled ||
			meeting.Status == store.MeetingRescheduled
	} else if !apperr.IsNotFound(err) {
		return snap, err
	}

	return snap, nil
}

func (o *Orchestrator) publishStageChange(ctx context.Context, lead *store.LeadQualification, from, to string) {
	o.bus.Publish(ctx, events.LeadStageChanged{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         lead.ID,
		ConversationID: lead.ConversationID,
		UserID:         lead.UserID,
		PreviousStage:  from,
		Stage:          to,
	})
}

// deliverAssistantMessage persists the reply, sends it through the provider,
// and records a delivery tombstone if the send permanently fails.
func (o *Orchestrator) deliverAssistantMessage(ctx context.Context, conv *store.Conversation, user *store.User, text string, log *logger.Logger) {
	msg, _, err := o.store.CreateMessage(ctx, store.NewMessage{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        text,
		MessageType:    store.MessageText,
		Read:           true,
	})
	if err != nil {
		log.Error("failed to persist assistant message", "error", err.Error())
		return
	}

	deliveryFailed := false
	if _, err := o.messenger.SendText(ctx, conv.ExternalID, text); err != nil {
		deliveryFailed = true
		log.Error("assistant message delivery failed", "error", err.Error())
		if err := o.store.MarkDeliveryFailed(ctx, msg.ID); err != nil {
			log.Error("failed to record delivery tombstone", "error", err.Error())
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
}

// SweepAbandoned marks leads with no user activity since the cutoff as
// abandoned and closes their conversations. Returns the number of leads swept.
func (o *Orchestrator) SweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := o.store.ListStaleLeads(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale leads: %w", err)
	}

	swept := 0
	for _, s := range stale {
		updated, err := o.store.SetLeadStep(ctx, s.Lead.ID, string(qualification.StageAbandoned))
		if err != nil {
			o.log.Error("failed to abandon stale lead",
				"lead_id", s.Lead.ID.String(), "error", err.Error())
			continue
		}
		if _, err := o.store.SetConversationStatus(ctx, s.Lead.ConversationID, store.ConversationClosed); err != nil {
			o.log.Error("failed to close stale conversation",
				"conversation_id", s.Lead.ConversationID.String(), "error", err.Error())
		}
		o.publishStageChange(ctx, &s.Lead, s.Lead.CurrentStep, updated.CurrentStep)
		swept++
	}
	return swept, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var errSchedulingDisabled = errors.New("calendar integration is not configured")

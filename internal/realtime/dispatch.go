package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TDXCORE/Agent-Test/internal/conversation"
	"github.com/TDXCORE/Agent-Test/internal/dashboard"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	"github.com/google/uuid"
)

const requestTimeout = 15 * time.Second

// Dispatcher serves request frames against the repository, the conversation
// orchestrator, and the dashboard service.
type Dispatcher struct {
	repo      *store.Repository
	orch      *conversation.Orchestrator
	dashboard *dashboard.Service
	log       *logger.Logger
}

func NewDispatcher(repo *store.Repository, orch *conversation.Orchestrator, dash *dashboard.Service, log *logger.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, orch: orch, dashboard: dash, log: log}
}

type idPayload struct {
	ID uuid.UUID `json:"id"`
}

type listPayload struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type userUpdatePayload struct {
	ID       uuid.UUID `json:"id"`
	FullName *string   `json:"fullName"`
	Email    *string   `json:"email"`
	Phone    *string   `json:"phone"`
	Company  *string   `json:"company"`
}

type conversationListPayload struct {
	UserID *uuid.UUID `json:"userId"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

type conversationUpdatePayload struct {
	ID           uuid.UUID `json:"id"`
	AgentEnabled *bool     `json:"agentEnabled"`
	Status       *string   `json:"status"`
}

type messageListPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Limit          int       `json:"limit"`
	Offset         int       `json:"offset"`
}

type messageCreatePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Content        string    `json:"content"`
}

type leadUpdatePayload struct {
	ID    uuid.UUID `json:"id"`
	Stage string    `json:"stage"`
}

type meetingListPayload struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type meetingUpdatePayload struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"startTime"`
}

type dashboardPayload struct {
	DateRange string `json:"dateRange"`
	Hours     int    `json:"hours"`
	Limit     int    `json:"limit"`
}

// Handle serves one request frame and replies on the same session.
func (d *Dispatcher) Handle(s *Session, requestID string, req RequestPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := d.route(ctx, s, req)
	if err != nil {
		code, message := errorFrame(err)
		if code == CodeInternal {
			d.log.Error("websocket request failed",
				"resource", req.Resource, "action", req.Action, "error", err)
		}
		s.sendError(requestID, code, message)
		return
	}

	if reply, err := replyTo(requestID, TypeResponse, ResponsePayload{
		Resource: req.Resource,
		Action:   req.Action,
		Data:     result,
	}); err == nil {
		s.sendEnvelope(reply)
	}
}

func (d *Dispatcher) route(ctx context.Context, s *Session, req RequestPayload) (any, error) {
	if mutatingAction(req.Action) && !s.authenticated {
		return nil, apperr.Unauthorized("authentication required for write actions")
	}

	switch req.Resource {
	case "users":
		return d.routeUsers(ctx, req)
	case "conversations":
		return d.routeConversations(ctx, req)
	case "messages":
		return d.routeMessages(ctx, req)
	case "leads":
		return d.routeLeads(ctx, req)
	case "meetings":
		return d.routeMeetings(ctx, req)
	case "requirements":
		return d.routeRequirements(ctx, req)
	case "dashboard":
		return d.routeDashboard(ctx, req)
	default:
		return nil, apperr.New(apperr.KindNotFound, "unknown resource: "+req.Resource)
	}
}

func mutatingAction(action string) bool {
	switch action {
	case "create", "update", "delete", "mark_as_read":
		return true
	}
	return false
}

func (d *Dispatcher) routeUsers(ctx context.Context, req RequestPayload) (any, error) {
	switch req.Action {
	case "get_all":
		var p listPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.ListUsers(ctx, orDefault(p.Limit, 50), p.Offset)
	case "get_by_id":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.GetUserByID(ctx, p.ID)
	case "update":
		var p userUpdatePayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.UpdateUser(ctx, p.ID, store.UserPatch{
			FullName: p.FullName,
			Email:    p.Email,
			Phone:    p.Phone,
			Company:  p.Company,
		})
	default:
		return nil, unknownAction(req)
	}
}

func (d *Dispatcher) routeConversations(ctx context.Context, req RequestPayload) (any, error) {
	switch req.Action {
	case "get_all":
		var p conversationListPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if p.UserID != nil {
			return d.repo.ListConversationsByUser(ctx, *p.UserID)
		}
		return d.repo.ListConversations(ctx, orDefault(p.Limit, 50), p.Offset)
	case "get_by_id":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.GetConversationByID(ctx, p.ID)
	case "update":
		var p conversationUpdatePayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if p.AgentEnabled != nil {
			return d.orch.SetAgentEnabled(ctx, p.ID, *p.AgentEnabled)
		}
		if p.Status != nil {
			return d.repo.SetConversationStatus(ctx, p.ID, *p.Status)
		}
		return nil, apperr.Validation("update requires agentEnabled or status")
	default:
		return nil, unknownAction(req)
	}
}

func (d *Dispatcher) routeMessages(ctx context.Context, req RequestPayload) (any, error) {
	switch req.Action {
	case "get_all":
		var p messageListPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == uuid.Nil {
			return nil, apperr.Validation("conversationId is required")
		}
		return d.repo.ListMessages(ctx, p.ConversationID, orDefault(p.Limit, 100), p.Offset)
	case "get_by_id":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.GetMessageByID(ctx, p.ID)
	case "create":
		var p messageCreatePayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if p.Content == "" {
			return nil, apperr.Validation("content is required")
		}
		return d.orch.SendOperatorMessage(ctx, p.ConversationID, p.Content)
	case "mark_as_read":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if err := d.repo.MarkMessageRead(ctx, p.ID); err != nil {
			return nil, err
		}
		return map[string]any{"id": p.ID, "read": true}, nil
	case "delete":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if err := d.repo.SoftDeleteMessage(ctx, p.ID); err != nil {
			return nil, err
		}
		return map[string]any{"id": p.ID, "deleted": true}, nil
	default:
		return nil, unknownAction(req)
	}
}

func (d *Dispatcher) routeLeads(ctx context.Context, req RequestPayload) (any, error) {
	switch req.Action {
	case "get_all":
		var p listPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.ListLeads(ctx, orDefault(p.Limit, 50), p.Offset)
	case "get_by_id":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.GetLeadByID(ctx, p.ID)
	case "update":
		var p leadUpdatePayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.orch.OverrideStage(ctx, p.ID, p.Stage)
	default:
		return nil, unknownAction(req)
	}
}

func (d *Dispatcher) routeMeetings(ctx context.Context, req RequestPayload) (any, error) {
	switch req.Action {
	case "get_all":
		var p meetingListPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if p.From.IsZero() {
			p.From = time.Now().UTC()
		}
		if p.To.IsZero() {
			p.To = p.From.AddDate(0, 0, 30)
		}
		return d.repo.ListMeetings(ctx, p.From, p.To)
	case "get_by_id":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.GetMeetingByID(ctx, p.ID)
	case "update":
		var p meetingUpdatePayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if p.StartTime.IsZero() {
			return nil, apperr.Validation("startTime is required")
		}
		return d.orch.RescheduleByID(ctx, p.ID, p.StartTime)
	case "delete":
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.orch.CancelByID(ctx, p.ID)
	default:
		return nil, unknownAction(req)
	}
}

func (d *Dispatcher) routeRequirements(ctx context.Context, req RequestPayload) (any, error) {
	switch req.Action {
	case "get_by_id":
		// id is the lead qualification id the package belongs to.
		var p idPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		return d.repo.GetRequirementPackage(ctx, p.ID)
	default:
		return nil, unknownAction(req)
	}
}

func (d *Dispatcher) routeDashboard(ctx context.Context, req RequestPayload) (any, error) {
	var p dashboardPayload
	if err := decode(req.Data, &p); err != nil {
		return nil, err
	}
	if p.DateRange == "" {
		p.DateRange = "today"
	}

	switch req.Action {
	case "get_stats":
		return d.dashboard.GetDashboardStats(ctx, p.DateRange)
	case "get_funnel":
		return d.dashboard.GetConversionFunnel(ctx, p.DateRange)
	case "get_timeline":
		return d.dashboard.GetActivityTimeline(ctx, orDefault(p.Hours, 24))
	case "get_performance":
		return d.dashboard.GetAgentPerformance(ctx, p.DateRange)
	case "get_realtime":
		return d.dashboard.GetRealTimeMetrics(ctx)
	case "get_pipeline":
		return d.dashboard.GetLeadPipeline(ctx)
	case "get_conversion":
		return d.dashboard.GetConversionStats(ctx, p.DateRange)
	case "get_abandoned":
		return d.dashboard.GetAbandonedLeads(ctx, orDefault(p.Limit, 50))
	default:
		return nil, unknownAction(req)
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request data", err)
	}
	return nil
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// unknownActionError carries its own websocket error code.
type unknownActionError struct {
	resource string
	action   string
}

func (e *unknownActionError) Error() string {
	return "unknown action " + e.action + " for resource " + e.resource
}

func unknownAction(req RequestPayload) error {
	return &unknownActionError{resource: req.Resource, action: req.Action}
}

// errorFrame maps an error to a websocket error code and message.
func errorFrame(err error) (string, string) {
	var ua *unknownActionError
	if errors.As(err, &ua) {
		return CodeUnknownAction, ua.Error()
	}
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		return CodeNotFound, err.Error()
	case apperr.Is(err, apperr.KindValidation):
		return CodeBadPayload, err.Error()
	case apperr.Is(err, apperr.KindUnauthorized):
		return CodeUnauthorized, err.Error()
	default:
		return CodeInternal, "internal error"
	}
}

// Package dashboard computes the operator-facing aggregations: stats, funnel,
// activity timeline, agent performance, and real-time metrics.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/TDXCORE/Agent-Test/internal/qualification"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

const (
	timelineCap       = 100
	contentTruncation = 100
)

// Store is the read surface the dashboard aggregates over.
type Store interface {
	CountUsersSince(ctx context.Context, since time.Time) (int, error)
	CountActiveConversations(ctx context.Context) (int, error)
	CountMessagesSince(ctx context.Context, since time.Time) (int, error)
	CountMessagesByRole(ctx context.Context, since time.Time) (map[string]int, error)
	CountUnreadUserMessages(ctx context.Context) (int, error)
	CountLeadsByStep(ctx context.Context, since time.Time) (map[string]int, error)
	CountMeetingsBetween(ctx context.Context, from, to time.Time) (int, error)
	ListLeadsByStep(ctx context.Context, step string, limit int) ([]store.LeadQualification, error)
	ListUsersSince(ctx context.Context, since time.Time, limit int) ([]store.User, error)
	ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]store.Message, error)
	ListMeetingsCreatedSince(ctx context.Context, since time.Time, limit int) ([]store.Meeting, error)
}

// Service answers dashboard reads. Concurrent identical requests are
// deduplicated with singleflight since operator UIs tend to poll in bursts.
type Service struct {
	store Store
	log   *logger.Logger
	group singleflight.Group
}

func NewService(st Store, log *logger.Logger) *Service {
	return &Service{store: st, log: log}
}

// cutoffFor translates a date-range keyword into a query cutoff. Zero means
// no restriction.
func cutoffFor(dateRange string) (time.Time, error) {
	now := time.Now()
	switch dateRange {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	case "week":
		return now.AddDate(0, 0, -7), nil
	case "month":
		return now.AddDate(0, -1, 0), nil
	case "all", "":
		return time.Time{}, nil
	default:
		return time.Time{}, apperr.Validation(fmt.Sprintf("unknown date range %q", dateRange))
	}
}

// Stats is the headline dashboard block.
type Stats struct {
	DateRange           string `json:"dateRange"`
	TotalUsers          int    `json:"totalUsers"`
	ActiveConversations int    `json:"activeConversations"`
	TotalMessages       int    `json:"totalMessages"`
	TotalLeads          int    `json:"totalLeads"`
	CompletedLeads      int    `json:"completedLeads"`
	AbandonedLeads      int    `json:"abandonedLeads"`
	ScheduledMeetings   int    `json:"scheduledMeetings"`
}

func (s *Service) GetDashboardStats(ctx context.Context, dateRange string) (*Stats, error) {
	v, err, _ := s.group.Do("stats:"+dateRange, func() (any, error) {
		cutoff, err := cutoffFor(dateRange)
		if err != nil {
			return nil, err
		}

		users, err := s.store.CountUsersSince(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		active, err := s.store.CountActiveConversations(ctx)
		if err != nil {
			return nil, err
		}
		messages, err := s.store.CountMessagesSince(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		leads, err := s.store.CountLeadsByStep(ctx, cutoff)
		if err != nil {
			return nil, err
		}

		meetingsFrom := cutoff
		if meetingsFrom.IsZero() {
			meetingsFrom = time.Unix(0, 0)
		}
		meetings, err := s.store.CountMeetingsBetween(ctx, meetingsFrom, time.Now().AddDate(1, 0, 0))
		if err != nil {
			return nil, err
		}

		total := 0
		for _, n := range leads {
			total += n
		}
		return &Stats{
			DateRange:           orAll(dateRange),
			TotalUsers:          users,
			ActiveConversations: active,
			TotalMessages:       messages,
			TotalLeads:          total,
			CompletedLeads:      leads[string(qualification.StageCompleted)],
			AbandonedLeads:      leads[string(qualification.StageAbandoned)],
			ScheduledMeetings:   meetings,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stats), nil
}

// FunnelStage is one step of the conversion funnel. ConversionRate is the
// share of leads that reached this stage relative to the previous one.
type FunnelStage struct {
	Stage          string  `json:"stage"`
	Count          int     `json:"count"`
	ConversionRate float64 `json:"conversionRate"`
}

// GetConversionFunnel orders stages start→completed; each stage counts leads
// sitting at it or beyond, so the funnel is monotonically decreasing.
func (s *Service) GetConversionFunnel(ctx context.Context, dateRange string) ([]FunnelStage, error) {
	v, err, _ := s.group.Do("funnel:"+dateRange, func() (any, error) {
		cutoff, err := cutoffFor(dateRange)
		if err != nil {
			return nil, err
		}
		counts, err := s.store.CountLeadsByStep(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		return buildFunnel(counts), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]FunnelStage), nil
}

// buildFunnel computes cumulative reach per stage from a per-stage census.
// Abandoned leads count toward the stages before consent was refused only at
// the start stage.
func buildFunnel(counts map[string]int) []FunnelStage {
	progression := []qualification.Stage{
		qualification.StageStart, qualification.StageConsent, qualification.StagePersonalData,
		qualification.StageBant, qualification.StageRequirements, qualification.StageMeeting,
		qualification.StageCompleted,
	}

	// Leads at a later stage have passed through every earlier one.
	reached := make([]int, len(progression))
	for i := range progression {
		for j := i; j < len(progression); j++ {
			reached[i] += counts[string(progression[j])]
		}
	}
	// Abandoned leads at least entered the funnel.
	reached[0] += counts[string(qualification.StageAbandoned)]

	out := make([]FunnelStage, 0, len(progression))
	for i, stage := range progression {
		rate := 0.0
		if i == 0 {
			if reached[0] > 0 {
				rate = 100.0
			}
		} else if reached[i-1] > 0 {
			rate = float64(reached[i]) / float64(reached[i-1]) * 100.0
		}
		out = append(out, FunnelStage{
			Stage:          string(stage),
			Count:          reached[i],
			ConversionRate: rate,
		})
	}
	return out
}

// TimelineEntry is one activity item: a new user, a message, or a meeting.
type TimelineEntry struct {
	Type      string    `json:"type"`
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GetActivityTimeline merges recent users, messages, and meetings into one
// reverse-chronological feed capped at 100 entries. Message content is
// truncated to 100 runes.
func (s *Service) GetActivityTimeline(ctx context.Context, hours int) ([]TimelineEntry, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	users, err := s.store.ListUsersSince(ctx, since, timelineCap)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessagesSince(ctx, since, timelineCap)
	if err != nil {
		return nil, err
	}
	meetings, err := s.store.ListMeetingsCreatedSince(ctx, since, timelineCap)
	if err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(users)+len(messages)+len(meetings))
	for _, u := range users {
		entries = append(entries, TimelineEntry{
			Type: "new_user", ID: u.ID, Title: u.FullName, Timestamp: u.CreatedAt,
		})
	}
	for _, m := range messages {
		entries = append(entries, TimelineEntry{
			Type: "message", ID: m.ID, Title: m.Role,
			Detail: truncate(m.Content, contentTruncation), Timestamp: m.CreatedAt,
		})
	}
	for _, m := range meetings {
		entries = append(entries, TimelineEntry{
			Type: "meeting", ID: m.ID, Title: m.Subject,
			Detail: m.Status, Timestamp: m.CreatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if len(entries) > timelineCap {
		entries = entries[:timelineCap]
	}
	return entries, nil
}

// AgentPerformance summarizes how the automated agent is doing.
type AgentPerformance struct {
	TotalLeads            int     `json:"totalLeads"`
	CompletedLeads        int     `json:"completedLeads"`
	AbandonedLeads        int     `json:"abandonedLeads"`
	CompletionRate        float64 `json:"completionRate"`
	AssistantMessages     int     `json:"assistantMessages"`
	UserMessages          int     `json:"userMessages"`
	MessagesPerLead       float64 `json:"messagesPerLead"`
	MeetingsScheduled     int     `json:"meetingsScheduled"`
	ActiveConversations   int     `json:"activeConversations"`
}

func (s *Service) GetAgentPerformance(ctx context.Context, dateRange string) (*AgentPerformance, error) {
	cutoff, err := cutoffFor(dateRange)
	if err != nil {
		return nil, err
	}

	leads, err := s.store.CountLeadsByStep(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	byRole, err := s.store.CountMessagesByRole(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	active, err := s.store.CountActiveConversations(ctx)
	if err != nil {
		return nil, err
	}

	meetingsFrom := cutoff
	if meetingsFrom.IsZero() {
		meetingsFrom = time.Unix(0, 0)
	}
	meetings, err := s.store.CountMeetingsBetween(ctx, meetingsFrom, time.Now().AddDate(1, 0, 0))
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range leads {
		total += n
	}
	perf := &AgentPerformance{
		TotalLeads:          total,
		CompletedLeads:      leads[string(qualification.StageCompleted)],
		AbandonedLeads:      leads[string(qualification.StageAbandoned)],
		AssistantMessages:   byRole[store.RoleAssistant],
		UserMessages:        byRole[store.RoleUser],
		MeetingsScheduled:   meetings,
		ActiveConversations: active,
	}
	if total > 0 {
		perf.CompletionRate = float64(perf.CompletedLeads) / float64(total) * 100.0
		perf.MessagesPerLead = float64(perf.AssistantMessages+perf.UserMessages) / float64(total)
	}
	return perf, nil
}

// RealTimeMetrics is the polling block for the live operator view.
type RealTimeMetrics struct {
	ActiveConversations int       `json:"activeConversations"`
	UnreadMessages      int       `json:"unreadMessages"`
	MessagesLastHour    int       `json:"messagesLastHour"`
	LeadsInProgress     int       `json:"leadsInProgress"`
	GeneratedAt         time.Time `json:"generatedAt"`
}

func (s *Service) GetRealTimeMetrics(ctx context.Context) (*RealTimeMetrics, error) {
	v, err, _ := s.group.Do("realtime", func() (any, error) {
		active, err := s.store.CountActiveConversations(ctx)
		if err != nil {
			return nil, err
		}
		unread, err := s.store.CountUnreadUserMessages(ctx)
		if err != nil {
			return nil, err
		}
		lastHour, err := s.store.CountMessagesSince(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			return nil, err
		}
		leads, err := s.store.CountLeadsByStep(ctx, time.Time{})
		if err != nil {
			return nil, err
		}

		inProgress := 0
		for step, n := range leads {
			if step != string(qualification.StageCompleted) && step != string(qualification.StageAbandoned) {
				inProgress += n
			}
		}
		return &RealTimeMetrics{
			ActiveConversations: active,
			UnreadMessages:      unread,
			MessagesLastHour:    lastHour,
			LeadsInProgress:     inProgress,
			GeneratedAt:         time.Now(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RealTimeMetrics), nil
}

// PipelineStage pairs a stage with the leads currently sitting at it.
type PipelineStage struct {
	Stage string                    `json:"stage"`
	Count int                       `json:"count"`
	Leads []store.LeadQualification `json:"leads"`
}

// GetLeadPipeline returns the current census per stage with the leads at each.
func (s *Service) GetLeadPipeline(ctx context.Context) ([]PipelineStage, error) {
	counts, err := s.store.CountLeadsByStep(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	out := make([]PipelineStage, 0, len(qualification.Order))
	for _, stage := range qualification.Order {
		leads, err := s.store.ListLeadsByStep(ctx, string(stage), 50)
		if err != nil {
			return nil, err
		}
		out = append(out, PipelineStage{
			Stage: string(stage),
			Count: counts[string(stage)],
			Leads: leads,
		})
	}
	return out, nil
}

// ConversionStats is the funnel plus headline ratios for a date range.
type ConversionStats struct {
	DateRange      string        `json:"dateRange"`
	Funnel         []FunnelStage `json:"funnel"`
	TotalLeads     int           `json:"totalLeads"`
	CompletedLeads int           `json:"completedLeads"`
	OverallRate    float64       `json:"overallRate"`
}

func (s *Service) GetConversionStats(ctx context.Context, dateRange string) (*ConversionStats, error) {
	cutoff, err := cutoffFor(dateRange)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountLeadsByStep(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	stats := &ConversionStats{
		DateRange:      orAll(dateRange),
		Funnel:         buildFunnel(counts),
		TotalLeads:     total,
		CompletedLeads: counts[string(qualification.StageCompleted)],
	}
	if total > 0 {
		stats.OverallRate = float64(stats.CompletedLeads) / float64(total) * 100.0
	}
	return stats, nil
}

// GetAbandonedLeads lists leads that dropped out, newest first per store order.
func (s *Service) GetAbandonedLeads(ctx context.Context, limit int) ([]store.LeadQualification, error) {
	return s.store.ListLeadsByStep(ctx, string(qualification.StageAbandoned), limit)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func orAll(dateRange string) string {
	if dateRange == "" {
		return "all"
	}
	return dateRange
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	"github.com/hibiken/asynq"
)

// Sweeper closes out leads whose conversations have gone silent.
type Sweeper interface {
	SweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error)
}

// CalendarSource is the slice of the calendar client the worker reconciles against.
type CalendarSource interface {
	Sync(ctx context.Context, since time.Time) ([]calendar.Event, error)
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	repo    *store.Repository
	sweeper Sweeper
	cal     CalendarSource
	bus     events.Bus
	log     *logger.Logger
}

func NewWorker(cfg config.RedisConfig, repo *store.Repository, sweeper Sweeper, cal CalendarSource, bus events.Bus, log *logger.Logger) (*Worker, error) {
	if !cfg.IsSchedulerEnabled() {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		repo:    repo,
		sweeper: sweeper,
		cal:     cal,
		bus:     bus,
		log:     log,
	}

	mux.HandleFunc(TaskAbandonmentSweep, w.handleAbandonmentSweep)
	mux.HandleFunc(TaskCalendarSync, w.handleCalendarSync)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleAbandonmentSweep(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAbandonmentSweepPayload(task)
	if err != nil {
		return err
	}

	olderThan := time.Duration(payload.OlderThanHours) * time.Hour
	if olderThan <= 0 {
		olderThan = abandonAfterHours * time.Hour
	}

	swept, err := w.sweeper.SweepAbandoned(ctx, olderThan)
	if err != nil {
		return err
	}
	if swept > 0 {
		w.log.Info("abandonment sweep completed", "leads", swept)
	}
	return nil
}

// handleCalendarSync reconciles local meeting rows with the remote calendar:
// meetings cancelled or moved outside the application win over local state.
func (w *Worker) handleCalendarSync(ctx context.Context, task *asynq.Task) error {
	if w.cal == nil {
		return nil
	}

	payload, err := ParseCalendarSyncPayload(task)
	if err != nil {
		return err
	}
	windowDays := payload.WindowDays
	if windowDays <= 0 {
		windowDays = syncWindowDays
	}

	now := time.Now().UTC()
	remote, err := w.cal.Sync(ctx, now)
	if err != nil {
		return err
	}
	byExternalID := make(map[string]calendar.Event, len(remote))
	for _, ev := range remote {
		byExternalID[ev.ExternalID] = ev
	}

	local, err := w.repo.ListMeetings(ctx, now, now.AddDate(0, 0, windowDays))
	if err != nil {
		return err
	}

	for _, meeting := range local {
		if meeting.ExternalMeetingID == nil {
			continue
		}
		if meeting.Status != store.MeetingScheduled && meeting.Status != store.MeetingRescheduled {
			continue
		}

		ev, found := byExternalID[*meeting.ExternalMeetingID]
		if !found || ev.Cancelled {
			if _, err := w.repo.SetMeetingStatus(ctx, meeting.ID, store.MeetingCancelled); err != nil {
				w.log.Error("failed to cancel drifted meeting", "meeting_id", meeting.ID, "error", err)
				continue
			}
			w.bus.Publish(ctx, events.MeetingCancelled{
				BaseEvent: events.NewBaseEvent(),
				MeetingID: meeting.ID,
				LeadID:    meeting.LeadQualificationID,
			})
			continue
		}

		if !ev.Start.Equal(meeting.StartTime) || !ev.End.Equal(meeting.EndTime) {
			updated, err := w.repo.RescheduleMeeting(ctx, meeting.ID, ev.Start, ev.End)
			if err != nil {
				w.log.Error("failed to apply remote reschedule", "meeting_id", meeting.ID, "error", err)
				continue
			}
			w.bus.Publish(ctx, events.MeetingUpdated{
				BaseEvent: events.NewBaseEvent(),
				MeetingID: updated.ID,
				LeadID:    updated.LeadQualificationID,
				Status:    updated.Status,
				StartTime: updated.StartTime.Format(time.RFC3339),
				EndTime:   updated.EndTime.Format(time.RFC3339),
			})
		}
	}

	return nil
}

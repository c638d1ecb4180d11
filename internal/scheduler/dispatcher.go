package scheduler

import (
	"context"
	"time"

	"github.com/TDXCORE/Agent-Test/platform/logger"
)

const (
	sweepInterval = 15 * time.Minute
	syncInterval  = 10 * time.Minute

	// Leads silent for a week are considered walked away.
	abandonAfterHours = 7 * 24

	syncWindowDays = 30
)

// Dispatcher enqueues the recurring maintenance tasks on a fixed cadence.
// It runs inside the scheduler binary next to the worker, so a single
// deployment both produces and consumes the queue.
type Dispatcher struct {
	client *Client
	log    *logger.Logger
}

func NewDispatcher(client *Client, log *logger.Logger) *Dispatcher {
	return &Dispatcher{client: client, log: log}
}

func (d *Dispatcher) Run(ctx context.Context) {
	sweep := time.NewTicker(sweepInterval)
	sync := time.NewTicker(syncInterval)
	defer sweep.Stop()
	defer sync.Stop()

	d.enqueueSweep(ctx)
	d.enqueueSync(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			d.enqueueSweep(ctx)
		case <-sync.C:
			d.enqueueSync(ctx)
		}
	}
}

func (d *Dispatcher) enqueueSweep(ctx context.Context) {
	err := d.client.EnqueueAbandonmentSweep(ctx, AbandonmentSweepPayload{
		OlderThanHours: abandonAfterHours,
	})
	if err != nil {
		d.log.Error("failed to enqueue abandonment sweep", "error", err)
	}
}

func (d *Dispatcher) enqueueSync(ctx context.Context) {
	err := d.client.EnqueueCalendarSync(ctx, CalendarSyncPayload{
		WindowDays: syncWindowDays,
	})
	if err != nil {
		d.log.Error("failed to enqueue calendar sync", "error", err)
	}
}

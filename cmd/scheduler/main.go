package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/conversation"
	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/internal/scheduler"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/db"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	if !cfg.IsSchedulerEnabled() {
		log.Error("REDIS_URL not configured; scheduler cannot run")
		panic("REDIS_URL not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		panic("invalid timezone: " + err.Error())
	}

	repo := store.New(pool)

	// The sweep needs the orchestrator's stage machinery but none of its
	// providers; the agent, messenger, and calendar stay unset here.
	sweeper := conversation.New(repo, nil, nil, nil, eventBus, cfg, location, cfg.GetHistoryWindow(), log)

	var calSource scheduler.CalendarSource
	if calClient := calendar.NewClient(cfg, cfg.GetCalendarTimeout(), log); calClient != nil {
		calSource = calClient
	} else {
		log.Warn("calendar integration disabled; sync task is a no-op")
	}

	worker, err := scheduler.NewWorker(cfg, repo, sweeper, calSource, eventBus, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer client.Close()

	go scheduler.NewDispatcher(client, log).Run(ctx)

	worker.Run(ctx)
	log.Info("scheduler stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

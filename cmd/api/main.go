package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TDXCORE/Agent-Test/internal/agent"
	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/conversation"
	"github.com/TDXCORE/Agent-Test/internal/dashboard"
	"github.com/TDXCORE/Agent-Test/internal/events"
	apphttp "github.com/TDXCORE/Agent-Test/internal/http"
	"github.com/TDXCORE/Agent-Test/internal/http/router"
	"github.com/TDXCORE/Agent-Test/internal/messaging"
	"github.com/TDXCORE/Agent-Test/internal/notify"
	"github.com/TDXCORE/Agent-Test/internal/realtime"
	"github.com/TDXCORE/Agent-Test/internal/rest"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/internal/webhook"
	"github.com/TDXCORE/Agent-Test/migrations"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/db"
	"github.com/TDXCORE/Agent-Test/platform/logger"
	"github.com/TDXCORE/Agent-Test/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		panic("invalid timezone: " + err.Error())
	}

	repo := store.New(pool)

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Provider Clients
	// ========================================================================

	messenger := messaging.NewClient(cfg, cfg.GetMessagingTimeout(), log)

	// A disabled calendar stays a nil interface so the orchestrator can
	// detect it and reject scheduling tools cleanly.
	var cal conversation.Calendar
	if calClient := calendar.NewClient(cfg, cfg.GetCalendarTimeout(), log); calClient != nil {
		cal = calClient
		log.Info("calendar integration enabled", "user", cfg.CalendarUserEmail)
	} else {
		log.Warn("calendar integration disabled; scheduling tools unavailable")
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	agentRuntime := agent.New(cfg, cfg, location, nil, log)

	orchestrator := conversation.New(repo, agentRuntime, messenger, cal, eventBus,
		cfg, location, cfg.GetHistoryWindow(), log)
	defer orchestrator.Shutdown()

	// The agent's availability tool reads slots through the orchestrator,
	// which also consumes the runtime; wire the provider after both exist.
	agentRuntime.SetSlotProvider(orchestrator)

	mailer := notify.NewMailer(cfg, log)
	mailer.Register(eventBus)
	if mailer != nil {
		log.Info("operator mail notifications enabled", "to", cfg.NotifyAddress)
	}

	dashboardService := dashboard.NewService(repo, log)

	dispatcher := realtime.NewDispatcher(repo, orchestrator, dashboardService, log)
	hub := realtime.NewHub(dispatcher, eventBus, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			webhook.NewModule(cfg, orchestrator, log),
			rest.NewModule(repo, orchestrator, val, log),
			realtime.NewModule(hub, log),
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
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

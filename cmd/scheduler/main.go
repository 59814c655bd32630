package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow_backend/internal/archive"
	"leadflow_backend/internal/crm"
	"leadflow_backend/internal/email"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

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

	var sender email.Sender
	if cfg.IsEmailEnabled() {
		sender = email.NewSMTPSender(cfg)
	} else {
		log.Warn("SMTP or OPS_NOTIFY_EMAIL not configured; ops notifications disabled")
	}

	taskClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = taskClient.Close() }()

	notificationModule := notification.New(sender, taskClient, cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	leadRepo := repository.New(pool)

	crmClient := crm.New(cfg, gate.New(cfg.CollaboratorMaxInFlight), log)
	if !crmClient.Enabled() {
		log.Warn("CRM not configured; handoffs will be parked as failed")
	}

	var archiver *archive.Service
	if cfg.IsMinIOEnabled() {
		exporter, err := archive.NewExporter(cfg)
		if err != nil {
			log.Error("failed to initialize archive storage", "error", err)
			panic("failed to initialize archive storage: " + err.Error())
		}
		if err := withRetry(ctx, log, "ensure archive bucket", 5, 2*time.Second, func() error {
			return exporter.EnsureBucket(ctx)
		}); err != nil {
			log.Error("failed to ensure archive bucket exists", "error", err)
			panic("failed to ensure archive bucket exists: " + err.Error())
		}
		archiver = archive.New(leadRepo, exporter, eventBus, cfg, log)
		log.Info("archive snapshot storage initialized", "bucket", cfg.GetMinioBucketLeadArchive())
	} else {
		archiver = archive.New(leadRepo, nil, eventBus, cfg, log)
		log.Warn("MINIO_ENDPOINT not configured; leads archive without snapshots")
	}

	dispatcher, err := scheduler.NewHandoffDispatcher(cfg, pool, log)
	if err != nil {
		log.Error("failed to initialize handoff dispatcher", "error", err)
		panic("failed to initialize handoff dispatcher: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()
	go dispatcher.Run(ctx)

	sweepScheduler := scheduler.NewArchiveSweepScheduler(taskClient, cfg, log)
	go sweepScheduler.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, pool, crmClient, archiver, eventBus, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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

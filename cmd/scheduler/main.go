package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuspm/platform/internal/app/notifications"
	"github.com/campuspm/platform/internal/app/projects"
	"github.com/campuspm/platform/internal/app/scheduler"
	"github.com/campuspm/platform/internal/app/tasks"
	"github.com/campuspm/platform/internal/platform/dbpool"
	"github.com/campuspm/platform/internal/platform/env"
	"github.com/campuspm/platform/internal/platform/logging"
	"github.com/campuspm/platform/internal/platform/natsutil"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// The scheduler is the only writer driven by the clock rather than by a user
// request. Run exactly one instance: the ledger checks are read-then-write
// and overlapping scans could double-notify.
func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(env.Bool("LOG_DEV", false))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	pool, err := dbpool.New(runCtx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()

	taskRepo := tasks.NewPostgresRepository(pool)
	projectRepo := projects.NewPostgresRepository(pool)
	notificationRepo := notifications.NewPostgresRepository(pool)
	for _, ensure := range []func(context.Context) error{
		projectRepo.EnsureSchema,
		taskRepo.EnsureSchema,
		notificationRepo.EnsureSchema,
	} {
		if err := ensure(runCtx); err != nil {
			logger.Fatal("ensure schema", zap.Error(err))
		}
	}

	notificationSvc := notifications.NewService(notificationRepo, logger)

	var client *natsutil.Client
	if client, err = natsutil.ConnectJetStreamWithRetry(
		env.String("NATS_URL", env.DefaultNATSURL),
		env.Duration("NATS_CONNECT_TIMEOUT", 10*time.Second),
	); err != nil {
		logger.Warn("nats unavailable, running on timer only", zap.Error(err))
		client = nil
	} else {
		defer client.Close()
		publisher := natsutil.JetStreamPublisher{JS: client.JS}
		notificationSvc.Publish = publisher.Publish
	}

	scanSvc := scheduler.NewService(taskRepo, projectRepo, notificationRepo, notificationSvc, logger)

	runScan := func() {
		scanCtx, cancel := context.WithTimeout(runCtx, env.Duration("SCAN_TIMEOUT", 2*time.Minute))
		defer cancel()
		if _, err := scanSvc.RunChecks(scanCtx); err != nil {
			logger.Warn("scheduled checks incomplete", zap.Error(err))
		}
	}

	// On-demand trigger, e.g. from an ops shell or the UI backend.
	if client != nil {
		sub, err := client.Conn.Subscribe(natsutil.ScanTriggerSubject, func(_ *nats.Msg) {
			logger.Info("scan triggered on demand")
			runScan()
		})
		if err != nil {
			logger.Warn("subscribe scan trigger", zap.Error(err))
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	scanTicker := time.NewTicker(env.Duration("SCAN_INTERVAL", time.Hour))
	defer scanTicker.Stop()
	purgeTicker := time.NewTicker(env.Duration("PURGE_INTERVAL", 24*time.Hour))
	defer purgeTicker.Stop()
	retention := env.Duration("READ_RETENTION", 30*24*time.Hour)

	logger.Info("scheduler started")
	runScan()

	for {
		select {
		case <-scanTicker.C:
			runScan()
		case <-purgeTicker.C:
			purged, err := notificationSvc.PurgeRead(runCtx, retention)
			if err != nil {
				logger.Warn("purge read notifications", zap.Error(err))
				continue
			}
			logger.Info("purged read notifications", zap.Int("count", purged))
		case <-runCtx.Done():
			logger.Info("scheduler stopping")
			return
		}
	}
}

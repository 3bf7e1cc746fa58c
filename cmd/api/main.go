package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuspm/platform/internal/app/notifications"
	"github.com/campuspm/platform/internal/app/projects"
	"github.com/campuspm/platform/internal/app/tasks"
	"github.com/campuspm/platform/internal/platform/dbpool"
	"github.com/campuspm/platform/internal/platform/env"
	"github.com/campuspm/platform/internal/platform/logging"
	"github.com/campuspm/platform/internal/platform/metrics"
	"github.com/campuspm/platform/internal/platform/natsutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

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

	// The push mirror is optional: without NATS the API still persists every
	// notification, it just has nothing to stream.
	if client, err := natsutil.ConnectJetStreamWithRetry(
		env.String("NATS_URL", env.DefaultNATSURL),
		env.Duration("NATS_CONNECT_TIMEOUT", 10*time.Second),
	); err != nil {
		logger.Warn("nats unavailable, notification events will not be streamed", zap.Error(err))
	} else {
		defer client.Close()
		publisher := natsutil.JetStreamPublisher{JS: client.JS}
		notificationSvc.Publish = publisher.Publish
	}

	taskSvc := tasks.NewService(taskRepo, projectRepo, projectRepo, notificationSvc, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{env.String("ALLOWED_ORIGIN", "*")},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Mount("/api/v1", apiRouter(taskSvc, notificationSvc, logger))

	server := &http.Server{
		Addr:              env.String("API_ADDR", env.DefaultAPIAddr),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-runCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func apiRouter(taskSvc *tasks.Service, notificationSvc *notifications.Service, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Mount("/", tasks.NewHandler(taskSvc, logger).Router())
	r.Mount("/me", notifications.NewHandler(notificationSvc, logger).Router())
	return r
}

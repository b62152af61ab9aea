// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"slackcoach/internal/admission"
	"slackcoach/internal/coach"
	"slackcoach/internal/common/config"
	"slackcoach/internal/common/database"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/common/observability"
	"slackcoach/internal/quota"
	"slackcoach/internal/scheduler"
	"slackcoach/internal/server"
	"slackcoach/internal/slackapi"
	"slackcoach/internal/store"
	"slackcoach/internal/tasks/autocoach"
	"slackcoach/internal/tasks/feedback"
	"slackcoach/internal/tasks/rephrase"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting coaching server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("coaching-server")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Repositories ---
	workspaces := store.NewWorkspaceRepository(pg.DB, rdb.Client, log)
	users := store.NewUserRepository(pg.DB, rdb.Client, log)
	members := store.NewMembershipRepository(pg.DB, rdb.Client, log)

	// --- Pipeline ---
	filter := admission.NewFilter(users, members, rdb.Client, cfg.Pipeline, log)
	gate := quota.NewGate(users, log)
	sched := scheduler.New(cfg.Pipeline, obs, log)
	analyzer := coach.NewHTTPAnalyzer(cfg.Analyzer, log)
	clients := slackapi.NewFactory(cfg.Slack.APIURL, log)

	srv := server.New(server.Deps{
		Config:     cfg,
		Verifier:   slackapi.NewVerifier(cfg.Slack.SigningSecret),
		Clients:    clients,
		Workspaces: workspaces,
		Users:      users,
		Members:    members,
		Filter:     filter,
		Gate:       gate,
		Scheduler:  sched,
		AutoCoach:  autocoach.NewHandler(autocoach.LoadConfig(cfg.Pipeline.ContextMessages), analyzer, gate, log),
		Rephrase:   rephrase.NewHandler(rephrase.LoadConfig(), analyzer, gate, log),
		Feedback:   feedback.NewHandler(feedback.LoadConfig(), analyzer, gate, log),
		Logger:     log,
	})

	webhookSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		zapLog.Info("Webhook server listening", zap.String("address", cfg.Server.Address))
		if err := webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("webhook server failed", zap.Error(err))
		}
	}()

	// --- Health & Metrics Server ---
	opsSrv := &http.Server{
		Addr:    cfg.Server.OpsAddress,
		Handler: server.Ops(promhttp.Handler()),
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.OpsAddress))
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownGraceS)*time.Second)
	defer cancel()

	// Stop intake first so no new tasks are scheduled, then wait for
	// in-flight tasks before the process exits.
	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("webhook server shutdown failed", zap.Error(err))
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("task drain incomplete", zap.Error(err))
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("ops server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Coaching server stopped gracefully")
}

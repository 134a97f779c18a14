package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatchly/internal/config"
	"dispatchly/internal/domain/notification"
	"dispatchly/internal/infra/email"
	"dispatchly/internal/infra/inapp"
	"dispatchly/internal/infra/push"
	"dispatchly/internal/infra/queue"
	"dispatchly/internal/infra/ratelimit"
	"dispatchly/internal/infra/sms"
	"dispatchly/internal/infra/store"
	"dispatchly/internal/metrics"

	"github.com/hibiken/asynq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("worker configuration loaded")

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Store: Supabase when configured, in-memory otherwise
	notifStore, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}

	// Template Registry
	registry := notification.NewRegistry(true)
	if err := notification.SeedDefaults(registry); err != nil {
		slog.Error("failed to seed default templates", "error", err)
		os.Exit(1)
	}

	// Rate Limiter: Redis-backed counters shared across workers, or
	// process-local fixed windows
	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()

	// Channel Adapters
	adapters := buildAdapters(cfg, notifStore)
	if len(adapters) == 0 {
		slog.Error("no channel adapters configured")
		os.Exit(1)
	}

	// Dispatch Engine
	dispatcher := notification.NewDispatcher(
		registry,
		limiter,
		notifStore,
		notifStore,
		metrics.Recorder{},
		notification.DispatcherOptions{
			Retry: notification.RetryPolicy{
				MaxAttempts:  cfg.Retry.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay(),
				MaxDelay:     cfg.Retry.MaxDelay(),
				Multiplier:   cfg.Retry.Multiplier,
				Jitter:       cfg.Retry.Jitter,
			},
			AdapterTimeout: time.Duration(cfg.Retry.AdapterTimeout) * time.Second,
			Batching:       batcherConfig(cfg),
		},
		adapters...,
	)

	// Notification Worker
	notifWorker := notification.NewWorker(notifStore, dispatcher, metrics.Recorder{})

	// Asynq Client (for reaper re-enqueuing)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()
	taskQueue := queue.NewTaskQueue(asynqClient, cfg.Queue.MaxRetry)

	// ==========================================
	// Asynq Server (task processing)
	// ==========================================

	asynqServer := queue.NewServer(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Concurrency,
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(notification.TaskTypeDispatch, notifWorker.ProcessTask)

	// Start the asynq worker in a goroutine
	go func() {
		slog.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
			"adapters", len(adapters),
		)
		if err := asynqServer.Run(mux); err != nil {
			slog.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Stale Task Reaper
	// ==========================================

	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()

	reaper := notification.NewReaper(notifStore, taskQueue, notification.ReaperConfig{
		Interval:       time.Duration(cfg.Reaper.IntervalSec) * time.Second,
		StaleThreshold: time.Duration(cfg.Reaper.StaleThresholdSec) * time.Second,
		BatchSize:      cfg.Reaper.BatchSize,
	})

	go reaper.Run(reaperCtx)

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	reaperCancel() // Stop the reaper first
	asynqServer.Shutdown()

	// Flush open batch windows and let in-flight deliveries settle
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Error("dispatcher shutdown incomplete", "error", err)
	}

	slog.Info("worker exited gracefully")
}

// newStore selects the Supabase store when configured, falling back to the
// in-memory store for single-node development.
func newStore(cfg *config.Config) (notification.Store, error) {
	if cfg.Supabase.URL == "" {
		slog.Warn("supabase not configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		return nil, err
	}
	slog.Info("supabase store initialized")
	return s, nil
}

func newLimiter(cfg *config.Config) (notification.RateLimiter, func()) {
	limits := notification.RateLimits{
		PerUserPerMinute: cfg.RateLimit.PerUserPerMinute,
		PerUserPerHour:   cfg.RateLimit.PerUserPerHour,
		PerUserPerDay:    cfg.RateLimit.PerUserPerDay,
		GlobalPerSecond:  cfg.RateLimit.GlobalPerSecond,
		GlobalPerMinute:  cfg.RateLimit.GlobalPerMinute,
	}
	if cfg.RateLimit.Distributed {
		rl := ratelimit.NewRedisLimiter(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, limits)
		slog.Info("redis rate limiter initialized")
		return rl, func() { _ = rl.Close() }
	}
	return notification.NewFixedWindowLimiter(limits), func() {}
}

// buildAdapters wires every adapter whose provider credentials are present.
func buildAdapters(cfg *config.Config, notifStore notification.Store) []notification.Adapter {
	var adapters []notification.Adapter

	if cfg.Email.APIKey != "" {
		adapters = append(adapters, email.NewResendAdapter(
			cfg.Email.APIKey,
			cfg.Email.FromAddress,
			cfg.Email.FromName,
		))
		slog.Info("email adapter initialized", "provider", cfg.Email.Provider)
	}
	if cfg.SMS.AccountSID != "" {
		adapters = append(adapters, sms.NewTwilioAdapter(
			cfg.SMS.AccountSID,
			cfg.SMS.AuthToken,
			cfg.SMS.FromNumber,
		))
		slog.Info("sms adapter initialized")
	}
	if cfg.Push.ProjectID != "" {
		adapters = append(adapters, push.NewFCMAdapter(cfg.Push.ProjectID, fcmToken))
		slog.Info("push adapter initialized", "project", cfg.Push.ProjectID)
	}

	// In-app delivery needs only the store
	adapters = append(adapters, inapp.NewInboxAdapter(notifStore))
	return adapters
}

// fcmToken reads the FCM bearer token from the environment. Deployments
// refresh it out of band (workload identity or a sidecar).
func fcmToken(ctx context.Context) (string, error) {
	return os.Getenv("DISPATCHLY_PUSH_ACCESS_TOKEN"), nil
}

func batcherConfig(cfg *config.Config) notification.BatcherConfig {
	cats := make(map[notification.Category]bool, len(cfg.Batch.Categories))
	for _, c := range cfg.Batch.Categories {
		cats[notification.Category(c)] = true
	}
	return notification.BatcherConfig{
		Enabled:      cfg.Batch.Enabled,
		Interval:     time.Duration(cfg.Batch.IntervalSec) * time.Second,
		MaxBatchSize: cfg.Batch.MaxBatchSize,
		Categories:   cats,
	}
}

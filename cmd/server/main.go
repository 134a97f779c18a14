package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatchly/internal/config"
	"dispatchly/internal/domain/notification"
	"dispatchly/internal/infra/events"
	"dispatchly/internal/infra/queue"
	"dispatchly/internal/infra/store"
	"dispatchly/internal/router"
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

	slog.Info("configuration loaded", "port", cfg.Server.Port, "mode", cfg.Server.Mode)

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
	slog.Info("template registry initialized", "templates", len(registry.All()))

	// Asynq Client (for enqueuing dispatch tasks)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()
	taskQueue := queue.NewTaskQueue(asynqClient, cfg.Queue.MaxRetry)
	slog.Info("asynq client initialized", "redis", cfg.Redis.Address)

	// Service
	notificationService := notification.NewService(notifStore, taskQueue, registry)

	// Handler
	notificationHandler := notification.NewHandler(notificationService)

	// Router
	r := router.New(cfg, notificationHandler)

	// Kafka event consumer (optional)
	eventsCtx, eventsCancel := context.WithCancel(context.Background())
	defer eventsCancel()
	if len(cfg.Events.Brokers) > 0 {
		consumer := events.NewConsumer(events.ConsumerConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
			GroupID: cfg.Events.GroupID,
			Routes:  events.DefaultRoutes(),
		}, notificationService)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(eventsCtx); err != nil {
				slog.Error("event consumer exited", "error", err)
			}
		}()
	}

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	eventsCancel()

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
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

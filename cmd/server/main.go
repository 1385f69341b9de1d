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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/detector"
	"github.com/jonnyallum/safeguardian/internal/handlers"
	"github.com/jonnyallum/safeguardian/internal/kafka"
	"github.com/jonnyallum/safeguardian/internal/metrics"
	"github.com/jonnyallum/safeguardian/internal/monitor"
	"github.com/jonnyallum/safeguardian/internal/notification"
	"github.com/jonnyallum/safeguardian/internal/realtime"
	"github.com/jonnyallum/safeguardian/internal/scheduler"
	"github.com/jonnyallum/safeguardian/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("Starting SafeGuardian monitoring service",
		"environment", cfg.Environment,
		"http_port", cfg.Server.HTTPPort)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// Storage: postgres when enabled, in-memory otherwise.
	var (
		ageDir        storage.AgeDirectory
		analysisStore storage.AnalysisStore
		alertStore    storage.AlertStore
		closeStore    = func() {}
	)
	if cfg.Database.Enabled {
		pg, err := storage.NewPostgresStore(cfg.Database, logger)
		if err != nil {
			logger.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		ageDir, analysisStore, alertStore = pg, pg, pg
		closeStore = func() {
			if err := pg.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		}
	} else {
		mem := storage.NewMemoryStore()
		ageDir, analysisStore, alertStore = mem, mem, mem
		logger.Warn("Database disabled, using in-memory storage")
	}

	hub := realtime.NewHub(logger)
	hub.Run()

	// Notification dispatch.
	notifier := notification.NewManager(cfg.Notifications, logger, collector)
	if cfg.Notifications.Email.Enabled {
		notifier.Register(notification.NewEmailDispatcher(cfg.Notifications.Email), cfg.Notifications.Email.RateLimitPerMin)
	}
	if cfg.Notifications.SMS.Enabled {
		notifier.Register(notification.NewSMSDispatcher(cfg.Notifications.SMS), cfg.Notifications.SMS.RateLimitPerMin)
	}
	if cfg.Notifications.Webhook.Enabled {
		notifier.Register(notification.NewWebhookDispatcher(cfg.Notifications.Webhook), cfg.Notifications.Webhook.RateLimitPerMin)
	}
	notifier.Register(notification.NewBroadcastDispatcher(notification.ChannelPush, hub), 0)
	notifier.Register(notification.NewBroadcastDispatcher(notification.ChannelDashboard, hub), 0)
	notifier.Start()

	// Alert rules.
	var rules []*alerting.Rule
	if cfg.Rules.File != "" {
		rules, err = alerting.LoadRules(cfg.Rules.File)
		if err != nil {
			logger.Error("Failed to load alert rules", "file", cfg.Rules.File, "error", err)
			os.Exit(1)
		}
		logger.Info("Alert rules loaded", "file", cfg.Rules.File, "rules", len(rules))
	}

	engineOpts := []alerting.Option{
		alerting.WithNotifier(notifier),
		alerting.WithAlertStore(alertStore),
		alerting.WithMetrics(collector),
	}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		engineOpts = append(engineOpts, alerting.WithPublisher(producer))
	}
	engine := alerting.NewEngine(cfg.Alerting, cfg.Notifications.Recipients, rules, logger, engineOpts...)

	// Detection pipeline.
	scorer := detector.NewScorer()
	tracker := detector.NewTracker(detector.WithConversationTTL(cfg.Detection.ConversationTTL))
	mon := monitor.New(cfg.Monitoring, scorer, tracker, logger,
		monitor.WithAgeDirectory(ageDir),
		monitor.WithAnalysisStore(analysisStore),
		monitor.WithAlertSink(engine),
		monitor.WithBroadcaster(hub),
		monitor.WithMetrics(collector),
	)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer = kafka.NewConsumer(cfg.Kafka, mon, logger)
		consumer.Start()
	}

	// Background sweeps.
	sched := scheduler.New(logger)
	if cfg.Scheduler.Enabled {
		tasks := []scheduler.Task{
			{
				Name:     "idle_session_sweep",
				Schedule: cfg.Scheduler.IdleSweepSchedule,
				Run: func() error {
					if stopped := mon.SweepIdle(); stopped > 0 {
						logger.Info("Idle sessions stopped", "count", stopped)
					}
					return nil
				},
			},
			{
				Name:     "conversation_ttl_sweep",
				Schedule: cfg.Scheduler.ConversationSweepSchedule,
				Run: func() error {
					if evicted := tracker.EvictExpired(); evicted > 0 {
						logger.Info("Expired conversations evicted", "count", evicted)
					}
					return nil
				},
			},
			{
				Name:     "alert_cleanup",
				Schedule: cfg.Scheduler.AlertCleanupSchedule,
				Run: func() error {
					if moved := engine.CleanupResolved(); moved > 0 {
						logger.Info("Resolved alerts archived", "count", moved)
					}
					return nil
				},
			},
			{
				Name:     "stats_refresh",
				Schedule: cfg.Scheduler.StatsRefreshSchedule,
				Run: func() error {
					hub.Broadcast(map[string]any{
						"type":       "stats_update",
						"monitoring": mon.Stats(),
						"alerts":     engine.Stats(),
					})
					return nil
				},
			},
		}
		for _, task := range tasks {
			if err := sched.Register(task); err != nil {
				logger.Error("Failed to register scheduled task", "task", task.Name, "error", err)
				os.Exit(1)
			}
		}
		sched.Start()
	}

	// HTTP API.
	handler := handlers.New(mon, engine, notifier, scorer, hub, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig)

	// Stop ingest first, then drain the pipeline stage by stage.
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("Failed to stop Kafka consumer", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if err := mon.Shutdown(shutdownCtx); err != nil {
		logger.Error("Monitor shutdown incomplete", "error", err)
	}

	engine.Stop()
	notifier.Stop()
	sched.Stop()
	hub.Stop()

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", "error", err)
		}
	}
	closeStore()

	logger.Info("Shutdown complete")
}

// setupLogging builds the service logger: JSON in production, text
// elsewhere, debug level when enabled.
func setupLogging(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

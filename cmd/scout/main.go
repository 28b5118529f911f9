// Package main is the entry point for the digest server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/psalt21/signal-scout/internal/api"
	"github.com/psalt21/signal-scout/internal/collector"
	"github.com/psalt21/signal-scout/internal/config"
	"github.com/psalt21/signal-scout/internal/feedback"
	"github.com/psalt21/signal-scout/internal/health"
	"github.com/psalt21/signal-scout/internal/jobs"
	"github.com/psalt21/signal-scout/internal/middleware"
	"github.com/psalt21/signal-scout/internal/refresh"
	"github.com/psalt21/signal-scout/internal/scoring"
	"github.com/psalt21/signal-scout/internal/store"
	"github.com/psalt21/signal-scout/internal/summarizer"
)

func main() {
	configPath := flag.String("config", "scout.yaml", "path to the YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Signal Scout digest server")
		fmt.Println()
		fmt.Println("Usage: scout [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summaryAttrs := make([]any, 0, 16)
	for k, v := range cfg.LogSummary() {
		summaryAttrs = append(summaryAttrs, k, v)
	}
	logger.Info("configuration loaded", summaryAttrs...)

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Metrics registry shared by HTTP middleware and the refresh job.
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Core pipeline components.
	col := collector.New(0, logger)
	sum := summarizer.NewClient(cfg.LLMAPIURL, cfg.LLMModel, 0, logger)
	engine := scoring.NewEngine(st, logger)
	votes := feedback.NewProcessor(st, logger)
	orchestrator := refresh.New(st, col, sum, engine, refresh.Config{
		Feeds:      cfg.Feeds,
		Topic:      cfg.Topic,
		Keywords:   cfg.Keywords,
		MaxItemAge: cfg.MaxItemAge(),
		BatchLimit: cfg.BatchLimit,
		APIKey:     cfg.LLMAPIKey,
		Logger:     logger,
		Metrics:    jobMetrics,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// First refresh runs immediately so a fresh install has a digest
	// before the first scheduled tick.
	go orchestrator.Refresh(rootCtx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.RefreshInterval), func() {
		orchestrator.Refresh(rootCtx)
	}); err != nil {
		logger.Error("failed to schedule refresh", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	// Hot-reload feeds and keywords when the config file changes.
	go func() {
		if err := config.Watch(rootCtx, *configPath, logger, func(next *config.Config) {
			orchestrator.UpdateFeeds(next.Feeds, next.Keywords)
		}); err != nil && rootCtx.Err() == nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	// HTTP routes.
	healthHandlers := api.NewHealthHandlers(health.NewDBChecker(st.DB()))
	digestHandlers := api.NewDigestHandlers(st, votes, engine, orchestrator, cfg.DigestLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/digest", digestHandlers.Digest)
	mux.HandleFunc("/api/feedback", digestHandlers.Feedback)
	mux.HandleFunc("/api/refresh", digestHandlers.TriggerRefresh)
	mux.HandleFunc("/api/status", digestHandlers.Status)
	mux.HandleFunc("/api/settings/llm-key", digestHandlers.SetLLMKey)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"signal-scout","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics
	handler := middleware.RequestID(middleware.Logging(logger)(middleware.HTTPMetrics(httpMetrics)(mux)))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "refresh_interval", cfg.RefreshInterval.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()

	logger.Info("shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-attachment/pkg/attachment/api"
	"github.com/tendant/simple-attachment/pkg/attachment/config"
)

// ProcessConfig holds settings that only concern the server process.
// Engine settings are read by config.WithEnv.
type ProcessConfig struct {
	LogLevel        string        `env:"LOG_LEVEL" env-default:"info"`
	LogFormat       string        `env:"LOG_FORMAT" env-default:"json"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	// ApiKeySHA256 enables API key auth on /api routes when set
	ApiKeySHA256 string `env:"API_KEY_SHA256"`
}

func main() {
	var proc ProcessConfig
	if err := cleanenv.ReadEnv(&proc); err != nil {
		slog.Error("Failed to read process configuration", "err", err)
		os.Exit(1)
	}
	logger := newLogger(proc)
	slog.SetDefault(logger)

	serverConfig, err := config.Load(config.WithEnv(""))
	if err != nil {
		logger.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := serverConfig.BuildService(context.Background(), logger, registry)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	handler := api.NewAttachmentHandler(rt.Service, rt.Documents, logger)
	router, err := routes(handler, serverConfig, proc, registry)
	if err != nil {
		logger.Error("Failed to set up routes", "err", err)
		os.Exit(1)
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverConfig.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Attachment server starting",
			"port", serverConfig.Port,
			"environment", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.Storage.Type,
			"inline_threshold_bytes", serverConfig.InlineThresholdBytes,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), proc.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	// pending finalize jobs run to completion before connections close
	if err := rt.Close(); err != nil {
		logger.Error("Finalize workers reported errors", "err", err)
	}

	logger.Info("Server exiting")
}

func routes(handler *api.AttachmentHandler, cfg *config.ServerConfig, proc ProcessConfig, registry *prometheus.Registry) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(proc.RequestTimeout))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":      "healthy",
			"environment": cfg.Environment,
			"storage":     cfg.Storage.Type,
		})
	})
	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	var auth func(http.Handler) http.Handler
	if proc.ApiKeySHA256 != "" {
		mw, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"key1": proc.ApiKeySHA256},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
		auth = mw
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(auth)
			}
			r.Mount("/entities", handler.Routes())
		})
	})
	return r, nil
}

func newLogger(proc ProcessConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(proc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if proc.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

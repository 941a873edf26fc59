// Package app assembles the service: configuration, logger, registry,
// pipeline, router and HTTP server lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"concentra/internal/config"
	apierrors "concentra/internal/errors"
	"concentra/internal/infrastructure"
	"concentra/internal/insights"
	custommw "concentra/internal/middleware"
	"concentra/internal/registry"
	"concentra/internal/services"
	"concentra/internal/tasks"
	transport "concentra/internal/transport/http"
)

// Version is the service version, overridable at build time.
var Version = "0.1.0"

// Application is the assembled service.
type Application struct {
	Config  *config.Config
	Router  *chi.Mux
	Server  *http.Server
	Logger  *slog.Logger
	Service *services.DatasetService
	Queue   *tasks.Queue
}

// New loads configuration and wires every component.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("application starting",
		slog.String("version", Version),
		slog.String("datasets_path", cfg.Storage.DatasetsPath))

	reg, err := registry.New(cfg.Storage.DatasetsPath, logger)
	if err != nil {
		return nil, err
	}

	metrics := infrastructure.NewMetrics()

	var provider insights.Provider
	if cfg.LLM.Enabled && cfg.LLM.Provider == "anthropic" && cfg.LLM.AnthropicAPIKey != "" {
		provider = insights.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model)
	}
	generator := insights.NewGenerator(provider, reg, metrics, logger,
		cfg.LLM.Enabled, cfg.LLM.Timeout, cfg.LLM.CallBudget)

	queue := tasks.NewQueue(2, logger)
	service := services.NewDatasetService(cfg, reg, generator, queue, metrics, logger)

	errorHandler := apierrors.NewHandler(logger, custommw.GetRequestID)

	router := buildRouter(cfg, service, errorHandler, metrics, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:  cfg,
		Router:  router,
		Server:  server,
		Logger:  logger,
		Service: service,
		Queue:   queue,
	}, nil
}

func buildRouter(cfg *config.Config, service *services.DatasetService, errorHandler *apierrors.Handler, metrics *infrastructure.Metrics, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(logger))
	r.Use(custommw.Recoverer(errorHandler))
	r.Use(custommw.SecurityHeaders)
	r.Use(custommw.CORS(cfg.Security.AllowedOrigins))
	r.Use(custommw.Metrics(metrics))

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	health := transport.NewHealthHandler(Version, cfg.Storage.DatasetsPath)
	r.Get("/healthz", health.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	limiter := custommw.NewRateLimiter(cfg.Security.RateLimit, errorHandler, logger)
	datasets := transport.NewDatasetHandler(service, errorHandler, cfg.Storage.MaxFileBytes(), logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(custommw.APIKey(cfg.Security.APIKey, errorHandler))
		r.Use(limiter.Handler)
		r.Mount("/", datasets.Routes())
	})

	return r
}

// Run starts the task queue and server, then blocks until shutdown
// completes.
func (a *Application) Run() error {
	queueCtx, queueCancel := context.WithCancel(context.Background())
	defer queueCancel()
	a.Queue.Start(queueCtx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	queueCancel()
	a.Queue.Stop()
	a.Logger.Info("server stopped", slog.Duration("grace", a.Config.Server.ShutdownTimeout))
	return nil
}

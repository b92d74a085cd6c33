// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/config"
	"github.com/capitalize-ai/agui-gateway/internal/handler"
	"github.com/capitalize-ai/agui-gateway/internal/llm"
	"github.com/capitalize-ai/agui-gateway/internal/middleware"
	natsclient "github.com/capitalize-ai/agui-gateway/internal/nats"
	"github.com/capitalize-ai/agui-gateway/internal/service"
	"github.com/capitalize-ai/agui-gateway/pkg/logger"
	"github.com/capitalize-ai/agui-gateway/pkg/tracing"
)

const serviceName = "agui-gateway"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     serviceName,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Fatal("failed to ensure stream", zap.Error(err))
	}

	llmClient := newLLMClient(cfg, log)

	// Lifecycle state machine
	registry := agui.NewRegistry(agui.WithShards(cfg.RegistryShards))
	manager := agui.NewManager(registry, agui.WithLogger(log.Named("agui")))

	// Initialize services
	threadSvc := service.NewThreadService(log)
	runSvc, err := service.NewRunService(streamManager, threadSvc, manager, llmClient, log,
		service.WithDefaultModel(cfg.DefaultModel),
		service.WithEventPublishing(cfg.NATSPublishEvents),
		service.WithRunTimeout(cfg.RunTimeout),
	)
	if err != nil {
		log.Fatal("failed to create run service", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, registry)
	threadHandler := handler.NewThreadHandler(threadSvc, runSvc, log)
	runHandler := handler.NewRunHandler(runSvc, log, cfg.HeartbeatInterval)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", threadHandler.Create)
			r.Get("/", threadHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", threadHandler.Get)
				r.Put("/", threadHandler.Update)
				r.Delete("/", threadHandler.Delete)

				r.Get("/messages", threadHandler.Messages)

				// Streaming
				r.With(middleware.RunRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).
					Post("/runs", runHandler.Run)
				r.Get("/runs/{runId}/events", runHandler.Events)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	if n := registry.Len(); n > 0 {
		log.Warn("runs still open at shutdown", zap.Int("active_runs", n))
	}

	log.Info("server stopped")
}

// newLLMClient builds the configured provider, falling back to the other one
// when only its key is set. Runs are refused when neither is available.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}

	preferred := llm.Provider(cfg.DefaultLLM)
	order := []llm.Provider{preferred, llm.ProviderAnthropic, llm.ProviderOpenAI}
	for _, provider := range order {
		key := keys[provider]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(provider, key)
		if err != nil {
			log.Warn("failed to create LLM client", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		if provider != preferred {
			log.Warn("default LLM provider unavailable, using fallback",
				zap.String("preferred", string(preferred)),
				zap.String("provider", string(provider)),
			)
		}
		log.Info("LLM provider configured", zap.String("provider", string(provider)))
		return client
	}

	log.Warn("no LLM provider configured, runs disabled")
	return nil
}

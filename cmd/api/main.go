// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/action"
	"github.com/concierge-hq/concierge/internal/config"
	"github.com/concierge-hq/concierge/internal/engine"
	"github.com/concierge-hq/concierge/internal/handler"
	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/middleware"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/natsio"
	"github.com/concierge-hq/concierge/internal/store"
	"github.com/concierge-hq/concierge/pkg/logger"
	"github.com/concierge-hq/concierge/pkg/tracing"
)

const systemPrompt = `You are the shared assistant for a small team, reachable ` +
	`over SMS, email, and web chat. Use the available actions when a request ` +
	`calls for one; side-effecting actions are reviewed by a human before they ` +
	`run. Be concise.`

func main() {
	// Load configuration
	cfg := config.Load()

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
		tp, err := tracing.InitTracer(ctx, "concierge", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsio.Connect(natsio.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure the audit stream and conversation bucket exist
	streams := natsio.NewStreamManager(natsClient)
	if err := streams.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}
	kv, err := streams.EnsureBucket(ctx)
	if err != nil {
		log.Error("failed to ensure KV bucket", zap.Error(err))
		os.Exit(1)
	}

	conversationStore := store.NewNATSStore(kv, streams, log)

	// Initialize LLM clients: the agent model must support tool calls, the
	// summarizer only needs plain completion.
	agentClient, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		log.Error("failed to create agent model client", zap.Error(err))
		os.Exit(1)
	}

	var summarizer llm.Client = agentClient
	if cfg.AnthropicAPIKey != "" {
		anthropicClient, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, summarizing with agent model", zap.Error(err))
		} else {
			summarizer = anthropicClient
		}
	}

	// Action gate with the built-in action set. Real integrations consume
	// the outbound subjects.
	gate := action.NewGate(log)
	if err := registerActions(gate, streams); err != nil {
		log.Error("failed to register actions", zap.Error(err))
		os.Exit(1)
	}

	compactor := engine.NewCompactor(summarizer, engine.CompactorConfig{
		ShrinkThreshold:   cfg.ShrinkThreshold,
		ContextWindow:     cfg.ContextWindow,
		HighWaterFraction: cfg.HighWaterFraction,
		SummaryModel:      cfg.SummaryModel,
	}, log)

	eng := engine.New(conversationStore, gate, agentClient, compactor, engine.Config{
		AgentModel:   cfg.AgentModel,
		SystemPrompt: systemPrompt,
		MaxSteps:     cfg.MaxAgentSteps,
	}, log)

	cooldown := engine.NewCooldown(cfg.TriggerCooldown)
	notifier := natsio.NewNotifier(streams, cfg.NotifySubject)
	runner := engine.NewTriggerRunner(eng, cooldown, conversationStore, notifier, cfg.SilentSentinel, log)

	// Scheduled scan trigger, if configured
	var scheduler *cron.Cron
	if cfg.ScanSchedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.ScanSchedule, func() {
			runner.Handle(model.TriggerEvent{
				Key:    cfg.ScanKey,
				Source: "scheduled_scan",
				Prompt: cfg.ScanPrompt,
			})
		})
		if err != nil {
			log.Error("invalid scan schedule", zap.String("schedule", cfg.ScanSchedule), zap.Error(err))
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info("scheduled scan enabled", zap.String("schedule", cfg.ScanSchedule))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(eng, conversationStore, log)
	messageHandler := handler.NewMessageHandler(eng, log)
	approvalHandler := handler.NewApprovalHandler(eng, log)
	triggerHandler := handler.NewTriggerHandler(runner, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)

				r.Post("/messages", messageHandler.Send)
				r.Post("/approvals", approvalHandler.Resolve)
			})
		})

		r.Post("/triggers", triggerHandler.Fire)
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
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

	log.Info("server stopped")
}

// Package main is the entry point for the conversation engine API server.
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
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/channel"
	"github.com/capitalize-ai/conversation-engine/internal/config"
	"github.com/capitalize-ai/conversation-engine/internal/conversation"
	"github.com/capitalize-ai/conversation-engine/internal/cost"
	"github.com/capitalize-ai/conversation-engine/internal/events"
	"github.com/capitalize-ai/conversation-engine/internal/handler"
	"github.com/capitalize-ai/conversation-engine/internal/llm"
	"github.com/capitalize-ai/conversation-engine/internal/middleware"
	"github.com/capitalize-ai/conversation-engine/internal/orchestrator"
	"github.com/capitalize-ai/conversation-engine/internal/pipeline"
	"github.com/capitalize-ai/conversation-engine/internal/responder"
	"github.com/capitalize-ai/conversation-engine/internal/window"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/tracing"
)

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

	log.Info("starting conversation engine")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := events.Connect(ctx, events.Config{
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

	// Ensure the events stream exists
	publisher := events.NewPublisher(natsClient)
	if err := publisher.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure events stream", zap.Error(err))
		os.Exit(1)
	}

	// Service windows live in a JetStream key-value bucket
	windowStore, err := window.NewKVStore(ctx, natsClient.JetStream())
	if err != nil {
		log.Error("failed to create window store", zap.Error(err))
		os.Exit(1)
	}

	// Initialize LLM client
	provider := llm.ProviderAnthropic
	apiKey := cfg.AnthropicAPIKey
	if apiKey == "" && cfg.OpenAIAPIKey != "" {
		provider = llm.ProviderOpenAI
		apiKey = cfg.OpenAIAPIKey
	}
	llmClient, err := llm.NewClient(provider, apiKey)
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}
	log.Info("LLM client ready",
		zap.String("provider", llmClient.Name()),
		zap.Strings("models", llmClient.Models()),
	)

	// Responder roster
	capability := responder.NewLLMCapability(llmClient, defaultResponders(), cfg.DefaultResponder, log)

	// Core managers
	contacts := conversation.NewContactManager()
	conversations := conversation.NewManager(log)
	windows := window.NewManager(windowStore, log)
	costs := cost.NewTracker(cost.Pricing{
		InputPerMTok:       cfg.InputTokenRate,
		CachedInputPerMTok: cfg.CachedInputTokenRate,
		OutputPerMTok:      cfg.OutputTokenRate,
	})
	orch := orchestrator.New(conversations, capability, costs, log)

	// Channel adapters
	channels := channel.NewRegistry()
	channels.Register(channel.NewWhatsAppAdapter(channel.WhatsAppConfig{
		AppSecret:     cfg.WhatsAppAppSecret,
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		APIBaseURL:    cfg.WhatsAppAPIBaseURL,
	}))

	// Ingestion pipeline
	engine := pipeline.New(pipeline.Options{
		DedupCapacity: cfg.DedupCapacity,
		BatchDelay:    cfg.BatchDelay,
		Contacts:      contacts,
		Conversations: conversations,
		Windows:       windows,
		Orchestrator:  orch,
		Channels:      channels,
		Sink:          publisher,
		Logger:        log,
	})
	defer engine.Shutdown()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, llmClient)
	webhookHandler := handler.NewWebhookHandler(channels, engine, cfg.WebhookVerifyToken, log)
	conversationHandler := handler.NewConversationHandler(conversations, windows, engine, log)
	costHandler := handler.NewCostHandler(costs)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Webhooks are authenticated by signature, not JWT
	r.Route("/webhooks/{channel}", func(r chi.Router) {
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/messages", conversationHandler.SendMessage)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/window", conversationHandler.Window)

				r.Post("/handoff", conversationHandler.Handoff)
				r.Post("/takeover", conversationHandler.TakeOver)
				r.Post("/pause", conversationHandler.Pause)
				r.Post("/resume", conversationHandler.Resume)
				r.Post("/close", conversationHandler.Close)
				r.Post("/reopen", conversationHandler.Reopen)
			})
		})

		r.Route("/costs", func(r chi.Router) {
			r.Get("/daily", costHandler.Daily)
			r.Get("/responders/{id}", costHandler.Responder)
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

	// Pending batch timers are cancelled; unflushed fragments are dropped,
	// the provider will redeliver and dedup filters what was already seen.
	engine.Shutdown()

	log.Info("server stopped")
}

func defaultResponders() []responder.Definition {
	return []responder.Definition{
		{
			ID:           "general",
			Description:  "General assistant for greetings and anything without a clear owner",
			SystemPrompt: "You are a helpful customer assistant. Answer concisely and ask a clarifying question when the request is ambiguous.",
		},
		{
			ID:           "sales",
			Description:  "Pricing, plans, upgrades and purchase questions",
			SystemPrompt: "You are a sales assistant. Help the customer understand plans and pricing. Never invent discounts.",
		},
		{
			ID:           "support",
			Description:  "Technical problems, bugs and how-to questions",
			SystemPrompt: "You are a support assistant. Diagnose the customer's problem step by step and offer concrete fixes.",
		},
		{
			ID:           "billing",
			Description:  "Invoices, payments, refunds and account charges",
			SystemPrompt: "You are a billing assistant. Be precise about amounts and dates, and hand off anything requiring account changes you cannot verify.",
		},
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-approvals/internal/config"
	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/events"
	"github.com/pesio-ai/be-approvals/internal/handler"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/middleware"
	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS / JetStream
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer nc.Drain()

	publisher, err := events.NewPublisher(nc, cfg.NATS, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")

	// Initialize repositories
	workflowRepo := repository.NewWorkflowRepository(db)
	voteRepo := repository.NewVoteRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	// Initialize services
	recalcService := service.NewRecalcService(workflowRepo, voteRepo, templateRepo, membershipRepo, publisher, log)
	voteService := service.NewVoteService(workflowRepo, voteRepo, templateRepo, membershipRepo, publisher, log)
	workflowService := service.NewWorkflowService(workflowRepo, templateRepo, recalcService, log)
	templateService := service.NewTemplateService(templateRepo, workflowRepo, log)

	// Start the recalculation consumer
	consumer, err := events.NewRecalcConsumer(nc, cfg.NATS, recalcService, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create recalculation consumer")
	}
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Recalculation consumer stopped")
		}
	}()

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(templateService, workflowService, voteService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Template routes
	mux.HandleFunc("/api/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListTemplates(w, r)
		case http.MethodPost:
			httpHandler.CreateTemplate(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/templates/get", httpHandler.GetTemplate)
	mux.HandleFunc("/api/v1/templates/activate", httpHandler.ActivateTemplate)
	mux.HandleFunc("/api/v1/templates/deprecate", httpHandler.DeprecateTemplate)

	// Workflow routes
	mux.HandleFunc("/api/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListWorkflows(w, r)
		case http.MethodPost:
			httpHandler.CreateWorkflow(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/workflows/get", httpHandler.GetWorkflow)
	mux.HandleFunc("/api/v1/workflows/cancel", httpHandler.CancelWorkflow)

	// Vote routes
	mux.HandleFunc("/api/v1/votes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListVotes(w, r)
		case http.MethodPost:
			httpHandler.CastVote(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/votes/can-vote", httpHandler.CanVote)
	mux.HandleFunc("/api/v1/votes/latest", httpHandler.LatestVote)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

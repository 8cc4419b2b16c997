package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/velomotors/be-capital-ledger/internal/client"
	"github.com/velomotors/be-capital-ledger/internal/config"
	"github.com/velomotors/be-capital-ledger/internal/database"
	"github.com/velomotors/be-capital-ledger/internal/handler"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/middleware"
	"github.com/velomotors/be-capital-ledger/internal/repository"
	"github.com/velomotors/be-capital-ledger/internal/service"
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
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Capital Ledger Service")

	// Create context
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
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	log.Info().Msg("Database migrations applied")

	// Initialize NATS (optional; empty URL disables event publishing)
	var natsClient *client.NATSClient
	if cfg.NATS.URL != "" {
		natsClient, err = client.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsClient.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, event publishing disabled")
	}
	publisher := client.NewNotificationPublisher(natsClient, cfg.NATS.SubjectPrefix, log.Logger)

	// Initialize repositories
	sequenceRepo := repository.NewSequenceRepository(db)
	adminRepo := repository.NewAdminRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	investorRepo := repository.NewInvestorRepository(db, sequenceRepo)
	commitmentRepo := repository.NewCommitmentRepository(db, sequenceRepo)
	settlementRepo := repository.NewSettlementRepository(db, sequenceRepo)
	auditRepo := repository.NewAuditRepository(db, sequenceRepo)

	// Initialize services
	auditService := service.NewAuditService(auditRepo, publisher, log)
	adminService := service.NewAdminService(adminRepo, log)
	groupService := service.NewGroupService(groupRepo, adminRepo, auditService, log)
	investorService := service.NewInvestorService(investorRepo, auditService, log)
	commitmentService := service.NewCommitmentService(commitmentRepo, auditService, log)
	approvalService := service.NewApprovalService(commitmentRepo, groupService, auditService, publisher, log)
	ledgerService := service.NewLedgerService(investorRepo, commitmentRepo, auditService, publisher, log)
	settlementService := service.NewSettlementService(commitmentRepo, settlementRepo, auditService, publisher, log)

	// Bootstrap the two approval groups on first run
	if err := groupService.EnsureDefaultGroups(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap approval groups")
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(
		adminService,
		groupService,
		investorService,
		commitmentService,
		approvalService,
		ledgerService,
		settlementService,
		auditService,
		log,
	)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Admin routes
	mux.HandleFunc("/api/v1/admins", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListAdmins(w, r)
		case http.MethodPost:
			httpHandler.CreateAdmin(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Approval group routes
	mux.HandleFunc("/api/v1/approval-groups", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.GetGroups(w, r)
		case http.MethodPut:
			httpHandler.SetGroups(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Investor routes
	mux.HandleFunc("/api/v1/investors", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListInvestors(w, r)
		case http.MethodPost:
			httpHandler.CreateInvestor(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/investors/get", httpHandler.GetInvestor)
	mux.HandleFunc("/api/v1/investors/credit-limit", httpHandler.UpdateCreditLimit)
	mux.HandleFunc("/api/v1/investors/remaining-credit", httpHandler.RemainingCredit)
	mux.HandleFunc("/api/v1/investors/delete", httpHandler.DeleteInvestor)

	// Commitment routes
	mux.HandleFunc("/api/v1/commitments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListCommitments(w, r)
		case http.MethodPost:
			httpHandler.CreateCommitment(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/commitments/get", httpHandler.GetCommitment)
	mux.HandleFunc("/api/v1/commitments/submit", httpHandler.SubmitCommitment)
	mux.HandleFunc("/api/v1/commitments/approve", httpHandler.ApproveCommitment)
	mux.HandleFunc("/api/v1/commitments/allocations", httpHandler.RecordAllocation)
	mux.HandleFunc("/api/v1/commitments/reserve", httpHandler.ReserveCommitmentFunds)

	// Ledger routes
	mux.HandleFunc("/api/v1/ledger/reserve", httpHandler.Reserve)
	mux.HandleFunc("/api/v1/ledger/release", httpHandler.Release)

	// Settlement routes
	mux.HandleFunc("/api/v1/settlements", httpHandler.Settle)
	mux.HandleFunc("/api/v1/settlements/get", httpHandler.GetSettlement)

	// Audit routes
	mux.HandleFunc("/api/v1/audit", httpHandler.ListAudit)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

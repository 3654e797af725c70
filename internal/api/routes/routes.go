package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/yourusername/p2p-swap/swap-service/internal/api/handlers"
	"github.com/yourusername/p2p-swap/swap-service/internal/config"
	"github.com/yourusername/p2p-swap/swap-service/internal/ledger"
	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/notify"
	"github.com/yourusername/p2p-swap/swap-service/internal/ocr"
	"github.com/yourusername/p2p-swap/swap-service/internal/proof"
	"github.com/yourusername/p2p-swap/swap-service/internal/recommend"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/internal/scheduler"
	"github.com/yourusername/p2p-swap/swap-service/internal/service"
	"github.com/yourusername/p2p-swap/swap-service/internal/trust"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Setup(router *gin.Engine, cfg *config.Config) {
	// Initialize database
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Initialize components
	repo := repository.NewSwapRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	var signer *ledger.Signer
	if cfg.LedgerSigningKey != "" {
		signer, err = ledger.NewSigner(cfg.LedgerSigningKey)
		if err != nil {
			logger.Error("Failed to initialize ledger signer, events will be unsigned", zap.Error(err))
		}
	}
	ledgerService := ledger.NewService(ledgerRepo, signer, cfg.LedgerSealThreshold)

	var parser *proof.Parser
	var extractorHealth service.HealthChecker
	if cfg.OCRServiceURL != "" {
		extractor := ocr.NewHTTPExtractor(cfg.OCRServiceURL, cfg.OCRAPIKey)
		parser = proof.NewParser(extractor)
		extractorHealth = extractor
	} else {
		logger.Info("No OCR service configured, image proofs will not be extracted")
		parser = proof.NewParser(nil)
	}

	dispatcher := notify.NewDispatcher(notify.LogSink{})
	scorer := trust.NewScorer()
	engine := recommend.NewEngine(repo, scorer)

	swapService := service.NewSwapService(
		repo,
		ledgerService,
		parser,
		dispatcher,
		extractorHealth,
		service.PolicyFromConfig(cfg),
	)
	settlementService := service.NewSettlementService(repo, dispatcher)

	if cfg.EnableScheduler {
		sched := scheduler.NewScheduler(swapService, settlementService, ledgerService)
		sched.Start()
	}

	swapHandler := handlers.NewSwapHandler(swapService)
	agentHandler := handlers.NewAgentHandler(swapService, engine, scorer, repo)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	settlementHandler := handlers.NewSettlementHandler(settlementService)

	// Health check
	router.GET("/health", swapHandler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Swap lifecycle routes
		v1.POST("/swaps", swapHandler.CreateSwap)
		v1.GET("/swaps/:id", swapHandler.GetSwap)
		v1.GET("/swaps/:id/validate-proofs", swapHandler.ValidateProofs)
		v1.POST("/swaps/:id/accept", swapHandler.AcceptSwap)
		v1.POST("/swaps/:id/reject", swapHandler.RejectSwap)
		v1.POST("/swaps/:id/proof/client", swapHandler.SubmitClientProof)
		v1.POST("/swaps/:id/proof/agent", swapHandler.SubmitAgentProof)
		v1.POST("/swaps/:id/complete", swapHandler.CompleteSwap)
		v1.POST("/swaps/:id/dispute", swapHandler.OpenDispute)
		v1.POST("/swaps/:id/rate", swapHandler.RateSwap)

		// Agent routes
		v1.GET("/agents/recommend", agentHandler.RecommendAgents)
		v1.GET("/agents/:id/trust", agentHandler.GetAgentTrust)
		v1.POST("/agents/:id/toggle-online", agentHandler.ToggleAgentOnline)

		// Audit ledger routes
		v1.POST("/ledger/events", ledgerHandler.RecordEvent)
		v1.GET("/ledger/status", ledgerHandler.GetStatus)
		v1.GET("/ledger/verify", ledgerHandler.VerifyIntegrity)
		v1.GET("/ledger/entities/:ref/events", ledgerHandler.GetEntityEvents)

		// Admin routes
		admin := v1.Group("/admin")
		{
			admin.GET("/settlement/report", settlementHandler.GetReport)
			admin.POST("/settlement/invoices", settlementHandler.GenerateInvoices)
			admin.GET("/stats", swapHandler.GetStats)
		}
	}
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	if cfg.DatabaseURL == "" {
		logger.Info("No database URL configured, using in-memory SQLite")
		// Use pure Go SQLite (no CGO required)
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
		}
	} else {
		logger.Info("Connecting to PostgreSQL database")
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, err
		}
	}

	// Auto-migrate models
	err = db.AutoMigrate(
		&models.Agent{},
		&models.SwapRequest{},
		&models.ProofSubmission{},
		&models.Dispute{},
		&models.Notification{},
		&models.AgentInvoice{},
		&models.LedgerBlock{},
		&models.LedgerEvent{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database initialized successfully")
	return db, nil
}

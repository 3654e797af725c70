package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/yourusername/p2p-swap/swap-service/internal/api/routes"
	"github.com/yourusername/p2p-swap/swap-service/internal/config"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger.Init()

	// Load configuration
	cfg := config.Load()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Gin router
	router := gin.Default()

	// Setup routes
	routes.Setup(router, cfg)

	// Start server
	logger.Info("Starting swap service on port " + cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("Failed to start server: " + err.Error())
	}
}

package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server Configuration
	Port        string
	Environment string

	// Database Configuration
	DatabaseURL string

	// Ledger Configuration
	LedgerSigningKey    string // hex ECDSA private key, empty = unsigned events
	LedgerSealThreshold int    // events per block before sealing

	// OCR Configuration
	OCRServiceURL string
	OCRAPIKey     string

	// Scheduler Configuration
	EnableScheduler bool

	// Swap Lifecycle Configuration
	PlatformFeeShare     float64
	AgentFeeShare        float64
	MinFeeFloor          float64
	MinSwapAmount        float64
	MaxSwapAmount        float64
	ClientDailyLimit     float64
	PendingTimeoutMins   int
	AcceptedTimeoutHours int
}

func Load() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "production"),

		// Database
		DatabaseURL: os.Getenv("DATABASE_URL"),

		// Ledger
		LedgerSigningKey:    os.Getenv("LEDGER_SIGNING_KEY"),
		LedgerSealThreshold: getIntEnv("LEDGER_SEAL_THRESHOLD", 100),

		// OCR
		OCRServiceURL: os.Getenv("OCR_SERVICE_URL"),
		OCRAPIKey:     os.Getenv("OCR_API_KEY"),

		// Scheduler
		EnableScheduler: getBoolEnv("ENABLE_SCHEDULER", true),

		// Swap lifecycle
		PlatformFeeShare:     getFloatEnv("PLATFORM_FEE_SHARE", 0.25),
		AgentFeeShare:        getFloatEnv("AGENT_FEE_SHARE", 0.75),
		MinFeeFloor:          getFloatEnv("MIN_FEE_FLOOR", 50),
		MinSwapAmount:        getFloatEnv("MIN_SWAP_AMOUNT", 50),
		MaxSwapAmount:        getFloatEnv("MAX_SWAP_AMOUNT", 50000),
		ClientDailyLimit:     getFloatEnv("CLIENT_DAILY_LIMIT", 500000),
		PendingTimeoutMins:   getIntEnv("PENDING_TIMEOUT_MINUTES", 30),
		AcceptedTimeoutHours: getIntEnv("ACCEPTED_TIMEOUT_HOURS", 2),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return boolVal
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return intVal
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fallback
		}
		return floatVal
	}
	return fallback
}

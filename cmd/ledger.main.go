package main

import (
	"log"

	"ledger-service/internal/config"
	"ledger-service/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("Ledger: No .env file found, relying on system env vars")
	}

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := server.Run(cfg, logger); err != nil {
		logger.Fatal("ledger service failed", zap.Error(err))
	}
}

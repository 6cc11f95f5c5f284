package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/config"
	"github.com/room4-2/ConverseLive/gateway"
	"github.com/room4-2/ConverseLive/gemini"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/logging"
	"github.com/room4-2/ConverseLive/server"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := history.Open(ctx, history.Config{
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		TTL:           cfg.HistoryTTL,
		Logger:        logger.Named("history"),
	})
	defer store.Close()

	factory := gateway.EchoFactory
	if cfg.AgentBackend == "gemini" {
		factory = gemini.NewAgentFactory(gemini.FactoryConfig{
			APIKey:  cfg.GeminiAPIKey,
			History: store,
			Logger:  logger.Named("gemini"),
		})
	}
	logger.Info("🤖 Agent backend selected", zap.String("backend", cfg.AgentBackend))

	// Create session manager
	sessionManager := gateway.NewManager(cfg, factory, store, logger.Named("sessions"))

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, sessionManager, logger.Named("server"))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/consumer"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/config"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/utils"
)

func main() {
	// Load config
	cfg := config.LoadConfig()
	utils.InitLogger(cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Msg("🚀 Starting plate-consumer")

	if cfg.SQSQueueURL == "" {
		log.Fatal().Msg("SQS_QUEUE_URL is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := plates.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer components.Close()

	client, err := consumer.NewSQSClient(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create SQS client")
	}
	sqsConsumer := consumer.NewSQSConsumer(client, plates.QueueConfig(cfg), components.QueueHandler())

	done := make(chan struct{})
	go func() {
		sqsConsumer.Start(ctx)
		close(done)
	}()

	log.Info().Msg("✅ Consumer is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("🛑 Shutting down plate-consumer...")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("⚠️ Timed out waiting for in-flight messages")
	}
	log.Info().Msg("👋 Goodbye!")
}

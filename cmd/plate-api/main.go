package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/swagger"
	"github.com/rs/zerolog/log"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/consumer"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/jobs"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/scheduler"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/handlers"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/services"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/config"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/utils"

	_ "github.com/MuhamadAgungGumelar/license-plate-ocr-be/cmd/plate-api/docs"
)

// @title License Plate Detection + Vision OCR API
// @version 2.0
// @description Detects license plates, reads them with a vision model and stores the results
// @license.name MIT
// @host localhost:8000
// @BasePath /
func main() {
	// Load config
	cfg := config.LoadConfig()
	utils.InitLogger(cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Str("port", cfg.Port).Msg("🚀 Starting plate-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init pipeline
	components, err := plates.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer components.Close()

	var wg sync.WaitGroup

	// Job workers and cleanup need the Postgres queue
	var cron *scheduler.Scheduler
	if components.Jobs != nil {
		components.Jobs.RegisterWorker(jobs.WorkerConfig{
			Queue:        services.JobQueue,
			Concurrency:  cfg.JobWorkers,
			PollInterval: cfg.JobPollInterval,
		}, services.NewDetectJobHandler(components.PlateService, components.Fetcher))
		if err := components.Jobs.StartWorkers(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job workers")
		}

		cron = scheduler.NewScheduler()
		if err := cron.AddJobCleanup(cfg.JobCleanupSchedule, components.Jobs, cfg.JobRetention); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule job cleanup")
		}
		cron.Start()
	} else {
		utils.LogWarn("⚠️ Job workers and cleanup disabled", map[string]interface{}{
			"database_driver": cfg.DatabaseDriver,
		})
	}

	// Optional queue consumer
	if cfg.SQSQueueURL != "" {
		client, err := consumer.NewSQSClient(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSRegion)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create SQS client")
		}
		sqsConsumer := consumer.NewSQSConsumer(client, plates.QueueConfig(cfg), components.QueueHandler())
		wg.Add(1)
		go func() {
			defer wg.Done()
			sqsConsumer.Start(ctx)
		}()
	}

	// Init handlers
	healthHandler := handlers.NewHealthHandler(components.PlateService, components.Storage.GetProviderName())
	plateHandler := handlers.NewPlateHandler(components.PlateService, components.Storage)
	jobHandler := handlers.NewJobHandler(components.Jobs, components.AuditLogger)
	auditHandler := handlers.NewAuditHandler(components.Audit)

	// Init Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "License Plate OCR API",
		BodyLimit: 25 * 1024 * 1024,
	})

	// Middleware
	app.Use(cors.New())

	// Swagger
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Local storage is served so stored crops have a reachable URL
	if cfg.StorageProvider == "local" {
		app.Static("/files", cfg.StorageLocalPath)
	}

	handlers.RegisterRoutes(app, healthHandler, plateHandler, jobHandler, auditHandler)

	// Start server
	go func() {
		log.Info().Str("port", cfg.Port).Msg("✅ plate-api running")
		log.Info().Msgf("📄 Swagger UI: http://localhost:%s/swagger/", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("Server stopped")
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("🛑 Shutting down plate-api...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("⚠️ Server shutdown error")
	}

	cancel()
	if cron != nil {
		cron.Stop()
	}
	if components.Jobs != nil {
		components.Jobs.StopWorkers()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("⚠️ Timed out waiting for the consumer")
	}

	log.Info().Msg("👋 Goodbye!")
}

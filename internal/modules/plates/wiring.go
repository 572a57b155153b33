// Package plates wires the detection pipeline from configuration. Both the
// API and the queue consumer build their dependencies through Build.
package plates

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/audit"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/consumer"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/detection"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/imaging"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/jobs"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/ocr"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/upload"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/repositories"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/services"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/config"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/database"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/utils"
	"github.com/rs/zerolog/log"
)

// Components are the long-lived services of one process. DB, Audit and Jobs
// are nil when no Postgres database is configured.
type Components struct {
	DB           *database.DB
	Storage      upload.Provider
	Audit        *audit.Service
	AuditLogger  audit.Logger
	Engine       *ocr.Engine
	PlateService *services.PlateService
	Jobs         *jobs.Service
	Fetcher      *services.ImageFetcher

	vision ocr.VisionClient
}

// Build creates every component named by cfg.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{AuditLogger: audit.NoopLogger{}}

	var repo repositories.DetectionRepo
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := database.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.DB = db
		repo = repositories.NewDetectionRepo(db.GORM)
		c.Audit = audit.NewService(db.GORM)
		c.AuditLogger = c.Audit
		c.Jobs = jobs.NewService(db.GORM)
	case "sqlite":
		db, err := database.NewSQLiteDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.DB = db
		repo, err = repositories.NewSQLiteDetectionRepo(ctx, db.DB)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Warn().Msg("⚠️ SQLite mode: job queue and audit log are disabled")
	case "none", "":
		log.Warn().Msg("⚠️ No database configured, detections will not be persisted")
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %s", cfg.DatabaseDriver)
	}

	storage, err := upload.NewProvider(ctx, upload.Config{
		Provider:            upload.ProviderType(cfg.StorageProvider),
		LocalPath:           cfg.StorageLocalPath,
		BaseURL:             cfg.StorageBaseURL,
		AWSRegion:           cfg.AWSRegion,
		AWSAccessKeyID:      cfg.AWSAccessKeyID,
		AWSSecretAccessKey:  cfg.AWSSecretAccessKey,
		S3Bucket:            cfg.S3Bucket,
		CloudinaryCloudName: cfg.CloudinaryCloudName,
		CloudinaryAPIKey:    cfg.CloudinaryAPIKey,
		CloudinaryAPISecret: cfg.CloudinaryAPISecret,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	c.Storage = storage
	log.Info().Str("provider", storage.GetProviderName()).Msg("📦 Storage ready")

	if cfg.OCREngine != "none" {
		client, err := ocr.NewVisionClient(ctx, ocr.ClientConfig{
			Type:          ocr.EngineType(cfg.OCREngine),
			GeminiKey:     cfg.GeminiAPIKey,
			OpenAIKey:     cfg.OpenAIKey,
			OpenAIBaseURL: cfg.OpenAIBaseURL,
			TesseractLang: cfg.TesseractLanguage,
			Artifacts:     storage,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to init OCR engine: %w", err)
		}
		c.vision = client
		engine := buildEngine(cfg, client, storage, c.AuditLogger)
		c.Engine = engine
		log.Info().Str("engine", engine.ClientName()).Str("model", engine.Model()).Bool("reference_mode", cfg.UseImageURL).Msg("🤖 OCR ready")
	} else {
		log.Warn().Msg("⚠️ OCR disabled, only plate boxes will be reported")
	}

	var reader services.PlateReader
	if c.Engine != nil {
		reader = c.Engine
	}

	detector := detection.NewHTTPDetector(cfg.DetectorURL, cfg.DetectorModel, cfg.DetectorTimeout)
	faces := imaging.FontCandidates
	if cfg.FontPath != "" {
		faces = append([]string{cfg.FontPath}, faces...)
	}

	c.PlateService = services.NewPlateService(detector, reader, storage, repo, c.AuditLogger, services.Options{
		Threshold:      cfg.ConfidenceThreshold,
		OCRConcurrency: cfg.OCRConcurrency,
		Face:           imaging.LoadFace(faces),
	})
	c.Fetcher = services.NewImageFetcher(cfg.DetectorTimeout)

	return c, nil
}

// buildEngine stores reference-mode crops through storage and records each one in the audit log.
func buildEngine(cfg *config.Config, client ocr.VisionClient, storage upload.Provider, auditLog audit.Logger) *ocr.Engine {
	model := cfg.GeminiModel
	if ocr.EngineType(cfg.OCREngine) == ocr.EngineOpenAI {
		model = cfg.OpenAIModel
	}

	artifacts := ocr.NewUploadArtifactStore(storage, func(ctx context.Context, req ocr.Request, ref *ocr.ArtifactRef) {
		fields := map[string]interface{}{
			"detection_id":      req.DetectionID,
			"original_filename": req.OriginalFilename,
			"location":          ref.Location(),
		}
		if err := auditLog.LogAction(ctx, audit.ActionArtifactStored, audit.EntityPlateArtifact, ref.PublicID, fields); err != nil {
			utils.LogError("⚠️ Failed to write audit log", err, fields)
		}
	})

	return ocr.NewEngine(ocr.Config{
		Model:            model,
		MaxRetries:       cfg.OCRMaxRetries,
		InitialDelay:     cfg.OCRInitialDelay,
		UseReferenceMode: cfg.UseImageURL,
		Temperature:      cfg.OCRTemperature,
		Timeout:          cfg.OCRTimeout,
	}, client, artifacts)
}

// Close releases the vision client and the database connection.
func (c *Components) Close() {
	if closer, ok := c.vision.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to close vision client")
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to close database")
		}
	}
}

// visibilityMargin covers the upload and the database writes after OCR.
const visibilityMargin = 30 * time.Second

// QueueConfig is the consumer setup for cfg. Without SQS_VISIBILITY_TIMEOUT
// the visibility timeout covers downloading, detecting and the worst case of
// one OCR call with every retry.
func QueueConfig(cfg *config.Config) consumer.Config {
	visibility := cfg.SQSVisibilityTimeout
	if visibility <= 0 {
		policy := ocr.RetryPolicy{MaxRetries: cfg.OCRMaxRetries, InitialDelay: cfg.OCRInitialDelay}
		visibility = 2*cfg.DetectorTimeout + policy.WorstCase(cfg.OCRTimeout) + visibilityMargin
	}
	secs := math.Ceil(visibility.Seconds())
	if secs > consumer.MaxVisibilityTimeout {
		secs = consumer.MaxVisibilityTimeout
	}
	return consumer.Config{
		QueueURL:          cfg.SQSQueueURL,
		VisibilityTimeout: int32(secs),
	}
}

// QueueHandler turns consumer messages into pipeline runs. Download and
// pipeline errors are transient so the message is redelivered.
func (c *Components) QueueHandler() consumer.HandlerFunc {
	return func(ctx context.Context, msg consumer.Message) error {
		opts := models.DefaultDetectOptions()
		opts.UseOCR = msg.OCREnabled()

		ctx = audit.WithSource(ctx, "queue")
		out, err := c.PlateService.DetectURL(ctx, c.Fetcher, msg.ImageURL, opts)
		if err != nil {
			return err
		}
		utils.LogInfo("✅ Queue detection finished", map[string]interface{}{
			"url":    msg.ImageURL,
			"plates": out.TotalPlates,
			"read":   out.PlateTexts(),
		})
		return nil
	}
}

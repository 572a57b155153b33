package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseDriver string // postgres | sqlite | none
	DatabaseURL    string

	// Detector
	DetectorURL         string
	DetectorTimeout     time.Duration
	ConfidenceThreshold float64
	DetectorModel       string

	// OCR
	OCREngine         string // gemini | openai | tesseract | none
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	OCRTemperature    float32
	OCRMaxRetries     int
	OCRInitialDelay   time.Duration
	OCRTimeout        time.Duration
	UseImageURL       bool
	OCRConcurrency    int
	TesseractLanguage string

	// Storage
	StorageProvider     string // local | s3 | cloudinary
	StorageLocalPath    string
	StorageBaseURL      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	S3Bucket            string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	// Queue
	SQSQueueURL string
	// Zero derives the timeout from the OCR retry budget.
	SQSVisibilityTimeout time.Duration

	// Jobs
	JobWorkers         int
	JobPollInterval    time.Duration
	JobRetention       time.Duration
	JobCleanupSchedule string

	// Annotation
	FontPath string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️ .env file not found, using system environment variables")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		DetectorURL:         getEnv("DETECTOR_URL", "http://localhost:9000/detect"),
		DetectorTimeout:     getDuration("DETECTOR_TIMEOUT", 30*time.Second),
		ConfidenceThreshold: getFloat("CONFIDENCE_THRESHOLD", 0.25),
		DetectorModel:       getEnv("DETECTOR_MODEL", "license-plate-finetune-v1m"),

		OCREngine:         strings.ToLower(getEnv("OCR_ENGINE", "gemini")),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OCRTemperature:    float32(getFloat("OCR_TEMPERATURE", 0.1)),
		OCRMaxRetries:     getPositiveInt("OCR_MAX_RETRIES", 5),
		OCRInitialDelay:   getPositiveDuration("OCR_INITIAL_RETRY_DELAY", 3*time.Second),
		OCRTimeout:        getPositiveDuration("OCR_TIMEOUT", 30*time.Second),
		UseImageURL:       getBool("USE_IMAGE_URL", true),
		OCRConcurrency:    getPositiveInt("OCR_CONCURRENCY", 4),
		TesseractLanguage: getEnv("TESSERACT_LANGUAGE", "tha+eng"),

		StorageProvider:     strings.ToLower(getEnv("STORAGE_PROVIDER", "local")),
		StorageLocalPath:    getEnv("STORAGE_LOCAL_PATH", "output"),
		StorageBaseURL:      os.Getenv("STORAGE_BASE_URL"),
		AWSRegion:           getEnv("AWS_REGION", "ap-southeast-1"),
		AWSAccessKeyID:      os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:  os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),

		SQSQueueURL:          os.Getenv("SQS_QUEUE_URL"),
		SQSVisibilityTimeout: getDuration("SQS_VISIBILITY_TIMEOUT", 0),

		JobWorkers:         getPositiveInt("JOB_WORKERS", 2),
		JobPollInterval:    getPositiveDuration("JOB_POLL_INTERVAL", time.Second),
		JobRetention:       getPositiveDuration("JOB_RETENTION", 168*time.Hour),
		JobCleanupSchedule: getEnv("JOB_CLEANUP_SCHEDULE", "0 0 3 * * *"),

		FontPath: os.Getenv("FONT_PATH"),
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = "http://localhost:" + cfg.Port
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return fallback
	}
	return b
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid number, using default")
		return fallback
	}
	return f
}

func getPositiveInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("expected a positive integer, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are seconds.
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	return fallback
}

func getPositiveDuration(key string, fallback time.Duration) time.Duration {
	d := getDuration(key, fallback)
	if d <= 0 {
		log.Warn().Str("key", key).Dur("value", d).Msg("expected a positive duration, using default")
		return fallback
	}
	return d
}

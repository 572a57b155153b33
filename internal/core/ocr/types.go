package ocr

import (
	"strings"
	"time"
)

// Mode is how the plate crop is handed to the vision API.
type Mode string

const (
	ModeReference Mode = "url"
	ModeInline    Mode = "base64"
)

// UnreadableSentinel is what the model answers when it cannot read a field.
const UnreadableSentinel = "UNREADABLE"

// Request is one plate crop to read. DetectionID values start at 1; zero means absent.
type Request struct {
	Image            []byte
	LanguageHint     string
	DetectionID      int
	OriginalFilename string
}

// HasIdentifiers reports whether the request can be stored as a named artifact.
func (r Request) HasIdentifiers() bool {
	return r.DetectionID > 0 && strings.TrimSpace(r.OriginalFilename) != ""
}

// Result is the normalized outcome of a single OCR call.
type Result struct {
	LicensePlateNumber string  `json:"license_plate_number"`
	Province           string  `json:"province"`
	Confidence         float64 `json:"confidence"`
	RawResponse        string  `json:"raw_response"`
	ProcessingTime     float64 `json:"processing_time"`
	Attempts           int     `json:"attempts"`
	Mode               Mode    `json:"mode"`
	Error              string  `json:"error,omitempty"`
	Fallback           bool    `json:"fallback,omitempty"`
	Model              string  `json:"model,omitempty"`
	ImagePath          string  `json:"image_path,omitempty"`
}

// HasText reports whether a plate number was read.
func (r *Result) HasText() bool {
	return r != nil && r.LicensePlateNumber != "" && r.Confidence > 0
}

// Config holds the engine settings. Values are fixed after construction.
type Config struct {
	Model            string
	MaxRetries       int
	InitialDelay     time.Duration
	UseReferenceMode bool
	Temperature      float32
	Timeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 3 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

package ocr

import (
	"context"
	"fmt"
	"strings"
)

// EngineType selects the vision backend.
type EngineType string

const (
	EngineGemini    EngineType = "gemini"
	EngineOpenAI    EngineType = "openai"
	EngineTesseract EngineType = "tesseract"
)

// ClientConfig is what NewVisionClient needs to build any backend.
type ClientConfig struct {
	Type EngineType

	GeminiKey     string
	OpenAIKey     string
	OpenAIBaseURL string
	TesseractLang string

	// Artifacts lets Gemini read reference-mode crops back for the File API.
	Artifacts ArtifactOpener
}

// NewVisionClient creates the backend named by cfg.Type.
func NewVisionClient(ctx context.Context, cfg ClientConfig) (VisionClient, error) {
	var (
		client VisionClient
		err    error
	)
	switch EngineType(strings.ToLower(string(cfg.Type))) {
	case EngineGemini:
		var c *GeminiClient
		c, err = NewGeminiClient(ctx, cfg.GeminiKey, cfg.Artifacts)
		client = c
	case EngineOpenAI:
		var c *OpenAIClient
		c, err = NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)
		client = c
	case EngineTesseract:
		var c *TesseractClient
		c, err = NewTesseractClient(cfg.TesseractLang)
		client = c
	default:
		return nil, fmt.Errorf("unknown OCR engine: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

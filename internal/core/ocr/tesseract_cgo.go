//go:build tesseract && cgo

package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractClient runs Tesseract locally. It ignores the prompt and wraps the
// recognised text in the JSON shape the parser expects, leaving province empty.
type TesseractClient struct {
	language string
}

func NewTesseractClient(language string) (*TesseractClient, error) {
	if language == "" {
		language = "tha+eng"
	}
	return &TesseractClient{language: language}, nil
}

func (t *TesseractClient) Name() string { return "tesseract" }

func (t *TesseractClient) GenerateContent(ctx context.Context, req VisionRequest) (string, error) {
	if req.Image.Reference != nil {
		return "", fmt.Errorf("tesseract: %w: local engine reads bytes only", ErrReferenceUnusable)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return "", fmt.Errorf("tesseract: set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("tesseract: set psm: %w", err)
	}
	if err := client.SetImageFromBytes(req.Image.Data); err != nil {
		return "", fmt.Errorf("tesseract: set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}

	out, err := json.Marshal(PlateFields{
		LicensePlateNumber: strings.Join(strings.Fields(text), " "),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

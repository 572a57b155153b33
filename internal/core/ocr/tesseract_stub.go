//go:build !(tesseract && cgo)

package ocr

import (
	"context"
	"errors"
)

// TesseractClient is unavailable without the "tesseract" build tag and cgo.
type TesseractClient struct{}

func NewTesseractClient(language string) (*TesseractClient, error) {
	return nil, errors.New("tesseract support not compiled in (build with -tags tesseract and cgo)")
}

func (t *TesseractClient) Name() string { return "tesseract" }

func (t *TesseractClient) GenerateContent(ctx context.Context, req VisionRequest) (string, error) {
	return "", errors.New("tesseract support not compiled in")
}

package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ArtifactOpener reads a stored artifact back. upload.Provider satisfies it.
type ArtifactOpener interface {
	Open(ctx context.Context, publicID string) (io.ReadCloser, error)
}

// GeminiClient calls the Gemini API. Reference-mode images go through the
// File API and are sent as file URIs.
type GeminiClient struct {
	client    *genai.Client
	artifacts ArtifactOpener
}

func NewGeminiClient(ctx context.Context, apiKey string, artifacts ArtifactOpener) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiClient{client: cl, artifacts: artifacts}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) GenerateContent(ctx context.Context, req VisionRequest) (string, error) {
	m := g.client.GenerativeModel(strings.TrimSpace(req.Model))
	if m == nil {
		return "", fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(req.Temperature),
	}

	imagePart, err := g.imagePart(ctx, req.Image)
	if err != nil {
		return "", err
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt), imagePart)
	if err != nil {
		if req.Image.Reference != nil && isRejectedFile(err) {
			return "", fmt.Errorf("gemini: %w: %v", ErrReferenceUnusable, err)
		}
		return "", fmt.Errorf("gemini: generate: %w", err)
	}

	txt, ok := firstText(resp)
	if !ok {
		return "", fmt.Errorf("gemini: response has no text part")
	}
	return strings.TrimSpace(txt), nil
}

func (g *GeminiClient) imagePart(ctx context.Context, img VisionImage) (genai.Part, error) {
	if img.Reference == nil {
		return genai.Blob{MIMEType: img.MIMEType, Data: img.Data}, nil
	}
	if g.artifacts == nil {
		return nil, fmt.Errorf("gemini: %w: no artifact storage configured", ErrReferenceUnusable)
	}

	rc, err := g.artifacts.Open(ctx, img.Reference.PublicID)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: open artifact: %v", ErrReferenceUnusable, err)
	}
	defer rc.Close()

	f, err := g.client.UploadFile(ctx, "", rc, &genai.UploadFileOptions{
		DisplayName: img.Reference.PublicID,
		MIMEType:    img.Reference.MIMEType,
	})
	if err != nil {
		// Upload failures from overload are worth retrying in the same mode.
		if IsOverloadError(err) {
			return nil, fmt.Errorf("gemini: upload file: %w", err)
		}
		return nil, fmt.Errorf("gemini: %w: upload file: %v", ErrReferenceUnusable, err)
	}
	return genai.FileData{MIMEType: f.MIMEType, URI: f.URI}, nil
}

// isRejectedFile spots 400-class answers about the file reference itself.
func isRejectedFile(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "400") && !strings.Contains(msg, "invalid") && !strings.Contains(msg, "403") {
		return false
	}
	return strings.Contains(msg, "file") || strings.Contains(msg, "uri")
}

func firstText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", false
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t), true
			}
		}
	}
	return "", false
}

func ptrFloat32(v float32) *float32 { return &v }

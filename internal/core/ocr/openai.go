package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient sends plate crops to an OpenAI vision model. Reference mode
// passes the artifact's public URL, so it only works with storage reachable
// from the internet.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates the client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) GenerateContent(ctx context.Context, req VisionRequest) (string, error) {
	imageURL, err := openAIImageURL(req.Image)
	if err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   200,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if req.Image.Reference != nil && errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest {
			return "", fmt.Errorf("openai: %w: %v", ErrReferenceUnusable, err)
		}
		return "", fmt.Errorf("openai error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func openAIImageURL(img VisionImage) (string, error) {
	if img.Reference == nil {
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data), nil
	}

	u := img.Reference.URL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", fmt.Errorf("openai: %w: artifact has no public URL", ErrReferenceUnusable)
	}
	return u, nil
}

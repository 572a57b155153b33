package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
)

const maxDownloadSize = 20 * 1024 * 1024

// ImageFetcher downloads images referenced by URL.
type ImageFetcher struct {
	client *http.Client
}

func NewImageFetcher(timeout time.Duration) *ImageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ImageFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch returns the body and a filename derived from the URL path.
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("invalid image url: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, "", fmt.Errorf("image larger than %d bytes", maxDownloadSize)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "remote.jpg"
	}
	return data, name, nil
}

// DetectURL downloads an image and runs the pipeline on it.
func (s *PlateService) DetectURL(ctx context.Context, fetcher *ImageFetcher, imageURL string, opts models.DetectOptions) (*models.DetectionOutput, error) {
	data, name, err := fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return s.Detect(ctx, DetectInput{
		Image:     data,
		InputPath: imageURL,
		Filename:  name,
		Options:   opts,
	})
}

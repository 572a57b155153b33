package upload

import (
	"context"
	"fmt"
	"strings"
)

// ProviderType selects a storage backend.
type ProviderType string

const (
	ProviderLocal      ProviderType = "local"
	ProviderS3         ProviderType = "s3"
	ProviderCloudinary ProviderType = "cloudinary"
)

// Config carries the settings every backend may need.
type Config struct {
	Provider ProviderType

	LocalPath string
	BaseURL   string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
}

// NewProvider creates the backend named by cfg.Provider.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	var (
		provider Provider
		err      error
	)
	switch ProviderType(strings.ToLower(string(cfg.Provider))) {
	case ProviderLocal, "":
		var p *LocalProvider
		p, err = NewLocalProvider(cfg.LocalPath, cfg.BaseURL)
		provider = p
	case ProviderS3:
		var p *S3Provider
		p, err = NewS3Provider(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSRegion, cfg.S3Bucket)
		provider = p
	case ProviderCloudinary:
		var p *CloudinaryProvider
		p, err = NewCloudinaryProvider(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		provider = p
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return provider, nil
}

package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryProvider implements file storage on Cloudinary
type CloudinaryProvider struct {
	cld        *cloudinary.Cloudinary
	cloudName  string
	httpClient *http.Client
}

// NewCloudinaryProvider creates a new Cloudinary provider
func NewCloudinaryProvider(cloudName, apiKey, apiSecret string) (*CloudinaryProvider, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryProvider{
		cld:        cld,
		cloudName:  cloudName,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Upload uploads a file to Cloudinary. Images are stored without the extension
// in their Cloudinary public ID; the returned PublicID always carries it.
func (p *CloudinaryProvider) Upload(ctx context.Context, file io.Reader, filename string, options *UploadOptions) (*UploadResult, error) {
	options = MergeOptions(options)

	finalFilename := storedName(filename, options)
	ext := extOf(finalFilename)
	resourceType := resourceTypeFor(ext)
	if err := checkAllowed(options, ContentTypeFor(ext)); err != nil {
		return nil, err
	}

	cldID := finalFilename
	if resourceType == "image" {
		cldID = strings.TrimSuffix(finalFilename, ext)
	}

	params := uploader.UploadParams{
		Folder:       options.Folder,
		PublicID:     cldID,
		ResourceType: resourceType,
		Overwrite:    &options.Overwrite,
	}

	result, err := p.cld.Upload.Upload(ctx, file, params)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return nil, fmt.Errorf("failed to upload to Cloudinary: %s", result.Error.Message)
	}

	publicID := result.PublicID
	if resourceType == "image" {
		publicID += ext
	}

	return &UploadResult{
		URL:          result.URL,
		SecureURL:    result.SecureURL,
		FileName:     finalFilename,
		Size:         int64(result.Bytes),
		Format:       strings.TrimPrefix(ext, "."),
		ResourceType: resourceType,
		PublicID:     publicID,
	}, nil
}

// Open downloads the delivered asset
func (p *CloudinaryProvider) Open(ctx context.Context, publicID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.GetURL(publicID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from Cloudinary: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, publicID)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch from Cloudinary: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// GetURL gets the public URL for a file from Cloudinary
func (p *CloudinaryProvider) GetURL(publicID string) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/%s/upload/%s", p.cloudName, resourceTypeFor(extOf(publicID)), publicID)
}

// GetProviderName returns the provider name
func (p *CloudinaryProvider) GetProviderName() string {
	return "Cloudinary"
}

package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider implements file storage on the local filesystem
type LocalProvider struct {
	basePath   string // Base directory for stored files
	baseURL    string // Base URL to access files
	publicPath string // Public path for URL generation
}

// NewLocalProvider creates a new local file storage provider
func NewLocalProvider(basePath, baseURL string) (*LocalProvider, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalProvider{
		basePath:   basePath,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		publicPath: "/files/",
	}, nil
}

// Upload writes a file under basePath/folder
func (p *LocalProvider) Upload(ctx context.Context, file io.Reader, filename string, options *UploadOptions) (*UploadResult, error) {
	options = MergeOptions(options)

	finalFilename := storedName(filename, options)
	ext := extOf(finalFilename)
	contentType := options.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}
	if err := checkAllowed(options, contentType); err != nil {
		return nil, err
	}

	publicID := strings.Trim(options.Folder+"/"+finalFilename, "/")
	filePath, err := p.resolve(publicID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !options.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	out, err := os.OpenFile(filePath, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, publicID)
		}
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	size, err := io.Copy(out, file)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	if options.MaxSize > 0 && size > options.MaxSize {
		os.Remove(filePath)
		return nil, fmt.Errorf("file size exceeds maximum allowed size: %d bytes", options.MaxSize)
	}

	publicURL := p.GetURL(publicID)
	return &UploadResult{
		URL:          publicURL,
		SecureURL:    publicURL,
		FileName:     finalFilename,
		Size:         size,
		Format:       strings.TrimPrefix(ext, "."),
		ResourceType: resourceTypeFor(ext),
		PublicID:     publicID,
		Path:         filePath,
	}, nil
}

// Open reads a stored file
func (p *LocalProvider) Open(ctx context.Context, publicID string) (io.ReadCloser, error) {
	filePath, err := p.resolve(publicID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, publicID)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// GetURL gets the public URL for a file
func (p *LocalProvider) GetURL(publicID string) string {
	return p.baseURL + p.publicPath + publicID
}

// GetProviderName returns the provider name
func (p *LocalProvider) GetProviderName() string {
	return "Local Storage"
}

// BasePath is the root directory files are written under.
func (p *LocalProvider) BasePath() string {
	return p.basePath
}

// resolve maps a public ID to a path and refuses anything escaping basePath.
func (p *LocalProvider) resolve(publicID string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(publicID))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid public id: %q", publicID)
	}
	full := filepath.Join(p.basePath, clean)
	rel, err := filepath.Rel(p.basePath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid public id: %q", publicID)
	}
	return full, nil
}

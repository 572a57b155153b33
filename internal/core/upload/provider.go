package upload

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned by Open when nothing is stored under the public ID.
	ErrNotFound = errors.New("file not found")
	// ErrAlreadyExists is returned by Upload when Overwrite is false and the name is taken.
	ErrAlreadyExists = errors.New("file already exists")
)

// UploadResult represents the result of a file upload
type UploadResult struct {
	URL          string `json:"url"`            // Public URL to access the file
	SecureURL    string `json:"secure_url"`     // HTTPS URL (for Cloudinary)
	FileName     string `json:"file_name"`      // Stored filename
	Size         int64  `json:"size"`           // File size in bytes
	Format       string `json:"format"`         // File extension/format
	ResourceType string `json:"resource_type"`  // image or raw
	PublicID     string `json:"public_id"`      // folder/filename.ext, accepted by Open and GetURL
	Path         string `json:"path,omitempty"` // Filesystem path (local provider only)
}

// Location is the most useful handle for humans: the local path if there is one, else the URL.
func (r *UploadResult) Location() string {
	if r.Path != "" {
		return r.Path
	}
	return r.URL
}

// UploadOptions represents upload configuration options
type UploadOptions struct {
	Folder       string   `json:"folder"`        // Folder/directory to upload to
	PublicID     string   `json:"public_id"`     // Custom name without extension
	Overwrite    bool     `json:"overwrite"`     // Overwrite existing file
	ResourceType string   `json:"resource_type"` // image, raw, auto
	ContentType  string   `json:"content_type"`  // Overrides the extension-based type
	MaxSize      int64    `json:"max_size"`      // Max file size in bytes
	AllowedTypes []string `json:"allowed_types"` // Allowed content types
}

// Provider defines the interface for storage backends. Nothing in this
// service deletes stored files, so there is no Delete.
type Provider interface {
	// Upload stores a file and returns where it went
	Upload(ctx context.Context, file io.Reader, filename string, options *UploadOptions) (*UploadResult, error)

	// Open reads a stored file back by public ID
	Open(ctx context.Context, publicID string) (io.ReadCloser, error)

	// GetURL gets the public URL for a file
	GetURL(publicID string) string

	// GetProviderName returns the provider name
	GetProviderName() string
}

// DefaultUploadOptions returns default upload options
func DefaultUploadOptions() *UploadOptions {
	return &UploadOptions{
		Folder:       "uploads",
		Overwrite:    false,
		ResourceType: "auto",
		MaxSize:      20 * 1024 * 1024, // 20MB
	}
}

// MergeOptions merges custom options with defaults
func MergeOptions(custom *UploadOptions) *UploadOptions {
	defaults := DefaultUploadOptions()

	if custom == nil {
		return defaults
	}

	if custom.Folder != "" {
		defaults.Folder = custom.Folder
	}
	if custom.PublicID != "" {
		defaults.PublicID = custom.PublicID
	}
	if custom.ResourceType != "" {
		defaults.ResourceType = custom.ResourceType
	}
	if custom.ContentType != "" {
		defaults.ContentType = custom.ContentType
	}
	if len(custom.AllowedTypes) > 0 {
		defaults.AllowedTypes = custom.AllowedTypes
	}
	if custom.MaxSize > 0 {
		defaults.MaxSize = custom.MaxSize
	}

	defaults.Overwrite = custom.Overwrite

	return defaults
}

// ContentTypeFor detects the content type based on file extension
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// resourceTypeFor detects the resource type based on file extension
func resourceTypeFor(ext string) string {
	if strings.HasPrefix(ContentTypeFor(ext), "image/") {
		return "image"
	}
	return "raw"
}

func checkAllowed(options *UploadOptions, contentType string) error {
	if len(options.AllowedTypes) == 0 {
		return nil
	}
	for _, allowed := range options.AllowedTypes {
		if allowed == contentType {
			return nil
		}
	}
	return errors.New("file type not allowed: " + contentType)
}

// storedName builds "<PublicID><ext>" when a public ID is given, otherwise the
// original filename is kept as is.
func storedName(filename string, options *UploadOptions) string {
	ext := extOf(filename)
	if options.PublicID != "" {
		return options.PublicID + ext
	}
	return baseOf(filename)
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && !strings.ContainsAny(name[i:], `/\`) {
		return name[i:]
	}
	return ""
}

func baseOf(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

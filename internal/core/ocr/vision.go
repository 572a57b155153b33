package ocr

import (
	"context"
	"errors"
)

// ErrReferenceUnusable marks a reference-mode payload that could not be built
// or that the API refused. The engine switches to inline mode when it sees it.
var ErrReferenceUnusable = errors.New("image reference unusable")

// ArtifactRef points at a stored plate crop.
type ArtifactRef struct {
	PublicID string
	URL      string
	Path     string
	MIMEType string
}

// Location is what gets reported as the result's image_path.
func (r *ArtifactRef) Location() string {
	if r == nil {
		return ""
	}
	if r.Path != "" {
		return r.Path
	}
	return r.URL
}

// VisionImage is either inline bytes or a stored reference, never both.
type VisionImage struct {
	Data      []byte
	MIMEType  string
	Reference *ArtifactRef
}

// VisionRequest is one "prompt plus one image" call.
type VisionRequest struct {
	Model       string
	Prompt      string
	Temperature float32
	Image       VisionImage
}

// VisionClient talks to a remote (or local) vision model.
type VisionClient interface {
	GenerateContent(ctx context.Context, req VisionRequest) (string, error)
	Name() string
}

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/upload"
)

// ArtifactFolder holds the reference-mode crops. They are kept indefinitely.
const ArtifactFolder = "plate_crops"

// ArtifactStore persists a crop so it can be passed to the API by reference.
type ArtifactStore interface {
	Store(ctx context.Context, req Request) (*ArtifactRef, error)
}

// StoredHook is called after an artifact has been written.
type StoredHook func(ctx context.Context, req Request, ref *ArtifactRef)

// UploadArtifactStore writes crops through a storage provider.
type UploadArtifactStore struct {
	provider upload.Provider
	now      func() time.Time
	onStored StoredHook
}

func NewUploadArtifactStore(provider upload.Provider, onStored StoredHook) *UploadArtifactStore {
	return &UploadArtifactStore{
		provider: provider,
		now:      time.Now,
		onStored: onStored,
	}
}

// ArtifactName builds "{stem}_plate_{id}_{epoch millis}".
func ArtifactName(originalFilename string, detectionID int, at time.Time) string {
	base := filepath.Base(strings.ReplaceAll(originalFilename, `\`, "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_plate_%d_%d", stem, detectionID, at.UnixMilli())
}

func (s *UploadArtifactStore) Store(ctx context.Context, req Request) (*ArtifactRef, error) {
	if !req.HasIdentifiers() {
		return nil, fmt.Errorf("artifact needs detection id and filename")
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("artifact image is empty")
	}

	name := ArtifactName(req.OriginalFilename, req.DetectionID, s.now())
	res, err := s.provider.Upload(ctx, bytes.NewReader(req.Image), name+".jpg", &upload.UploadOptions{
		Folder:       ArtifactFolder,
		PublicID:     name,
		Overwrite:    false,
		ResourceType: "image",
		ContentType:  "image/jpeg",
	})
	if err != nil {
		return nil, fmt.Errorf("store artifact %s: %w", name, err)
	}

	ref := &ArtifactRef{
		PublicID: res.PublicID,
		URL:      res.SecureURL,
		Path:     res.Path,
		MIMEType: "image/jpeg",
	}
	if ref.URL == "" {
		ref.URL = res.URL
	}
	if s.onStored != nil {
		s.onStored(ctx, req, ref)
	}
	return ref, nil
}

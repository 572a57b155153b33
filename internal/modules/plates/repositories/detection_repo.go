package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrDetectionNotFound is returned when no record has the requested ID.
	ErrDetectionNotFound = errors.New("detection not found")
	// ErrInvalidDetectionID is returned for IDs that are not UUIDs.
	ErrInvalidDetectionID = errors.New("invalid detection ID")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type DetectionRepo interface {
	Create(ctx context.Context, detection *models.PlateDetection) error
	GetByID(ctx context.Context, id string) (*models.PlateDetection, error)
	List(ctx context.Context, limit int) ([]models.PlateDetection, error)
}

type detectionRepo struct {
	db *gorm.DB
}

// NewDetectionRepo stores detections in Postgres through GORM.
func NewDetectionRepo(db *gorm.DB) DetectionRepo {
	return &detectionRepo{db: db}
}

func (r *detectionRepo) Create(ctx context.Context, detection *models.PlateDetection) error {
	return r.db.WithContext(ctx).Create(detection).Error
}

func (r *detectionRepo) GetByID(ctx context.Context, id string) (*models.PlateDetection, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetectionID, err)
	}

	var detection models.PlateDetection
	err = r.db.WithContext(ctx).First(&detection, "id = ?", uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDetectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &detection, nil
}

func (r *detectionRepo) List(ctx context.Context, limit int) ([]models.PlateDetection, error) {
	var detections []models.PlateDetection
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&detections).Error
	return detections, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

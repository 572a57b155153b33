package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/audit"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/jobs"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
)

const (
	// JobTypeDetectPlate is the queue job type handled by DetectJobHandler.
	JobTypeDetectPlate = "detect_plate"
	// JobQueue is the queue detection jobs are enqueued on.
	JobQueue = jobs.DefaultQueue
)

// DetectJobHandler runs queued detections.
type DetectJobHandler struct {
	service *PlateService
	fetcher *ImageFetcher
}

func NewDetectJobHandler(service *PlateService, fetcher *ImageFetcher) *DetectJobHandler {
	return &DetectJobHandler{service: service, fetcher: fetcher}
}

func (h *DetectJobHandler) GetType() string {
	return JobTypeDetectPlate
}

// Handle returns a compact summary; the full document is in the saved JSON and record.
func (h *DetectJobHandler) Handle(ctx context.Context, job *jobs.Job) (interface{}, error) {
	var payload models.DetectJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid detect_plate payload: %w", err)
	}

	ctx = audit.WithSource(ctx, "job")
	opts := payload.Options()

	var (
		out *models.DetectionOutput
		err error
	)
	switch {
	case payload.ImagePath != "":
		out, err = h.service.DetectFile(ctx, payload.ImagePath, opts)
	case payload.ImageURL != "":
		out, err = h.service.DetectURL(ctx, h.fetcher, payload.ImageURL, opts)
	default:
		return nil, fmt.Errorf("detect_plate payload needs image_path or image_url")
	}
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"message":           out.Summary(),
		"total_plates":      out.TotalPlates,
		"plate_numbers":     out.PlateTexts(),
		"record_id":         out.RecordID,
		"output_image_path": out.OutputImagePath,
		"output_json_path":  out.OutputJSONPath,
	}, nil
}

package handlers

import (
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/services"
	"github.com/gofiber/fiber/v2"
)

const (
	serviceName    = "License Plate Detection + Vision OCR"
	serviceVersion = "2.0.0"
)

type HealthHandler struct {
	plateService *services.PlateService
	storageName  string
}

func NewHealthHandler(plateService *services.PlateService, storageName string) *HealthHandler {
	return &HealthHandler{plateService: plateService, storageName: storageName}
}

// GetInfo godoc
// @Summary Service info
// @Description Running status, models in use and the available endpoints
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *HealthHandler) GetInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "running",
		"service": serviceName,
		"version": serviceVersion,
		"model": fiber.Map{
			"detector": h.plateService.DetectorName(),
			"ocr":      h.plateService.OCRName(),
		},
		"storage": h.storageName,
		"endpoints": fiber.Map{
			"detect_path":       "/detect/path",
			"detect_upload":     "/detect/upload",
			"detect_batch":      "/detect/batch",
			"detect_async":      "/detect/async",
			"list_jobs":         "/jobs",
			"get_job":           "/jobs/{id}",
			"cancel_job":        "DELETE /jobs/{id}",
			"detections":        "/detections",
			"detection_history": "/detections/{id}/history",
			"get_image":         "/result/image/{filename}",
			"get_json":          "/result/json/{filename}",
		},
	})
}

// GetHealth godoc
// @Summary Service health check
// @Description Check if API is alive
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "plate-api",
		"ocr":     h.plateService.OCRName(),
	})
}

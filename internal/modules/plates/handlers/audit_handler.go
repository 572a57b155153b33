package handlers

import (
	"context"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/audit"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type auditReader interface {
	GetLogs(ctx context.Context, filter audit.AuditFilter) (*audit.AuditLogResponse, error)
	GetEntityHistory(ctx context.Context, entity, entityID string) ([]audit.AuditLog, error)
}

// AuditHandler serves the audit trail. reader is nil when no Postgres
// database is configured.
type AuditHandler struct {
	reader auditReader
}

func NewAuditHandler(auditService *audit.Service) *AuditHandler {
	if auditService == nil {
		return &AuditHandler{}
	}
	return &AuditHandler{reader: auditService}
}

// GetAuditLogs godoc
// @Summary List audit logs
// @Description Stored artifacts, saved detections and queued jobs, newest first
// @Tags Audit
// @Produce json
// @Param action query string false "Filter by action"
// @Param entity query string false "Filter by entity"
// @Param entity_id query string false "Filter by entity ID"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} audit.AuditLogResponse
// @Failure 503 {object} ErrorResponse
// @Router /audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *fiber.Ctx) error {
	if h.reader == nil {
		return fail(c, fiber.StatusServiceUnavailable, "audit log is not configured")
	}

	filter := audit.AuditFilter{
		Action:   c.Query("action"),
		Entity:   c.Query("entity"),
		EntityID: c.Query("entity_id"),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
	}

	logs, err := h.reader.GetLogs(c.UserContext(), filter)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(logs)
}

// GetDetectionHistory godoc
// @Summary Audit history of a stored detection
// @Description Every audit event recorded for the detection record, newest first
// @Tags Audit
// @Produce json
// @Param id path string true "Detection record ID"
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /detections/{id}/history [get]
func (h *AuditHandler) GetDetectionHistory(c *fiber.Ctx) error {
	if h.reader == nil {
		return fail(c, fiber.StatusServiceUnavailable, "audit log is not configured")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid detection ID")
	}

	events, err := h.reader.GetEntityHistory(c.UserContext(), audit.EntityDetection, id.String())
	if err != nil {
		log.Error().Err(err).Str("record_id", id.String()).Msg("❌ Failed to load detection history")
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []audit.AuditLog{}
	}
	return success(c, fiber.StatusOK, "ok", events)
}

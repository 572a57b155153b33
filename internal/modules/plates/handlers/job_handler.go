package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/audit"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/jobs"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// JobHandler exposes the async detection queue. jobService is nil when no
// Postgres database is configured.
type JobHandler struct {
	jobService *jobs.Service
	auditLog   audit.Logger
}

func NewJobHandler(jobService *jobs.Service, auditLog audit.Logger) *JobHandler {
	if auditLog == nil {
		auditLog = audit.NoopLogger{}
	}
	return &JobHandler{jobService: jobService, auditLog: auditLog}
}

// DetectAsync godoc
// @Summary Queue a detection
// @Description Enqueue a detect_plate job for an image path or URL
// @Tags Jobs
// @Accept json
// @Produce json
// @Param request body models.DetectJobPayload true "Image path or URL and switches"
// @Param delay query string false "Hold the job back, e.g. 30s or 90 (seconds), at most 24h"
// @Success 202 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /detect/async [post]
func (h *JobHandler) DetectAsync(c *fiber.Ctx) error {
	if h.jobService == nil {
		return fail(c, fiber.StatusServiceUnavailable, "job queue is not configured")
	}

	var payload models.DetectJobPayload
	if err := c.BodyParser(&payload); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if payload.ImagePath == "" && payload.ImageURL == "" {
		return fail(c, fiber.StatusBadRequest, "image_path or image_url is required")
	}

	delay, err := parseDelay(c.Query("delay"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	opts := jobs.DefaultEnqueueOptions()
	opts.Queue = services.JobQueue
	job, err := h.jobService.EnqueueDelayed(c.UserContext(), services.JobTypeDetectPlate, payload, delay, opts)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to enqueue detection")
		return fail(c, fiber.StatusInternalServerError, "failed to enqueue job")
	}

	ctx := audit.WithSource(c.UserContext(), "api")
	if err := h.auditLog.LogAction(ctx, audit.ActionJobEnqueued, audit.EntityJob, job.ID.String(), payload); err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to write audit log")
	}

	return success(c, fiber.StatusAccepted, "Detection queued", job)
}

// GetJob godoc
// @Summary Get a queued job
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	if h.jobService == nil {
		return fail(c, fiber.StatusServiceUnavailable, "job queue is not configured")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid job ID")
	}

	job, err := h.jobService.GetJob(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return fail(c, fiber.StatusNotFound, err.Error())
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return success(c, fiber.StatusOK, string(job.Status), job)
}

// GetJobStats godoc
// @Summary Queue statistics
// @Tags Jobs
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} ErrorResponse
// @Router /jobs/stats [get]
func (h *JobHandler) GetJobStats(c *fiber.Ctx) error {
	if h.jobService == nil {
		return fail(c, fiber.StatusServiceUnavailable, "job queue is not configured")
	}

	stats, err := h.jobService.GetStats(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return success(c, fiber.StatusOK, "ok", stats)
}

// ListJobs godoc
// @Summary List queued jobs
// @Description Newest first, optionally filtered by status and type
// @Tags Jobs
// @Produce json
// @Param status query string false "pending, processing, retrying, completed, failed or cancelled"
// @Param type query string false "Job type, e.g. detect_plate"
// @Param limit query int false "Max jobs" default(50)
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /jobs [get]
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	if h.jobService == nil {
		return fail(c, fiber.StatusServiceUnavailable, "job queue is not configured")
	}

	filter := jobs.JobFilter{
		Type:  c.Query("type"),
		Limit: c.QueryInt("limit", jobs.DefaultListLimit),
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := jobs.ParseStatus(raw)
		if !ok {
			return fail(c, fiber.StatusBadRequest, "Invalid job status: "+raw)
		}
		filter.Status = status
	}

	list, err := h.jobService.ListJobs(c.UserContext(), filter)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to list jobs")
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if list == nil {
		list = []jobs.Job{}
	}
	return success(c, fiber.StatusOK, "ok", list)
}

// CancelJob godoc
// @Summary Cancel a queued job
// @Description Only pending or retrying jobs can be cancelled
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /jobs/{id} [delete]
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	if h.jobService == nil {
		return fail(c, fiber.StatusServiceUnavailable, "job queue is not configured")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid job ID")
	}

	if err := h.jobService.Cancel(c.UserContext(), id); err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			return fail(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, jobs.ErrJobNotCancellable):
			return fail(c, fiber.StatusConflict, err.Error())
		}
		log.Error().Err(err).Str("job_id", id.String()).Msg("❌ Failed to cancel job")
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}

	ctx := audit.WithSource(c.UserContext(), "api")
	if err := h.auditLog.LogAction(ctx, audit.ActionJobCancelled, audit.EntityJob, id.String(), nil); err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to write audit log")
	}

	job, err := h.jobService.GetJob(c.UserContext(), id)
	if err != nil {
		return success(c, fiber.StatusOK, "Job cancelled", fiber.Map{"id": id})
	}
	return success(c, fiber.StatusOK, "Job cancelled", job)
}

// maxJobDelay bounds ?delay on /detect/async.
const maxJobDelay = 24 * time.Hour

// parseDelay accepts a Go duration or a number of seconds. Empty means none.
func parseDelay(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, numErr := strconv.ParseFloat(raw, 64)
		if numErr != nil {
			return 0, errors.New("invalid delay: " + raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 || d > maxJobDelay {
		return 0, errors.New("delay must be between 0 and 24h")
	}
	return d, nil
}

package handlers

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/audit"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/upload"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/repositories"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/services"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const maxUploadSize = 20 * 1024 * 1024

// UploadFolder keeps the images received through /detect/upload.
const UploadFolder = "uploads"

type PlateHandler struct {
	plateService *services.PlateService
	storage      upload.Provider
}

func NewPlateHandler(plateService *services.PlateService, storage upload.Provider) *PlateHandler {
	return &PlateHandler{
		plateService: plateService,
		storage:      storage,
	}
}

// DetectPath godoc
// @Summary Detect plates in an image on disk
// @Description Run detection and OCR on a server-side image path
// @Tags Detection
// @Accept json
// @Produce json
// @Param request body models.DetectPathRequest true "Image path and switches"
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /detect/path [post]
func (h *PlateHandler) DetectPath(c *fiber.Ctx) error {
	var req models.DetectPathRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		return fail(c, fiber.StatusBadRequest, "image_path is required")
	}

	ctx := audit.WithSource(c.UserContext(), "api")
	out, err := h.plateService.DetectFile(ctx, req.ImagePath, req.Options())
	if err != nil {
		if errors.Is(err, services.ErrImageNotFound) {
			return fail(c, fiber.StatusNotFound, err.Error())
		}
		log.Error().Err(err).Str("path", req.ImagePath).Msg("❌ Detection failed")
		return fail(c, fiber.StatusInternalServerError, "Detection failed: "+err.Error())
	}

	return success(c, fiber.StatusOK, out.Summary(), out)
}

// DetectUpload godoc
// @Summary Detect plates in an uploaded image
// @Description Upload an image (jpg, png, ...) and run detection and OCR on it
// @Tags Detection
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image file"
// @Param save_image query bool false "Save annotated image" default(true)
// @Param save_json query bool false "Save result JSON" default(true)
// @Param use_ocr query bool false "Read plate text" default(true)
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /detect/upload [post]
func (h *PlateHandler) DetectUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "file is required")
	}
	if file.Size > maxUploadSize {
		return fail(c, fiber.StatusBadRequest, "file size must be less than 20MB")
	}

	fh, err := file.Open()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "failed to read image file")
	}
	defer fh.Close()

	data, err := io.ReadAll(fh)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "failed to read image file")
	}

	filename := filepath.Base(file.Filename)
	log.Info().Str("file", filename).Float64("kb", float64(file.Size)/1024).Msg("📸 Received upload")

	ctx := audit.WithSource(c.UserContext(), "api")
	inputPath := "uploaded_" + filename
	stored, err := h.storage.Upload(ctx, bytes.NewReader(data), inputPath, &upload.UploadOptions{
		Folder:    UploadFolder,
		Overwrite: true,
		MaxSize:   maxUploadSize,
	})
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to keep uploaded file")
	} else {
		inputPath = stored.Location()
	}

	out, err := h.plateService.Detect(ctx, services.DetectInput{
		Image:     data,
		InputPath: inputPath,
		Filename:  filename,
		Options:   queryOptions(c),
	})
	if err != nil {
		log.Error().Err(err).Str("file", filename).Msg("❌ Detection failed")
		return fail(c, fiber.StatusInternalServerError, "Detection failed: "+err.Error())
	}

	return success(c, fiber.StatusOK, out.Summary(), out)
}

// DetectBatch godoc
// @Summary Detect plates in several images
// @Description Process server-side image paths one after another. Missing paths are skipped.
// @Tags Detection
// @Accept json
// @Produce json
// @Param paths body []string true "Image paths"
// @Param save_image query bool false "Save annotated images" default(true)
// @Param save_json query bool false "Save result JSON" default(true)
// @Param use_ocr query bool false "Read plate text" default(true)
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /detect/batch [post]
func (h *PlateHandler) DetectBatch(c *fiber.Ctx) error {
	var paths []string
	if err := c.BodyParser(&paths); err != nil {
		return fail(c, fiber.StatusBadRequest, "Body must be a JSON array of image paths")
	}

	existing := services.ExistingPaths(paths)
	if len(existing) == 0 {
		return fail(c, fiber.StatusNotFound, "None of the given image files exist")
	}

	ctx := audit.WithSource(c.UserContext(), "api")
	result := h.plateService.DetectBatch(ctx, existing, queryOptions(c))
	return success(c, fiber.StatusOK, result.Message(), result)
}

// GetResultImage godoc
// @Summary Get an annotated image
// @Tags Results
// @Produce jpeg
// @Param filename path string true "File name from output_image_path"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /result/image/{filename} [get]
func (h *PlateHandler) GetResultImage(c *fiber.Ctx) error {
	return h.sendResult(c, services.ImageFolder)
}

// GetResultJSON godoc
// @Summary Get a saved result document
// @Tags Results
// @Produce json
// @Param filename path string true "File name from output_json_path"
// @Success 200 {object} models.DetectionOutput
// @Failure 404 {object} ErrorResponse
// @Router /result/json/{filename} [get]
func (h *PlateHandler) GetResultJSON(c *fiber.Ctx) error {
	return h.sendResult(c, services.JSONFolder)
}

func (h *PlateHandler) sendResult(c *fiber.Ctx, kind string) error {
	filename := c.Params("filename")
	rc, err := h.plateService.OpenResult(c.UserContext(), kind, filename)
	if err != nil {
		if errors.Is(err, services.ErrResultNotFound) {
			return fail(c, fiber.StatusNotFound, "File not found: "+filename)
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}

	c.Type(strings.TrimPrefix(filepath.Ext(filename), "."))
	return c.SendStream(rc)
}

// ListDetections godoc
// @Summary List stored detections
// @Tags Detections
// @Produce json
// @Param limit query int false "Max records" default(50)
// @Success 200 {object} Response
// @Router /detections [get]
func (h *PlateHandler) ListDetections(c *fiber.Ctx) error {
	list, err := h.plateService.ListDetections(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return success(c, fiber.StatusOK, "ok", list)
}

// GetDetection godoc
// @Summary Get a stored detection
// @Tags Detections
// @Produce json
// @Param id path string true "Detection record ID"
// @Success 200 {object} Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /detections/{id} [get]
func (h *PlateHandler) GetDetection(c *fiber.Ctx) error {
	rec, err := h.plateService.GetDetection(c.UserContext(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrDetectionNotFound):
			return fail(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, repositories.ErrInvalidDetectionID):
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return success(c, fiber.StatusOK, "ok", rec)
}

func queryOptions(c *fiber.Ctx) models.DetectOptions {
	return models.DetectOptions{
		SaveImage: c.QueryBool("save_image", true),
		SaveJSON:  c.QueryBool("save_json", true),
		UseOCR:    c.QueryBool("use_ocr", true),
	}
}

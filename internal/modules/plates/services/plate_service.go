package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/audit"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/detection"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/imaging"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/ocr"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/upload"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/repositories"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrImageNotFound is returned when an input path does not exist.
	ErrImageNotFound = errors.New("image not found")
	// ErrResultNotFound is returned when a saved output file does not exist.
	ErrResultNotFound = errors.New("result file not found")
)

// Output folders inside the storage provider.
const (
	ImageFolder = "images"
	JSONFolder  = "json"
)

const timestampLayout = "20060102_150405"

// PlateReader reads the text of one plate crop. *ocr.Engine implements it.
type PlateReader interface {
	ReadPlate(ctx context.Context, req ocr.Request) *ocr.Result
	Model() string
	ClientName() string
}

// Options configures the pipeline.
type Options struct {
	Threshold      float64
	OCRConcurrency int
	LanguageHint   string
	Face           font.Face
}

type PlateService struct {
	detector detection.Detector
	reader   PlateReader
	storage  upload.Provider
	repo     repositories.DetectionRepo
	audit    audit.Logger
	opts     Options
	now      func() time.Time
}

// NewPlateService wires the pipeline. reader and repo may be nil: OCR is then
// skipped and results are not persisted.
func NewPlateService(
	detector detection.Detector,
	reader PlateReader,
	storage upload.Provider,
	repo repositories.DetectionRepo,
	auditLogger audit.Logger,
	opts Options,
) *PlateService {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.25
	}
	if opts.OCRConcurrency <= 0 {
		opts.OCRConcurrency = 4
	}
	if opts.LanguageHint == "" {
		opts.LanguageHint = "both"
	}
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	return &PlateService{
		detector: detector,
		reader:   reader,
		storage:  storage,
		repo:     repo,
		audit:    auditLogger,
		opts:     opts,
		now:      time.Now,
	}
}

// DetectInput is one image to run through the pipeline.
type DetectInput struct {
	Image     []byte
	InputPath string // reported back as input_path
	Filename  string // used for artifact and output names
	Options   models.DetectOptions
}

// OCREnabled reports whether a plate reader is configured.
func (s *PlateService) OCREnabled() bool {
	return s.reader != nil
}

// OCRName is the engine reported in results.
func (s *PlateService) OCRName() string {
	if s.reader == nil {
		return "none"
	}
	return s.reader.ClientName()
}

// DetectorName is the detector model reported in results.
func (s *PlateService) DetectorName() string {
	return s.detector.ModelName()
}

// Detect runs detection, OCR and saving for one image.
func (s *PlateService) Detect(ctx context.Context, in DetectInput) (*models.DetectionOutput, error) {
	if len(in.Image) == 0 {
		return nil, detection.ErrNoImage
	}
	if in.Filename == "" {
		in.Filename = filepath.Base(in.InputPath)
	}

	img, err := imaging.Decode(bytes.NewReader(in.Image))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	log.Info().Str("file", in.Filename).Int("width", b.Dx()).Int("height", b.Dy()).Msg("🔍 Processing image")

	start := s.now()
	boxes, err := s.detector.Detect(ctx, img, s.opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	detectionTime := time.Since(start).Seconds()
	log.Info().Int("plates", len(boxes)).Float64("seconds", detectionTime).Msg("✅ Detection complete")

	useOCR := in.Options.UseOCR && s.reader != nil
	detections := buildDetections(boxes)
	if useOCR {
		if err := s.readPlates(ctx, img, detections, in.Filename); err != nil {
			return nil, err
		}
	}

	ocrName := "none"
	if useOCR {
		ocrName = s.reader.ClientName()
	}

	ts := s.now().Format(timestampLayout)
	out := &models.DetectionOutput{
		InputPath:   in.InputPath,
		Timestamp:   ts,
		Detections:  detections,
		TotalPlates: len(detections),
		ProcessingTime: models.ProcessingTime{
			Detection: detectionTime,
			Total:     time.Since(start).Seconds(),
		},
		Model: models.ModelInfo{
			Detector: s.detector.ModelName(),
			OCR:      ocrName,
		},
	}

	stem := strings.TrimSuffix(in.Filename, filepath.Ext(in.Filename))
	name := fmt.Sprintf("%s_%s", stem, ts)

	if in.Options.SaveImage && len(detections) > 0 {
		path, err := s.saveAnnotated(ctx, img, detections, name)
		if err != nil {
			return nil, err
		}
		out.OutputImagePath = path
		log.Info().Str("path", path).Msg("💾 Saved image")
	}

	if in.Options.SaveJSON {
		path, err := s.saveJSON(ctx, out, name)
		if err != nil {
			return nil, err
		}
		out.OutputJSONPath = path
		log.Info().Str("path", path).Msg("💾 Saved JSON")
	}

	s.persist(ctx, out)
	return out, nil
}

// DetectFile runs the pipeline on a file on disk.
func (s *PlateService) DetectFile(ctx context.Context, path string, opts models.DetectOptions) (*models.DetectionOutput, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return s.Detect(ctx, DetectInput{
		Image:     data,
		InputPath: path,
		Filename:  filepath.Base(path),
		Options:   opts,
	})
}

// DetectBatch processes paths one after another. A failing image becomes an
// {error, path} entry and does not stop the batch.
func (s *PlateService) DetectBatch(ctx context.Context, paths []string, opts models.DetectOptions) *models.BatchResult {
	log.Info().Int("images", len(paths)).Msg("🚀 Batch processing")
	start := time.Now()

	result := &models.BatchResult{Results: make([]models.BatchItem, 0, len(paths))}
	for i, path := range paths {
		log.Info().Int("index", i+1).Int("of", len(paths)).Str("path", path).Msg("Processing")

		out, err := s.DetectFile(ctx, path, opts)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("❌ Batch item failed")
			result.Results = append(result.Results, models.BatchItem{Error: err.Error(), Path: path})
			result.Summary.Failed++
			continue
		}
		result.Results = append(result.Results, models.BatchItem{DetectionOutput: out})
		result.Summary.Successful++
		result.Summary.TotalPlates += out.TotalPlates
	}
	result.Summary.TotalImages = len(paths)

	log.Info().
		Int("successful", result.Summary.Successful).
		Int("failed", result.Summary.Failed).
		Int("plates", result.Summary.TotalPlates).
		Dur("took", time.Since(start)).
		Msg("✅ Batch processing complete")
	return result
}

// ExistingPaths keeps the paths that exist on disk.
func ExistingPaths(paths []string) []string {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	return existing
}

// OpenResult streams a saved output file. kind is ImageFolder or JSONFolder.
func (s *PlateService) OpenResult(ctx context.Context, kind, filename string) (io.ReadCloser, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, filename)
	}
	rc, err := s.storage.Open(ctx, kind+"/"+filename)
	if errors.Is(err, upload.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, filename)
	}
	return rc, err
}

// GetDetection loads a stored record.
func (s *PlateService) GetDetection(ctx context.Context, id string) (*models.PlateDetection, error) {
	if s.repo == nil {
		return nil, repositories.ErrDetectionNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// ListDetections returns the newest stored records.
func (s *PlateService) ListDetections(ctx context.Context, limit int) ([]models.PlateDetection, error) {
	if s.repo == nil {
		return []models.PlateDetection{}, nil
	}
	return s.repo.List(ctx, limit)
}

func buildDetections(boxes []detection.Box) []models.Detection {
	detections := make([]models.Detection, len(boxes))
	for i, box := range boxes {
		detections[i] = models.Detection{
			DetectionID: i + 1,
			BBox: models.BBox{
				X1:     box.X1,
				Y1:     box.Y1,
				X2:     box.X2,
				Y2:     box.Y2,
				Width:  box.X2 - box.X1,
				Height: box.Y2 - box.Y1,
			},
			Confidence: box.Confidence,
			ClassID:    box.ClassID,
			ClassName:  box.ClassName,
		}
	}
	return detections
}

// readPlates runs OCR for every detection with bounded concurrency. Each
// detection writes only its own slot.
func (s *PlateService) readPlates(ctx context.Context, img image.Image, detections []models.Detection, filename string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.OCRConcurrency)

	for i := range detections {
		d := &detections[i]
		g.Go(func() error {
			d.OCR = s.readPlate(gctx, img, d, filename)
			if d.OCR.Result.HasText() {
				log.Info().Int("plate", d.DetectionID).Str("text", d.OCR.Text).Float64("confidence", d.OCR.Confidence).Msg("✅ Plate read")
			} else {
				log.Info().Int("plate", d.DetectionID).Msg("✗ No text detected")
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *PlateService) readPlate(ctx context.Context, img image.Image, d *models.Detection, filename string) *models.OCRReading {
	engine := s.reader.ClientName()

	crop, err := imaging.CropPlate(img, imaging.Box{X1: d.BBox.X1, Y1: d.BBox.Y1, X2: d.BBox.X2, Y2: d.BBox.Y2}, imaging.DefaultPadding)
	if err != nil {
		return &models.OCRReading{Engine: engine, Result: &ocr.Result{Error: "Failed to crop image"}}
	}

	data, err := imaging.EncodeJPEG(imaging.Downscale(crop, imaging.MaxInlineSide), 95)
	if err != nil {
		return &models.OCRReading{Engine: engine, Result: &ocr.Result{Error: err.Error()}}
	}

	res := s.reader.ReadPlate(ctx, ocr.Request{
		Image:            data,
		LanguageHint:     s.opts.LanguageHint,
		DetectionID:      d.DetectionID,
		OriginalFilename: filename,
	})
	return &models.OCRReading{Text: res.LicensePlateNumber, Engine: engine, Result: res}
}

func (s *PlateService) saveAnnotated(ctx context.Context, img image.Image, detections []models.Detection, name string) (string, error) {
	annotations := make([]imaging.Annotation, len(detections))
	for i, d := range detections {
		a := imaging.Annotation{
			Box:        imaging.Box{X1: d.BBox.X1, Y1: d.BBox.Y1, X2: d.BBox.X2, Y2: d.BBox.Y2},
			Confidence: d.Confidence,
		}
		if d.OCR != nil {
			a.HasOCR = true
			a.Text = d.OCR.Text
			if d.OCR.Result != nil {
				a.OCRScore = d.OCR.Confidence
				a.OCRMode = string(d.OCR.Mode)
			}
		}
		annotations[i] = a
	}

	data, err := imaging.EncodeJPEG(imaging.Annotate(img, annotations, s.opts.Face), 95)
	if err != nil {
		return "", err
	}

	res, err := s.storage.Upload(ctx, bytes.NewReader(data), name+".jpg", &upload.UploadOptions{
		Folder:       ImageFolder,
		PublicID:     name,
		Overwrite:    true,
		ResourceType: "image",
		ContentType:  "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save annotated image: %w", err)
	}
	return res.Location(), nil
}

func (s *PlateService) saveJSON(ctx context.Context, out *models.DetectionOutput, name string) (string, error) {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	res, err := s.storage.Upload(ctx, bytes.NewReader(data), name+".json", &upload.UploadOptions{
		Folder:       JSONFolder,
		PublicID:     name,
		Overwrite:    true,
		ResourceType: "raw",
		ContentType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save result json: %w", err)
	}
	return res.Location(), nil
}

// persist stores the output document. Failures are logged and never fail the request.
func (s *PlateService) persist(ctx context.Context, out *models.DetectionOutput) {
	if s.repo == nil {
		return
	}

	source, _ := audit.SourceFrom(ctx)
	rec, err := models.NewPlateDetection(out, source)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to build detection record")
		return
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		log.Error().Err(err).Str("input", out.InputPath).Msg("❌ Failed to save detection record")
		return
	}
	out.RecordID = rec.ID.String()
	log.Info().Str("id", out.RecordID).Msg("🚀 Saved detection record")

	if err := s.audit.LogAction(ctx, audit.ActionDetectionSaved, audit.EntityDetection, out.RecordID, map[string]interface{}{
		"input_path":    out.InputPath,
		"total_plates":  out.TotalPlates,
		"plate_numbers": rec.PlateNumbers,
	}); err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to write audit log")
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/ocr"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BBox is a detection box in source image pixels.
type BBox struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// OCRReading is the OCR block attached to a detection.
type OCRReading struct {
	Text   string `json:"text"`
	Engine string `json:"engine"`
	*ocr.Result
}

// Detection is one plate found in an image. DetectionID starts at 1.
type Detection struct {
	DetectionID int         `json:"detection_id"`
	BBox        BBox        `json:"bbox"`
	Confidence  float64     `json:"confidence"`
	ClassID     int         `json:"class_id"`
	ClassName   string      `json:"class_name"`
	OCR         *OCRReading `json:"ocr,omitempty"`
}

// PlateText returns the OCR text or "".
func (d Detection) PlateText() string {
	if d.OCR == nil {
		return ""
	}
	return d.OCR.Text
}

type ProcessingTime struct {
	Detection float64 `json:"detection"`
	Total     float64 `json:"total"`
}

type ModelInfo struct {
	Detector string `json:"detector"`
	OCR      string `json:"ocr"`
}

// DetectionOutput is the full result document for one image.
type DetectionOutput struct {
	InputPath       string         `json:"input_path"`
	Timestamp       string         `json:"timestamp"`
	Detections      []Detection    `json:"detections"`
	TotalPlates     int            `json:"total_plates"`
	ProcessingTime  ProcessingTime `json:"processing_time"`
	Model           ModelInfo      `json:"model"`
	OutputImagePath string         `json:"output_image_path,omitempty"`
	OutputJSONPath  string         `json:"output_json_path,omitempty"`
	RecordID        string         `json:"record_id,omitempty"`
}

// PlateTexts lists the plate numbers that were read, in detection order.
func (o *DetectionOutput) PlateTexts() []string {
	texts := make([]string, 0, len(o.Detections))
	for _, d := range o.Detections {
		if t := d.PlateText(); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// Summary renders "Detected N license plate(s) (read: A, B)".
func (o *DetectionOutput) Summary() string {
	msg := fmt.Sprintf("Detected %d license plate(s)", o.TotalPlates)
	if texts := o.PlateTexts(); len(texts) > 0 {
		msg += fmt.Sprintf(" (read: %s)", strings.Join(texts, ", "))
	}
	return msg
}

// BatchItem is either a detection output or an {error, path} entry.
type BatchItem struct {
	*DetectionOutput
	Error string `json:"error,omitempty"`
	Path  string `json:"path,omitempty"`
}

type BatchSummary struct {
	TotalImages int `json:"total_images"`
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
	TotalPlates int `json:"total_plates"`
}

type BatchResult struct {
	Summary BatchSummary `json:"summary"`
	Results []BatchItem  `json:"results"`
}

// Message mirrors the batch summary line.
func (b *BatchResult) Message() string {
	return fmt.Sprintf("Processed %d images: Successful %d, Failed %d, Total plates detected %d",
		b.Summary.TotalImages, b.Summary.Successful, b.Summary.Failed, b.Summary.TotalPlates)
}

// PlateDetection is the stored record of one processed image.
type PlateDetection struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	InputPath    string         `gorm:"type:text;not null" json:"input_path"`
	Source       string         `gorm:"type:text" json:"source,omitempty"` // api, queue, job
	TotalPlates  int            `gorm:"type:integer;not null;default:0" json:"total_plates"`
	PlateNumbers pq.StringArray `gorm:"type:text[]" json:"plate_numbers"`
	Provinces    pq.StringArray `gorm:"type:text[]" json:"provinces"`
	Document     datatypes.JSON `gorm:"type:jsonb" json:"document"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name
func (PlateDetection) TableName() string {
	return "plate_detections"
}

// BeforeCreate sets UUID before creating
func (p *PlateDetection) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NewPlateDetection builds the record for an output document.
func NewPlateDetection(out *DetectionOutput, source string) (*PlateDetection, error) {
	doc, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detection document: %w", err)
	}

	rec := &PlateDetection{
		ID:           uuid.New(),
		InputPath:    out.InputPath,
		Source:       source,
		TotalPlates:  out.TotalPlates,
		PlateNumbers: pq.StringArray{},
		Provinces:    pq.StringArray{},
		Document:     datatypes.JSON(doc),
		CreatedAt:    time.Now(),
	}
	for _, d := range out.Detections {
		if d.OCR == nil || d.OCR.Text == "" {
			continue
		}
		rec.PlateNumbers = append(rec.PlateNumbers, d.OCR.Text)
		if d.OCR.Result != nil {
			rec.Provinces = append(rec.Provinces, d.OCR.Province)
		}
	}
	return rec, nil
}

// DetectOptions are the per-request switches of the pipeline.
type DetectOptions struct {
	SaveImage bool
	SaveJSON  bool
	UseOCR    bool
}

// DefaultDetectOptions turns everything on.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{SaveImage: true, SaveJSON: true, UseOCR: true}
}

// DetectPathRequest is the body of POST /detect/path.
type DetectPathRequest struct {
	ImagePath string `json:"image_path" example:"input/car1.jpg"`
	SaveImage *bool  `json:"save_image,omitempty"`
	SaveJSON  *bool  `json:"save_json,omitempty"`
	UseOCR    *bool  `json:"use_ocr,omitempty"`
}

// Options applies the request's switches over the defaults.
func (r DetectPathRequest) Options() DetectOptions {
	return mergeOptions(r.SaveImage, r.SaveJSON, r.UseOCR)
}

// DetectJobPayload is the payload of a detect_plate job. One of ImagePath or ImageURL is set.
type DetectJobPayload struct {
	ImagePath string `json:"image_path,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	SaveImage *bool  `json:"save_image,omitempty"`
	SaveJSON  *bool  `json:"save_json,omitempty"`
	UseOCR    *bool  `json:"use_ocr,omitempty"`
}

// Options applies the payload's switches over the defaults.
func (p DetectJobPayload) Options() DetectOptions {
	return mergeOptions(p.SaveImage, p.SaveJSON, p.UseOCR)
}

func mergeOptions(saveImage, saveJSON, useOCR *bool) DetectOptions {
	opts := DefaultDetectOptions()
	if saveImage != nil {
		opts.SaveImage = *saveImage
	}
	if saveJSON != nil {
		opts.SaveJSON = *saveJSON
	}
	if useOCR != nil {
		opts.UseOCR = *useOCR
	}
	return opts
}

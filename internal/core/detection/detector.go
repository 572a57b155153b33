package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/imaging"
)

// ErrNoImage is returned when Detect is called without an image.
var ErrNoImage = errors.New("no image to detect on")

// Box is one detected plate.
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Rect converts the box to the imaging package's coordinates.
func (b Box) Rect() imaging.Box {
	return imaging.Box{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
}

// Detector finds license plates in an image. The model behind it is a black box.
type Detector interface {
	Detect(ctx context.Context, img image.Image, threshold float64) ([]Box, error)
	ModelName() string
}

// HTTPDetector calls a detection model served over HTTP. The service receives a
// multipart form with "image" (JPEG) and "conf", and answers
// {"model": "...", "boxes": [...]}.
type HTTPDetector struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewHTTPDetector(endpoint, model string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDetector{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDetector) ModelName() string {
	return d.model
}

type detectResponse struct {
	Model string `json:"model"`
	Boxes []Box  `json:"boxes"`
	Error string `json:"error"`
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]Box, error) {
	if img == nil {
		return nil, ErrNoImage
	}

	frame, err := imaging.EncodeJPEG(img, 95)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(frame); err != nil {
		return nil, err
	}
	if err := mw.WriteField("conf", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector error: status %d: %s", resp.StatusCode, string(raw))
	}

	var out detectResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse detector response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("detector error: %s", out.Error)
	}

	boxes := make([]Box, 0, len(out.Boxes))
	for _, b := range out.Boxes {
		if b.Confidence < threshold || b.X2 <= b.X1 || b.Y2 <= b.Y1 {
			continue
		}
		if b.ClassName == "" {
			b.ClassName = "license_plate"
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

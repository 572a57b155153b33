package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/detection"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/jobs"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/ocr"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/upload"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/repositories"
)

type fakeDetector struct {
	boxes []detection.Box
	err   error
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]detection.Box, error) {
	return f.boxes, f.err
}

func (f *fakeDetector) ModelName() string { return "plates-v11" }

type fakeReader struct {
	mu       sync.Mutex
	requests []ocr.Request
	inFlight int32
	peak     int32
	texts    map[int]string
}

func (f *fakeReader) ReadPlate(ctx context.Context, req ocr.Request) *ocr.Result {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	text := f.texts[req.DetectionID]
	res := &ocr.Result{LicensePlateNumber: text, Mode: ocr.ModeInline, Attempts: 1}
	if text != "" {
		res.Confidence = 0.95
	}
	return res
}

func (f *fakeReader) Model() string      { return "test-model" }
func (f *fakeReader) ClientName() string { return "gemini" }

type memRepo struct {
	mu      sync.Mutex
	records []*models.PlateDetection
	err     error
}

func (m *memRepo) Create(ctx context.Context, d *models.PlateDetection) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, d)
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, id string) (*models.PlateDetection, error) {
	for _, r := range m.records {
		if r.ID.String() == id {
			return r, nil
		}
	}
	return nil, repositories.ErrDetectionNotFound
}

func (m *memRepo) List(ctx context.Context, limit int) ([]models.PlateDetection, error) {
	out := make([]models.PlateDetection, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) LogAction(ctx context.Context, action, entity, entityID string, metadata interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	service *PlateService
	reader  *fakeReader
	repo    *memRepo
	audit   *recordingAudit
	storage *upload.LocalProvider
}

func newFixture(t *testing.T, boxes []detection.Box, withReader bool) *fixture {
	t.Helper()
	storage, err := upload.NewLocalProvider(t.TempDir(), "http://localhost:8000")
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		reader:  &fakeReader{texts: map[int]string{1: "กข 1234", 3: "AB 1234"}},
		repo:    &memRepo{},
		audit:   &recordingAudit{},
		storage: storage,
	}

	var reader PlateReader
	if withReader {
		reader = f.reader
	}
	f.service = NewPlateService(&fakeDetector{boxes: boxes}, reader, storage, f.repo, f.audit, Options{OCRConcurrency: 2})
	f.service.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.Local) }
	return f
}

func threeBoxes() []detection.Box {
	return []detection.Box{
		{X1: 10, Y1: 10, X2: 110, Y2: 50, Confidence: 0.91, ClassName: "license_plate"},
		{X1: 150, Y1: 100, X2: 250, Y2: 140, Confidence: 0.72, ClassName: "license_plate"},
		{X1: 200, Y1: 180, X2: 310, Y2: 230, Confidence: 0.66, ClassName: "license_plate"},
	}
}

func TestDetectFullPipeline(t *testing.T) {
	f := newFixture(t, threeBoxes(), true)

	out, err := f.service.Detect(context.Background(), DetectInput{
		Image:     testImage(t),
		InputPath: "input/car1.png",
		Options:   models.DefaultDetectOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if out.TotalPlates != 3 {
		t.Fatalf("total plates: got %d, want 3", out.TotalPlates)
	}
	if out.Timestamp != "20250304_050607" {
		t.Errorf("timestamp: got %s", out.Timestamp)
	}
	if out.Model.Detector != "plates-v11" || out.Model.OCR != "gemini" {
		t.Errorf("model: got %+v", out.Model)
	}

	for i, d := range out.Detections {
		if d.DetectionID != i+1 {
			t.Errorf("detection %d: got id %d", i, d.DetectionID)
		}
		if d.OCR == nil {
			t.Fatalf("detection %d has no OCR block", i)
		}
	}
	if got := out.Detections[0].BBox.Width; got != 100 {
		t.Errorf("bbox width: got %v, want 100", got)
	}
	if out.Detections[0].OCR.Text != "กข 1234" || out.Detections[1].OCR.Text != "" {
		t.Errorf("ocr texts: got %q, %q", out.Detections[0].OCR.Text, out.Detections[1].OCR.Text)
	}

	for _, req := range f.reader.requests {
		if req.OriginalFilename != "car1.png" || req.LanguageHint != "both" {
			t.Errorf("ocr request: got %+v", req)
		}
	}
	if f.reader.peak > 2 {
		t.Errorf("ocr concurrency: got %d in flight, want at most 2", f.reader.peak)
	}

	wantImage := filepath.Join(f.storage.BasePath(), "images", "car1_20250304_050607.jpg")
	if out.OutputImagePath != wantImage {
		t.Errorf("image path: got %s, want %s", out.OutputImagePath, wantImage)
	}
	if _, err := os.Stat(wantImage); err != nil {
		t.Errorf("annotated image not written: %v", err)
	}

	data, err := os.ReadFile(out.OutputJSONPath)
	if err != nil {
		t.Fatalf("json not written: %v", err)
	}
	var saved models.DetectionOutput
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.TotalPlates != 3 || saved.OutputImagePath != wantImage {
		t.Errorf("saved json: got %+v", saved)
	}

	if len(f.repo.records) != 1 {
		t.Fatalf("records: got %d, want 1", len(f.repo.records))
	}
	rec := f.repo.records[0]
	if out.RecordID != rec.ID.String() {
		t.Errorf("record id: got %s, want %s", out.RecordID, rec.ID)
	}
	if strings.Join(rec.PlateNumbers, ",") != "กข 1234,AB 1234" {
		t.Errorf("plate numbers: got %v", rec.PlateNumbers)
	}
	if len(f.audit.actions) != 1 {
		t.Errorf("audit actions: got %v", f.audit.actions)
	}

	if got, want := out.Summary(), "Detected 3 license plate(s) (read: กข 1234, AB 1234)"; got != want {
		t.Errorf("summary: got %q, want %q", got, want)
	}
}

func TestDetectWithoutOCR(t *testing.T) {
	tests := []struct {
		name       string
		withReader bool
		useOCR     bool
	}{
		{"disabled per request", true, false},
		{"no engine configured", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, threeBoxes(), tt.withReader)
			out, err := f.service.Detect(context.Background(), DetectInput{
				Image:     testImage(t),
				InputPath: "car.png",
				Options:   models.DetectOptions{UseOCR: tt.useOCR},
			})
			if err != nil {
				t.Fatal(err)
			}
			if out.Model.OCR != "none" {
				t.Errorf("ocr model: got %s, want none", out.Model.OCR)
			}
			for _, d := range out.Detections {
				if d.OCR != nil {
					t.Error("expected no OCR block")
				}
			}
			if len(f.reader.requests) != 0 {
				t.Errorf("reader called %d times", len(f.reader.requests))
			}
			if out.OutputImagePath != "" || out.OutputJSONPath != "" {
				t.Error("nothing should be saved")
			}
		})
	}
}

func TestDetectNoPlatesSkipsImage(t *testing.T) {
	f := newFixture(t, nil, true)
	out, err := f.service.Detect(context.Background(), DetectInput{
		Image:     testImage(t),
		InputPath: "empty.png",
		Options:   models.DefaultDetectOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalPlates != 0 || out.OutputImagePath != "" {
		t.Errorf("got %+v", out)
	}
	if out.OutputJSONPath == "" {
		t.Error("json should still be saved")
	}
	if out.Summary() != "Detected 0 license plate(s)" {
		t.Errorf("summary: got %q", out.Summary())
	}
}

func TestDetectPersistFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, threeBoxes(), true)
	f.repo.err = errors.New("db down")

	out, err := f.service.Detect(context.Background(), DetectInput{
		Image:     testImage(t),
		InputPath: "car.png",
		Options:   models.DetectOptions{UseOCR: true},
	})
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if out.RecordID != "" {
		t.Error("record id should be empty")
	}
}

func TestDetectErrors(t *testing.T) {
	f := newFixture(t, nil, true)
	ctx := context.Background()

	if _, err := f.service.Detect(ctx, DetectInput{}); !errors.Is(err, detection.ErrNoImage) {
		t.Errorf("empty image: got %v, want %v", err, detection.ErrNoImage)
	}
	if _, err := f.service.Detect(ctx, DetectInput{Image: []byte("not an image")}); err == nil {
		t.Error("expected decode error")
	}

	f.service.detector = &fakeDetector{err: errors.New("model offline")}
	if _, err := f.service.Detect(ctx, DetectInput{Image: testImage(t)}); err == nil {
		t.Error("expected detector error")
	}

	_, err := f.service.DetectFile(ctx, filepath.Join(t.TempDir(), "missing.jpg"), models.DefaultDetectOptions())
	if !errors.Is(err, ErrImageNotFound) {
		t.Errorf("missing file: got %v, want %v", err, ErrImageNotFound)
	}
}

func TestDetectBatch(t *testing.T) {
	f := newFixture(t, threeBoxes()[:1], true)
	dir := t.TempDir()
	good := filepath.Join(dir, "car.png")
	if err := os.WriteFile(good, testImage(t), 0644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(bad, []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	res := f.service.DetectBatch(context.Background(), []string{good, bad}, models.DetectOptions{UseOCR: true})

	want := models.BatchSummary{TotalImages: 2, Successful: 1, Failed: 1, TotalPlates: 1}
	if res.Summary != want {
		t.Errorf("summary: got %+v, want %+v", res.Summary, want)
	}
	if res.Results[1].Path != bad || res.Results[1].Error == "" {
		t.Errorf("failed entry: got %+v", res.Results[1])
	}
	if got := res.Message(); got != "Processed 2 images: Successful 1, Failed 1, Total plates detected 1" {
		t.Errorf("message: got %q", got)
	}

	data, err := json.Marshal(res.Results[1])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "total_plates") {
		t.Errorf("error entry should only carry error and path: %s", data)
	}

	if got := ExistingPaths([]string{good, filepath.Join(dir, "nope.png")}); len(got) != 1 {
		t.Errorf("existing paths: got %v", got)
	}
}

func TestOpenResult(t *testing.T) {
	f := newFixture(t, threeBoxes(), false)
	out, err := f.service.Detect(context.Background(), DetectInput{
		Image:     testImage(t),
		InputPath: "car.png",
		Options:   models.DetectOptions{SaveJSON: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	rc, err := f.service.OpenResult(context.Background(), JSONFolder, filepath.Base(out.OutputJSONPath))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Contains(data, []byte(`"total_plates": 3`)) {
		t.Errorf("unexpected json: %s", data)
	}

	for _, name := range []string{"missing.json", "../secret.json", ""} {
		if _, err := f.service.OpenResult(context.Background(), JSONFolder, name); !errors.Is(err, ErrResultNotFound) {
			t.Errorf("%q: got %v, want %v", name, err, ErrResultNotFound)
		}
	}
}

func TestDetectJobHandler(t *testing.T) {
	f := newFixture(t, threeBoxes(), true)
	img := testImage(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cam/gate1.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	h := NewDetectJobHandler(f.service, NewImageFetcher(time.Second))
	if h.GetType() != JobTypeDetectPlate {
		t.Errorf("type: got %s", h.GetType())
	}

	no := false
	payload, _ := json.Marshal(models.DetectJobPayload{ImageURL: srv.URL + "/cam/gate1.png", SaveImage: &no, SaveJSON: &no})
	result, err := h.Handle(context.Background(), &jobs.Job{Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	summary := result.(map[string]interface{})
	if summary["total_plates"] != 3 {
		t.Errorf("total plates: got %v", summary["total_plates"])
	}
	if f.reader.requests[0].OriginalFilename != "gate1.png" {
		t.Errorf("filename: got %s", f.reader.requests[0].OriginalFilename)
	}
	if f.repo.records[0].Source != "job" {
		t.Errorf("source: got %q, want job", f.repo.records[0].Source)
	}

	bad := []string{`{}`, `not json`, `{"image_url":"` + srv.URL + `/missing.png"}`}
	for _, p := range bad {
		if _, err := h.Handle(context.Background(), &jobs.Job{Payload: []byte(p)}); err == nil {
			t.Errorf("payload %s: expected error", p)
		}
	}
}

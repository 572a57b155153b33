package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/detection"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/core/upload"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/repositories"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/services"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/database"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]detection.Box, error) {
	return []detection.Box{{X1: 20, Y1: 20, X2: 120, Y2: 60, Confidence: 0.88, ClassName: "license_plate"}}, nil
}

func (stubDetector) ModelName() string { return "stub-detector" }

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		img.Set(x, 50, color.White)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	storage, err := upload.NewLocalProvider(t.TempDir(), "http://localhost:8000")
	if err != nil {
		t.Fatal(err)
	}
	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	repo, err := repositories.NewSQLiteDetectionRepo(context.Background(), db.DB)
	if err != nil {
		t.Fatal(err)
	}

	svc := services.NewPlateService(stubDetector{}, nil, storage, repo, nil, services.Options{})
	app := fiber.New()
	RegisterRoutes(app,
		NewHealthHandler(svc, storage.GetProviderName()),
		NewPlateHandler(svc, storage),
		NewJobHandler(nil, nil),
		NewAuditHandler(nil),
	)

	dir := t.TempDir()
	path := filepath.Join(dir, "car1.jpg")
	if err := os.WriteFile(path, jpegBytes(t), 0644); err != nil {
		t.Fatal(err)
	}
	return app, path
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &body)
	return resp.StatusCode, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestInfoAndHealth(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	if status != fiber.StatusOK || body["status"] != "running" {
		t.Errorf("got %d %v", status, body)
	}
	model := body["model"].(map[string]interface{})
	if model["detector"] != "stub-detector" || model["ocr"] != "none" {
		t.Errorf("model: got %v", model)
	}

	status, body = do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if status != fiber.StatusOK || body["status"] != "ok" {
		t.Errorf("got %d %v", status, body)
	}
}

func TestDetectPath(t *testing.T) {
	app, path := newTestApp(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, fiber.StatusBadRequest},
		{"missing path", `{}`, fiber.StatusBadRequest},
		{"file not found", `{"image_path":"/nope/car.jpg"}`, fiber.StatusNotFound},
		{"ok", `{"image_path":"` + filepath.ToSlash(path) + `","save_image":false}`, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, jsonRequest(http.MethodPost, "/detect/path", tt.body))
			if status != tt.status {
				t.Fatalf("got %d, want %d (%v)", status, tt.status, body)
			}
			if status != fiber.StatusOK {
				if body["error"] == nil {
					t.Error("error body missing")
				}
				return
			}
			if body["status"] != "success" || body["message"] != "Detected 1 license plate(s)" {
				t.Errorf("got %v", body)
			}
			data := body["data"].(map[string]interface{})
			if data["output_image_path"] != nil {
				t.Error("save_image=false should not save an image")
			}
			if data["output_json_path"] == nil || data["record_id"] == nil {
				t.Errorf("data: got %v", data)
			}
		})
	}
}

func TestDetectUpload(t *testing.T) {
	app, _ := newTestApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "gate.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(jpegBytes(t))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/detect/upload?save_json=false", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, body := do(t, app, req)
	if status != fiber.StatusOK {
		t.Fatalf("got %d, want 200 (%v)", status, body)
	}
	data := body["data"].(map[string]interface{})
	if !strings.Contains(data["input_path"].(string), "uploaded_gate.jpg") {
		t.Errorf("input_path: got %v", data["input_path"])
	}
	if data["output_json_path"] != nil {
		t.Error("save_json=false should not save json")
	}
	if !strings.HasSuffix(data["output_image_path"].(string), ".jpg") {
		t.Errorf("image path: got %v", data["output_image_path"])
	}

	status, _ = do(t, app, httptest.NewRequest(http.MethodPost, "/detect/upload", nil))
	if status != fiber.StatusBadRequest {
		t.Errorf("no file: got %d, want 400", status)
	}
}

func TestDetectBatch(t *testing.T) {
	app, path := newTestApp(t)

	status, _ := do(t, app, jsonRequest(http.MethodPost, "/detect/batch", `["/nope/a.jpg"]`))
	if status != fiber.StatusNotFound {
		t.Errorf("got %d, want 404", status)
	}

	body := `["` + filepath.ToSlash(path) + `","/nope/a.jpg"]`
	status, resp := do(t, app, jsonRequest(http.MethodPost, "/detect/batch?save_image=false", body))
	if status != fiber.StatusOK {
		t.Fatalf("got %d (%v)", status, resp)
	}
	summary := resp["data"].(map[string]interface{})["summary"].(map[string]interface{})
	if summary["total_images"] != float64(1) || summary["total_plates"] != float64(1) {
		t.Errorf("summary: got %v", summary)
	}
}

func TestDetectionsAndResults(t *testing.T) {
	app, path := newTestApp(t)

	_, resp := do(t, app, jsonRequest(http.MethodPost, "/detect/path", `{"image_path":"`+filepath.ToSlash(path)+`"}`))
	data := resp["data"].(map[string]interface{})
	recordID := data["record_id"].(string)
	jsonName := filepath.Base(data["output_json_path"].(string))
	imageName := filepath.Base(data["output_image_path"].(string))

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/detections?limit=10", nil))
	if status != fiber.StatusOK || len(body["data"].([]interface{})) != 1 {
		t.Errorf("list: got %d %v", status, body)
	}

	tests := []struct {
		target string
		status int
	}{
		{"/detections/" + recordID, fiber.StatusOK},
		{"/detections/" + uuid.NewString(), fiber.StatusNotFound},
		{"/detections/not-a-uuid", fiber.StatusBadRequest},
		{"/result/json/" + jsonName, fiber.StatusOK},
		{"/result/image/" + imageName, fiber.StatusOK},
		{"/result/json/missing.json", fiber.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.target, nil), -1)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%s: got %d, want %d", tt.target, resp.StatusCode, tt.status)
		}
	}

	resp2, err := app.Test(httptest.NewRequest(http.MethodGet, "/result/image/"+imageName, nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if ct := resp2.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type: got %s, want image/jpeg", ct)
	}
}

func TestQueueAndAuditDisabled(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []*http.Request{
		jsonRequest(http.MethodPost, "/detect/async", `{"image_path":"a.jpg"}`),
		httptest.NewRequest(http.MethodGet, "/jobs/stats", nil),
		httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil),
		httptest.NewRequest(http.MethodGet, "/jobs?status=pending", nil),
		httptest.NewRequest(http.MethodDelete, "/jobs/"+uuid.NewString(), nil),
		httptest.NewRequest(http.MethodGet, "/audit-logs", nil),
		httptest.NewRequest(http.MethodGet, "/detections/"+uuid.NewString()+"/history", nil),
	}
	for _, req := range tests {
		status, _ := do(t, app, req)
		if status != fiber.StatusServiceUnavailable {
			t.Errorf("%s %s: got %d, want 503", req.Method, req.URL.Path, status)
		}
	}
}

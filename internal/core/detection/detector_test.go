package detection

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDetectorDetect(t *testing.T) {
	var gotConf string
	var gotImage bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotConf = r.FormValue("conf")
		_, _, err := r.FormFile("image")
		gotImage = err == nil

		json.NewEncoder(w).Encode(map[string]any{
			"model": "plate-v1",
			"boxes": []map[string]any{
				{"x1": 10, "y1": 10, "x2": 50, "y2": 30, "confidence": 0.91, "class_id": 0, "class_name": "license_plate"},
				{"x1": 60, "y1": 10, "x2": 90, "y2": 30, "confidence": 0.10, "class_id": 0},
				{"x1": 60, "y1": 10, "x2": 60, "y2": 30, "confidence": 0.99, "class_id": 0},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, "plate-v1", time.Second)
	boxes, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 50)), 0.25)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if gotConf != "0.25" {
		t.Errorf("conf: got %q, want 0.25", gotConf)
	}
	if !gotImage {
		t.Error("image part missing")
	}
	if len(boxes) != 1 {
		t.Fatalf("boxes: got %d, want 1", len(boxes))
	}
	if boxes[0].Confidence != 0.91 || boxes[0].X2 != 50 {
		t.Errorf("box: got %+v", boxes[0])
	}
	if r := boxes[0].Rect(); r.X1 != 10 || r.Y2 != 30 {
		t.Errorf("rect: got %+v", r)
	}
}

func TestHTTPDetectorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, "", time.Second)
	if _, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)), 0.5); err == nil {
		t.Error("expected error on 503")
	}
	if _, err := d.Detect(context.Background(), nil, 0.5); err != ErrNoImage {
		t.Errorf("nil image: got %v, want ErrNoImage", err)
	}
}

package imaging

import (
	"image/color"
	"reflect"
	"testing"

	"golang.org/x/image/font/basicfont"
)

func TestAnnotationLabels(t *testing.T) {
	tests := []struct {
		name string
		a    Annotation
		want []string
	}{
		{
			name: "no ocr",
			a:    Annotation{Confidence: 0.8734},
			want: []string{"Plate: 87.34%"},
		},
		{
			name: "ocr without text",
			a:    Annotation{Confidence: 0.5, HasOCR: true},
			want: []string{"Plate: 50.00%", "OCR: No text"},
		},
		{
			name: "ocr with text",
			a:    Annotation{Confidence: 0.91, HasOCR: true, Text: "กข 1234", OCRScore: 0.95, OCRMode: "url"},
			want: []string{"Plate: 91.00%", "Text: กข 1234", "OCR: 95.00% (url)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Labels(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnnotateColours(t *testing.T) {
	img := solid(300, 200, color.White)
	out := Annotate(img, []Annotation{
		{Box: Box{20, 120, 100, 180}, Confidence: 0.9, HasOCR: true, Text: "AB 1234", OCRScore: 0.8, OCRMode: "base64"},
		{Box: Box{150, 120, 250, 180}, Confidence: 0.7, HasOCR: true},
	}, basicfont.Face7x13)

	if got := out.RGBAAt(60, 179); got != colorWithText {
		t.Errorf("box with text: got %v, want green", got)
	}
	if got := out.RGBAAt(200, 179); got != colorNoText {
		t.Errorf("box without text: got %v, want yellow", got)
	}
	if got := out.RGBAAt(60, 150); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("box interior should be untouched, got %v", got)
	}
	if got := img.RGBAAt(60, 179); got != (color.RGBA{255, 255, 255, 255}) {
		t.Error("source image was modified")
	}
}

func TestLoadFaceFallsBack(t *testing.T) {
	face := LoadFace([]string{"/nonexistent/font.ttf", ""})
	if face != basicfont.Face7x13 {
		t.Error("expected basicfont fallback")
	}
}

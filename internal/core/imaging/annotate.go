package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	colorWithText = color.RGBA{0, 255, 0, 255}
	colorNoText   = color.RGBA{255, 255, 0, 255}
	colorLabel    = color.RGBA{0, 0, 0, 255}
)

const (
	boxStroke    = 3
	labelPadding = 5
	labelGap     = 5
	fontSize     = 20
)

// FontCandidates are tried in order; Thai-capable fonts come first.
var FontCandidates = []string{
	"/usr/share/fonts/truetype/thai/Sarabun-Regular.ttf",
	"/usr/share/fonts/truetype/thai/Garuda.ttf",
	"/usr/share/fonts/truetype/thai/Loma.ttf",
	"/usr/share/fonts/truetype/thai/TlwgTypo.ttf",
	"/usr/share/fonts/truetype/tlwg/Garuda.ttf",
	"/usr/share/fonts/truetype/tlwg/Loma.ttf",
	"C:/Windows/Fonts/THSarabunNew.ttf",
	"C:/Windows/Fonts/Tahoma.ttf",
	"/System/Library/Fonts/Thonburi.ttc",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// Annotation is one box to draw with its labels.
type Annotation struct {
	Box        Box
	Confidence float64 // detector score
	HasOCR     bool
	Text       string
	OCRScore   float64
	OCRMode    string
}

// Labels returns the stacked label lines, bottom first.
func (a Annotation) Labels() []string {
	labels := []string{fmt.Sprintf("Plate: %s", percent(a.Confidence))}
	if !a.HasOCR {
		return labels
	}
	if a.Text != "" {
		labels = append(labels,
			"Text: "+a.Text,
			fmt.Sprintf("OCR: %s (%s)", percent(a.OCRScore), a.OCRMode),
		)
	} else {
		labels = append(labels, "OCR: No text")
	}
	return labels
}

// LoadFace returns the first candidate font that parses, or basicfont when none does.
func LoadFace(paths []string) font.Face {
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		face, err := parseFace(data)
		if err != nil {
			log.Debug().Err(err).Str("font", p).Msg("failed to load font")
			continue
		}
		log.Info().Str("font", p).Msg("✅ Loaded annotation font")
		return face
	}
	log.Warn().Msg("⚠️ No Thai font found, labels fall back to a Latin bitmap font (install fonts-thai-tlwg)")
	return basicfont.Face7x13
}

func parseFace(data []byte) (font.Face, error) {
	opts := &opentype.FaceOptions{Size: fontSize, DPI: 72, Hinting: font.HintingFull}

	if f, err := opentype.Parse(data); err == nil {
		return opentype.NewFace(f, opts)
	}
	coll, err := opentype.ParseCollection(data)
	if err != nil {
		return nil, err
	}
	if coll.NumFonts() == 0 {
		return nil, fmt.Errorf("empty font collection")
	}
	f, err := coll.Font(0)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, opts)
}

// Annotate draws boxes and labels onto a copy of img. Boxes with OCR text are
// green, others yellow.
func Annotate(img image.Image, annotations []Annotation, face font.Face) *image.RGBA {
	if face == nil {
		face = basicfont.Face7x13
	}
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, a := range annotations {
		c := colorNoText
		if a.HasOCR && a.Text != "" {
			c = colorWithText
		}

		x1, y1 := int(a.Box.X1), int(a.Box.Y1)
		x2, y2 := int(a.Box.X2), int(a.Box.Y2)
		drawRect(out, image.Rect(x1, y1, x2, y2), boxStroke, c)

		yOffset := y1
		for _, label := range a.Labels() {
			yOffset = drawLabel(out, face, x1, yOffset, label, c)
		}
	}
	return out
}

// drawLabel paints label on a filled background whose bottom edge sits at
// bottom, and returns the bottom edge for the next label up.
func drawLabel(dst *image.RGBA, face font.Face, left, bottom int, label string, bg color.Color) int {
	metrics := face.Metrics()
	textW := font.MeasureString(face, label).Ceil()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	top := bottom - textH - 2*labelPadding
	bgRect := image.Rect(left, top, left+textW+2*labelPadding, bottom)
	draw.Draw(dst, bgRect.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(colorLabel),
		Face: face,
		Dot:  fixed.P(left+labelPadding, top+labelPadding+metrics.Ascent.Ceil()),
	}
	d.DrawString(label)

	return top - labelGap
}

func drawRect(dst *image.RGBA, r image.Rectangle, stroke int, c color.Color) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke),
		image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y),
		image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), u, image.Point{}, draw.Src)
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

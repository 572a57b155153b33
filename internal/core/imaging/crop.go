package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF format decoder
	"image/jpeg"
	_ "image/png" // Register PNG format decoder
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// DefaultPadding is added around every detected plate before cropping.
const DefaultPadding = 5

// MaxInlineSide is the longest side an image may have when sent to the vision API.
const MaxInlineSide = 1024

// Box is a detector bounding box in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Decode reads any registered image format and applies EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// CropPlate cuts the box out of img with padding, clamped to the image bounds.
func CropPlate(img image.Image, box Box, padding int) (image.Image, error) {
	bounds := img.Bounds()

	x1 := max(bounds.Min.X, int(box.X1)-padding)
	y1 := max(bounds.Min.Y, int(box.Y1)-padding)
	x2 := min(bounds.Max.X, int(box.X2)+padding)
	y2 := min(bounds.Max.Y, int(box.Y2)+padding)

	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("failed to crop image: empty region (%d,%d)-(%d,%d)", x1, y1, x2, y2)
	}

	return imaging.Crop(img, image.Rect(x1, y1, x2, y2)), nil
}

// Downscale shrinks img so its longest side is at most maxSide. Smaller
// images are returned unchanged.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxSide, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxSide, imaging.Lanczos)
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

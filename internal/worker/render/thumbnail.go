package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// Thumbnailer downscales rendered pages to a bounded width
type Thumbnailer struct {
	maxWidth int
}

// NewThumbnailer creates a thumbnailer limiting width to maxWidth pixels
func NewThumbnailer(maxWidth int) *Thumbnailer {
	if maxWidth <= 0 {
		maxWidth = 400
	}
	return &Thumbnailer{maxWidth: maxWidth}
}

// Thumbnail returns data scaled so its width is at most maxWidth, keeping the aspect
// ratio. Images already narrow enough are returned unchanged. The output codec
// matches the input.
func (t *Thumbnailer) Thumbnail(data []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	if b.Dx() <= t.maxWidth {
		return data, nil
	}

	height := int(math.Round(float64(b.Dy()) * float64(t.maxWidth) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, t.maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	case "png":
		err = png.Encode(&buf, dst)
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}

package jobs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
)

// Resizer produces a resized raster copy of the image at path, scaled to the
// requested width.
type Resizer interface {
	Resize(ctx context.Context, path string, width int) ([]byte, error)
}

// ImageResizer is the default Resizer, decoding with the standard image
// codecs and scaling with nearest-neighbour sampling. Aspect ratio is
// preserved.
type ImageResizer struct{}

// Resize reads the image at path and returns it re-encoded at the requested
// width in its original format.
func (ImageResizer) Resize(ctx context.Context, path string, width int) ([]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("width must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer file.Close()

	src, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	scaled := scaleToWidth(src, width)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, scaled)
	default:
		err = jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

func scaleToWidth(src image.Image, width int) image.Image {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW <= 0 || srcH <= 0 || srcW == width {
		return src
	}
	height := srcH * width / srcW
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*srcW/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}

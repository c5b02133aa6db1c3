package edit

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// RasterImage is an immutable image in native pixel resolution.
//
// The pixel buffer is private to the value: NewRasterImage copies its input
// and Image returns the buffer for reading only. Edits never mutate a
// RasterImage; they produce a new one.
type RasterImage struct {
	pix *image.NRGBA
}

// NewRasterImage copies src into a new RasterImage whose bounds start at
// (0,0). It returns nil for a nil or empty source.
func NewRasterImage(src image.Image) *RasterImage {
	if src == nil || src.Bounds().Empty() {
		return nil
	}
	return &RasterImage{pix: imaging.Clone(src)}
}

// wrapRaster takes ownership of pix without copying. Callers must not keep
// a reference they later write to.
func wrapRaster(pix *image.NRGBA) *RasterImage {
	if pix == nil || pix.Bounds().Empty() {
		return nil
	}
	if pix.Rect.Min != (image.Point{}) {
		pix = imaging.Clone(pix)
	}
	return &RasterImage{pix: pix}
}

// Width returns the image width in pixels.
func (r *RasterImage) Width() int { return r.pix.Rect.Dx() }

// Height returns the image height in pixels.
func (r *RasterImage) Height() int { return r.pix.Rect.Dy() }

// Bounds returns the image rectangle, always anchored at (0,0).
func (r *RasterImage) Bounds() image.Rectangle { return r.pix.Rect }

// At returns the color of the pixel at (x, y).
func (r *RasterImage) At(x, y int) color.Color { return r.pix.At(x, y) }

// Image exposes the underlying pixels. The result must be treated as
// read-only.
func (r *RasterImage) Image() *image.NRGBA { return r.pix }

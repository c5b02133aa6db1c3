package edit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Viewport is the on-screen area, in viewport pixels, that an image is
// displayed in.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both viewport dimensions are positive.
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0
}

// DisplayFrame is the rectangle inside a viewport where an image is drawn
// after aspect-fit scaling.
//
// The frame keeps the native image size so that any viewport point can be
// converted into image space:
//
//	image = (viewport - Origin) * (ImageSize / Size)   per axis
type DisplayFrame struct {
	// Origin is the top-left corner of the drawn image in viewport space.
	Origin r2.Vec
	// Size is the drawn width and height in viewport space.
	Size r2.Vec
	// ImageSize is the native width and height of the image.
	ImageSize r2.Vec
}

// FitFrame computes the aspect-fit display frame of an imageW x imageH image
// centered inside viewport, using scale = min(vw/iw, vh/ih).
func FitFrame(imageW, imageH int, viewport Viewport) (DisplayFrame, error) {
	if imageW <= 0 || imageH <= 0 {
		return DisplayFrame{}, fmt.Errorf("image size %dx%d: %w", imageW, imageH, ErrInvalidState)
	}
	if !viewport.Valid() {
		return DisplayFrame{}, fmt.Errorf("viewport %gx%g: %w", viewport.Width, viewport.Height, ErrInvalidState)
	}

	iw, ih := float64(imageW), float64(imageH)
	scale := math.Min(viewport.Width/iw, viewport.Height/ih)
	size := r2.Vec{X: iw * scale, Y: ih * scale}

	return DisplayFrame{
		Origin: r2.Vec{
			X: (viewport.Width - size.X) / 2,
			Y: (viewport.Height - size.Y) / 2,
		},
		Size:      size,
		ImageSize: r2.Vec{X: iw, Y: ih},
	}, nil
}

// Box returns the frame as a viewport-space box.
func (f DisplayFrame) Box() r2.Box {
	return r2.Box{Min: f.Origin, Max: r2.Add(f.Origin, f.Size)}
}

// ScaleFactors returns the per-axis viewport-to-image scale factors
// (imageW/frameW, imageH/frameH).
func (f DisplayFrame) ScaleFactors() r2.Vec {
	return r2.Vec{X: f.ImageSize.X / f.Size.X, Y: f.ImageSize.Y / f.Size.Y}
}

// ToImage maps a viewport-space point into image space. Points outside the
// frame map outside the image; callers clip.
func (f DisplayFrame) ToImage(p r2.Vec) r2.Vec {
	s := f.ScaleFactors()
	d := r2.Sub(p, f.Origin)
	return r2.Vec{X: d.X * s.X, Y: d.Y * s.Y}
}

// Contains reports whether p lies inside the frame (edges inclusive).
func (f DisplayFrame) Contains(p r2.Vec) bool {
	b := f.Box()
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// ClampCenter returns the position closest to center at which a box of the
// given size still lies fully inside the frame, using
// min(max(minBound, c), maxBound) per axis.
func (f DisplayFrame) ClampCenter(center, size r2.Vec) r2.Vec {
	b := f.Box()
	half := r2.Scale(0.5, size)
	return r2.Vec{
		X: clampAxis(center.X, b.Min.X+half.X, b.Max.X-half.X),
		Y: clampAxis(center.Y, b.Min.Y+half.Y, b.Max.Y-half.Y),
	}
}

func clampAxis(v, lo, hi float64) float64 {
	return math.Min(math.Max(lo, v), hi)
}

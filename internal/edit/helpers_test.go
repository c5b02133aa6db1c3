package edit

import (
	"image"
	"image/color"
	"testing"
)

var (
	red    = color.NRGBA{R: 255, A: 255}
	green  = color.NRGBA{G: 255, A: 255}
	blue   = color.NRGBA{B: 255, A: 255}
	yellow = color.NRGBA{R: 255, G: 255, A: 255}
	white  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black  = color.NRGBA{A: 255}
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// quadrantImage paints the four quadrants red, green (top), blue, yellow
// (bottom), left to right.
func quadrantImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.NRGBA
			switch {
			case x < w/2 && y < h/2:
				c = red
			case y < h/2:
				c = green
			case x < w/2:
				c = blue
			default:
				c = yellow
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// newTestSession returns a session with src selected and an 800x800
// viewport.
func newTestSession(t *testing.T, src image.Image, opts ...Option) *Session {
	t.Helper()
	st := DefaultSettings()
	st.Viewport = Viewport{Width: 800, Height: 800}
	s := NewSession(append([]Option{WithSettings(st)}, opts...)...)
	if err := s.Select(src); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	return s
}

func nrgbaAt(r *RasterImage, x, y int) color.NRGBA {
	return r.Image().NRGBAAt(x, y)
}

func closeTo(got, want color.NRGBA, tol int) bool {
	d := func(a, b uint8) bool {
		diff := int(a) - int(b)
		return diff <= tol && diff >= -tol
	}
	return d(got.R, want.R) && d(got.G, want.G) && d(got.B, want.B) && d(got.A, want.A)
}

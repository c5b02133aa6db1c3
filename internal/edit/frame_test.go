package edit

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestFitFrame(t *testing.T) {
	tests := []struct {
		name     string
		w, h     int
		viewport Viewport
		want     DisplayFrame
	}{
		{
			name:     "landscape in square",
			w:        400,
			h:        300,
			viewport: Viewport{Width: 800, Height: 800},
			want: DisplayFrame{
				Origin:    r2.Vec{X: 0, Y: 100},
				Size:      r2.Vec{X: 800, Y: 600},
				ImageSize: r2.Vec{X: 400, Y: 300},
			},
		},
		{
			name:     "portrait in landscape",
			w:        100,
			h:        200,
			viewport: Viewport{Width: 1000, Height: 400},
			want: DisplayFrame{
				Origin:    r2.Vec{X: 400, Y: 0},
				Size:      r2.Vec{X: 200, Y: 400},
				ImageSize: r2.Vec{X: 100, Y: 200},
			},
		},
		{
			name:     "exact fit",
			w:        1024,
			h:        768,
			viewport: Viewport{Width: 1024, Height: 768},
			want: DisplayFrame{
				Size:      r2.Vec{X: 1024, Y: 768},
				ImageSize: r2.Vec{X: 1024, Y: 768},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FitFrame(tt.w, tt.h, tt.viewport)
			if err != nil {
				t.Fatalf("FitFrame failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("frame (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFitFrame_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		w, h     int
		viewport Viewport
	}{
		{"empty image", 0, 10, Viewport{Width: 100, Height: 100}},
		{"zero viewport", 10, 10, Viewport{}},
		{"negative viewport", 10, 10, Viewport{Width: -5, Height: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FitFrame(tt.w, tt.h, tt.viewport); !errors.Is(err, ErrInvalidState) {
				t.Errorf("got %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestDisplayFrame_ToImage(t *testing.T) {
	f, err := FitFrame(400, 300, Viewport{Width: 800, Height: 800})
	if err != nil {
		t.Fatalf("FitFrame failed: %v", err)
	}

	tests := []struct {
		name string
		in   r2.Vec
		want r2.Vec
	}{
		{"origin", f.Origin, r2.Vec{}},
		{"far corner", r2.Add(f.Origin, f.Size), r2.Vec{X: 400, Y: 300}},
		{"center", r2.Vec{X: 400, Y: 400}, r2.Vec{X: 200, Y: 150}},
		{"above frame", r2.Vec{X: 0, Y: 0}, r2.Vec{X: 0, Y: -50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, f.ToImage(tt.in)); diff != "" {
				t.Errorf("ToImage(%v) (-want +got):\n%s", tt.in, diff)
			}
		})
	}

	if !f.Contains(r2.Vec{X: 400, Y: 100}) || f.Contains(r2.Vec{X: 400, Y: 99}) {
		t.Error("Contains should include the frame edge and exclude the letterbox")
	}
}

func TestDisplayFrame_ClampCenter(t *testing.T) {
	f, err := FitFrame(400, 300, Viewport{Width: 800, Height: 800})
	if err != nil {
		t.Fatalf("FitFrame failed: %v", err)
	}
	box := r2.Vec{X: 200, Y: 60}

	tests := []struct {
		name string
		in   r2.Vec
		want r2.Vec
	}{
		{"inside", r2.Vec{X: 400, Y: 400}, r2.Vec{X: 400, Y: 400}},
		{"top left", r2.Vec{X: 50, Y: 50}, r2.Vec{X: 100, Y: 130}},
		{"bottom right", r2.Vec{X: 900, Y: 900}, r2.Vec{X: 700, Y: 670}},
		{"left edge only", r2.Vec{X: -10, Y: 300}, r2.Vec{X: 100, Y: 300}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, f.ClampCenter(tt.in, box)); diff != "" {
				t.Errorf("ClampCenter(%v) (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

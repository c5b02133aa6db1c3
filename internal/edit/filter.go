package edit

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// FilterKind enumerates the supported color and stylistic filters.
type FilterKind int

const (
	Sepia FilterKind = iota
	Noir
	Mono
	Chrome
	Blur
	Invert
	Vignette
	Pixelate
)

const (
	// MaxBlurRadius is the Gaussian radius, in pixels, at intensity 1.
	MaxBlurRadius = 20.0
	// MaxPixelBlock is the pixelate block edge, in pixels, at intensity 1.
	MaxPixelBlock = 64
)

var filterNames = [...]string{"Sepia", "Noir", "Mono", "Chrome", "Blur", "Invert", "Vignette", "Pixelate"}

// String returns the display name of the filter.
func (k FilterKind) String() string {
	if k < 0 || int(k) >= len(filterNames) {
		return fmt.Sprintf("FilterKind(%d)", int(k))
	}
	return filterNames[k]
}

// HasIntensity reports whether the filter takes an intensity parameter.
func (k FilterKind) HasIntensity() bool {
	switch k {
	case Sepia, Blur, Vignette, Pixelate:
		return true
	}
	return false
}

func (k FilterKind) valid() bool {
	return k >= 0 && int(k) < len(filterNames)
}

// FilterKinds returns every filter in display order.
func FilterKinds() []FilterKind {
	kinds := make([]FilterKind, len(filterNames))
	for i := range kinds {
		kinds[i] = FilterKind(i)
	}
	return kinds
}

// ParseFilterKind parses a filter name, ignoring case.
func ParseFilterKind(s string) (FilterKind, error) {
	for i, name := range filterNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return FilterKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown filter: %s", s)
}

// FilterSpec selects a filter and its intensity. Intensity is in [0,1] and
// ignored by kinds without an intensity parameter.
type FilterSpec struct {
	Kind      FilterKind `json:"kind"`
	Intensity float64    `json:"intensity"`
}

// FilterEngine renders a filter over a source image. It must not modify
// src. A nil result signals that the engine produced no output.
type FilterEngine interface {
	Render(src image.Image, spec FilterSpec) image.Image
}

// BildEngine is the default FilterEngine, built on bild and imaging.
type BildEngine struct{}

// Render implements FilterEngine.
func (BildEngine) Render(src image.Image, spec FilterSpec) image.Image {
	switch spec.Kind {
	case Sepia:
		return blend.Opacity(src, effect.Sepia(src), spec.Intensity)
	case Noir:
		return adjust.Contrast(effect.GrayscaleWithWeights(src, 0.35, 0.45, 0.2), 0.4)
	case Mono:
		return effect.Grayscale(src)
	case Chrome:
		return adjust.Apply(src, chromeTone)
	case Blur:
		return blur.Gaussian(src, spec.Intensity*MaxBlurRadius)
	case Invert:
		return effect.Invert(src)
	case Vignette:
		return vignette(src, spec.Intensity)
	case Pixelate:
		return pixelate(src, spec.Intensity)
	default:
		return nil
	}
}

// chromeTone boosts saturation and lifts value slightly, in HSV space.
func chromeTone(c color.RGBA) color.RGBA {
	col := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
	h, s, v := col.Hsv()
	r, g, b := colorful.Hsv(h, math.Min(1, s*1.3), math.Min(1, v*1.05)).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: c.A}
}

// vignette darkens pixels with their distance from the center. At
// intensity 1 the corners go black.
func vignette(src image.Image, intensity float64) *image.NRGBA {
	dst := imaging.Clone(src)
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	cx, cy := float64(w)/2, float64(h)/2
	maxDist := math.Hypot(cx, cy)
	if maxDist == 0 {
		return dst
	}

	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) / maxDist
				f := 1 - intensity*smoothstep(0.35, 1, d)
				i := x * 4
				row[i+0] = uint8(float64(row[i+0])*f + 0.5)
				row[i+1] = uint8(float64(row[i+1])*f + 0.5)
				row[i+2] = uint8(float64(row[i+2])*f + 0.5)
			}
		}
	})
	return dst
}

func smoothstep(edge0, edge1, x float64) float64 {
	t := math.Min(math.Max((x-edge0)/(edge1-edge0), 0), 1)
	return t * t * (3 - 2*t)
}

// pixelate averages square blocks whose edge grows with intensity.
func pixelate(src image.Image, intensity float64) *image.NRGBA {
	block := 1 + int(math.Round(intensity*float64(MaxPixelBlock-1)))
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if block <= 1 {
		return imaging.Clone(src)
	}
	small := imaging.Resize(src, (w+block-1)/block, (h+block-1)/block, imaging.Box)
	return imaging.Resize(small, w, h, imaging.NearestNeighbor)
}

// FilterStage previews one FilterSpec at a time over the session image.
//
// Filters do not stack within a stage: every preview starts from the
// source snapshot taken when the stage began. Applying commits the preview,
// so a later FilterStage filters the already-filtered image.
type FilterStage struct {
	stageBase
	engine FilterEngine
	spec   FilterSpec

	// Last successful preview and the spec that produced it.
	preview     *RasterImage
	previewSpec FilterSpec
}

func newFilterStage(base stageBase, engine FilterEngine, intensity float64) *FilterStage {
	return &FilterStage{
		stageBase: base,
		engine:    engine,
		spec:      FilterSpec{Kind: Sepia, Intensity: clamp01(intensity)},
	}
}

// Mode implements Stage.
func (f *FilterStage) Mode() Mode { return Filtering }

// Spec returns the live FilterSpec.
func (f *FilterStage) Spec() FilterSpec { return f.spec }

// SetFilter selects the filter kind. The intensity is kept.
func (f *FilterStage) SetFilter(kind FilterKind) error {
	if err := f.check("set filter"); err != nil {
		return err
	}
	if !kind.valid() {
		return fmt.Errorf("set filter %s: %w", kind, ErrInvalidState)
	}
	f.spec.Kind = kind
	return nil
}

// SetIntensity sets the intensity, clamped to [0,1]. It fails with
// ErrInvalidState when the selected kind has no intensity parameter.
func (f *FilterStage) SetIntensity(v float64) error {
	if err := f.check("set intensity"); err != nil {
		return err
	}
	if !f.spec.Kind.HasIntensity() {
		return fmt.Errorf("%s takes no intensity: %w", f.spec.Kind, ErrInvalidState)
	}
	if math.IsNaN(v) {
		return fmt.Errorf("intensity is NaN: %w", ErrInvalidState)
	}
	f.spec.Intensity = clamp01(v)
	return nil
}

// Preview renders the live FilterSpec over the source snapshot. It never
// changes the session image.
//
// If the engine produces no output, Preview returns the unmodified source
// together with ErrTransformFailure; the last good preview is kept.
func (f *FilterStage) Preview() (*RasterImage, error) {
	if err := f.check("preview filter"); err != nil {
		return nil, err
	}
	if f.preview != nil && f.previewSpec == f.spec {
		return f.preview, nil
	}
	out := f.render()
	if out == nil {
		return f.source, fmt.Errorf("preview %s: %w", f.spec.Kind, ErrTransformFailure)
	}
	f.preview, f.previewSpec = out, f.spec
	return out, nil
}

// Apply commits the preview and returns the new current image. On engine
// failure the stage ends and the session keeps its image.
func (f *FilterStage) Apply() (*RasterImage, error) {
	out, err := f.Preview()
	if err != nil {
		return nil, f.session.fail(f.lease, err)
	}
	if err := f.session.Commit(f, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FilterStage) render() (out *RasterImage) {
	defer func() {
		if r := recover(); r != nil {
			f.session.logger.Printf("Filter %s panicked: %v", f.spec.Kind, r)
			out = nil
		}
	}()
	img := f.engine.Render(f.source.Image(), f.spec)
	if img == nil {
		return nil
	}
	if b := img.Bounds(); b.Dx() != f.source.Width() || b.Dy() != f.source.Height() {
		return nil
	}
	return NewRasterImage(img)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

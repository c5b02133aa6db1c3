package edit

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r2"
)

// Transform is a rotation in degrees (clockwise on screen) combined with a
// uniform scale factor.
type Transform struct {
	Rotation float64 `json:"rotation"`
	Scale    float64 `json:"scale"`
}

// Identity is the transform that leaves an image unchanged.
var Identity = Transform{Rotation: 0, Scale: 1}

// Compose adds rotations and multiplies scales. The rotation is kept in
// [0, 360).
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		Rotation: normalizeDegrees(t.Rotation + o.Rotation),
		Scale:    t.Scale * o.Scale,
	}
}

// CanvasSize returns the output canvas for a w x h source: the source size
// times the scale factor, rounded, never smaller than 1x1.
func (t Transform) CanvasSize(w, h int) (int, int) {
	cw := int(math.Round(float64(w) * t.Scale))
	ch := int(math.Round(float64(h) * t.Scale))
	return max(cw, 1), max(ch, 1)
}

// Matrix returns the source-to-canvas affine map for a w x h source: move
// the source center to the origin, scale, rotate, then move to the canvas
// center. The same matrix drives both the preview and the committed raster.
func (t Transform) Matrix(w, h int) f64.Aff3 {
	cw, ch := t.CanvasSize(w, h)
	sin, cos := math.Sincos(t.Rotation * math.Pi / 180)
	a, b := t.Scale*cos, -t.Scale*sin
	d, e := t.Scale*sin, t.Scale*cos
	cx, cy := float64(w)/2, float64(h)/2
	return f64.Aff3{
		a, b, float64(cw)/2 - (a*cx + b*cy),
		d, e, float64(ch)/2 - (d*cx + e*cy),
	}
}

// MapPoint applies m to p.
func MapPoint(m f64.Aff3, p r2.Vec) r2.Vec {
	return r2.Vec{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// GeometryStage tracks interactive rotation and pinch gestures.
//
// A live transform is composed onto the committed transform only while a
// gesture is in progress; ending a gesture folds the live component into
// the committed one. Rotation and scale are tracked independently so two
// simultaneous recognizers never reset each other.
type GeometryStage struct {
	stageBase
	committed Transform
	live      Transform
}

func newGeometryStage(base stageBase) *GeometryStage {
	return &GeometryStage{stageBase: base, committed: Identity, live: Identity}
}

// Mode implements Stage.
func (g *GeometryStage) Mode() Mode { return Transforming }

// Committed returns the transform folded in by completed gestures.
func (g *GeometryStage) Committed() Transform { return g.committed }

// Live returns the in-progress gesture delta.
func (g *GeometryStage) Live() Transform { return g.live }

// Effective returns committed composed with live, i.e. what the preview
// shows right now.
func (g *GeometryStage) Effective() Transform { return g.committed.Compose(g.live) }

// OnRotationChange sets the live rotation delta of the rotate gesture.
func (g *GeometryStage) OnRotationChange(degrees float64) error {
	if err := g.check("rotation change"); err != nil {
		return err
	}
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return fmt.Errorf("rotation %v: %w", degrees, ErrInvalidState)
	}
	g.live.Rotation = degrees
	return nil
}

// OnScaleChange sets the live scale factor of the pinch gesture.
func (g *GeometryStage) OnScaleChange(scale float64) error {
	if err := g.check("scale change"); err != nil {
		return err
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return fmt.Errorf("scale %v must be positive: %w", scale, ErrInvalidState)
	}
	g.live.Scale = scale
	return nil
}

// OnGestureChange updates both live components at once.
func (g *GeometryStage) OnGestureChange(degrees, scale float64) error {
	if err := g.OnScaleChange(scale); err != nil {
		return err
	}
	return g.OnRotationChange(degrees)
}

// OnRotationEnd folds the live rotation into the committed rotation. The
// live scale is untouched.
func (g *GeometryStage) OnRotationEnd() error {
	if err := g.check("rotation end"); err != nil {
		return err
	}
	g.committed.Rotation = normalizeDegrees(g.committed.Rotation + g.live.Rotation)
	g.live.Rotation = 0
	return nil
}

// OnScaleEnd folds the live scale into the committed scale. The live
// rotation is untouched.
func (g *GeometryStage) OnScaleEnd() error {
	if err := g.check("scale end"); err != nil {
		return err
	}
	g.committed.Scale *= g.live.Scale
	g.live.Scale = 1
	return nil
}

// OnGestureEnd ends both gestures.
func (g *GeometryStage) OnGestureEnd() error {
	if err := g.OnRotationEnd(); err != nil {
		return err
	}
	return g.OnScaleEnd()
}

// Reset returns the committed transform to identity. The source image is
// not touched.
func (g *GeometryStage) Reset() error {
	if err := g.check("reset"); err != nil {
		return err
	}
	g.committed = Identity
	return nil
}

// Preview returns the effective source-to-canvas matrix and canvas size.
// It allocates nothing and is safe to call on every gesture update.
func (g *GeometryStage) Preview() (f64.Aff3, image.Point) {
	t := g.Effective()
	w, h := g.source.Width(), g.source.Height()
	cw, ch := t.CanvasSize(w, h)
	return t.Matrix(w, h), image.Pt(cw, ch)
}

// Apply rasterizes the source with the committed transform and commits it.
// Live gesture deltas that were never ended are not included.
func (g *GeometryStage) Apply() (*RasterImage, error) {
	if err := g.check("apply geometry"); err != nil {
		return nil, err
	}
	out := RenderTransform(g.source, g.committed)
	if err := g.session.Commit(g, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderTransform draws src through t.Matrix onto a transparent canvas of
// t.CanvasSize. Content rotated past the canvas edges is clipped.
func RenderTransform(src *RasterImage, t Transform) *RasterImage {
	w, h := src.Width(), src.Height()
	cw, ch := t.CanvasSize(w, h)
	dst := image.NewNRGBA(image.Rect(0, 0, cw, ch))
	xdraw.CatmullRom.Transform(dst, t.Matrix(w, h), src.Image(), src.Bounds(), xdraw.Src, nil)
	return wrapRaster(dst)
}

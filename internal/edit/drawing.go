package edit

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
	"gonum.org/v1/gonum/spatial/r2"
)

// Pen is the stroke style of the drawing stage. Width is in viewport
// pixels.
type Pen struct {
	Width float64
	Color color.NRGBA
}

// DefaultPen returns a 5px opaque black pen.
func DefaultPen() Pen {
	return Pen{Width: 5, Color: color.NRGBA{A: 0xff}}
}

// Stroke is one free-hand pen stroke in viewport coordinates.
type Stroke struct {
	Points []r2.Vec
	Pen    Pen
}

// bounds returns the viewport-space box covered by the stroke including
// its half width.
func (s Stroke) bounds() r2.Box {
	hw := s.Pen.Width / 2
	b := r2.Box{Min: s.Points[0], Max: s.Points[0]}
	for _, p := range s.Points[1:] {
		b.Min = r2.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y)}
		b.Max = r2.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y)}
	}
	b.Min = r2.Sub(b.Min, r2.Vec{X: hw, Y: hw})
	b.Max = r2.Add(b.Max, r2.Vec{X: hw, Y: hw})
	return b
}

// DrawingStage collects pen strokes over an overlay that exactly covers
// the DisplayFrame, and bakes them into the image on Apply.
//
// The overlay lives only as long as the stage: committing or cancelling
// discards it, and the next drawing stage starts empty.
type DrawingStage struct {
	stageBase
	frame   DisplayFrame
	pen     Pen
	strokes []Stroke
	open    *Stroke
}

func newDrawingStage(base stageBase, st Settings) (*DrawingStage, error) {
	frame, err := FitFrame(base.source.Width(), base.source.Height(), st.Viewport)
	if err != nil {
		return nil, fmt.Errorf("begin drawing: %w", err)
	}
	return &DrawingStage{stageBase: base, frame: frame, pen: st.Pen}, nil
}

// Mode implements Stage.
func (d *DrawingStage) Mode() Mode { return Drawing }

// Frame returns the display frame the overlay is aligned to.
func (d *DrawingStage) Frame() DisplayFrame { return d.frame }

// Pen returns the pen used for new strokes.
func (d *DrawingStage) Pen() Pen { return d.pen }

// SetPen changes the pen for strokes started afterwards.
func (d *DrawingStage) SetPen(p Pen) error {
	if err := d.check("set pen"); err != nil {
		return err
	}
	if !(p.Width > 0) {
		return fmt.Errorf("pen width %v must be positive: %w", p.Width, ErrInvalidState)
	}
	d.pen = p
	return nil
}

// BeginStroke starts a new stroke at p with the current pen, closing any
// open stroke first.
func (d *DrawingStage) BeginStroke(p r2.Vec) error {
	if err := d.check("begin stroke"); err != nil {
		return err
	}
	d.closeStroke()
	d.open = &Stroke{Points: []r2.Vec{p}, Pen: d.pen}
	return nil
}

// LineTo extends the open stroke to p.
func (d *DrawingStage) LineTo(p r2.Vec) error {
	if err := d.check("line to"); err != nil {
		return err
	}
	if d.open == nil {
		return fmt.Errorf("line to: no open stroke: %w", ErrInvalidState)
	}
	d.open.Points = append(d.open.Points, p)
	return nil
}

// EndStroke closes the open stroke.
func (d *DrawingStage) EndStroke() error {
	if err := d.check("end stroke"); err != nil {
		return err
	}
	d.closeStroke()
	return nil
}

// AddStroke appends a complete stroke drawn with the current pen.
func (d *DrawingStage) AddStroke(points []r2.Vec) error {
	if err := d.check("add stroke"); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	d.closeStroke()
	d.strokes = append(d.strokes, Stroke{Points: append([]r2.Vec(nil), points...), Pen: d.pen})
	return nil
}

// Strokes returns the finished strokes in drawing order.
func (d *DrawingStage) Strokes() []Stroke {
	return append([]Stroke(nil), d.strokes...)
}

// Clear removes every stroke from the overlay.
func (d *DrawingStage) Clear() error {
	if err := d.check("clear"); err != nil {
		return err
	}
	d.strokes = nil
	d.open = nil
	return nil
}

func (d *DrawingStage) closeStroke() {
	if d.open != nil {
		d.strokes = append(d.strokes, *d.open)
		d.open = nil
	}
}

// Apply closes any open stroke and starts the drawing composite in the
// background. The session image changes only when the returned Task
// completes while this stage is still active.
func (d *DrawingStage) Apply(ctx context.Context) (*Task, error) {
	if err := d.check("apply drawing"); err != nil {
		return nil, err
	}
	d.closeStroke()
	strokes := d.Strokes()
	frame, src := d.frame, d.source
	return d.session.submit(ctx, d.lease, "drawing composite", func(ctx context.Context) (*image.NRGBA, error) {
		return CompositeStrokes(ctx, src, frame, strokes)
	})
}

// CompositeStrokes renders src at native resolution and draws strokes on
// top, remapping each point from viewport space through frame. Strokes
// wholly outside the frame are ignored; the rest are clipped to the image.
func CompositeStrokes(ctx context.Context, src *RasterImage, frame DisplayFrame, strokes []Stroke) (*image.NRGBA, error) {
	dst := image.NewNRGBA(src.Bounds())
	draw.Draw(dst, dst.Rect, src.Image(), image.Point{}, draw.Src)

	frameBox := frame.Box()
	scale := frame.ScaleFactors()
	for _, s := range strokes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.Points) == 0 || !boxesOverlap(s.bounds(), frameBox) {
			continue
		}
		pts := make([]r2.Vec, len(s.Points))
		for i, p := range s.Points {
			pts[i] = frame.ToImage(p)
		}
		rasterizeStroke(dst, pts, s.Pen.Width*scale.X/2, s.Pen.Color)
	}
	return dst, nil
}

func boxesOverlap(a, b r2.Box) bool {
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X && a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y
}

// rasterizeStroke fills a round-capped, round-joined polyline of half width
// hw onto dst. Only the stroke's bounding rectangle is rasterized.
func rasterizeStroke(dst *image.NRGBA, pts []r2.Vec, hw float64, c color.Color) {
	if hw <= 0 {
		return
	}
	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		lo = r2.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y)}
		hi = r2.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y)}
	}
	rect := image.Rect(
		int(math.Floor(lo.X-hw))-1, int(math.Floor(lo.Y-hw))-1,
		int(math.Ceil(hi.X+hw))+1, int(math.Ceil(hi.Y+hw))+1,
	).Intersect(dst.Rect)
	if rect.Empty() {
		return
	}

	z := vector.NewRasterizer(rect.Dx(), rect.Dy())
	z.DrawOp = draw.Over
	off := r2.Vec{X: float64(rect.Min.X), Y: float64(rect.Min.Y)}

	for i, p := range pts {
		addPolygon(z, off, circlePoints(p, hw))
		if i == 0 {
			continue
		}
		q := pts[i-1]
		dir := r2.Sub(p, q)
		n := r2.Norm(dir)
		if n == 0 {
			continue
		}
		perp := r2.Scale(hw/n, r2.Vec{X: -dir.Y, Y: dir.X})
		addPolygon(z, off, []r2.Vec{
			r2.Add(q, perp), r2.Add(p, perp), r2.Sub(p, perp), r2.Sub(q, perp),
		})
	}
	z.Draw(dst, rect, image.NewUniform(c), image.Point{})
}

const circleSegments = 24

func circlePoints(c r2.Vec, r float64) []r2.Vec {
	pts := make([]r2.Vec, circleSegments)
	for i := range pts {
		sin, cos := math.Sincos(2 * math.Pi * float64(i) / circleSegments)
		pts[i] = r2.Vec{X: c.X + r*cos, Y: c.Y + r*sin}
	}
	return pts
}

// addPolygon adds a closed polygon, offset by -off, with a fixed winding
// direction. The rasterizer sums signed coverage, so every sub-shape of a
// stroke must wind the same way for overlaps to union instead of cancel.
func addPolygon(z *vector.Rasterizer, off r2.Vec, pts []r2.Vec) {
	var area float64
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		area += p.X*q.Y - q.X*p.Y
	}
	if area > 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	z.MoveTo(float32(pts[0].X-off.X), float32(pts[0].Y-off.Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X-off.X), float32(p.Y-off.Y))
	}
	z.ClosePath()
}

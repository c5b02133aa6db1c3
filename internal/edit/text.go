package edit

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcaps"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/spatial/r2"
)

// Text size limits in viewport pixels.
const (
	MinTextSize = 20
	MaxTextSize = 100
)

// DefaultText is the placeholder shown when a text stage begins.
const DefaultText = "Your Text"

// TextStyle is the font family, pixel size and color of an overlay.
type TextStyle struct {
	Font  string
	Size  float64
	Color color.NRGBA
}

// DefaultTextStyle returns bold 40px white text.
func DefaultTextStyle() TextStyle {
	return TextStyle{Font: "Go Bold", Size: 40, Color: color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}}
}

// FontBook is a registry of font families. Families are parsed on first
// use and shared between composites.
type FontBook struct {
	mu      sync.Mutex
	sources map[string][]byte
	aliases map[string]string
	parsed  map[string]*opentype.Font
}

// NewFontBook returns a registry preloaded with the Go font families and
// aliases for common system font names.
func NewFontBook() *FontBook {
	b := &FontBook{
		sources: map[string][]byte{
			"Go Regular":     goregular.TTF,
			"Go Bold":        gobold.TTF,
			"Go Italic":      goitalic.TTF,
			"Go Bold Italic": gobolditalic.TTF,
			"Go Medium":      gomedium.TTF,
			"Go Mono":        gomono.TTF,
			"Go Mono Bold":   gomonobold.TTF,
			"Go Smallcaps":   gosmallcaps.TTF,
		},
		aliases: make(map[string]string),
		parsed:  make(map[string]*opentype.Font),
	}
	for alias, family := range map[string]string{
		"System":          "Go Regular",
		"System Bold":     "Go Bold",
		"Helvetica":       "Go Regular",
		"Helvetica Bold":  "Go Bold",
		"Times New Roman": "Go Medium",
		"Courier":         "Go Mono",
		"Courier Bold":    "Go Mono Bold",
		"Avenir":          "Go Regular",
		"Futura":          "Go Smallcaps",
	} {
		b.aliases[strings.ToLower(alias)] = family
	}
	return b
}

// Register adds a TrueType or OpenType family under name, replacing any
// family of the same name. The data is validated immediately.
func (b *FontBook) Register(name string, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %q: %w", name, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[name] = data
	b.parsed[name] = f
	return nil
}

// Families returns the registered family names in sorted order.
func (b *FontBook) Families() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.sources))
	for n := range b.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the canonical family for a family name or alias. Matching
// ignores case.
func (b *FontBook) Resolve(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveLocked(name)
}

func (b *FontBook) resolveLocked(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for family := range b.sources {
		if strings.ToLower(family) == key {
			return family, nil
		}
	}
	if family, ok := b.aliases[key]; ok {
		return family, nil
	}
	return "", fmt.Errorf("unknown font: %s", name)
}

// Face opens a face of the named family at size pixels. The caller must
// Close it.
func (b *FontBook) Face(name string, size float64) (font.Face, error) {
	b.mu.Lock()
	family, err := b.resolveLocked(name)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	f, ok := b.parsed[family]
	if !ok {
		f, err = opentype.Parse(b.sources[family])
		if err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("parse font %q: %w", family, err)
		}
		b.parsed[family] = f
	}
	b.mu.Unlock()

	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// TextOverlay is a positioned piece of text in viewport coordinates.
type TextOverlay struct {
	Text   string
	Center r2.Vec
	Style  TextStyle
}

// TextStage positions a text box over the DisplayFrame and bakes the text
// into the image on Apply.
type TextStage struct {
	stageBase
	frame   DisplayFrame
	fonts   *FontBook
	box     r2.Vec
	maxRes  int
	overlay TextOverlay
}

func newTextStage(base stageBase, st Settings, fonts *FontBook) (*TextStage, error) {
	frame, err := FitFrame(base.source.Width(), base.source.Height(), st.Viewport)
	if err != nil {
		return nil, fmt.Errorf("begin text: %w", err)
	}
	style := st.Text
	if style.Font, err = fonts.Resolve(style.Font); err != nil {
		return nil, fmt.Errorf("begin text: %w", err)
	}
	style.Size = clampTextSize(style.Size)

	box := st.TextBox
	if box.X <= 0 || box.Y <= 0 {
		box = DefaultSettings().TextBox
	}
	b := frame.Box()
	t := &TextStage{
		stageBase: base,
		frame:     frame,
		fonts:     fonts,
		box:       box,
		maxRes:    st.MaxTextResolution,
		overlay:   TextOverlay{Text: DefaultText, Style: style},
	}
	t.overlay.Center = frame.ClampCenter(b.Center(), box)
	return t, nil
}

// Mode implements Stage.
func (t *TextStage) Mode() Mode { return Annotating }

// Frame returns the display frame the box is confined to.
func (t *TextStage) Frame() DisplayFrame { return t.frame }

// Overlay returns the current text, position and style.
func (t *TextStage) Overlay() TextOverlay { return t.overlay }

// Box returns the viewport-space rectangle of the text box.
func (t *TextStage) Box() r2.Box {
	half := r2.Scale(0.5, t.box)
	return r2.Box{Min: r2.Sub(t.overlay.Center, half), Max: r2.Add(t.overlay.Center, half)}
}

// MoveTo moves the box center to p, clamped so the whole box stays inside
// the display frame. It returns the clamped center.
func (t *TextStage) MoveTo(p r2.Vec) (r2.Vec, error) {
	if err := t.check("move text"); err != nil {
		return t.overlay.Center, err
	}
	t.overlay.Center = t.frame.ClampCenter(p, t.box)
	return t.overlay.Center, nil
}

// SetText replaces the overlay text.
func (t *TextStage) SetText(s string) error {
	if err := t.check("set text"); err != nil {
		return err
	}
	t.overlay.Text = s
	return nil
}

// SetStyle changes font, size and color. The size is clamped to
// [MinTextSize, MaxTextSize]; an unknown font is rejected and the style is
// left unchanged.
func (t *TextStage) SetStyle(style TextStyle) error {
	if err := t.check("set text style"); err != nil {
		return err
	}
	family, err := t.fonts.Resolve(style.Font)
	if err != nil {
		return fmt.Errorf("set text style: %w", err)
	}
	style.Font = family
	style.Size = clampTextSize(style.Size)
	t.overlay.Style = style
	return nil
}

func clampTextSize(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultTextStyle().Size
	}
	return math.Min(math.Max(v, MinTextSize), MaxTextSize)
}

// Apply starts the text composite in the background. The session image
// changes only when the returned Task completes while this stage is still
// active.
func (t *TextStage) Apply(ctx context.Context) (*Task, error) {
	if err := t.check("apply text"); err != nil {
		return nil, err
	}
	src, frame, overlay, fonts, maxRes := t.source, t.frame, t.overlay, t.fonts, t.maxRes
	return t.session.submit(ctx, t.lease, "text composite", func(ctx context.Context) (*image.NRGBA, error) {
		return CompositeText(ctx, src, frame, overlay, fonts, maxRes)
	})
}

// CompositeText draws overlay onto a copy of src. The box center is mapped
// from viewport space through frame and the font size is scaled by the
// horizontal viewport-to-image factor. When maxRes is positive and either
// side of src exceeds it, the image is first downscaled to fit maxRes and
// the result keeps that smaller size.
func CompositeText(ctx context.Context, src *RasterImage, frame DisplayFrame, overlay TextOverlay, fonts *FontBook, maxRes int) (*image.NRGBA, error) {
	var dst *image.NRGBA
	if maxRes > 0 && (src.Width() > maxRes || src.Height() > maxRes) {
		dst = imaging.Fit(src.Image(), maxRes, maxRes, imaging.Lanczos)
		frame.ImageSize = r2.Vec{X: float64(dst.Rect.Dx()), Y: float64(dst.Rect.Dy())}
	} else {
		dst = image.NewNRGBA(src.Bounds())
		draw.Draw(dst, dst.Rect, src.Image(), image.Point{}, draw.Src)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overlay.Text) == "" {
		return dst, nil
	}

	scale := frame.ScaleFactors()
	face, err := fonts.Face(overlay.Style.Font, overlay.Style.Size*scale.X)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	drawCentered(dst, face, overlay.Text, frame.ToImage(overlay.Center), overlay.Style.Color)
	return dst, nil
}

// drawCentered draws text, one line per newline, so that the block's
// horizontal and vertical centers fall on c.
func drawCentered(dst draw.Image, face font.Face, text string, c r2.Vec, col color.Color) {
	lines := strings.Split(text, "\n")
	m := face.Metrics()
	block := m.Ascent + m.Descent + m.Height*fixed.Int26_6(len(lines)-1)
	top := toFixed(c.Y) - block/2

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(col), Face: face}
	for i, line := range lines {
		width := d.MeasureString(line)
		d.Dot = fixed.Point26_6{
			X: toFixed(c.X) - width/2,
			Y: top + m.Ascent + m.Height*fixed.Int26_6(i),
		}
		d.DrawString(line)
	}
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}

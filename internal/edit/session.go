package edit

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"strings"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// Mode is the session's single editing state. Exactly one Mode holds at a
// time; all stage modes return to Idle on commit or cancel.
type Mode int

const (
	Idle Mode = iota
	Filtering
	Transforming
	Drawing
	Annotating
)

// String returns the stage name used by clients ("idle", "filter",
// "geometry", "drawing", "text").
func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Filtering:
		return "filter"
	case Transforming:
		return "geometry"
	case Drawing:
		return "drawing"
	case Annotating:
		return "text"
	default:
		return "unknown"
	}
}

// ParseMode parses a stage name. Both the short names returned by String
// and the long mode names are accepted.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return Idle, nil
	case "filter", "filtering":
		return Filtering, nil
	case "geometry", "transform", "transforming":
		return Transforming, nil
	case "drawing", "draw":
		return Drawing, nil
	case "text", "annotating":
		return Annotating, nil
	default:
		return Idle, fmt.Errorf("unknown stage: %s", s)
	}
}

// Gate decides whether an image session is currently permitted, e.g.
// whether a user is signed in.
type Gate interface {
	Permitted() bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func() bool

// Permitted calls f.
func (f GateFunc) Permitted() bool { return f() }

// Settings are the defaults applied when a stage begins. Changing them does
// not affect a stage that is already active.
type Settings struct {
	// Viewport is the display area used to compute the DisplayFrame for
	// the drawing and text stages.
	Viewport Viewport
	// FilterIntensity is the initial intensity of a new FilterStage.
	FilterIntensity float64
	// Pen is the initial pen of a new DrawingStage.
	Pen Pen
	// Text is the initial style of a new TextStage.
	Text TextStyle
	// TextBox is the size of the draggable text box in viewport pixels.
	TextBox r2.Vec
	// MaxTextResolution caps the longest side of a text composite. Larger
	// images are downscaled first. Zero disables the cap.
	MaxTextResolution int
}

// DefaultSettings returns the stock stage defaults.
func DefaultSettings() Settings {
	return Settings{
		Viewport:          Viewport{Width: 1024, Height: 768},
		FilterIntensity:   0.5,
		Pen:               DefaultPen(),
		Text:              DefaultTextStyle(),
		TextBox:           r2.Vec{X: 200, Y: 60},
		MaxTextResolution: 2048,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger routes session lifecycle logging to l.
func WithLogger(l *log.Logger) Option { return func(s *Session) { s.logger = l } }

// WithGate installs the permission gate checked before selecting an image
// or beginning a stage.
func WithGate(g Gate) Option { return func(s *Session) { s.gate = g } }

// WithSettings replaces the stage defaults.
func WithSettings(st Settings) Option { return func(s *Session) { s.settings = st } }

// WithFilterEngine replaces the filter implementation.
func WithFilterEngine(e FilterEngine) Option { return func(s *Session) { s.engine = e } }

// WithFonts replaces the font registry used by the text stage.
func WithFonts(b *FontBook) Option { return func(s *Session) { s.fonts = b } }

// Session is the edit session controller. It owns the current image and
// the single active stage. Session methods are safe for concurrent use and
// may run alongside a background composite. A stage's own methods are not
// synchronized and must be called from one goroutine at a time.
type Session struct {
	mu       sync.Mutex
	current  *RasterImage
	mode     Mode
	lease    uint64
	stage    Stage
	task     *Task
	gate     Gate
	settings Settings
	engine   FilterEngine
	fonts    *FontBook
	logger   *log.Logger

	// beforeComposite runs at the start of every background composite.
	beforeComposite func(ctx context.Context)
}

// NewSession creates an Idle session with no image selected.
func NewSession(opts ...Option) *Session {
	s := &Session{
		settings: DefaultSettings(),
		engine:   BildEngine{},
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fonts == nil {
		s.fonts = NewFontBook()
	}
	return s
}

// Select makes img the current image. It is rejected while a stage is
// active or when the gate denies the session. The image is copied.
func (s *Session) Select(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.permittedLocked(); err != nil {
		return err
	}
	if s.mode != Idle {
		return fmt.Errorf("select image during %s stage: %w", s.mode, ErrInvalidState)
	}
	r := NewRasterImage(img)
	if r == nil {
		return fmt.Errorf("selected image is empty: %w", ErrInvalidState)
	}
	s.current = r
	s.logger.Printf("Selected image %dx%d", r.Width(), r.Height())
	return nil
}

// Current returns the current image, or nil if none is selected.
func (s *Session) Current() *RasterImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Mode returns the session mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Active returns the active stage, or nil when Idle.
func (s *Session) Active() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Pending returns the in-flight background composite, if any.
func (s *Session) Pending() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

// Settings returns the stage defaults.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the stage defaults used by the next Begin.
func (s *Session) SetSettings(st Settings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// Begin activates a stage of the given mode over a snapshot of the current
// image.
//
// Begin fails with ErrInvalidState when mode is Idle, when no image is
// selected, when another stage is active, or when the gate denies the
// session. A failed Begin leaves the session unchanged.
func (s *Session) Begin(mode Mode) (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == Idle {
		return nil, fmt.Errorf("begin idle: %w", ErrInvalidState)
	}
	if err := s.permittedLocked(); err != nil {
		return nil, err
	}
	if s.current == nil {
		return nil, fmt.Errorf("begin %s: no image selected: %w", mode, ErrInvalidState)
	}
	if s.mode != Idle {
		return nil, fmt.Errorf("begin %s: %s stage already active: %w", mode, s.mode, ErrInvalidState)
	}

	base := stageBase{session: s, lease: s.lease + 1, source: s.current}
	var (
		st  Stage
		err error
	)
	switch mode {
	case Filtering:
		st = newFilterStage(base, s.engine, s.settings.FilterIntensity)
	case Transforming:
		st = newGeometryStage(base)
	case Drawing:
		st, err = newDrawingStage(base, s.settings)
	case Annotating:
		st, err = newTextStage(base, s.settings, s.fonts)
	default:
		return nil, fmt.Errorf("begin: unknown mode %d: %w", mode, ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	s.lease = base.lease
	s.mode = mode
	s.stage = st
	s.logger.Printf("Began %s stage (lease %d)", mode, s.lease)
	return st, nil
}

// BeginFilter begins a FilterStage.
func (s *Session) BeginFilter() (*FilterStage, error) {
	st, err := s.Begin(Filtering)
	if err != nil {
		return nil, err
	}
	return st.(*FilterStage), nil
}

// BeginGeometry begins a GeometryStage.
func (s *Session) BeginGeometry() (*GeometryStage, error) {
	st, err := s.Begin(Transforming)
	if err != nil {
		return nil, err
	}
	return st.(*GeometryStage), nil
}

// BeginDrawing begins a DrawingStage.
func (s *Session) BeginDrawing() (*DrawingStage, error) {
	st, err := s.Begin(Drawing)
	if err != nil {
		return nil, err
	}
	return st.(*DrawingStage), nil
}

// BeginText begins a TextStage.
func (s *Session) BeginText() (*TextStage, error) {
	st, err := s.Begin(Annotating)
	if err != nil {
		return nil, err
	}
	return st.(*TextStage), nil
}

// Commit replaces the current image with img on behalf of stage st and
// returns the session to Idle. Only the active stage may commit; a nil
// image ends the stage with ErrTransformFailure and keeps the previous
// image.
func (s *Session) Commit(st Stage, img *RasterImage) error {
	if st == nil {
		return fmt.Errorf("commit without stage: %w", ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(st.stageLease(), img)
}

// Cancel ends the active stage without touching the current image. Any
// in-flight composite is cancelled and its result will be discarded.
// Cancel reports whether a stage was active.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == Idle {
		return false
	}
	s.logger.Printf("Cancelled %s stage (lease %d)", s.mode, s.lease)
	s.endLocked()
	return true
}

func (s *Session) permittedLocked() error {
	if s.gate != nil && !s.gate.Permitted() {
		return fmt.Errorf("image session not permitted: %w", ErrInvalidState)
	}
	return nil
}

func (s *Session) activeLocked(lease uint64) bool {
	return s.mode != Idle && s.lease == lease
}

func (s *Session) isActive(lease uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(lease)
}

func (s *Session) commitLocked(lease uint64, img *RasterImage) error {
	if !s.activeLocked(lease) {
		return fmt.Errorf("commit from inactive stage: %w", ErrInvalidState)
	}
	if img == nil {
		s.logger.Printf("Commit from %s stage produced no image", s.mode)
		s.endLocked()
		return fmt.Errorf("commit %s: %w", s.mode, ErrTransformFailure)
	}
	s.current = img
	s.logger.Printf("Committed %s stage: %dx%d", s.mode, img.Width(), img.Height())
	s.endLocked()
	return nil
}

// fail ends the stage holding lease after an unrecoverable stage error.
func (s *Session) fail(lease uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(lease) {
		s.logger.Printf("%s stage failed: %v", s.mode, err)
		s.endLocked()
	}
	return err
}

func (s *Session) endLocked() {
	if s.task != nil {
		s.task.cancel()
		s.task = nil
	}
	s.mode = Idle
	s.stage = nil
}

// submit starts render on a background goroutine on behalf of the stage
// holding lease. Its result is committed only if that stage is still
// active when render returns.
func (s *Session) submit(ctx context.Context, lease uint64, op string, render func(ctx context.Context) (*image.NRGBA, error)) (*Task, error) {
	s.mu.Lock()
	if !s.activeLocked(lease) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: stage no longer active: %w", op, ErrInvalidState)
	}
	if s.task != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: composite already running: %w", op, ErrInvalidState)
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{op: op, lease: lease, cancel: cancel, done: make(chan struct{})}
	s.task = t
	hook := s.beforeComposite
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()
		if hook != nil {
			hook(ctx)
		}
		var (
			pix *image.NRGBA
			err error
		)
		if err = ctx.Err(); err == nil {
			pix, err = render(ctx)
		}
		s.deliver(ctx, t, pix, err)
	}()
	return t, nil
}

func (s *Session) deliver(ctx context.Context, t *Task, pix *image.NRGBA, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A finished task never stays pending, so a cancelled composite leaves
	// its stage free to Apply again.
	owned := s.task == t
	if owned {
		s.task = nil
	}
	if !owned || !s.activeLocked(t.lease) || ctx.Err() != nil {
		t.err = fmt.Errorf("%s: %w", t.op, ErrDiscarded)
		s.logger.Printf("Discarded stale %s result (lease %d)", t.op, t.lease)
		return
	}

	if err != nil {
		t.err = fmt.Errorf("%s: %w", t.op, err)
		s.logger.Printf("%s failed: %v", t.op, err)
		s.endLocked()
		return
	}
	r := wrapRaster(pix)
	if r == nil {
		t.err = fmt.Errorf("%s: %w", t.op, ErrTransformFailure)
		s.endLocked()
		return
	}
	t.result = r
	if err := s.commitLocked(t.lease, r); err != nil {
		t.err = err
		t.result = nil
	}
}

// Stage is one modal editing mode. Stages are created by Session.Begin and
// become inert once the session leaves their mode.
type Stage interface {
	// Mode reports which session mode the stage belongs to.
	Mode() Mode
	// Active reports whether the stage still holds the session.
	Active() bool

	stageLease() uint64
}

// stageBase carries the state every stage shares: the owning session, the
// lease that identifies this activation, and the source snapshot.
type stageBase struct {
	session *Session
	lease   uint64
	source  *RasterImage
}

func (b *stageBase) stageLease() uint64 { return b.lease }

// Active reports whether the stage still holds the session.
func (b *stageBase) Active() bool { return b.session.isActive(b.lease) }

// Source returns the image the stage edits.
func (b *stageBase) Source() *RasterImage { return b.source }

func (b *stageBase) check(op string) error {
	if !b.Active() {
		return fmt.Errorf("%s: stage no longer active: %w", op, ErrInvalidState)
	}
	return nil
}

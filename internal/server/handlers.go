package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ironsheep/photo-edit-mcp/internal/edit"
	"github.com/ironsheep/photo-edit-mcp/internal/export"
	"github.com/ironsheep/photo-edit-mcp/internal/imaging"
)

// defaultApplyWait bounds how long draw_apply and text_apply block before
// reporting the composite as pending.
const defaultApplyWait = 30 * time.Second

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_select", "filter_apply").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Image
	case "image_select":
		return s.handleImageSelect(args)
	case "image_info":
		return s.handleImageInfo(args)
	case "image_sample_colors":
		return s.handleImageSampleColors(args)
	case "image_export":
		return s.handleImageExport(args)

	// Session
	case "edit_begin":
		return s.handleEditBegin(args)
	case "edit_cancel":
		return s.handleEditCancel(args)
	case "edit_status":
		return s.handleEditStatus(args)

	// Filter stage
	case "filter_set":
		return s.handleFilterSet(args)
	case "filter_preview":
		return s.handleFilterPreview(args)
	case "filter_apply":
		return s.handleFilterApply(args)

	// Geometry stage
	case "geometry_gesture":
		return s.handleGeometryGesture(args)
	case "geometry_gesture_end":
		return s.handleGeometryGestureEnd(args)
	case "geometry_reset":
		return s.handleGeometryReset(args)
	case "geometry_apply":
		return s.handleGeometryApply(args)

	// Drawing stage
	case "draw_pen":
		return s.handleDrawPen(args)
	case "draw_stroke":
		return s.handleDrawStroke(args)
	case "draw_clear":
		return s.handleDrawClear(args)
	case "draw_apply":
		return s.handleDrawApply(args)

	// Text stage
	case "text_move":
		return s.handleTextMove(args)
	case "text_style":
		return s.handleTextStyle(args)
	case "text_apply":
		return s.handleTextApply(args)

	// Accounts
	case "auth_sign_up":
		return s.handleAuthSignUp(args)
	case "auth_sign_in":
		return s.handleAuthSignIn(args)
	case "auth_sign_in_token":
		return s.handleAuthSignInToken(args)
	case "auth_sign_out":
		return s.handleAuthSignOut(args)
	case "auth_verify_email":
		return s.handleAuthVerifyEmail(args)
	case "auth_resend_verification":
		return s.handleAuthResendVerification(args)
	case "auth_reset_password":
		return s.handleAuthResetPassword(args)
	case "auth_confirm_reset":
		return s.handleAuthConfirmReset(args)
	case "auth_status":
		return s.accounts.Status(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments. Missing arguments leave v at its
// zero value.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// activeStage returns the active stage if it has type T.
func activeStage[T edit.Stage](s *Server, want edit.Mode) (T, error) {
	var zero T
	st := s.session.Active()
	if st == nil {
		return zero, fmt.Errorf("no %s stage active, call edit_begin first: %w", want, edit.ErrInvalidState)
	}
	typed, ok := st.(T)
	if !ok {
		return zero, fmt.Errorf("%s stage is active, not %s: %w", st.Mode(), want, edit.ErrInvalidState)
	}
	return typed, nil
}

// === Result types ===

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p point) vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

func fromVec(v r2.Vec) point { return point{X: v.X, Y: v.Y} }

type frameResult struct {
	Origin    point `json:"origin"`
	Size      point `json:"size"`
	ImageSize point `json:"image_size"`
}

func newFrameResult(f edit.DisplayFrame) frameResult {
	return frameResult{Origin: fromVec(f.Origin), Size: fromVec(f.Size), ImageSize: fromVec(f.ImageSize)}
}

type filterResult struct {
	Filter       string  `json:"filter"`
	Intensity    float64 `json:"intensity"`
	HasIntensity bool    `json:"has_intensity"`
}

type geometryResult struct {
	Committed    edit.Transform `json:"committed"`
	Live         edit.Transform `json:"live"`
	Effective    edit.Transform `json:"effective"`
	Matrix       [6]float64     `json:"matrix"`
	CanvasWidth  int            `json:"canvas_width"`
	CanvasHeight int            `json:"canvas_height"`
}

type drawingResult struct {
	Frame    frameResult `json:"frame"`
	PenWidth float64     `json:"pen_width"`
	PenColor string      `json:"pen_color"`
	Strokes  int         `json:"strokes"`
	Points   int         `json:"points"`
}

type textResult struct {
	Frame  frameResult `json:"frame"`
	Text   string      `json:"text"`
	Center point       `json:"center"`
	BoxMin point       `json:"box_min"`
	BoxMax point       `json:"box_max"`
	Font   string      `json:"font"`
	Size   float64     `json:"size"`
	Color  string      `json:"color"`
}

type taskResult struct {
	Op    string `json:"op"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type statusResult struct {
	Mode     string                `json:"mode"`
	Image    *imaging.ImageInfo    `json:"image,omitempty"`
	Source   *imaging.ImageInfo    `json:"source,omitempty"`
	Filter   *filterResult         `json:"filter,omitempty"`
	Geometry *geometryResult       `json:"geometry,omitempty"`
	Drawing  *drawingResult        `json:"drawing,omitempty"`
	Text     *textResult           `json:"text,omitempty"`
	Task     *taskResult           `json:"task,omitempty"`
	Preview  *imaging.EncodedImage `json:"preview,omitempty"`
}

func newFilterResult(f *edit.FilterStage) *filterResult {
	spec := f.Spec()
	return &filterResult{Filter: spec.Kind.String(), Intensity: spec.Intensity, HasIntensity: spec.Kind.HasIntensity()}
}

func newGeometryResult(g *edit.GeometryStage) *geometryResult {
	m, canvas := g.Preview()
	return &geometryResult{
		Committed:    g.Committed(),
		Live:         g.Live(),
		Effective:    g.Effective(),
		Matrix:       m,
		CanvasWidth:  canvas.X,
		CanvasHeight: canvas.Y,
	}
}

func newDrawingResult(d *edit.DrawingStage) *drawingResult {
	pen := d.Pen()
	strokes := d.Strokes()
	n := 0
	for _, st := range strokes {
		n += len(st.Points)
	}
	return &drawingResult{
		Frame:    newFrameResult(d.Frame()),
		PenWidth: pen.Width,
		PenColor: edit.FormatColor(pen.Color),
		Strokes:  len(strokes),
		Points:   n,
	}
}

func newTextResult(t *edit.TextStage) *textResult {
	o := t.Overlay()
	box := t.Box()
	return &textResult{
		Frame:  newFrameResult(t.Frame()),
		Text:   o.Text,
		Center: fromVec(o.Center),
		BoxMin: fromVec(box.Min),
		BoxMax: fromVec(box.Max),
		Font:   o.Style.Font,
		Size:   o.Style.Size,
		Color:  edit.FormatColor(o.Style.Color),
	}
}

// status snapshots the session for tool results.
func (s *Server) status() *statusResult {
	res := &statusResult{Mode: s.session.Mode().String()}
	if cur := s.session.Current(); cur != nil {
		res.Image = imaging.Describe(cur.Image())
	}
	switch st := s.session.Active().(type) {
	case *edit.FilterStage:
		res.Filter = newFilterResult(st)
	case *edit.GeometryStage:
		res.Geometry = newGeometryResult(st)
	case *edit.DrawingStage:
		res.Drawing = newDrawingResult(st)
	case *edit.TextStage:
		res.Text = newTextResult(st)
	}
	if s.task != nil {
		done, _, err := s.task.Finished()
		res.Task = &taskResult{Op: s.task.Op(), Done: done}
		if err != nil {
			res.Task.Error = err.Error()
		}
	}
	return res
}

type encodeArgs struct {
	Format  string `json:"format"`
	MaxSide *int   `json:"max_side"`
	Quality int    `json:"quality"`
}

func (s *Server) encodeOptions(a encodeArgs) imaging.EncodeOptions {
	opts := imaging.EncodeOptions{Format: a.Format, Quality: a.Quality}
	if a.MaxSide != nil {
		opts.MaxSide = *a.MaxSide
	} else {
		s.mu.Lock()
		opts.MaxSide = s.previewMaxSide
		s.mu.Unlock()
	}
	return opts
}

// === Image Handlers ===

type imageSelectArgs struct {
	Path        string `json:"path"`
	ImageBase64 string `json:"image_base64"`
}

func (s *Server) handleImageSelect(args json.RawMessage) (interface{}, error) {
	var a imageSelectArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	var (
		img    image.Image
		source *imaging.ImageInfo
		err    error
	)
	switch {
	case a.Path != "" && a.ImageBase64 != "":
		return nil, fmt.Errorf("pass either path or image_base64, not both")
	case a.Path != "":
		// Re-picking a path reads the file as it is now
		s.cache.Evict(a.Path)
		source, err = imaging.LoadImageInfo(s.cache, a.Path)
		if err == nil {
			img, err = s.cache.Load(a.Path)
		}
	case a.ImageBase64 != "":
		img, err = imaging.DecodeBase64(a.ImageBase64)
	default:
		return nil, fmt.Errorf("path or image_base64 is required")
	}
	if err != nil {
		return nil, err
	}

	if err := s.session.Select(img); err != nil {
		return nil, err
	}
	s.task = nil
	res := s.status()
	res.Source = source
	return res, nil
}

type imageInfoArgs struct {
	IncludeImage bool `json:"include_image"`
	encodeArgs
}

func (s *Server) handleImageInfo(args json.RawMessage) (interface{}, error) {
	var a imageInfoArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cur := s.session.Current()
	if cur == nil {
		return nil, fmt.Errorf("no image selected")
	}
	res := s.status()
	if a.IncludeImage {
		enc, err := imaging.Encode(cur.Image(), s.encodeOptions(a.encodeArgs))
		if err != nil {
			return nil, err
		}
		res.Preview = enc
	}
	return res, nil
}

type imageSampleArgs struct {
	Points   []imaging.LabeledPoint `json:"points"`
	Dominant int                    `json:"dominant"`
}

type sampleResult struct {
	Samples  []imaging.LabeledColorResult `json:"samples,omitempty"`
	Dominant []imaging.ColorFrequency     `json:"dominant,omitempty"`
}

func (s *Server) handleImageSampleColors(args json.RawMessage) (interface{}, error) {
	var a imageSampleArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cur := s.session.Current()
	if cur == nil {
		return nil, fmt.Errorf("no image selected")
	}
	if len(a.Points) == 0 && a.Dominant <= 0 {
		return nil, fmt.Errorf("points or dominant is required")
	}

	var res sampleResult
	if len(a.Points) > 0 {
		samples, err := imaging.SampleColorsMulti(cur.Image(), a.Points)
		if err != nil {
			return nil, err
		}
		res.Samples = samples
	}
	if a.Dominant > 0 {
		dom, err := imaging.DominantColors(cur.Image(), a.Dominant)
		if err != nil {
			return nil, err
		}
		res.Dominant = dom
	}
	return res, nil
}

type imageExportArgs struct {
	Destinations []string `json:"destinations"`
	encodeArgs
}

func (s *Server) handleImageExport(args json.RawMessage) (interface{}, error) {
	var a imageExportArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cur := s.session.Current()
	if cur == nil {
		return nil, export.ErrNoImage
	}
	if len(a.Destinations) == 0 {
		a.Destinations = []string{"library"}
	}

	s.mu.Lock()
	library := *s.library
	s.mu.Unlock()
	if a.Format != "" {
		library.Format = a.Format
	}
	if a.Quality > 0 {
		library.Quality = a.Quality
	}

	var sinks []export.Sink
	seen := make(map[string]bool)
	for _, d := range a.Destinations {
		if seen[d] {
			continue
		}
		seen[d] = true
		switch d {
		case "library":
			sinks = append(sinks, &library)
		case "share":
			opts := imaging.EncodeOptions{Format: a.Format, Quality: a.Quality}
			if a.MaxSide != nil {
				opts.MaxSide = *a.MaxSide
			}
			sinks = append(sinks, &export.Share{Options: opts})
		default:
			return nil, fmt.Errorf("unknown destination: %s (want library or share)", d)
		}
	}

	results, err := export.Export(context.Background(), cur.Image(), sinks...)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"exports": results}, nil
}

// === Session Handlers ===

type editBeginArgs struct {
	Stage string `json:"stage"`
}

func (s *Server) handleEditBegin(args json.RawMessage) (interface{}, error) {
	var a editBeginArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	mode, err := edit.ParseMode(a.Stage)
	if err != nil {
		return nil, err
	}
	if _, err := s.session.Begin(mode); err != nil {
		return nil, err
	}
	s.task = nil
	return s.status(), nil
}

func (s *Server) handleEditCancel(args json.RawMessage) (interface{}, error) {
	cancelled := s.session.Cancel()
	return map[string]interface{}{
		"cancelled": cancelled,
		"status":    s.status(),
	}, nil
}

type editStatusArgs struct {
	// Wait blocks until a pending composite finishes, up to TimeoutMS.
	Wait      bool `json:"wait"`
	TimeoutMS int  `json:"timeout_ms"`
}

func (s *Server) handleEditStatus(args json.RawMessage) (interface{}, error) {
	var a editStatusArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Wait && s.task != nil {
		s.wait(s.task, a.TimeoutMS)
	}
	return s.status(), nil
}

// === Filter Handlers ===

type filterSetArgs struct {
	Filter    string   `json:"filter"`
	Intensity *float64 `json:"intensity"`
}

func (s *Server) handleFilterSet(args json.RawMessage) (interface{}, error) {
	var a filterSetArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	f, err := activeStage[*edit.FilterStage](s, edit.Filtering)
	if err != nil {
		return nil, err
	}
	if a.Filter != "" {
		kind, err := edit.ParseFilterKind(a.Filter)
		if err != nil {
			return nil, err
		}
		if err := f.SetFilter(kind); err != nil {
			return nil, err
		}
	}
	if a.Intensity != nil {
		if err := f.SetIntensity(*a.Intensity); err != nil {
			return nil, err
		}
	}
	return newFilterResult(f), nil
}

func (s *Server) handleFilterPreview(args json.RawMessage) (interface{}, error) {
	var a encodeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	f, err := activeStage[*edit.FilterStage](s, edit.Filtering)
	if err != nil {
		return nil, err
	}
	out, err := f.Preview()
	if err != nil {
		return nil, err
	}
	enc, err := imaging.Encode(out.Image(), s.encodeOptions(a))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"filter":  newFilterResult(f),
		"preview": enc,
	}, nil
}

func (s *Server) handleFilterApply(args json.RawMessage) (interface{}, error) {
	f, err := activeStage[*edit.FilterStage](s, edit.Filtering)
	if err != nil {
		return nil, err
	}
	if _, err := f.Apply(); err != nil {
		return nil, err
	}
	return s.status(), nil
}

// === Geometry Handlers ===

type geometryGestureArgs struct {
	Rotation *float64 `json:"rotation"`
	Scale    *float64 `json:"scale"`
}

func (s *Server) handleGeometryGesture(args json.RawMessage) (interface{}, error) {
	var a geometryGestureArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	g, err := activeStage[*edit.GeometryStage](s, edit.Transforming)
	if err != nil {
		return nil, err
	}
	if a.Rotation == nil && a.Scale == nil {
		return nil, fmt.Errorf("rotation or scale is required")
	}
	if a.Scale != nil {
		if err := g.OnScaleChange(*a.Scale); err != nil {
			return nil, err
		}
	}
	if a.Rotation != nil {
		if err := g.OnRotationChange(*a.Rotation); err != nil {
			return nil, err
		}
	}
	return newGeometryResult(g), nil
}

type geometryGestureEndArgs struct {
	// Gesture is "rotation", "scale" or "both" (default).
	Gesture string `json:"gesture"`
}

func (s *Server) handleGeometryGestureEnd(args json.RawMessage) (interface{}, error) {
	var a geometryGestureEndArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	g, err := activeStage[*edit.GeometryStage](s, edit.Transforming)
	if err != nil {
		return nil, err
	}
	switch a.Gesture {
	case "", "both":
		err = g.OnGestureEnd()
	case "rotation":
		err = g.OnRotationEnd()
	case "scale":
		err = g.OnScaleEnd()
	default:
		return nil, fmt.Errorf("unknown gesture: %s (want rotation, scale or both)", a.Gesture)
	}
	if err != nil {
		return nil, err
	}
	return newGeometryResult(g), nil
}

func (s *Server) handleGeometryReset(args json.RawMessage) (interface{}, error) {
	g, err := activeStage[*edit.GeometryStage](s, edit.Transforming)
	if err != nil {
		return nil, err
	}
	if err := g.Reset(); err != nil {
		return nil, err
	}
	return newGeometryResult(g), nil
}

func (s *Server) handleGeometryApply(args json.RawMessage) (interface{}, error) {
	g, err := activeStage[*edit.GeometryStage](s, edit.Transforming)
	if err != nil {
		return nil, err
	}
	if _, err := g.Apply(); err != nil {
		return nil, err
	}
	return s.status(), nil
}

// === Drawing Handlers ===

type drawPenArgs struct {
	Width *float64 `json:"width"`
	Color string   `json:"color"`
}

func (s *Server) handleDrawPen(args json.RawMessage) (interface{}, error) {
	var a drawPenArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	d, err := activeStage[*edit.DrawingStage](s, edit.Drawing)
	if err != nil {
		return nil, err
	}
	pen := d.Pen()
	if a.Width != nil {
		pen.Width = *a.Width
	}
	if a.Color != "" {
		c, err := edit.ParseColor(a.Color)
		if err != nil {
			return nil, err
		}
		pen.Color = c
	}
	if err := d.SetPen(pen); err != nil {
		return nil, err
	}
	return newDrawingResult(d), nil
}

type drawStrokeArgs struct {
	Points []point `json:"points"`
}

func (s *Server) handleDrawStroke(args json.RawMessage) (interface{}, error) {
	var a drawStrokeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	d, err := activeStage[*edit.DrawingStage](s, edit.Drawing)
	if err != nil {
		return nil, err
	}
	if len(a.Points) == 0 {
		return nil, fmt.Errorf("points is required")
	}
	pts := make([]r2.Vec, len(a.Points))
	for i, p := range a.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			return nil, fmt.Errorf("point %d is not a number", i)
		}
		pts[i] = p.vec()
	}
	if err := d.AddStroke(pts); err != nil {
		return nil, err
	}
	return newDrawingResult(d), nil
}

func (s *Server) handleDrawClear(args json.RawMessage) (interface{}, error) {
	d, err := activeStage[*edit.DrawingStage](s, edit.Drawing)
	if err != nil {
		return nil, err
	}
	if err := d.Clear(); err != nil {
		return nil, err
	}
	return newDrawingResult(d), nil
}

type applyArgs struct {
	// Wait defaults to true.
	Wait      *bool `json:"wait"`
	TimeoutMS int   `json:"timeout_ms"`
}

func (s *Server) handleDrawApply(args json.RawMessage) (interface{}, error) {
	var a applyArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	d, err := activeStage[*edit.DrawingStage](s, edit.Drawing)
	if err != nil {
		return nil, err
	}
	t, err := d.Apply(context.Background())
	if err != nil {
		return nil, err
	}
	return s.finishApply(t, a)
}

// === Text Handlers ===

type textMoveArgs struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (s *Server) handleTextMove(args json.RawMessage) (interface{}, error) {
	var a textMoveArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	t, err := activeStage[*edit.TextStage](s, edit.Annotating)
	if err != nil {
		return nil, err
	}
	if a.X == nil || a.Y == nil {
		return nil, fmt.Errorf("x and y are required")
	}
	if _, err := t.MoveTo(r2.Vec{X: *a.X, Y: *a.Y}); err != nil {
		return nil, err
	}
	return newTextResult(t), nil
}

type textStyleArgs struct {
	Text  *string  `json:"text"`
	Font  string   `json:"font"`
	Size  *float64 `json:"size"`
	Color string   `json:"color"`
}

func (s *Server) handleTextStyle(args json.RawMessage) (interface{}, error) {
	var a textStyleArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	t, err := activeStage[*edit.TextStage](s, edit.Annotating)
	if err != nil {
		return nil, err
	}

	style := t.Overlay().Style
	if a.Font != "" {
		style.Font = a.Font
	}
	if a.Size != nil {
		style.Size = *a.Size
	}
	if a.Color != "" {
		c, err := edit.ParseColor(a.Color)
		if err != nil {
			return nil, err
		}
		style.Color = c
	}
	if err := t.SetStyle(style); err != nil {
		return nil, err
	}
	if a.Text != nil {
		if err := t.SetText(*a.Text); err != nil {
			return nil, err
		}
	}
	return newTextResult(t), nil
}

func (s *Server) handleTextApply(args json.RawMessage) (interface{}, error) {
	var a applyArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	t, err := activeStage[*edit.TextStage](s, edit.Annotating)
	if err != nil {
		return nil, err
	}
	task, err := t.Apply(context.Background())
	if err != nil {
		return nil, err
	}
	return s.finishApply(task, a)
}

// finishApply records t for edit_status and, unless the caller opted out,
// waits for it. A composite still running when the wait expires is
// reported as pending, not as an error.
func (s *Server) finishApply(t *edit.Task, a applyArgs) (interface{}, error) {
	s.task = t
	if a.Wait != nil && !*a.Wait {
		return s.status(), nil
	}
	if err := s.wait(t, a.TimeoutMS); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return s.status(), nil
}

func (s *Server) wait(t *edit.Task, timeoutMS int) error {
	timeout := defaultApplyWait
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := t.Wait(ctx)
	return err
}

// === Account Handlers ===

type authCredentialsArgs struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Code            string `json:"code"`
	Token           string `json:"token"`
}

func (s *Server) handleAuthSignUp(args json.RawMessage) (interface{}, error) {
	var a authCredentialsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.accounts.SignUp(context.Background(), a.Email, a.Password, a.ConfirmPassword); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

func (s *Server) handleAuthSignIn(args json.RawMessage) (interface{}, error) {
	var a authCredentialsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.accounts.SignIn(a.Email, a.Password); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

func (s *Server) handleAuthSignInToken(args json.RawMessage) (interface{}, error) {
	var a authCredentialsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.accounts.SignInWithToken(context.Background(), a.Token); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

// handleAuthSignOut signs out and ends any active stage, since the session
// is no longer permitted.
func (s *Server) handleAuthSignOut(args json.RawMessage) (interface{}, error) {
	s.accounts.SignOut()
	s.session.Cancel()
	return s.accounts.Status(), nil
}

func (s *Server) handleAuthVerifyEmail(args json.RawMessage) (interface{}, error) {
	var a authCredentialsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.accounts.VerifyEmail(a.Email, a.Code); err != nil {
		return nil, err
	}
	if _, err := s.accounts.CheckEmailVerification(); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

func (s *Server) handleAuthResendVerification(args json.RawMessage) (interface{}, error) {
	if err := s.accounts.SendEmailVerification(context.Background()); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

func (s *Server) handleAuthResetPassword(args json.RawMessage) (interface{}, error) {
	var a authCredentialsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.accounts.ResetPassword(context.Background(), a.Email); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

func (s *Server) handleAuthConfirmReset(args json.RawMessage) (interface{}, error) {
	var a authCredentialsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.accounts.ConfirmPasswordReset(a.Email, a.Code, a.Password, a.ConfirmPassword); err != nil {
		return nil, err
	}
	return s.accounts.Status(), nil
}

// Package export hands a finished photo to the outside world: the photo
// library on disk and the share payload returned to a client.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	imgtools "github.com/ironsheep/photo-edit-mcp/internal/imaging"
)

// ErrNoImage is returned when there is nothing to export.
var ErrNoImage = errors.New("no image to export")

// Result describes one completed export.
type Result struct {
	Sink        string `json:"sink"`
	Path        string `json:"path,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	MimeType    string `json:"mime_type,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// Sink is one export destination.
type Sink interface {
	Name() string
	Export(ctx context.Context, img image.Image) (*Result, error)
}

// Export sends img to every sink concurrently. Results are returned in sink
// order. The first failure cancels the remaining sinks and is returned.
func Export(ctx context.Context, img image.Image, sinks ...Sink) ([]*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNoImage
	}
	if len(sinks) == 0 {
		return nil, errors.New("no export destination")
	}

	results := make([]*Result, len(sinks))
	g, ctx := errgroup.WithContext(ctx)
	for i, s := range sinks {
		i, s := i, s
		g.Go(func() error {
			res, err := s.Export(ctx, img)
			if err != nil {
				return fmt.Errorf("export to %s: %w", s.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PhotoLibrary saves photos as files in a directory.
type PhotoLibrary struct {
	// Dir is created on first export if missing.
	Dir string
	// Format is "png" (default) or "jpeg".
	Format string
	// Quality is the JPEG quality. Zero uses 90.
	Quality int
	// Prefix starts every file name. Empty means "photo".
	Prefix string

	now func() time.Time
}

// NewPhotoLibrary returns a PNG library rooted at dir.
func NewPhotoLibrary(dir string) *PhotoLibrary {
	return &PhotoLibrary{Dir: dir}
}

// Name implements Sink.
func (l *PhotoLibrary) Name() string { return "library" }

// Export implements Sink. Existing files are never overwritten; a numeric
// suffix is added instead.
func (l *PhotoLibrary) Export(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Dir == "" {
		return nil, errors.New("photo library directory not configured")
	}
	format, err := imgtools.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library: %w", err)
	}

	f, path, err := l.create(format)
	if err != nil {
		return nil, err
	}
	quality := l.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(quality)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	b := img.Bounds()
	return &Result{Sink: l.Name(), Path: path, Width: b.Dx(), Height: b.Dy(), MimeType: mimeType(format)}, nil
}

func (l *PhotoLibrary) create(format imaging.Format) (*os.File, string, error) {
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	prefix := l.Prefix
	if prefix == "" {
		prefix = "photo"
	}
	ext := ".png"
	if format == imaging.JPEG {
		ext = ".jpg"
	}
	stem := fmt.Sprintf("%s-%s", prefix, now().Format("20060102-150405"))

	for i := 0; i < 1000; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(l.Dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s in %s", stem, l.Dir)
}

func mimeType(f imaging.Format) string {
	if f == imaging.JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Share encodes photos for a share sheet. The payload is returned in the
// Result and, when Out is set, written to it as a data URL line.
type Share struct {
	Options imgtools.EncodeOptions
	Out     io.Writer

	mu sync.Mutex
}

// Name implements Sink.
func (s *Share) Name() string { return "share" }

// Export implements Sink.
func (s *Share) Export(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := imgtools.Encode(img, s.Options)
	if err != nil {
		return nil, err
	}
	if s.Out != nil {
		s.mu.Lock()
		_, err := fmt.Fprintf(s.Out, "data:%s;base64,%s\n", enc.MimeType, enc.ImageBase64)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("write share payload: %w", err)
		}
	}
	return &Result{
		Sink:        s.Name(),
		Width:       enc.Width,
		Height:      enc.Height,
		MimeType:    enc.MimeType,
		ImageBase64: enc.ImageBase64,
	}, nil
}

package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	imgtools "github.com/ironsheep/photo-edit-mcp/internal/imaging"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 7), uint8(y * 5), 90, 255})
		}
	}
	return img
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
}

type failingSink struct{ err error }

func (f failingSink) Name() string { return "broken" }

func (f failingSink) Export(ctx context.Context, _ image.Image) (*Result, error) {
	return nil, f.err
}

func TestPhotoLibrary_UniqueNames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Photos")
	lib := &PhotoLibrary{Dir: dir, now: fixedClock()}
	img := testImage(20, 10)

	var paths []string
	for i := 0; i < 3; i++ {
		res, err := lib.Export(context.Background(), img)
		if err != nil {
			t.Fatalf("Export #%d failed: %v", i, err)
		}
		paths = append(paths, filepath.Base(res.Path))
	}
	want := []string{
		"photo-20240301-093000.png",
		"photo-20240301-093000-1.png",
		"photo-20240301-093000-2.png",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("file names (-want +got):\n%s", diff)
	}

	saved, err := imaging.Open(filepath.Join(dir, want[0]))
	if err != nil {
		t.Fatalf("saved photo does not decode: %v", err)
	}
	if b := saved.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("saved dimensions %dx%d, want 20x10", b.Dx(), b.Dy())
	}
}

func TestPhotoLibrary_Formats(t *testing.T) {
	tests := []struct {
		format   string
		wantExt  string
		wantMime string
		wantErr  bool
	}{
		{"", ".png", "image/png", false},
		{"jpeg", ".jpg", "image/jpeg", false},
		{"gif", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			lib := &PhotoLibrary{Dir: t.TempDir(), Format: tt.format, Prefix: "edit", now: fixedClock()}
			res, err := lib.Export(context.Background(), testImage(8, 8))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if filepath.Ext(res.Path) != tt.wantExt || res.MimeType != tt.wantMime {
				t.Errorf("got %s (%s), want ext %s (%s)", res.Path, res.MimeType, tt.wantExt, tt.wantMime)
			}
			if !strings.HasPrefix(filepath.Base(res.Path), "edit-") {
				t.Errorf("prefix not applied: %s", res.Path)
			}
		})
	}
}

func TestPhotoLibrary_Unconfigured(t *testing.T) {
	if _, err := (&PhotoLibrary{}).Export(context.Background(), testImage(2, 2)); err == nil {
		t.Error("expected error without a directory")
	}
}

func TestShare(t *testing.T) {
	var out bytes.Buffer
	s := &Share{Options: imgtools.EncodeOptions{MaxSide: 10}, Out: &out}

	res, err := s.Export(context.Background(), testImage(40, 20))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	want := &Result{Sink: "share", Width: 10, Height: 5, MimeType: "image/png"}
	if diff := cmp.Diff(want, res, cmpopts.IgnoreFields(Result{}, "ImageBase64")); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}

	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "data:image/png;base64,") {
		t.Fatalf("unexpected share payload %.40q", line)
	}
	img, err := imgtools.DecodeBase64(line)
	if err != nil {
		t.Fatalf("share payload does not decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Errorf("shared dimensions %dx%d", b.Dx(), b.Dy())
	}
}

func TestExport_FanOut(t *testing.T) {
	dir := t.TempDir()
	sinks := []Sink{&Share{}, &PhotoLibrary{Dir: dir, now: fixedClock()}}

	results, err := Export(context.Background(), testImage(16, 16), sinks...)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(results) != 2 || results[0].Sink != "share" || results[1].Sink != "library" {
		t.Fatalf("results out of sink order: %+v", results)
	}
	if _, err := os.Stat(results[1].Path); err != nil {
		t.Errorf("library file missing: %v", err)
	}
}

func TestExport_Errors(t *testing.T) {
	boom := errors.New("disk full")

	if _, err := Export(context.Background(), nil, &Share{}); !errors.Is(err, ErrNoImage) {
		t.Errorf("nil image: got %v, want ErrNoImage", err)
	}
	if _, err := Export(context.Background(), testImage(2, 2)); err == nil {
		t.Error("no sinks should fail")
	}
	_, err := Export(context.Background(), testImage(2, 2), &Share{}, failingSink{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("sink failure: got %v, want %v", err, boom)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Export(ctx, testImage(2, 2), &Share{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: got %v", err)
	}
}

package config

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ironsheep/photo-edit-mcp/internal/auth"
	"github.com/ironsheep/photo-edit-mcp/internal/edit"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo-edit.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefault_MatchesEditDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if diff := cmp.Diff(edit.DefaultSettings(), cfg.Settings()); diff != "" {
		t.Errorf("settings from default config (-want +got):\n%s", diff)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[editor]
viewport_width = 800
viewport_height = 600
filter_intensity = 0.25

[pen]
width = 8
color = "#ff0000"

[text]
font = "Helvetica"
size = 60
color = "yellow"

[auth]
require_sign_in = false
code_ttl = "5m"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	st := cfg.Settings()
	want := edit.DefaultSettings()
	want.Viewport = edit.Viewport{Width: 800, Height: 600}
	want.FilterIntensity = 0.25
	want.Pen = edit.Pen{Width: 8, Color: color.NRGBA{255, 0, 0, 255}}
	want.Text = edit.TextStyle{Font: "Helvetica", Size: 60, Color: color.NRGBA{255, 255, 0, 255}}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("settings (-want +got):\n%s", diff)
	}
	if cfg.Auth.RequireSignIn {
		t.Error("require_sign_in should be false")
	}
	if cfg.Auth.CodeTTL.Duration != 5*time.Minute {
		t.Errorf("code_ttl = %v, want 5m", cfg.Auth.CodeTTL)
	}
	if !cfg.Debug() {
		t.Error("debug level not applied")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{"syntax", "[editor\n", "failed to parse"},
		{"unknown key", "[editor]\nzoom = 2\n", "editor.zoom"},
		{"bad color", "[pen]\ncolor = \"mauve\"\n", "pen.color"},
		{"bad font", "[text]\nfont = \"Comic Sans\"\n", "unknown font"},
		{"text too small", "[text]\nsize = 5\n", "text.size"},
		{"intensity", "[editor]\nfilter_intensity = 2.0\n", "filter_intensity"},
		{"gif library", "[library]\nformat = \"gif\"\n", "library.format"},
		{"bad ttl", "[auth]\ncode_ttl = \"soon\"\n", "failed to parse"},
		{"log level", "[log]\nlevel = \"trace\"\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Pen.Width = 0
	cfg.Editor.ViewportWidth = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, sub := range []string{"pen.width", "editor.viewport"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("error %q does not mention %s", err, sub)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PHOTO_EDIT_LOG_LEVEL":       "debug",
		"PHOTO_EDIT_LIBRARY_DIR":     "/srv/photos",
		"PHOTO_EDIT_TOKEN_SECRET":    "s3cret",
		"PHOTO_EDIT_REQUIRE_SIGN_IN": "false",
		"PHOTO_EDIT_VIEWPORT":        "640x480",
	}
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if !cfg.Debug() || cfg.Library.Dir != "/srv/photos" || cfg.Auth.RequireSignIn {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if got := cfg.Settings().Viewport; got != (edit.Viewport{Width: 640, Height: 480}) {
		t.Errorf("viewport = %+v", got)
	}
	if _, ok := cfg.AuthOptions().Verifier.(auth.HMACVerifier); !ok {
		t.Error("token secret should enable the HMAC verifier")
	}

	for _, bad := range []map[string]string{
		{"PHOTO_EDIT_REQUIRE_SIGN_IN": "maybe"},
		{"PHOTO_EDIT_VIEWPORT": "640"},
		{"PHOTO_EDIT_VIEWPORT": "wide x 480"},
	} {
		err := Default().ApplyEnv(func(k string) (string, bool) {
			v, ok := bad[k]
			return v, ok
		})
		if err == nil {
			t.Errorf("ApplyEnv(%v) should fail", bad)
		}
	}
}

func TestAuthOptions_NoSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyEnv(noEnv); err != nil {
		t.Fatal(err)
	}
	opts := cfg.AuthOptions()
	if opts.Verifier != nil {
		t.Error("token sign-in should be disabled without a secret")
	}
	if opts.MinPasswordLength != 6 || opts.CodeTTL != 15*time.Minute {
		t.Errorf("unexpected auth options %+v", opts)
	}
}

func TestSettings_TextBox(t *testing.T) {
	cfg := Default()
	cfg.Text.BoxWidth, cfg.Text.BoxHeight = 300, 90
	if got := cfg.Settings().TextBox; got != (r2.Vec{X: 300, Y: 90}) {
		t.Errorf("TextBox = %v", got)
	}
}

func TestFonts_FontFileMissing(t *testing.T) {
	cfg := Default()
	cfg.Text.FontFiles = map[string]string{"Brand": filepath.Join(t.TempDir(), "missing.ttf")}
	if _, err := cfg.Fonts(); err == nil {
		t.Error("expected error for missing font file")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "[pen]\nwidth = 4\n")

	reloaded := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path, 50*time.Millisecond,
		func(c *Config) { reloaded <- c },
		func(err error) { errs <- err },
	)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[pen]\nwidth = 12\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Pen.Width != 12 {
			t.Errorf("reloaded pen width = %g, want 12", cfg.Pen.Width)
		}
	case err := <-errs:
		t.Fatalf("unexpected reload error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "[pen]\nwidth = 4\n")

	reloaded := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path, 50*time.Millisecond,
		func(c *Config) { reloaded <- c },
		func(err error) { errs <- err },
	)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[pen]\nwidth = -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errs:
	case cfg := <-reloaded:
		t.Fatalf("invalid config was delivered: %+v", cfg.Pen)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
}

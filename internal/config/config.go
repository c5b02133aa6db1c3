// Package config loads the photo-edit-mcp configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional TOML file, and PHOTO_EDIT_* environment variables. A Watcher
// reloads the file when it changes on disk.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ironsheep/photo-edit-mcp/internal/auth"
	"github.com/ironsheep/photo-edit-mcp/internal/edit"
	imgtools "github.com/ironsheep/photo-edit-mcp/internal/imaging"
)

// Duration is a time.Duration written as a string ("15m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full server configuration.
type Config struct {
	Editor  EditorConfig  `toml:"editor"`
	Pen     PenConfig     `toml:"pen"`
	Text    TextConfig    `toml:"text"`
	Library LibraryConfig `toml:"library"`
	Auth    AuthConfig    `toml:"auth"`
	Log     LogConfig     `toml:"log"`
}

// EditorConfig holds the stage defaults shared by every stage.
type EditorConfig struct {
	ViewportWidth     float64 `toml:"viewport_width"`
	ViewportHeight    float64 `toml:"viewport_height"`
	FilterIntensity   float64 `toml:"filter_intensity"`
	MaxTextResolution int     `toml:"max_text_resolution"`
	// PreviewMaxSide downsizes images returned by preview tools. Zero
	// returns them at native size.
	PreviewMaxSide int `toml:"preview_max_side"`
}

type PenConfig struct {
	Width float64 `toml:"width"`
	Color string  `toml:"color"`
}

type TextConfig struct {
	Font      string  `toml:"font"`
	Size      float64 `toml:"size"`
	Color     string  `toml:"color"`
	BoxWidth  float64 `toml:"box_width"`
	BoxHeight float64 `toml:"box_height"`
	// FontFiles registers extra TrueType/OpenType fonts by family name.
	FontFiles map[string]string `toml:"font_files"`
}

// LibraryConfig configures the photo library export sink.
type LibraryConfig struct {
	Dir     string `toml:"dir"`
	Format  string `toml:"format"`
	Quality int    `toml:"quality"`
}

// AuthConfig configures the account store and the session gate.
type AuthConfig struct {
	// RequireSignIn gates image sessions on a signed-in user.
	RequireSignIn        bool     `toml:"require_sign_in"`
	RequireVerifiedEmail bool     `toml:"require_verified_email"`
	MinPasswordLength    int      `toml:"min_password_length"`
	CodeTTL              Duration `toml:"code_ttl"`
	// TokenSecret enables token sign-in with HMAC-signed identity tokens.
	TokenSecret string `toml:"token_secret"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	st := edit.DefaultSettings()
	return &Config{
		Editor: EditorConfig{
			ViewportWidth:     st.Viewport.Width,
			ViewportHeight:    st.Viewport.Height,
			FilterIntensity:   st.FilterIntensity,
			MaxTextResolution: st.MaxTextResolution,
			PreviewMaxSide:    1024,
		},
		Pen: PenConfig{
			Width: st.Pen.Width,
			Color: "black",
		},
		Text: TextConfig{
			Font:      st.Text.Font,
			Size:      st.Text.Size,
			Color:     "white",
			BoxWidth:  st.TextBox.X,
			BoxHeight: st.TextBox.Y,
		},
		Library: LibraryConfig{
			Dir:     defaultLibraryDir(),
			Format:  "png",
			Quality: 90,
		},
		Auth: AuthConfig{
			RequireSignIn:     true,
			MinPasswordLength: 6,
			CodeTTL:           Duration{15 * time.Minute},
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultLibraryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "photo-edit-library")
	}
	return filepath.Join(home, "Pictures", "PhotoEdit")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides values from PHOTO_EDIT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PHOTO_EDIT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("PHOTO_EDIT_LIBRARY_DIR"); ok {
		c.Library.Dir = v
	}
	if v, ok := lookup("PHOTO_EDIT_TOKEN_SECRET"); ok {
		c.Auth.TokenSecret = v
	}
	if v, ok := lookup("PHOTO_EDIT_REQUIRE_SIGN_IN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PHOTO_EDIT_REQUIRE_SIGN_IN: %w", err)
		}
		c.Auth.RequireSignIn = b
	}
	if v, ok := lookup("PHOTO_EDIT_VIEWPORT"); ok {
		w, h, found := strings.Cut(strings.ToLower(v), "x")
		if !found {
			return fmt.Errorf("PHOTO_EDIT_VIEWPORT: want WIDTHxHEIGHT, got %q", v)
		}
		wf, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
		if err != nil {
			return fmt.Errorf("PHOTO_EDIT_VIEWPORT: %w", err)
		}
		hf, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
		if err != nil {
			return fmt.Errorf("PHOTO_EDIT_VIEWPORT: %w", err)
		}
		c.Editor.ViewportWidth, c.Editor.ViewportHeight = wf, hf
	}
	return nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !(edit.Viewport{Width: c.Editor.ViewportWidth, Height: c.Editor.ViewportHeight}).Valid() {
		add("editor.viewport must be positive, got %gx%g", c.Editor.ViewportWidth, c.Editor.ViewportHeight)
	}
	if c.Editor.FilterIntensity < 0 || c.Editor.FilterIntensity > 1 {
		add("editor.filter_intensity must be within [0,1], got %g", c.Editor.FilterIntensity)
	}
	if c.Editor.MaxTextResolution < 0 {
		add("editor.max_text_resolution must not be negative")
	}
	if c.Editor.PreviewMaxSide < 0 {
		add("editor.preview_max_side must not be negative")
	}
	if c.Pen.Width <= 0 {
		add("pen.width must be positive, got %g", c.Pen.Width)
	}
	if _, err := edit.ParseColor(c.Pen.Color); err != nil {
		add("pen.color: %v", err)
	}
	if _, err := edit.ParseColor(c.Text.Color); err != nil {
		add("text.color: %v", err)
	}
	if c.Text.Size < edit.MinTextSize || c.Text.Size > edit.MaxTextSize {
		add("text.size must be within [%d,%d], got %g", edit.MinTextSize, edit.MaxTextSize, c.Text.Size)
	}
	if c.Text.BoxWidth <= 0 || c.Text.BoxHeight <= 0 {
		add("text.box must be positive")
	}
	if _, err := c.Fonts(); err != nil {
		add("text: %v", err)
	}
	if _, err := imgtools.ParseFormat(c.Library.Format); err != nil {
		add("library.format: %v", err)
	}
	if c.Auth.MinPasswordLength < 1 {
		add("auth.min_password_length must be at least 1")
	}
	if c.Auth.CodeTTL.Duration <= 0 {
		add("auth.code_ttl must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info":
	default:
		add("log.level must be debug or info, got %q", c.Log.Level)
	}
	return errors.Join(errs...)
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}

// Fonts builds the font registry: the built-in Go families plus any
// configured font files. The configured text font must resolve.
func (c *Config) Fonts() (*edit.FontBook, error) {
	book := edit.NewFontBook()
	names := make([]string, 0, len(c.Text.FontFiles))
	for name := range c.Text.FontFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(c.Text.FontFiles[name])
		if err != nil {
			return nil, fmt.Errorf("font %s: %w", name, err)
		}
		if err := book.Register(name, data); err != nil {
			return nil, err
		}
	}
	if _, err := book.Resolve(c.Text.Font); err != nil {
		return nil, err
	}
	return book, nil
}

// Settings converts the configuration into edit stage defaults. It assumes
// Validate has passed and falls back to stock values otherwise.
func (c *Config) Settings() edit.Settings {
	st := edit.DefaultSettings()
	st.Viewport = edit.Viewport{Width: c.Editor.ViewportWidth, Height: c.Editor.ViewportHeight}
	st.FilterIntensity = c.Editor.FilterIntensity
	st.MaxTextResolution = c.Editor.MaxTextResolution
	st.Pen.Width = c.Pen.Width
	if col, err := edit.ParseColor(c.Pen.Color); err == nil {
		st.Pen.Color = col
	}
	st.Text.Font = c.Text.Font
	st.Text.Size = c.Text.Size
	if col, err := edit.ParseColor(c.Text.Color); err == nil {
		st.Text.Color = col
	}
	st.TextBox = r2.Vec{X: c.Text.BoxWidth, Y: c.Text.BoxHeight}
	return st
}

// AuthOptions converts the auth section into account store options. The
// caller supplies the mailer and logger.
func (c *Config) AuthOptions() auth.Options {
	opts := auth.Options{
		MinPasswordLength:    c.Auth.MinPasswordLength,
		RequireVerifiedEmail: c.Auth.RequireVerifiedEmail,
		CodeTTL:              c.Auth.CodeTTL.Duration,
	}
	if c.Auth.TokenSecret != "" {
		opts.Verifier = auth.HMACVerifier{Secret: []byte(c.Auth.TokenSecret)}
	}
	return opts
}

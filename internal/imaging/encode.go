package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// EncodedImage is an image serialized for transport in a tool result.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodeOptions control Encode. The zero value encodes a full-size PNG.
type EncodeOptions struct {
	// Format is "png" (default) or "jpeg".
	Format string
	// MaxSide downsizes the image, preserving aspect ratio, so that neither
	// side exceeds it. Zero keeps the native size.
	MaxSide int
	// Quality is the JPEG quality, 1-100. Zero uses 90.
	Quality int
}

var mimeTypes = map[imaging.Format]string{
	imaging.PNG:  "image/png",
	imaging.JPEG: "image/jpeg",
}

// ParseFormat maps a format name or file extension to an imaging.Format.
// Only PNG and JPEG are supported for output.
func ParseFormat(name string) (imaging.Format, error) {
	if name == "" {
		return imaging.PNG, nil
	}
	f, err := imaging.FormatFromExtension(strings.TrimPrefix(name, "."))
	if err != nil {
		return 0, fmt.Errorf("unsupported format %q: %w", name, err)
	}
	if _, ok := mimeTypes[f]; !ok {
		return 0, fmt.Errorf("unsupported output format %q", name)
	}
	return f, nil
}

// Encode serializes img to base64 in the requested format.
func Encode(img image.Image, opts EncodeOptions) (*EncodedImage, error) {
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	if opts.MaxSide > 0 {
		b := img.Bounds()
		if b.Dx() > opts.MaxSide || b.Dy() > opts.MaxSide {
			img = imaging.Fit(img, opts.MaxSide, opts.MaxSide, imaging.Lanczos)
		}
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &EncodedImage{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    mimeTypes[format],
	}, nil
}

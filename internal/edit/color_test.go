package edit

import (
	"image/color"
	"testing"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"Red", color.NRGBA{R: 255, A: 255}, false},
		{"white", color.NRGBA{R: 255, G: 255, B: 255, A: 255}, false},
		{"#336699", color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 255}, false},
		{"336699", color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 255}, false},
		{"#f00", color.NRGBA{R: 255, A: 255}, false},
		{"#00ff0080", color.NRGBA{G: 255, A: 0x80}, false},
		{"magenta-ish", color.NRGBA{}, true},
		{"#12345", color.NRGBA{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseColor(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseColor(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseColor(%q): got %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatColor(t *testing.T) {
	if got := FormatColor(color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 255}); got != "#336699" {
		t.Errorf("opaque: got %s", got)
	}
	if got := FormatColor(color.NRGBA{G: 255, A: 0x80}); got != "#00ff0080" {
		t.Errorf("translucent: got %s", got)
	}
}

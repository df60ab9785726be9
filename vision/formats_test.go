// MODUL: formats_test
// ZWECK: Tests fuer Format-Erkennung und Dateiendungen
// INPUT: Test-Bytes mit verschiedenen Signaturen
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing
// HINWEISE: Testet Magic-Byte-Erkennung und IsImagePath

package vision

import (
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected ImageFormat
	}{
		{
			name:     "JPEG Magic Bytes",
			data:     []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
			expected: FormatJPEG,
		},
		{
			name:     "PNG Magic Bytes",
			data:     []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A},
			expected: FormatPNG,
		},
		{
			name:     "WebP Magic Bytes",
			data:     []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 'W', 'E', 'B', 'P'},
			expected: FormatWebP,
		},
		{
			name:     "RIFF ohne WEBP",
			data:     []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 'W', 'A', 'V', 'E'},
			expected: FormatUnknown,
		},
		{
			name:     "BMP Magic Bytes",
			data:     []byte{'B', 'M', 0x36, 0x00, 0x00, 0x00},
			expected: FormatBMP,
		},
		{
			name:     "TIFF Little Endian",
			data:     []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00},
			expected: FormatTIFF,
		},
		{
			name:     "TIFF Big Endian",
			data:     []byte{'M', 'M', 0x00, 0x2A, 0x00, 0x08},
			expected: FormatTIFF,
		},
		{
			name:     "GIF Magic Bytes",
			data:     []byte("GIF89a"),
			expected: FormatGIF,
		},
		{
			name:     "Zu kurze Daten",
			data:     []byte{0xFF, 0xD8},
			expected: FormatUnknown,
		},
		{
			name:     "Leere Daten",
			data:     []byte{},
			expected: FormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data); got != tt.expected {
				t.Errorf("DetectFormat() = %v, erwartet %v", got, tt.expected)
			}
		})
	}
}

func TestIsImagePath(t *testing.T) {
	cases := map[string]bool{
		"AB123.jpg":        true,
		"AB123.JPEG":       true,
		"a/b/XY99.png":     true,
		"scan.TIF":         true,
		"plate.webp":       true,
		"plate.bmp":        true,
		"notes.txt":        false,
		"archive.zip":      false,
		"noext":            false,
		"animation.gif":    false,
		".hidden.png.json": false,
	}

	for path, want := range cases {
		if got := IsImagePath(path); got != want {
			t.Errorf("IsImagePath(%q) = %v, erwartet %v", path, got, want)
		}
	}
}

func TestMimeType(t *testing.T) {
	if got := FormatPNG.MimeType(); got != "image/png" {
		t.Errorf("MimeType() = %v, erwartet image/png", got)
	}
	if got := FormatUnknown.MimeType(); got != "application/octet-stream" {
		t.Errorf("MimeType() = %v, erwartet application/octet-stream", got)
	}
}

func TestFormatFromPath(t *testing.T) {
	cases := map[string]ImageFormat{
		"AB123.JPG": FormatJPEG,
		"scan.tiff": FormatTIFF,
		"plate.bmp": FormatBMP,
		"anim.gif":  FormatUnknown,
		"notes.txt": FormatUnknown,
		"noext":     FormatUnknown,
	}

	for path, want := range cases {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %v, erwartet %v", path, got, want)
		}
	}
}

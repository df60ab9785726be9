// MODUL: formats
// ZWECK: Bildformat-Erkennung fuer Datensatz-Bilder
// INPUT: Bild-Bytes oder Dateiendung
// OUTPUT: ImageFormat, Fehler bei unbekanntem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Magic-Bytes-basierte Erkennung, JPEG/PNG/GIF/BMP/TIFF/WebP

package vision

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
)

// ImageFormat repraesentiert ein unterstuetztes Bildformat
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatGIF     ImageFormat = "gif"
	FormatBMP     ImageFormat = "bmp"
	FormatTIFF    ImageFormat = "tiff"
	FormatWebP    ImageFormat = "webp"
	FormatUnknown ImageFormat = "unknown"
)

// Magic-Byte-Signaturen fuer Bildformate
var (
	magicJPEG     = []byte{0xFF, 0xD8, 0xFF}
	magicPNG      = []byte{0x89, 0x50, 0x4E, 0x47}
	magicGIF      = []byte("GIF8")
	magicBMP      = []byte("BM")
	magicTIFFLE   = []byte{'I', 'I', 0x2A, 0x00}
	magicTIFFBE   = []byte{'M', 'M', 0x00, 0x2A}
	magicWebP     = []byte("RIFF")
	magicWebPMark = []byte("WEBP")
)

// ErrUnknownFormat wird zurueckgegeben wenn Format nicht erkannt wurde
var ErrUnknownFormat = errors.New("unknown image format")

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) ImageFormat {
	switch {
	case len(data) < 4:
		return FormatUnknown
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicGIF):
		return FormatGIF
	case bytes.HasPrefix(data, magicTIFFLE), bytes.HasPrefix(data, magicTIFFBE):
		return FormatTIFF
	case bytes.HasPrefix(data, magicWebP) && len(data) >= 12 && bytes.Equal(data[8:12], magicWebPMark):
		return FormatWebP
	case bytes.HasPrefix(data, magicBMP):
		return FormatBMP
	}

	return FormatUnknown
}

// extensions bildet Dateiendungen auf Formate ab, die im Datensatz erwartet werden
var extensions = map[string]ImageFormat{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".bmp":  FormatBMP,
	".webp": FormatWebP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
}

// IsImagePath prueft die Dateiendung (ohne Beachtung der Gross-/Kleinschreibung)
func IsImagePath(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FormatFromPath bestimmt das Format aus der Dateiendung
func FormatFromPath(path string) ImageFormat {
	if f, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return FormatUnknown
}

// MimeType gibt den MIME-Type fuer ein Format zurueck
func (f ImageFormat) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// String implementiert Stringer Interface
func (f ImageFormat) String() string {
	return string(f)
}

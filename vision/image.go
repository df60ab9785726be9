// MODUL: image
// ZWECK: Bild-Lade- und Skalierungsfunktionen fuer die Merkmalsextraktion
// INPUT: Dateipfade, Bytes oder image.Image, Zielgroesse
// OUTPUT: Graustufenbilder und Merkmalsmatrix (eine Zeile pro Bild)
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadGray und Features
// ABHAENGIGKEITEN: golang.org/x/image/draw, x/image/{bmp,tiff,webp}, gonum/mat
// HINWEISE: Graustufen nach ITU-R 601 (wie Mode "L"), bilineare Skalierung

package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	// Standard-Decoder registrieren
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gonum.org/v1/gonum/mat"
)

// ErrImageDecode wird von allen Dekodierfehlern erfuellt
var ErrImageDecode = errors.New("image decode failed")

// ImageDecodeError enthaelt den Pfad des fehlerhaften Bildes
type ImageDecodeError struct {
	Path string
	Err  error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("decode image %s: %v", e.Path, e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}

func (e *ImageDecodeError) Is(target error) bool {
	return target == ErrImageDecode
}

// LoadGray laedt ein Bild von einem Dateipfad als Graustufenbild
func LoadGray(path string) (*image.Gray, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ImageDecodeError{Path: path, Err: err}
	}

	img, err := DecodeGray(data)
	if err != nil {
		return nil, &ImageDecodeError{Path: path, Err: err}
	}

	return img, nil
}

// DecodeGray dekodiert Bild-Bytes und konvertiert zu Graustufen
func DecodeGray(data []byte) (*image.Gray, error) {
	if format := DetectFormat(data); format == FormatUnknown {
		return nil, ErrUnknownFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return ToGray(img), nil
}

// ToGray konvertiert ein beliebiges image.Image zu *image.Gray.
// Der Ursprung wird auf (0,0) verschoben.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}

	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// Resize skaliert ein Graustufenbild bilinear auf exakt width x height
func Resize(img *image.Gray, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size: %dx%d", width, height)
	}

	if b := img.Bounds(); b.Dx() == width && b.Dy() == height {
		return img, nil
	}

	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// Pixels gibt die Intensitaeten zeilenweise im Bereich [0,1] zurueck
func Pixels(img *image.Gray) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for _, p := range row {
			out = append(out, float64(p)/255.0)
		}
	}
	return out
}

// FromImage liefert den Merkmalsvektor eines bereits dekodierten Bildes
func FromImage(img image.Image, width, height int) ([]float64, error) {
	resized, err := Resize(ToGray(img), width, height)
	if err != nil {
		return nil, err
	}
	return Pixels(resized), nil
}

// Features laedt alle Bilder und baut eine Matrix mit einer Zeile pro Bild
// und width*height Spalten. Leere Eingaben ergeben eine leere Matrix.
func Features(paths []string, width, height int) (*mat.Dense, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size: %dx%d", width, height)
	}

	if len(paths) == 0 {
		return &mat.Dense{}, nil
	}

	cols := width * height
	data := make([]float64, 0, len(paths)*cols)
	for _, path := range paths {
		img, err := LoadGray(path)
		if err != nil {
			return nil, err
		}

		resized, err := Resize(img, width, height)
		if err != nil {
			return nil, &ImageDecodeError{Path: path, Err: err}
		}

		data = append(data, Pixels(resized)...)
	}

	return mat.NewDense(len(paths), cols, data), nil
}

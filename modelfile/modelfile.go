// Package modelfile stores a trained model, its configuration and the pixel
// normalization statistics in a single safetensors file.
package modelfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/mat"

	"github.com/animus/plateocr/labels"
	"github.com/animus/plateocr/model"
	"github.com/animus/plateocr/vision"
)

// Schema identifies the layout of Config.
const Schema = "demo.car_plate_ocr.model.v2"

// Format is recorded in the file metadata and in artifact metadata.
const Format = "plateocr"

// Ext is the file extension of model files.
const Ext = ".safetensors"

// ErrCorruptArtifact is returned for files that cannot be decoded into a
// consistent model.
var ErrCorruptArtifact = errors.New("corrupt model artifact")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptArtifact, fmt.Sprintf(format, args...))
}

// Config describes a trained model. Fields are declared in key order so the
// encoded JSON has sorted keys.
type Config struct {
	HiddenSize  int               `json:"hidden_size"`
	ImageHeight int               `json:"image_height"`
	ImageWidth  int               `json:"image_width"`
	MaxLabelLen int               `json:"max_label_len"`
	PadToken    string            `json:"pad_token"`
	PixelMean   *float64          `json:"pixel_mean,omitempty"`
	PixelStd    *float64          `json:"pixel_std,omitempty"`
	Schema      string            `json:"schema"`
	Seed        int64             `json:"seed"`
	Vocab       labels.Vocabulary `json:"vocab"`
}

// Pad returns the configured pad token, falling back to labels.Pad.
func (c Config) Pad() string {
	if c.PadToken == "" {
		return labels.Pad
	}
	return c.PadToken
}

// Default input size for configurations that do not record one.
const (
	DefaultImageWidth  = 96
	DefaultImageHeight = 24
)

// Size returns the input image size. Missing dimensions fall back to
// DefaultImageWidth and DefaultImageHeight.
func (c Config) Size() (width, height int) {
	width, height = c.ImageWidth, c.ImageHeight
	if width <= 0 {
		width = DefaultImageWidth
	}
	if height <= 0 {
		height = DefaultImageHeight
	}
	return width, height
}

// Stats returns the stored normalization, defaulting to mean 0 and std 1.
func (c Config) Stats() vision.Stats {
	s := vision.Identity
	if c.PixelMean != nil {
		s.Mean = *c.PixelMean
	}
	if c.PixelStd != nil {
		s.Std = *c.PixelStd
	}
	return s
}

// Model bundles configuration and parameters.
type Model struct {
	Config Config
	Params *model.Params
}

// IsModelFile reports whether name looks like a model file.
func IsModelFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Ext)
}

// Save writes m with the given statistics to path. The file is written to a
// temporary name in the same directory and renamed into place.
func Save(path string, m *Model, stats vision.Stats) error {
	if err := m.Params.Validate(); err != nil {
		return err
	}
	for _, tok := range m.Config.Vocab {
		if !utf8.ValidString(tok) {
			return fmt.Errorf("vocabulary token %q is not valid UTF-8", tok)
		}
	}

	cfg := m.Config
	cfg.PixelMean = &stats.Mean
	cfg.PixelStd = &stats.Std
	if cfg.Schema == "" {
		cfg.Schema = Schema
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var buf bytes.Buffer
	metadata := map[string]string{
		"config_json": string(configJSON),
		"format":      Format,
	}
	if err := writeSafetensors(&buf, tensors(m.Params), metadata); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".model-*.partial")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}

// Load reads a model file and returns the model and its stored statistics.
func Load(path string) (*Model, vision.Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vision.Stats{}, err
	}

	m, err := Decode(data)
	if err != nil {
		return nil, vision.Stats{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, m.Config.Stats(), nil
}

// Decode parses an in-memory model file.
func Decode(data []byte) (*Model, error) {
	ts, metadata, err := readSafetensors(data)
	if err != nil {
		return nil, err
	}

	raw, ok := metadata["config_json"]
	if !ok {
		return nil, corrupt("missing config_json")
	}

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, corrupt("config_json: %v", err)
	}
	if len(cfg.Vocab) == 0 {
		return nil, corrupt("empty vocabulary")
	}

	params, err := fromTensors(ts, cfg)
	if err != nil {
		return nil, err
	}

	return &Model{Config: cfg, Params: params}, nil
}

func tensors(p *model.Params) []tensor {
	features, hidden, positions, vocab := p.Dims()

	b2 := make([]float32, 0, positions*vocab)
	w2 := make([]float32, 0, positions*vocab*hidden)
	for pos := range positions {
		b2 = appendFloat32(b2, p.B2[pos])
		w2 = appendFloat32(w2, p.W2[pos].RawMatrix().Data)
	}

	return []tensor{
		{Name: "w1", Shape: []int64{int64(hidden), int64(features)}, Data: appendFloat32(nil, p.W1.RawMatrix().Data)},
		{Name: "b1", Shape: []int64{int64(hidden)}, Data: appendFloat32(nil, p.B1)},
		{Name: "w2", Shape: []int64{int64(positions), int64(vocab), int64(hidden)}, Data: w2},
		{Name: "b2", Shape: []int64{int64(positions), int64(vocab)}, Data: b2},
	}
}

func fromTensors(ts map[string]tensor, cfg Config) (*model.Params, error) {
	for _, name := range []string{"w1", "b1", "w2", "b2"} {
		if _, ok := ts[name]; !ok {
			return nil, corrupt("missing tensor %s", name)
		}
	}

	w1, b1, w2, b2 := ts["w1"], ts["b1"], ts["w2"], ts["b2"]
	if len(w1.Shape) != 2 || len(b1.Shape) != 1 || len(w2.Shape) != 3 || len(b2.Shape) != 2 {
		return nil, corrupt("unexpected tensor rank")
	}

	hidden, features := int(w1.Shape[0]), int(w1.Shape[1])
	width, height := cfg.Size()
	positions, vocab := int(w2.Shape[0]), int(w2.Shape[1])

	switch {
	case hidden == 0 || features == 0 || positions == 0:
		return nil, corrupt("empty tensor dimensions")
	case int(b1.Shape[0]) != hidden, int(w2.Shape[2]) != hidden:
		return nil, corrupt("hidden size mismatch")
	case int(b2.Shape[0]) != positions, int(b2.Shape[1]) != vocab:
		return nil, corrupt("b2 shape %v does not match w2 %v", b2.Shape, w2.Shape)
	case vocab != len(cfg.Vocab):
		return nil, corrupt("vocabulary has %d entries, heads have %d", len(cfg.Vocab), vocab)
	case cfg.MaxLabelLen != 0 && positions != cfg.MaxLabelLen:
		return nil, corrupt("max_label_len %d, heads %d", cfg.MaxLabelLen, positions)
	case cfg.HiddenSize != 0 && hidden != cfg.HiddenSize:
		return nil, corrupt("hidden_size %d, w1 has %d rows", cfg.HiddenSize, hidden)
	case features != width*height:
		return nil, corrupt("image %dx%d does not match %d features", width, height, features)
	}

	p := &model.Params{
		W1: mat.NewDense(hidden, features, toFloat64(w1.Data)),
		B1: toFloat64(b1.Data),
		W2: make([]*mat.Dense, positions),
		B2: make([][]float64, positions),
	}

	head := vocab * hidden
	for pos := range positions {
		p.W2[pos] = mat.NewDense(vocab, hidden, toFloat64(w2.Data[pos*head:(pos+1)*head]))
		p.B2[pos] = toFloat64(b2.Data[pos*vocab : (pos+1)*vocab])
	}

	return p, p.Validate()
}

func appendFloat32(dst []float32, src []float64) []float32 {
	for _, v := range src {
		dst = append(dst, float32(v))
	}
	return dst
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

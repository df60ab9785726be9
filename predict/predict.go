// Package predict turns images into label text using a trained model.
package predict

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/animus/plateocr/labels"
	"github.com/animus/plateocr/modelfile"
	"github.com/animus/plateocr/vision"
)

// ErrInvalidVocabulary is returned for models without a vocabulary.
var ErrInvalidVocabulary = errors.New("model_invalid_vocab")

// Input is one image to recognize. Label is the ground truth when known.
type Input struct {
	Path  string
	Image image.Image
	Label string
}

// Prediction is the recognized text and the lowest per-position probability
// among the returned characters.
type Prediction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Predictor recognizes text in images.
type Predictor interface {
	Predict(context.Context, Input) (Prediction, error)
}

// Model predicts with a trained network.
type Model struct {
	model *modelfile.Model
	stats vision.Stats
}

// New returns a predictor for m normalized with stats.
func New(m *modelfile.Model, stats vision.Stats) (*Model, error) {
	if len(m.Config.Vocab) == 0 {
		return nil, ErrInvalidVocabulary
	}
	if err := m.Params.Validate(); err != nil {
		return nil, err
	}
	return &Model{model: m, stats: stats}, nil
}

// Load reads a model file and returns a predictor for it.
func Load(path string) (*Model, error) {
	m, stats, err := modelfile.Load(path)
	if err != nil {
		return nil, err
	}
	return New(m, stats)
}

// Config returns the configuration of the underlying model.
func (m *Model) Config() modelfile.Config {
	return m.model.Config
}

// Predict decodes the image at in.Path, or in.Image when it is set, resized
// to the dimensions the model was trained on.
func (m *Model) Predict(ctx context.Context, in Input) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	width, height := m.model.Config.Size()
	var features []float64
	var err error
	if in.Image != nil {
		features, err = vision.FromImage(in.Image, width, height)
	} else {
		var img *image.Gray
		img, err = vision.LoadGray(in.Path)
		if err == nil {
			features, err = vision.FromImage(img, width, height)
		}
	}
	if err != nil {
		return Prediction{}, err
	}

	return m.PredictFeatures(features)
}

// PredictFeatures runs the network on one raw feature vector with values in
// [0,1]. The vector is normalized with the stored statistics.
func (m *Model) PredictFeatures(features []float64) (Prediction, error) {
	p := m.model.Params
	want, _, _, _ := p.Dims()
	if len(features) != want {
		return Prediction{}, fmt.Errorf("got %d features, model expects %d", len(features), want)
	}

	x := append([]float64(nil), features...)
	m.stats.ApplyVector(x)

	act := p.Forward(mat.NewDense(1, len(x), x))
	vocab := m.model.Config.Vocab

	indices := make([]int, len(act.Probs))
	confs := make([]float64, len(act.Probs))
	for pos, probs := range act.Probs {
		row := probs.RawRowView(0)
		idx := max(0, min(len(vocab)-1, floats.MaxIdx(row)))
		indices[pos] = idx
		confs[pos] = row[idx]
	}

	tokens := labels.TrimPad(labels.Tokens(indices, vocab), m.model.Config.Pad())
	if len(tokens) == 0 {
		return Prediction{}, nil
	}

	return Prediction{Text: strings.Join(tokens, ""), Confidence: floats.Min(confs[:len(tokens)])}, nil
}

// PassThrough echoes the ground-truth label. It is used when no trained model
// is available so that evaluation still produces previews.
type PassThrough struct{}

func (PassThrough) Predict(_ context.Context, in Input) (Prediction, error) {
	return Prediction{Text: in.Label, Confidence: 1.0}, nil
}

package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when parameter tensors disagree on their dimensions.
var ErrShape = errors.New("parameter shape mismatch")

// Params holds the shared hidden projection and one classification head per
// sequence position. Heads read the same hidden activations and never share
// weights with each other.
type Params struct {
	W1 *mat.Dense   // [hidden x features]
	B1 []float64    // [hidden]
	W2 []*mat.Dense // [positions][vocab x hidden]
	B2 [][]float64  // [positions][vocab]
}

// NewRand returns the random stream for one run. Initialization and
// shuffling draw from the same stream so a seed fixes the whole run.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// New draws Gaussian weights scaled by 1/sqrt(fan_in); biases start at zero.
// W1 is drawn first in row-major order, then the heads position by position.
func New(features, hidden, positions, vocab int, rng *rand.Rand) *Params {
	p := &Params{
		W1: mat.NewDense(hidden, features, gaussian(rng, hidden*features, features)),
		B1: make([]float64, hidden),
		W2: make([]*mat.Dense, positions),
		B2: make([][]float64, positions),
	}

	for pos := range positions {
		p.W2[pos] = mat.NewDense(vocab, hidden, gaussian(rng, vocab*hidden, hidden))
		p.B2[pos] = make([]float64, vocab)
	}

	return p
}

func gaussian(rng *rand.Rand, n, fanIn int) []float64 {
	scale := 1.0 / math.Sqrt(float64(max(1, fanIn)))
	out := make([]float64, n)
	for i := range out {
		out[i] = round32(rng.NormFloat64() * scale)
	}
	return out
}

// round32 keeps values representable as float32 so that persisted tensors
// reload bit-identically.
func round32(v float64) float64 {
	return float64(float32(v))
}

// Dims reports the model dimensions derived from the tensors.
func (p *Params) Dims() (features, hidden, positions, vocab int) {
	hidden, features = p.W1.Dims()
	positions = len(p.W2)
	if positions > 0 {
		vocab, _ = p.W2[0].Dims()
	}
	return features, hidden, positions, vocab
}

// Validate checks that all tensors agree with W1 and the first head.
func (p *Params) Validate() error {
	if p.W1 == nil || p.W1.IsEmpty() {
		return fmt.Errorf("%w: w1 is empty", ErrShape)
	}
	if len(p.W2) == 0 {
		return fmt.Errorf("%w: no heads", ErrShape)
	}

	_, hidden, positions, vocab := p.Dims()
	if len(p.B1) != hidden {
		return fmt.Errorf("%w: b1 has %d entries, want %d", ErrShape, len(p.B1), hidden)
	}
	if len(p.B2) != positions {
		return fmt.Errorf("%w: b2 has %d rows, want %d", ErrShape, len(p.B2), positions)
	}

	for pos := range positions {
		if p.W2[pos] == nil {
			return fmt.Errorf("%w: w2[%d] is missing", ErrShape, pos)
		}
		if r, c := p.W2[pos].Dims(); r != vocab || c != hidden {
			return fmt.Errorf("%w: w2[%d] is %dx%d, want %dx%d", ErrShape, pos, r, c, vocab, hidden)
		}
		if len(p.B2[pos]) != vocab {
			return fmt.Errorf("%w: b2[%d] has %d entries, want %d", ErrShape, pos, len(p.B2[pos]), vocab)
		}
	}

	return nil
}

// Clone returns a deep copy that shares no memory with p.
func (p *Params) Clone() *Params {
	c := &Params{
		W1: mat.DenseCopyOf(p.W1),
		B1: append([]float64(nil), p.B1...),
		W2: make([]*mat.Dense, len(p.W2)),
		B2: make([][]float64, len(p.B2)),
	}
	for i := range p.W2 {
		c.W2[i] = mat.DenseCopyOf(p.W2[i])
	}
	for i := range p.B2 {
		c.B2[i] = append([]float64(nil), p.B2[i]...)
	}
	return c
}

// zeroLike returns zero tensors shaped like p, used as a gradient buffer.
func (p *Params) zeroLike() *Params {
	features, hidden, positions, vocab := p.Dims()
	g := &Params{
		W1: mat.NewDense(hidden, features, nil),
		B1: make([]float64, hidden),
		W2: make([]*mat.Dense, positions),
		B2: make([][]float64, positions),
	}
	for pos := range positions {
		g.W2[pos] = mat.NewDense(vocab, hidden, nil)
		g.B2[pos] = make([]float64, vocab)
	}
	return g
}

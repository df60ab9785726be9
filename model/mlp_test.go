package model

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// fixture builds a small labeled batch with deterministic contents.
func fixture(n, features, positions, vocab int) (*mat.Dense, [][]int) {
	rng := NewRand(7)
	x := mat.NewDense(n, features, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, x)

	y := make([][]int, n)
	for i := range y {
		y[i] = make([]int, positions)
		for p := range y[i] {
			y[i][p] = rng.IntN(vocab)
		}
	}
	return x, y
}

// flatten packs every parameter into one vector in a fixed order.
func flatten(p *Params) []float64 {
	var out []float64
	out = append(out, p.W1.RawMatrix().Data...)
	out = append(out, p.B1...)
	for i := range p.W2 {
		out = append(out, p.W2[i].RawMatrix().Data...)
		out = append(out, p.B2[i]...)
	}
	return out
}

// unflatten writes v back into p using the order of flatten.
func unflatten(p *Params, v []float64) {
	off := 0
	take := func(dst []float64) {
		off += copy(dst, v[off:off+len(dst)])
	}
	take(p.W1.RawMatrix().Data)
	take(p.B1)
	for i := range p.W2 {
		take(p.W2[i].RawMatrix().Data)
		take(p.B2[i])
	}
}

func TestNewShapes(t *testing.T) {
	p := New(12, 8, 5, 4, NewRand(1))
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}

	features, hidden, positions, vocab := p.Dims()
	if features != 12 || hidden != 8 || positions != 5 || vocab != 4 {
		t.Errorf("Dims() = %d %d %d %d", features, hidden, positions, vocab)
	}

	for _, b := range append([][]float64{p.B1}, p.B2...) {
		for _, v := range b {
			if v != 0 {
				t.Fatal("biases must start at zero")
			}
		}
	}
}

func TestNewDeterministic(t *testing.T) {
	a := New(10, 6, 3, 5, NewRand(17))
	b := New(10, 6, 3, 5, NewRand(17))
	c := New(10, 6, 3, 5, NewRand(18))

	if !floats.Equal(flatten(a), flatten(b)) {
		t.Error("same seed produced different weights")
	}
	if floats.Equal(flatten(a), flatten(c)) {
		t.Error("different seeds produced identical weights")
	}
}

func TestInitScale(t *testing.T) {
	p := New(400, 64, 1, 3, NewRand(3))
	data := p.W1.RawMatrix().Data

	var sq float64
	for _, v := range data {
		sq += v * v
	}
	std := math.Sqrt(sq / float64(len(data)))
	if want := 1 / math.Sqrt(400); math.Abs(std-want) > 0.1*want {
		t.Errorf("w1 std = %f, want about %f", std, want)
	}
}

func TestForwardProbabilities(t *testing.T) {
	p := New(6, 5, 3, 4, NewRand(2))
	x, _ := fixture(7, 6, 3, 4)

	act := p.Forward(x)
	if len(act.Probs) != 3 {
		t.Fatalf("got %d heads, want 3", len(act.Probs))
	}

	for pos, probs := range act.Probs {
		r, c := probs.Dims()
		if r != 7 || c != 4 {
			t.Fatalf("head %d is %dx%d", pos, r, c)
		}
		for i := range r {
			if s := floats.Sum(probs.RawRowView(i)); math.Abs(s-1) > 1e-9 {
				t.Errorf("head %d row %d sums to %f", pos, i, s)
			}
		}
	}

	for _, v := range act.H.RawMatrix().Data {
		if v < 0 {
			t.Fatal("hidden activations must be non-negative")
		}
	}
}

func TestEvaluateEmpty(t *testing.T) {
	p := New(4, 4, 2, 3, NewRand(1))
	if m := p.Evaluate(&mat.Dense{}, nil); m != (Metrics{}) {
		t.Errorf("Evaluate() = %+v, want zero metrics", m)
	}
}

func TestEvaluateAccuracy(t *testing.T) {
	// one feature, identity-like hidden layer and heads that always choose
	// class 1 at position 0 and class 0 at position 1
	p := &Params{
		W1: mat.NewDense(1, 1, []float64{1}),
		B1: []float64{1},
		W2: []*mat.Dense{
			mat.NewDense(2, 1, []float64{0, 10}),
			mat.NewDense(2, 1, []float64{10, 0}),
		},
		B2: [][]float64{{0, 0}, {0, 0}},
	}
	x := mat.NewDense(2, 1, []float64{0, 0})
	y := [][]int{{1, 0}, {1, 1}}

	m := p.Evaluate(x, y)
	if m.FullAccuracy != 0.5 {
		t.Errorf("FullAccuracy = %f, want 0.5", m.FullAccuracy)
	}
	if m.CharAccuracy != 0.75 {
		t.Errorf("CharAccuracy = %f, want 0.75", m.CharAccuracy)
	}
	if m.Loss <= 0 {
		t.Errorf("Loss = %f, want > 0", m.Loss)
	}
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	p := New(5, 4, 3, 4, NewRand(11))
	// shift the hidden bias so no pre-activation sits on the relu kink
	for i := range p.B1 {
		p.B1[i] = 0.3
	}
	x, y := fixture(6, 5, 3, 4)

	grads, _ := p.Backward(x, y)
	analytic := flatten(grads)

	probe := p.Clone()
	loss := func(v []float64) float64 {
		unflatten(probe, v)
		return probe.Evaluate(x, y).Loss
	}

	numeric := fd.Gradient(nil, loss, flatten(p), &fd.Settings{
		Formula: fd.Central,
		Step:    1e-6,
	})

	for i := range numeric {
		if diff := math.Abs(numeric[i] - analytic[i]); diff > 1e-5*max(1, math.Abs(numeric[i])) {
			t.Fatalf("gradient %d: numeric %g, analytic %g", i, numeric[i], analytic[i])
		}
	}
}

func TestBackwardDoesNotModify(t *testing.T) {
	p := New(5, 4, 2, 3, NewRand(5))
	before := flatten(p.Clone())
	x, y := fixture(4, 5, 2, 3)

	p.Backward(x, y)
	if !floats.Equal(before, flatten(p)) {
		t.Error("Backward modified parameters")
	}
}

func TestStepReducesLoss(t *testing.T) {
	p := New(8, 16, 2, 3, NewRand(9))
	x, y := fixture(12, 8, 2, 3)

	start := p.Evaluate(x, y).Loss
	for range 200 {
		p.Step(x, y, 0.2)
	}
	end := p.Evaluate(x, y).Loss

	if end >= start {
		t.Errorf("loss did not decrease: %f -> %f", start, end)
	}
}

func TestStepKeepsFloat32Precision(t *testing.T) {
	p := New(6, 5, 2, 3, NewRand(4))
	x, y := fixture(5, 6, 2, 3)
	p.Step(x, y, 0.37)

	for i, v := range flatten(p) {
		if float64(float32(v)) != v {
			t.Fatalf("parameter %d = %v is not float32 representable", i, v)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := New(3, 3, 2, 2, NewRand(1))
	c := p.Clone()

	p.W1.Set(0, 0, 42)
	p.B1[0] = 42
	p.W2[1].Set(0, 0, 42)
	p.B2[1][0] = 42

	if c.W1.At(0, 0) == 42 || c.B1[0] == 42 || c.W2[1].At(0, 0) == 42 || c.B2[1][0] == 42 {
		t.Error("Clone shares memory with the original")
	}
}

func TestValidate(t *testing.T) {
	p := New(3, 4, 2, 5, NewRand(1))
	p.B2[1] = p.B2[1][:2]
	if err := p.Validate(); err == nil {
		t.Error("expected shape error for short b2 row")
	}

	if err := (&Params{}).Validate(); err == nil {
		t.Error("expected error for empty params")
	}
}

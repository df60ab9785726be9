package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// logEps keeps the cross-entropy finite when a true class has probability 0.
const logEps = 1e-9

// Activations are the intermediate results of a forward pass.
type Activations struct {
	Z1    *mat.Dense   // hidden pre-activation [n x hidden]
	H     *mat.Dense   // relu(Z1)
	Probs []*mat.Dense // per position softmax [n x vocab]
}

// Metrics summarizes a model on a labeled tensor.
type Metrics struct {
	Loss         float64
	FullAccuracy float64
	CharAccuracy float64
}

// Forward runs the network on every row of x.
func (p *Params) Forward(x *mat.Dense) Activations {
	n, _ := x.Dims()
	_, hidden, positions, vocab := p.Dims()

	z1 := mat.NewDense(n, hidden, nil)
	z1.Mul(x, p.W1.T())
	addBias(z1, p.B1)

	h := mat.NewDense(n, hidden, nil)
	h.Apply(func(_, _ int, v float64) float64 {
		return max(v, 0)
	}, z1)

	probs := make([]*mat.Dense, positions)
	for pos := range positions {
		logits := mat.NewDense(n, vocab, nil)
		logits.Mul(h, p.W2[pos].T())
		addBias(logits, p.B2[pos])
		softmaxRows(logits)
		probs[pos] = logits
	}

	return Activations{Z1: z1, H: h, Probs: probs}
}

// Evaluate returns mean loss, full-sequence accuracy and character accuracy.
// An empty tensor yields zero metrics.
func (p *Params) Evaluate(x *mat.Dense, y [][]int) Metrics {
	if x == nil || x.IsEmpty() || len(y) == 0 {
		return Metrics{}
	}

	act := p.Forward(x)
	n := len(y)
	positions := len(act.Probs)

	var loss float64
	var charCorrect int
	allCorrect := make([]bool, n)
	for i := range allCorrect {
		allCorrect[i] = true
	}

	for pos, probs := range act.Probs {
		loss += crossEntropy(probs, y, pos)
		for i := range n {
			pred := floats.MaxIdx(probs.RawRowView(i))
			if pred == y[i][pos] {
				charCorrect++
			} else {
				allCorrect[i] = false
			}
		}
	}

	var full int
	for _, ok := range allCorrect {
		if ok {
			full++
		}
	}

	return Metrics{
		Loss:         loss / float64(positions),
		FullAccuracy: float64(full) / float64(n),
		CharAccuracy: float64(charCorrect) / float64(n*positions),
	}
}

// Backward computes the mean loss of the batch and the gradients of every
// parameter. p is not modified.
func (p *Params) Backward(x *mat.Dense, y [][]int) (*Params, float64) {
	n, _ := x.Dims()
	_, hidden, _, _ := p.Dims()

	act := p.Forward(x)
	grads := p.zeroLike()
	dh := mat.NewDense(n, hidden, nil)
	contrib := mat.NewDense(n, hidden, nil)
	scale := 1.0 / float64(n)

	var loss float64
	for pos, probs := range act.Probs {
		loss += crossEntropy(probs, y, pos)

		// softmax cross-entropy: probs - one_hot(target), averaged over the batch
		dlogits := probs
		for i := range n {
			row := dlogits.RawRowView(i)
			row[y[i][pos]] -= 1
			floats.Scale(scale, row)
		}

		grads.W2[pos].Mul(dlogits.T(), act.H)
		sumRows(grads.B2[pos], dlogits)

		contrib.Mul(dlogits, p.W2[pos])
		dh.Add(dh, contrib)
	}

	dh.Apply(func(i, j int, v float64) float64 {
		if act.Z1.At(i, j) <= 0 {
			return 0
		}
		return v
	}, dh)

	grads.W1.Mul(dh.T(), x)
	sumRows(grads.B1, dh)

	return grads, loss / float64(len(act.Probs))
}

// Step performs one minibatch of plain gradient descent and returns the
// batch loss measured before the update.
func (p *Params) Step(x *mat.Dense, y [][]int, lr float64) float64 {
	grads, loss := p.Backward(x, y)

	descend(p.W1, grads.W1, lr)
	descendVec(p.B1, grads.B1, lr)
	for pos := range p.W2 {
		descend(p.W2[pos], grads.W2[pos], lr)
		descendVec(p.B2[pos], grads.B2[pos], lr)
	}

	return loss
}

func descend(w, g *mat.Dense, lr float64) {
	w.Apply(func(i, j int, v float64) float64 {
		return round32(v - lr*g.At(i, j))
	}, w)
}

func descendVec(w, g []float64, lr float64) {
	for i := range w {
		w[i] = round32(w[i] - lr*g[i])
	}
}

// crossEntropy is the batch mean of -log(p_true + eps) at one position.
func crossEntropy(probs *mat.Dense, y [][]int, pos int) float64 {
	var sum float64
	for i := range y {
		sum -= math.Log(probs.At(i, y[i][pos]) + logEps)
	}
	return sum / float64(len(y))
}

func addBias(m *mat.Dense, bias []float64) {
	r, _ := m.Dims()
	for i := range r {
		floats.Add(m.RawRowView(i), bias)
	}
}

func sumRows(dst []float64, m *mat.Dense) {
	r, _ := m.Dims()
	for i := range dst {
		dst[i] = 0
	}
	for i := range r {
		floats.Add(dst, m.RawRowView(i))
	}
}

// softmaxRows replaces each row with its softmax, subtracting the row
// maximum first.
func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := range r {
		row := m.RawRowView(i)
		peak := floats.Max(row)
		var sum float64
		for j, v := range row {
			e := math.Exp(v - peak)
			row[j] = e
			sum += e
		}
		floats.Scale(1/sum, row)
	}
}

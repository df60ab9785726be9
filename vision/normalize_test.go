package vision

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestComputeStats(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{0, 1, 0, 1})
	s := ComputeStats(x)

	if s.Mean != 0.5 {
		t.Errorf("Mean = %f, erwartet 0.5", s.Mean)
	}
	// Populations-Standardabweichung, nicht Stichprobe
	if math.Abs(s.Std-0.5) > 1e-12 {
		t.Errorf("Std = %f, erwartet 0.5", s.Std)
	}
}

func TestComputeStatsConstant(t *testing.T) {
	s := ComputeStats(mat.NewDense(1, 3, []float64{0.3, 0.3, 0.3}))
	if s.Std != 1.0 {
		t.Errorf("Std = %f, erwartet 1.0 fuer konstante Merkmale", s.Std)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	if s := ComputeStats(&mat.Dense{}); s != Identity {
		t.Errorf("Stats = %+v, erwartet %+v", s, Identity)
	}
}

func TestApply(t *testing.T) {
	x := mat.NewDense(1, 3, []float64{0, 0.5, 1})
	Stats{Mean: 0.5, Std: 0.25}.Apply(x)

	want := []float64{-2, 0, 2}
	for j, w := range want {
		if got := x.At(0, j); math.Abs(got-w) > 1e-12 {
			t.Errorf("x[%d] = %f, erwartet %f", j, got, w)
		}
	}
}

func TestApplyVectorFloorsStd(t *testing.T) {
	v := []float64{1}
	Stats{Mean: 0, Std: 0}.ApplyVector(v)
	if v[0] != 1e6 {
		t.Errorf("v = %f, erwartet 1e6 bei std-Untergrenze 1e-6", v[0])
	}
}

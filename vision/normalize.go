// MODUL: normalize
// ZWECK: Normalisierungsstatistik ueber die Trainingsmerkmale
// INPUT: Merkmalsmatrix (gonum mat.Dense)
// OUTPUT: Stats (Mittelwert, Standardabweichung), normalisierte Matrix
// NEBENEFFEKTE: Apply normalisiert in-place
// ABHAENGIGKEITEN: gonum.org/v1/gonum/{mat,stat}
// HINWEISE: Skalare Statistik ueber alle Pixel, wird mit dem Modell gespeichert

package vision

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minStd ist die Untergrenze fuer die Standardabweichung
const minStd = 1e-6

// Stats enthaelt Mittelwert und Standardabweichung aller Pixel
type Stats struct {
	Mean float64
	Std  float64
}

// Identity laesst Merkmale unveraendert
var Identity = Stats{Mean: 0, Std: 1}

// ComputeStats berechnet die Populations-Statistik ueber die gesamte Matrix.
// Eine Standardabweichung unter 1e-6 wird durch 1.0 ersetzt.
func ComputeStats(x *mat.Dense) Stats {
	if x == nil || x.IsEmpty() {
		return Identity
	}

	r, c := x.Dims()
	values := make([]float64, 0, r*c)
	for i := range r {
		values = append(values, x.RawRowView(i)...)
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std < minStd {
		std = 1.0
	}

	return Stats{Mean: mean, Std: std}
}

// Divisor gibt die Standardabweichung mit Untergrenze 1e-6 zurueck
func (s Stats) Divisor() float64 {
	return max(minStd, s.Std)
}

// Apply normalisiert die Matrix in-place: (x - mean) / max(1e-6, std)
func (s Stats) Apply(x *mat.Dense) {
	if x == nil || x.IsEmpty() {
		return
	}

	std := s.Divisor()
	x.Apply(func(_, _ int, v float64) float64 {
		return (v - s.Mean) / std
	}, x)
}

// ApplyVector normalisiert einen einzelnen Merkmalsvektor in-place
func (s Stats) ApplyVector(v []float64) {
	std := s.Divisor()
	for i := range v {
		v[i] = (v[i] - s.Mean) / std
	}
}

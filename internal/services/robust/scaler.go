package robust

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrZeroWeight means every row of the cross-section was flagged as an outlier.
	ErrZeroWeight = errors.New("cross-section has zero total weight")
	// ErrZeroDispersion means a column has no weighted spread to scale by.
	ErrZeroDispersion = errors.New("factor column has zero weighted dispersion")
	ErrShapeMismatch  = errors.New("column length does not match weights")
)

// dispersionTol is the smallest sigma, relative to |mu|, treated as real spread.
const dispersionTol = 1e-12

// WeightedMoments returns the weighted mean and standard deviation of x.
// w must already be normalized to sum to one.
func WeightedMoments(x, w []float64) (mu, sigma float64) {
	for i := range x {
		mu += w[i] * x[i]
	}
	var v float64
	for i := range x {
		d := x[i] - mu
		v += w[i] * d * d
	}
	return mu, math.Sqrt(v)
}

// CrossSectionScaler standardizes factor columns with inclusion weights.
// Zero-weighted rows do not move the moments but are still transformed.
type CrossSectionScaler struct{}

func NewCrossSectionScaler() *CrossSectionScaler {
	return &CrossSectionScaler{}
}

// Scale returns z = (x - mu) / sigma for every row of every column. Inputs are
// left untouched.
func (s *CrossSectionScaler) Scale(columns [][]float64, weights []int) ([][]float64, error) {
	w, err := normalize(weights)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(columns))
	for c, col := range columns {
		if len(col) != len(w) {
			return nil, fmt.Errorf("%w: column %d has %d rows, %d weights", ErrShapeMismatch, c, len(col), len(w))
		}
		mu, sigma := WeightedMoments(col, w)
		if !(sigma > dispersionTol*math.Abs(mu)) || math.IsInf(sigma, 0) {
			return nil, fmt.Errorf("%w: column %d", ErrZeroDispersion, c)
		}
		z := make([]float64, len(col))
		for i, x := range col {
			z[i] = (x - mu) / sigma
		}
		out[c] = z
	}
	return out, nil
}

func normalize(weights []int) ([]float64, error) {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return nil, ErrZeroWeight
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = float64(w) / float64(total)
	}
	return out, nil
}

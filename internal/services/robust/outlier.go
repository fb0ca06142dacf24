package robust

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite is returned when a cross-section holds NaN or infinite returns.
var ErrNonFinite = errors.New("non-finite value in cross-section")

const (
	DefaultFenceMultiplier = 3.0
	DefaultMinCrossSection = 5
)

// Fence is a skew-adjusted boxplot interval; values outside [Lower, Upper] are outliers.
type Fence struct {
	Q1, Q3    float64
	Medcouple float64
	Lower     float64
	Upper     float64
}

// Contains reports whether x lies inside the fence, bounds included.
func (f Fence) Contains(x float64) bool {
	return x >= f.Lower && x <= f.Upper
}

// OutlierDetector flags returns outside the adjusted boxplot of Hubert and Vandervieren.
type OutlierDetector struct {
	a    float64
	minN int
}

func NewOutlierDetector(a float64, minN int) *OutlierDetector {
	if a <= 0 {
		a = DefaultFenceMultiplier
	}
	if minN <= 0 {
		minN = DefaultMinCrossSection
	}
	return &OutlierDetector{a: a, minN: minN}
}

// Fence computes the adjusted boxplot fence of returns. It fails with
// ErrInsufficientData for degenerate samples: fewer than the minimum number of
// rows, or every return identical.
func (d *OutlierDetector) Fence(returns []float64) (Fence, error) {
	if len(returns) < d.minN {
		return Fence{}, fmt.Errorf("%w: %d rows, need %d", ErrInsufficientData, len(returns), d.minN)
	}
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return Fence{}, ErrNonFinite
		}
	}

	y := sortedCopy(returns)
	mc, err := Medcouple(y)
	if err != nil {
		return Fence{}, err
	}
	q1, q3 := Percentile(y, 25), Percentile(y, 75)
	iqr := q3 - q1

	f := Fence{Q1: q1, Q3: q3, Medcouple: mc}
	if mc > 0 {
		f.Lower = q1 - d.a*math.Exp(-4*mc)*iqr
		f.Upper = q3 + d.a*math.Exp(3*mc)*iqr
	} else {
		f.Lower = q1 - d.a*math.Exp(-3*mc)*iqr
		f.Upper = q3 + d.a*math.Exp(4*mc)*iqr
	}
	return f, nil
}

// Weights returns, index-aligned with returns, 1 for rows inside the fence
// and 0 for outliers. Degenerate cross-sections keep every row.
func (d *OutlierDetector) Weights(returns []float64) ([]int, error) {
	w := make([]int, len(returns))
	for i := range w {
		w[i] = 1
	}

	f, err := d.Fence(returns)
	if errors.Is(err, ErrInsufficientData) {
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	for i, r := range returns {
		if !f.Contains(r) {
			w[i] = 0
		}
	}
	return w, nil
}

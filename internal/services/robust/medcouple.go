package robust

import (
	"errors"
	"sort"
)

// ErrInsufficientData is returned when a statistic needs more distinct values than given.
var ErrInsufficientData = errors.New("insufficient data")

// Medcouple returns the medcouple of xs, a skewness measure bounded in [-1, 1].
//
// Every pair with x_i <= m <= x_j is scored with
// h = ((x_j - m) - (m - x_i)) / (x_j - x_i), m being the sample median, and
// the result is the median of all scores. Pairs where both values equal the
// median score -1, 0 or 1 depending on their position in the tie block.
//
// The scores form a matrix that is sorted along both axes, so the median is
// found by weighted-median selection in O(n log n) without materializing it.
func Medcouple(xs []float64) (float64, error) {
	y := sortedCopy(xs)
	if len(y) < 2 || y[0] == y[len(y)-1] {
		return 0, ErrInsufficientData
	}
	k := newKernel(y)
	n := len(k.upper) * len(k.lower)
	if n%2 == 1 {
		return k.selectRank(n / 2), nil
	}
	return (k.selectRank(n/2-1) + k.selectRank(n/2)) / 2, nil
}

// kernel is the medcouple score matrix: rows walk the values above the median
// and columns the values below it, both ascending, so h is nondecreasing
// along rows and columns.
type kernel struct {
	upper []float64 // zeros first
	lower []float64 // zeros last
	ties  int
}

func newKernel(y []float64) *kernel {
	m := Median(y)
	k := &kernel{}
	for _, v := range y {
		z := v - m
		if z <= 0 {
			k.lower = append(k.lower, z)
		}
		if z >= 0 {
			k.upper = append(k.upper, z)
		}
		if z == 0 {
			k.ties++
		}
	}
	return k
}

func (k *kernel) at(i, j int) float64 {
	if off := len(k.lower) - k.ties; i < k.ties && j >= off {
		return tieSign(i, j-off, k.ties)
	}
	u, l := k.upper[i], k.lower[j]
	return (u + l) / (u - l)
}

// tieSign scores the cell (a, b) of the k x k block of median ties.
func tieSign(a, b, k int) float64 {
	switch {
	case a+b < k-1:
		return -1
	case a+b == k-1:
		return 0
	}
	return 1
}

// countBelow fills cnt[i] with the number of cells in row i that are below
// trial, or at most trial when inclusive, and returns the total.
func (k *kernel) countBelow(trial float64, inclusive bool, cnt []int) int {
	total, j := 0, len(k.lower)
	for i := range k.upper {
		for j > 0 {
			h := k.at(i, j-1)
			if h < trial || (inclusive && h == trial) {
				break
			}
			j--
		}
		cnt[i] = j
		total += j
	}
	return total
}

type weighted struct {
	v float64
	w int
}

// selectRank returns the rank-th smallest score, 0-based.
func (k *kernel) selectRank(rank int) float64 {
	rows, cols := len(k.upper), len(k.lower)
	left := make([]int, rows)
	right := make([]int, rows)
	for i := range right {
		right[i] = cols - 1
	}
	less := make([]int, rows)
	lessEq := make([]int, rows)
	mids := make([]weighted, 0, rows)

	for {
		active := 0
		mids = mids[:0]
		for i := 0; i < rows; i++ {
			if w := right[i] - left[i] + 1; w > 0 {
				active += w
				mids = append(mids, weighted{k.at(i, (left[i]+right[i])/2), w})
			}
		}
		if active <= rows {
			break
		}
		trial := weightedMedian(mids, active)

		switch below, upTo := k.countBelow(trial, false, less), k.countBelow(trial, true, lessEq); {
		case rank < below:
			for i := range right {
				right[i] = min(right[i], less[i]-1)
			}
		case rank < upTo:
			return trial
		default:
			for i := range left {
				left[i] = max(left[i], lessEq[i])
			}
		}
	}

	skipped := 0
	var rest []float64
	for i := 0; i < rows; i++ {
		skipped += left[i]
		for j := left[i]; j <= right[i]; j++ {
			rest = append(rest, k.at(i, j))
		}
	}
	sort.Float64s(rest)
	return rest[rank-skipped]
}

func weightedMedian(xs []weighted, total int) float64 {
	sort.Slice(xs, func(a, b int) bool { return xs[a].v < xs[b].v })
	acc := 0
	for _, x := range xs {
		acc += x.w
		if 2*acc >= total {
			return x.v
		}
	}
	return xs[len(xs)-1].v
}

package factors

import (
	"math"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
)

// Aligner joins a price series to itself at a business-day offset.
type Aligner struct {
	cal *calendar.Calendar
}

func NewAligner(cal *calendar.Calendar) *Aligner {
	return &Aligner{cal: cal}
}

// Shift keys each bar's adjusted close by the date n business days after it.
// bars must be ordered by date; if two bars land on the same shifted date
// (only possible for bars on non-business days) the later bar wins.
func (a *Aligner) Shift(bars []models.PriceBar, n int) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(bars))
	for _, b := range bars {
		out[a.cal.AddBusinessDays(b.Date, n)] = b.AdjClose
	}
	return out
}

// Lagged returns, index-aligned with bars, the adjusted close of the bar
// sitting exactly n business days earlier, or NaN when no bar sits there.
// A calendar that disagrees with the traded dates yields NaN, not an error.
func (a *Aligner) Lagged(bars []models.PriceBar, n int) []float64 {
	shifted := a.Shift(bars, n)
	out := make([]float64, len(bars))
	for i, b := range bars {
		v, ok := shifted[calendar.Day(b.Date)]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

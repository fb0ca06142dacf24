package factors

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
)

// ErrMalformedSeries is returned for price histories that cannot be aligned.
var ErrMalformedSeries = errors.New("malformed price series")

// Horizons holds the business-day offsets and fill limit used by the computer.
type Horizons struct {
	Return    int // lag of the daily return
	Short     int // recent end of the momentum window
	Long      int // distant end of the momentum window
	FillLimit int // max consecutive rows forward-filled in momentum
}

// DefaultHorizons returns 1-day returns, 20/260-day momentum and a fill limit of 5.
func DefaultHorizons() Horizons {
	return Horizons{Return: 1, Short: 20, Long: 260, FillLimit: 5}
}

// Computer derives raw factor records for one symbol at a time.
// It holds no mutable state and may be shared across goroutines.
type Computer struct {
	aligner  *Aligner
	resolver *Resolver
	h        Horizons
}

func NewComputer(cal *calendar.Calendar, resolver *Resolver, h Horizons) *Computer {
	return &Computer{aligner: NewAligner(cal), resolver: resolver, h: h}
}

// Compute returns the fully-defined factor rows of symbol. Rows missing any of
// return, market cap, price-to-book or momentum are dropped.
func (c *Computer) Compute(symbol string, bars []models.PriceBar, equity, shares []models.FundamentalSnapshot) ([]models.FactorRecord, error) {
	bars, err := normalizeBars(symbol, bars)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	dates := make([]time.Time, len(bars))
	for i, b := range bars {
		dates[i] = b.Date
	}

	ret := c.returns(bars)
	eq := c.resolver.Resolve(equity, dates)
	sh := c.resolver.Resolve(shares, dates)
	mom := c.momentum(bars)

	out := make([]models.FactorRecord, 0, len(bars))
	for i, b := range bars {
		mcap := b.Close * sh[i]
		pb := math.NaN()
		if eq[i] != 0 {
			pb = mcap / eq[i]
		}
		if !defined(ret[i]) || !defined(mcap) || !defined(pb) || !defined(mom[i]) {
			continue
		}
		out = append(out, models.FactorRecord{
			Symbol:      symbol,
			Date:        b.Date,
			Return:      ret[i],
			MarketCap:   mcap,
			PriceToBook: pb,
			Momentum:    mom[i],
		})
	}
	return out, nil
}

// Returns computes ln(adj[t]) - ln(adj[t - 1 business day]) for each bar.
func (c *Computer) Returns(symbol string, bars []models.PriceBar) ([]float64, error) {
	bars, err := normalizeBars(symbol, bars)
	if err != nil {
		return nil, err
	}
	return c.returns(bars), nil
}

// Momentum computes the forward-filled ln(adj[t-short]) - ln(adj[t-long]) series.
func (c *Computer) Momentum(symbol string, bars []models.PriceBar) ([]float64, error) {
	bars, err := normalizeBars(symbol, bars)
	if err != nil {
		return nil, err
	}
	return c.momentum(bars), nil
}

func (c *Computer) returns(bars []models.PriceBar) []float64 {
	lag := c.aligner.Lagged(bars, c.h.Return)
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = logDiff(b.AdjClose, lag[i])
	}
	return out
}

func (c *Computer) momentum(bars []models.PriceBar) []float64 {
	short := c.aligner.Lagged(bars, c.h.Short)
	long := c.aligner.Lagged(bars, c.h.Long)
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = logDiff(short[i], long[i])
	}
	return ForwardFill(out, c.h.FillLimit)
}

// ForwardFill propagates the last defined value over at most limit
// consecutive undefined entries; the rest of a longer gap stays undefined.
// Leading undefined entries are left as they are.
func ForwardFill(xs []float64, limit int) []float64 {
	out := make([]float64, len(xs))
	last, gap := math.NaN(), 0
	for i, x := range xs {
		out[i] = x
		if defined(x) {
			last, gap = x, 0
			continue
		}
		gap++
		if defined(last) && gap <= limit {
			out[i] = last
		}
	}
	return out
}

// normalizeBars returns a date-ordered copy of bars with dates truncated to days.
func normalizeBars(symbol string, bars []models.PriceBar) ([]models.PriceBar, error) {
	out := make([]models.PriceBar, len(bars))
	for i, b := range bars {
		if b.Symbol != symbol {
			return nil, fmt.Errorf("%w: bar for %q in series of %q", ErrMalformedSeries, b.Symbol, symbol)
		}
		b.Date = calendar.Day(b.Date)
		out[i] = b
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	for i := 1; i < len(out); i++ {
		if out[i].Date.Equal(out[i-1].Date) {
			return nil, fmt.Errorf("%w: duplicate date %s", ErrMalformedSeries, out[i].Date.Format(calendar.DateLayout))
		}
	}
	return out, nil
}

// logDiff is ln(a) - ln(b), undefined unless both prices are positive.
func logDiff(a, b float64) float64 {
	if !(a > 0) || !(b > 0) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return math.NaN()
	}
	return math.Log(a) - math.Log(b)
}

func defined(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

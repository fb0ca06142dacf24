package factors

import (
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
)

func day(s string) time.Time {
	t, err := time.Parse(calendar.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func snap(kind models.FundamentalKind, ddate, filed string, v float64) models.FundamentalSnapshot {
	return models.FundamentalSnapshot{Symbol: "AAA", Kind: kind, EffectiveDate: day(ddate), FiledDate: day(filed), Value: v}
}

func bar(date string, closePx, adj float64) models.PriceBar {
	return models.PriceBar{Symbol: "AAA", Date: day(date), Close: closePx, AdjClose: adj}
}

func TestReturnsOneBusinessDay(t *testing.T) {
	c := NewComputer(calendar.New(), NewResolver(KnowledgeEffective), DefaultHorizons())

	rets, err := c.Returns("AAA", []models.PriceBar{bar("2024-07-01", 10, 10), bar("2024-07-02", 11, 11)})
	require.NoError(t, err)
	require.Len(t, rets, 2)
	assert.True(t, math.IsNaN(rets[0]))
	assert.InDelta(t, 0.0953, rets[1], 1e-4)
	assert.InDelta(t, math.Log(11.0/10.0), rets[1], 1e-12)
}

func TestReturnsJoinOnExactShiftedDate(t *testing.T) {
	c := NewComputer(calendar.New(), NewResolver(KnowledgeEffective), DefaultHorizons())

	// 07-02 is missing, so 07-03 has no bar one business day earlier.
	rets, err := c.Returns("AAA", []models.PriceBar{bar("2024-07-01", 10, 10), bar("2024-07-03", 11, 11)})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rets[1]))

	// 07-04 is a holiday, so 07-05 lags onto 07-03.
	rets, err = c.Returns("AAA", []models.PriceBar{bar("2024-07-03", 10, 10), bar("2024-07-05", 12, 12)})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(1.2), rets[1], 1e-12)
}

func TestReturnsNonPositivePriceIsUndefined(t *testing.T) {
	c := NewComputer(calendar.New(), NewResolver(KnowledgeEffective), DefaultHorizons())

	rets, err := c.Returns("AAA", []models.PriceBar{bar("2024-07-01", 0, 0), bar("2024-07-02", 11, 11)})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rets[1]))
}

func TestDedupeEarliestFilingWins(t *testing.T) {
	snaps := []models.FundamentalSnapshot{
		snap(models.KindEquity, "2024-03-31", "2024-06-01", 2), // amendment
		snap(models.KindEquity, "2024-03-31", "2024-05-01", 1),
		snap(models.KindEquity, "2023-12-31", "2024-02-01", 5),
		snap(models.KindEquity, "2023-12-31", "2024-02-01", 6), // same filing date, later in source
		snap(models.KindEquity, "2023-09-30", "2023-11-01", math.NaN()),
	}

	got := Dedupe(snaps)
	require.Len(t, got, 2)
	assert.Equal(t, day("2023-12-31"), got[0].EffectiveDate)
	assert.Equal(t, 5.0, got[0].Value)
	assert.Equal(t, day("2024-03-31"), got[1].EffectiveDate)
	assert.Equal(t, 1.0, got[1].Value)
}

func TestResolveStrictlyBefore(t *testing.T) {
	r := NewResolver(KnowledgeEffective)
	snaps := []models.FundamentalSnapshot{
		snap(models.KindEquity, "2024-06-30", "2024-08-01", 2),
		snap(models.KindEquity, "2024-03-31", "2024-05-01", 1),
	}
	dates := []time.Time{day("2024-07-01"), day("2024-03-31"), day("2024-04-01"), day("2024-06-30")}

	got := r.Resolve(snaps, dates)
	assert.Equal(t, 2.0, got[0])
	assert.True(t, math.IsNaN(got[1]), "snapshot on the price date must not be used")
	assert.Equal(t, 1.0, got[2])
	assert.Equal(t, 1.0, got[3])
}

func TestResolveNoFundamentals(t *testing.T) {
	got := NewResolver(KnowledgeEffective).Resolve(nil, []time.Time{day("2024-07-01")})
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0]))
}

func TestResolveFiledPolicy(t *testing.T) {
	snaps := []models.FundamentalSnapshot{
		snap(models.KindEquity, "2023-12-31", "2024-06-01", 10), // filed late
		snap(models.KindEquity, "2024-03-31", "2024-05-10", 20),
	}
	dates := []time.Time{day("2024-04-15"), day("2024-05-20"), day("2024-06-15")}

	eff := NewResolver(KnowledgeEffective).Resolve(snaps, dates)
	assert.Equal(t, []float64{20, 20, 20}, eff)

	filed := NewResolver(KnowledgeFiled).Resolve(snaps, dates)
	assert.True(t, math.IsNaN(filed[0]))
	assert.Equal(t, 20.0, filed[1])
	assert.Equal(t, 20.0, filed[2], "latest period wins once both filings are public")
}

// greedyResolve assigns values the slow way: most recent snapshot first, and
// each date keeps the first value it receives.
func greedyResolve(snaps []models.FundamentalSnapshot, dates []time.Time) []float64 {
	snaps = Dedupe(snaps)
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].EffectiveDate.After(snaps[j].EffectiveDate) })
	out := make([]float64, len(dates))
	for i := range out {
		out[i] = math.NaN()
	}
	for _, s := range snaps {
		for i, d := range dates {
			if d.After(s.EffectiveDate) && math.IsNaN(out[i]) {
				out[i] = s.Value
			}
		}
	}
	return out
}

func TestResolveMatchesGreedyAssignment(t *testing.T) {
	cal := calendar.New()
	dates := cal.Range(day("2022-01-01"), day("2024-12-31"))

	var snaps []models.FundamentalSnapshot
	q := day("2021-12-31")
	for i := 0; i < 12; i++ {
		q = q.AddDate(0, 3, 0)
		snaps = append(snaps, models.FundamentalSnapshot{
			Symbol: "AAA", Kind: models.KindShares, EffectiveDate: q, FiledDate: q.AddDate(0, 1, 0), Value: float64(100 + i),
		})
	}

	got := NewResolver(KnowledgeEffective).Resolve(snaps, dates)
	want := greedyResolve(snaps, dates)
	require.Len(t, got, len(want))
	for i := range got {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), dates[i])
			continue
		}
		assert.Equal(t, want[i], got[i], dates[i])
	}

	for i, d := range dates {
		if math.IsNaN(got[i]) {
			continue
		}
		for _, s := range snaps {
			if s.Value == got[i] {
				assert.True(t, s.EffectiveDate.Before(d), "look-ahead on %s", d)
			}
		}
	}
}

func TestForwardFill(t *testing.T) {
	nan := math.NaN()

	got := ForwardFill([]float64{nan, 1, nan, nan, nan, 2}, 5)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, []float64{1, 1, 1, 1, 2}, got[1:])

	got = ForwardFill([]float64{3, nan, nan, nan, nan, nan, nan, nan, 4}, 5)
	assert.Equal(t, []float64{3, 3, 3, 3, 3, 3}, got[:6])
	assert.True(t, math.IsNaN(got[6]))
	assert.True(t, math.IsNaN(got[7]))
	assert.Equal(t, 4.0, got[8])
}

func syntheticBars(cal *calendar.Calendar, from string, n int) []models.PriceBar {
	days := cal.Range(day(from), day(from).AddDate(3, 0, 0))[:n]
	bars := make([]models.PriceBar, n)
	for i, d := range days {
		px := 100 * math.Exp(0.001*float64(i))
		bars[i] = models.PriceBar{Symbol: "AAA", Date: d, Close: px, AdjClose: px}
	}
	return bars
}

func TestComputeEmitsOnlyCompleteRows(t *testing.T) {
	cal := calendar.New()
	c := NewComputer(cal, NewResolver(KnowledgeEffective), DefaultHorizons())
	bars := syntheticBars(cal, "2022-01-03", 300)

	equity := []models.FundamentalSnapshot{snap(models.KindEquity, "2021-12-31", "2022-02-15", 5000)}
	shares := []models.FundamentalSnapshot{snap(models.KindShares, "2021-12-31", "2022-02-15", 10)}

	recs, err := c.Compute("AAA", bars, equity, shares)
	require.NoError(t, err)
	require.Len(t, recs, 40)
	assert.Equal(t, bars[260].Date, recs[0].Date)

	for i, r := range recs {
		b := bars[260+i]
		assert.InDelta(t, 0.001, r.Return, 1e-9)
		assert.InDelta(t, 0.24, r.Momentum, 1e-9)
		assert.InDelta(t, b.Close*10, r.MarketCap, 1e-9)
		assert.InDelta(t, b.Close*10/5000, r.PriceToBook, 1e-12)
		for _, v := range []float64{r.Return, r.MarketCap, r.PriceToBook, r.Momentum} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestComputeMomentumFillsShortGaps(t *testing.T) {
	cal := calendar.New()
	c := NewComputer(cal, NewResolver(KnowledgeEffective), DefaultHorizons())
	bars := syntheticBars(cal, "2022-01-03", 300)

	// Dropping bars 1..3 removes the 260-day anchor of rows 261..263; their
	// momentum is filled from row 260 and their returns stay defined.
	trimmed := append([]models.PriceBar{bars[0]}, bars[4:]...)
	mom, err := c.Momentum("AAA", trimmed)
	require.NoError(t, err)
	// trimmed index of original row k (k >= 4) is k-3.
	for k := 261; k <= 263; k++ {
		assert.InDelta(t, 0.24, mom[k-3], 1e-9, "row %d", k)
	}
}

func TestComputeUndefinedFundamentalsDropRows(t *testing.T) {
	cal := calendar.New()
	c := NewComputer(cal, NewResolver(KnowledgeEffective), DefaultHorizons())
	bars := syntheticBars(cal, "2022-01-03", 300)
	shares := []models.FundamentalSnapshot{snap(models.KindShares, "2021-12-31", "2022-02-15", 10)}

	recs, err := c.Compute("AAA", bars, nil, shares)
	require.NoError(t, err)
	assert.Empty(t, recs)

	zeroEquity := []models.FundamentalSnapshot{snap(models.KindEquity, "2021-12-31", "2022-02-15", 0)}
	recs, err = c.Compute("AAA", bars, zeroEquity, shares)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestComputeMalformedSeries(t *testing.T) {
	c := NewComputer(calendar.New(), NewResolver(KnowledgeEffective), DefaultHorizons())

	_, err := c.Compute("AAA", []models.PriceBar{bar("2024-07-01", 1, 1), bar("2024-07-01", 2, 2)}, nil, nil)
	assert.True(t, errors.Is(err, ErrMalformedSeries))

	other := models.PriceBar{Symbol: "BBB", Date: day("2024-07-02"), Close: 1, AdjClose: 1}
	_, err = c.Compute("AAA", []models.PriceBar{bar("2024-07-01", 1, 1), other}, nil, nil)
	assert.True(t, errors.Is(err, ErrMalformedSeries))
}

func TestParseKnowledgeDate(t *testing.T) {
	p, err := ParseKnowledgeDate("")
	require.NoError(t, err)
	assert.Equal(t, KnowledgeEffective, p)

	p, err = ParseKnowledgeDate("filed")
	require.NoError(t, err)
	assert.Equal(t, KnowledgeFiled, p)

	_, err = ParseKnowledgeDate("reported")
	assert.Error(t, err)
}

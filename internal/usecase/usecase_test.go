package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/internal/repository"
	"FinFactor/internal/service/ratelimit"
	"FinFactor/internal/services/factors"
	"FinFactor/internal/services/robust"
	"FinFactor/pkg/cache"
)

func day(s string) time.Time {
	t, err := time.Parse(calendar.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testGuard() *ratelimit.Guard {
	return ratelimit.NewGuard(ratelimit.GuardConfig{RPS: 1e6, Burst: 1000, Backoff: time.Millisecond},
		ratelimit.WithPermanent(domrepo.IsPermanent))
}

var universe = []struct {
	symbol string
	growth float64
	shares float64
	equity float64
}{
	{"AAA", 0.0010, 1e6, 4e7},
	{"BBB", 0.0012, 2e6, 9e7},
	{"CCC", 0.0008, 5e5, 3e7},
	{"DDD", 0.0011, 3e6, 2e8},
	{"EEE", 0.0009, 8e5, 5e7},
	{"FFF", 0.0013, 1.5e6, 6e7},
	{"GGG", 0.0010, 2.5e6, 1e8},
	{"HHH", 0.0500, 1e6, 7e7}, // return outlier
}

// seedUniverse writes 300 consecutive business days of prices per symbol,
// starting 2019-01-02, and one equity and shares filing dated before them.
func seedUniverse(t *testing.T, cal *calendar.Calendar, store *repository.MemoryStore) []time.Time {
	t.Helper()
	dates := make([]time.Time, 300)
	d := day("2019-01-02")
	for i := range dates {
		dates[i] = d
		d = cal.AddBusinessDays(d, 1)
	}
	for k, u := range universe {
		for i, dt := range dates {
			px := float64(20+k) * math.Exp(u.growth*float64(i))
			store.SeedPrices(models.PriceBar{Symbol: u.symbol, Date: dt, Open: px, Close: px, AdjClose: px, Volume: 1000})
		}
		store.SeedSnapshots(
			models.FundamentalSnapshot{Symbol: u.symbol, Kind: models.KindEquity, EffectiveDate: day("2018-12-31"), FiledDate: day("2019-02-15"), Value: u.equity},
			models.FundamentalSnapshot{Symbol: u.symbol, Kind: models.KindShares, EffectiveDate: day("2018-12-31"), FiledDate: day("2019-02-15"), Value: u.shares},
		)
	}
	return dates
}

func newStages(store *repository.MemoryStore, cal *calendar.Calendar, rec domrepo.Metrics, clean bool) (*FactorStage, *ScalingStage) {
	comp := factors.NewComputer(cal, factors.NewResolver(factors.KnowledgeEffective), factors.DefaultHorizons())
	pool := NewPool(4, nil)
	guard := testGuard()
	fs := NewFactorStage(store, nil, comp, guard, pool, rec, nil, clean)
	ss := NewScalingStage(store, cal, robust.NewOutlierDetector(3, 5), robust.NewCrossSectionScaler(), nil, guard, pool, rec, nil, store.Reset, clean)
	return fs, ss
}

type countingMetrics struct {
	nopMetrics
	mu      sync.Mutex
	rows    map[string]int
	skipped map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{rows: map[string]int{}, skipped: map[string]int{}}
}

func (m *countingMetrics) RecordRowsWritten(table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[table] += n
}

func (m *countingMetrics) RecordSkippedDate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[reason]++
}

func TestPoolIsolatesFailuresAndPanics(t *testing.T) {
	p := NewPool(2, nil)
	var ran atomic.Int32
	rep := p.Run(context.Background(), "test", []string{"ok", "fail", "panic", "skip", "ok2"}, func(_ context.Context, key string) (int, error) {
		ran.Add(1)
		switch key {
		case "fail":
			return 0, errors.New("boom")
		case "panic":
			panic("unexpected")
		case "skip":
			return 0, ErrSkipped
		}
		return 3, nil
	})
	assert.EqualValues(t, 5, ran.Load())
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.Units, 5)
	assert.Equal(t, "panic", rep.Units[2].Key)
	assert.Contains(t, rep.Units[2].Err.Error(), "panic")
	assert.Equal(t, 3, rep.Units[4].Rows)
	assert.Error(t, rep.Errors())
}

func TestPoolStopsSchedulingAfterCancel(t *testing.T) {
	p := NewPool(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := p.Run(ctx, "test", []string{"a", "b"}, func(context.Context, string) (int, error) {
		t.Fatal("no unit should start")
		return 0, nil
	})
	assert.Equal(t, 2, rep.Failed)
	assert.ErrorIs(t, rep.Units[0].Err, context.Canceled)
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	dates := seedUniverse(t, cal, store)

	rec := newCountingMetrics()
	fs, ss := newStages(store, cal, rec, false)
	runner := NewRunner(fs, ss, nil)

	reports, err := runner.Run(ctx, []string{StageFactors, StageScale}, dates[0], dates[len(dates)-1])
	require.NoError(t, err)
	require.Len(t, reports, 2)

	fr := reports[0]
	assert.Equal(t, len(universe), fr.Succeeded)
	assert.Zero(t, fr.Failed)
	rows, err := store.RawFactors(ctx, "AAA", dates[0], dates[len(dates)-1])
	require.NoError(t, err)
	require.Len(t, rows, 40)
	assert.True(t, rows[0].Date.Equal(dates[260]))

	sr := reports[1]
	assert.Equal(t, 40, sr.Succeeded)
	assert.Equal(t, 260, sr.Skipped, "dates without raw rows are skipped")
	assert.Zero(t, sr.Failed)

	scaled, err := store.ScaledFactors(ctx, dates[280])
	require.NoError(t, err)
	require.Len(t, scaled, len(universe))

	// the fence is skew-adjusted, so the low tail can be flagged alongside HHH
	raw, err := store.CrossSection(ctx, dates[280])
	require.NoError(t, err)
	returns := make([]float64, len(raw))
	for i, r := range raw {
		returns[i] = r.Return
	}
	weights, err := robust.NewOutlierDetector(3, 5).Weights(returns)
	require.NoError(t, err)
	want := map[string]int{}
	for i, r := range raw {
		want[r.Symbol] = weights[i]
	}
	require.Equal(t, 0, want["HHH"])

	var kept []models.ScaledFactorRecord
	for _, r := range scaled {
		assert.Equal(t, want[r.Symbol], r.Weight, r.Symbol)
		assert.False(t, math.IsNaN(r.MarketCap), "outliers are still transformed")
		if r.Weight == 1 {
			kept = append(kept, r)
		}
	}
	require.GreaterOrEqual(t, len(kept), 5)
	var mu, m2 float64
	for _, r := range kept {
		mu += r.Momentum
		m2 += r.Momentum * r.Momentum
	}
	n := float64(len(kept))
	assert.InDelta(t, 0, mu/n, 1e-9)
	assert.InDelta(t, 1, m2/n-(mu/n)*(mu/n), 1e-9)

	assert.Equal(t, 40*len(universe), rec.rows[domrepo.TableRawFactors])
	assert.Equal(t, 40*len(universe), rec.rows[domrepo.TableScaledFactors])
	assert.Equal(t, 260, rec.skipped[SkipEmpty])
}

func TestFactorStageSkipsProcessedSymbols(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	seedUniverse(t, cal, store)

	fs, _ := newStages(store, cal, nil, false)
	first, err := fs.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(universe), first.Succeeded)

	second, err := fs.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Units)

	clean, _ := newStages(store, cal, nil, true)
	third, err := clean.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(universe), third.Succeeded)
}

func TestCleanRunReadsReloadedFilings(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	dates := seedUniverse(t, cal, store)
	last := dates[len(dates)-1]

	mc := cache.NewMemoryCache()
	defer mc.Close()
	cached := repository.NewCachedFundamentals(store, mc, time.Hour, nil)
	comp := factors.NewComputer(cal, factors.NewResolver(factors.KnowledgeEffective), factors.DefaultHorizons())
	stage := func(clean bool) *FactorStage {
		return NewFactorStage(store, cached, comp, testGuard(), NewPool(4, nil), nil, nil, clean)
	}

	_, err := stage(false).Run(ctx)
	require.NoError(t, err)
	before, err := store.RawFactors(ctx, "AAA", last, last)
	require.NoError(t, err)
	require.Len(t, before, 1)
	ok, err := mc.Exists(ctx, cache.Key("fund", models.KindEquity, "all"))
	require.NoError(t, err)
	require.True(t, ok)

	// restated equity loaded after the cache was filled
	store.SeedSnapshots(models.FundamentalSnapshot{
		Symbol: "AAA", Kind: models.KindEquity,
		EffectiveDate: day("2019-06-28"), FiledDate: day("2019-08-01"), Value: 8e7,
	})
	rep, err := stage(true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(universe), rep.Succeeded)

	after, err := store.RawFactors(ctx, "AAA", last, last)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.InDelta(t, before[0].PriceToBook/2, after[0].PriceToBook, 1e-9)
}

func TestFactorStageIsolatesMalformedSymbol(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	dates := seedUniverse(t, cal, store)
	store.SeedPrices(models.PriceBar{Symbol: "AAA", Date: dates[5], Close: 1, AdjClose: 1})

	fs, _ := newStages(store, cal, nil, false)
	rep, err := fs.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, len(universe)-1, rep.Succeeded)
	for _, u := range rep.Units {
		if u.Key == "AAA" {
			assert.ErrorIs(t, u.Err, factors.ErrMalformedSeries)
		}
	}
}

func TestFactorStageSkipsSymbolWithoutFundamentals(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	store.SeedPrices(models.PriceBar{Symbol: "NOF", Date: day("2020-01-02"), Close: 1, AdjClose: 1})

	fs, _ := newStages(store, cal, nil, false)
	rep, err := fs.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
}

func TestScalingStageSkipsZeroDispersionDate(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	d := day("2020-01-02")
	var rows []models.FactorRecord
	for i, s := range []string{"A", "B", "C", "D", "E", "F"} {
		rows = append(rows, models.FactorRecord{Symbol: s, Date: d, Return: 0.001 * float64(i), MarketCap: 5, PriceToBook: float64(i), Momentum: float64(i)})
	}
	require.NoError(t, store.AppendRaw(ctx, rows))

	rec := newCountingMetrics()
	_, ss := newStages(store, cal, rec, false)
	rep, err := ss.Run(ctx, d, d)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.ErrorIs(t, rep.Units[0].Err, ErrSkipped)

	out, err := store.ScaledFactors(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, rec.skipped[SkipZeroDispersion])
}

// dropAll flags every row of every cross-section as an outlier.
type dropAll struct{}

func (dropAll) Weights(returns []float64) ([]int, error) { return make([]int, len(returns)), nil }

func TestScalingStageSkipsZeroWeightDate(t *testing.T) {
	ctx := context.Background()
	cal := calendar.New()
	store := repository.NewMemoryStore()
	d := day("2020-01-02")
	var rows []models.FactorRecord
	for i, s := range []string{"A", "B", "C", "D", "E", "F"} {
		rows = append(rows, models.FactorRecord{Symbol: s, Date: d, Return: 0.001 * float64(i), MarketCap: float64(i + 1), PriceToBook: float64(i), Momentum: float64(i)})
	}
	require.NoError(t, store.AppendRaw(ctx, rows))

	rec := newCountingMetrics()
	ss := NewScalingStage(store, cal, dropAll{}, robust.NewCrossSectionScaler(), nil, testGuard(), NewPool(2, nil), rec, nil, store.Reset, false)
	rep, err := ss.Run(ctx, d, d)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Failed)
	assert.ErrorIs(t, rep.Units[0].Err, ErrSkipped)
	assert.Contains(t, rep.Units[0].Err.Error(), SkipZeroWeight)

	out, err := store.ScaledFactors(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, rec.skipped[SkipZeroWeight])
	assert.Zero(t, rec.rows[domrepo.TableScaledFactors])
}

func TestScaleCrossSectionSmallSectionKeepsAll(t *testing.T) {
	d := day("2020-01-02")
	rows := []models.FactorRecord{
		{Symbol: "A", Return: 0.01, MarketCap: 1, PriceToBook: 2, Momentum: 0.1},
		{Symbol: "B", Return: 0.90, MarketCap: 3, PriceToBook: 1, Momentum: 0.3},
	}
	out, outliers, err := ScaleCrossSection(d, rows, robust.NewOutlierDetector(3, 5), robust.NewCrossSectionScaler())
	require.NoError(t, err)
	assert.Zero(t, outliers)
	require.Len(t, out, 2)
	assert.InDelta(t, -1, out[0].MarketCap, 1e-12)
	assert.InDelta(t, 1, out[1].MarketCap, 1e-12)
	assert.True(t, out[0].Date.Equal(d))
}

func TestRunnerRejectsUnknownStage(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	_, err := r.Run(context.Background(), []string{"regress"}, time.Time{}, time.Time{})
	assert.Error(t, err)
}

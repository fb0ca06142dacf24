package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func raw(symbol, date string, v float64) models.FactorRecord {
	return models.FactorRecord{Symbol: symbol, Date: day(date), Return: v, MarketCap: v * 10, PriceToBook: v * 2, Momentum: v / 2}
}

func TestMemoryStoreAppendRawAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AppendRaw(ctx, []models.FactorRecord{raw("AAA", "2020-01-02", 1)}))

	err := s.AppendRaw(ctx, []models.FactorRecord{
		raw("BBB", "2020-01-02", 2),
		raw("AAA", "2020-01-02", 3),
	})
	assert.ErrorIs(t, err, domrepo.ErrDuplicateKey)

	cs, err := s.CrossSection(ctx, day("2020-01-02"))
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "AAA", cs[0].Symbol)
	assert.Equal(t, 1.0, cs[0].Return)
}

func TestMemoryStoreRejectsInvalidRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	bad := raw("AAA", "2020-01-02", 1)
	bad.Momentum = math.NaN()
	err := s.AppendRaw(ctx, []models.FactorRecord{raw("BBB", "2020-01-02", 1), bad})
	assert.ErrorIs(t, err, domrepo.ErrInvalidRecord)

	err = s.AppendScaled(ctx, []models.ScaledFactorRecord{{Date: day("2020-01-02"), Symbol: "AAA", Weight: 2}})
	assert.ErrorIs(t, err, domrepo.ErrInvalidRecord)

	err = s.AppendRaw(ctx, []models.FactorRecord{raw("AAA", "2020-01-02", 1), raw("AAA", "2020-01-02", 2)})
	assert.ErrorIs(t, err, domrepo.ErrDuplicateKey)

	syms, err := s.FactorSymbols(ctx)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestMemoryStoreQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendRaw(ctx, []models.FactorRecord{
		raw("BBB", "2020-01-03", 2),
		raw("AAA", "2020-01-03", 1),
		raw("AAA", "2020-01-02", 1),
		raw("AAA", "2020-01-06", 1),
	}))

	cs, err := s.CrossSection(ctx, day("2020-01-03"))
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, []string{"AAA", "BBB"}, []string{cs[0].Symbol, cs[1].Symbol})

	rows, err := s.RawFactors(ctx, "AAA", day("2020-01-02"), day("2020-01-03"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Date.Before(rows[1].Date))

	syms, err := s.FactorSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, syms)

	empty, err := s.CrossSection(ctx, day("2020-01-07"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendRaw(ctx, []models.FactorRecord{raw("AAA", "2020-01-02", 1)}))
	require.NoError(t, s.AppendScaled(ctx, []models.ScaledFactorRecord{{Date: day("2020-01-02"), Symbol: "AAA", Weight: 1}}))

	require.NoError(t, s.Reset(ctx, domrepo.TableRawFactors))
	cs, _ := s.CrossSection(ctx, day("2020-01-02"))
	assert.Empty(t, cs)
	scaled, _ := s.ScaledFactors(ctx, day("2020-01-02"))
	assert.Len(t, scaled, 1)

	assert.ErrorIs(t, s.Reset(ctx, "prices"), domrepo.ErrUnknownTable)
}

func TestMemoryStoreSeeds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SeedPrices(
		models.PriceBar{Symbol: "BBB", Date: day("2020-01-03"), Close: 2, AdjClose: 2},
		models.PriceBar{Symbol: "BBB", Date: day("2020-01-02"), Close: 1, AdjClose: 1},
		models.PriceBar{Symbol: "AAA", Date: day("2020-01-02"), Close: 1, AdjClose: 1},
	)
	s.SeedSnapshots(
		models.FundamentalSnapshot{Symbol: "AAA", Kind: models.KindEquity, EffectiveDate: day("2019-12-31"), FiledDate: day("2020-02-10"), Value: 5},
		models.FundamentalSnapshot{Symbol: "AAA", Kind: models.KindEquity, EffectiveDate: day("2019-09-30"), FiledDate: day("2019-11-01"), Value: 4},
		models.FundamentalSnapshot{Symbol: "AAA", Kind: models.KindShares, EffectiveDate: day("2019-09-30"), FiledDate: day("2019-11-01"), Value: 100},
	)

	syms, err := s.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, syms)

	s.SeedSymbols("ZZZ", "AAA")
	syms, _ = s.Symbols(ctx)
	assert.Equal(t, []string{"AAA", "ZZZ"}, syms)

	bars, err := s.Prices(ctx, "BBB")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Close)

	eq, err := s.Snapshots(ctx, "AAA", models.KindEquity)
	require.NoError(t, err)
	require.Len(t, eq, 2)
	assert.Equal(t, 4.0, eq[0].Value)

	all, err := s.AllSnapshots(ctx, models.KindShares)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/internal/repository"
	"FinFactor/internal/service/ratelimit"
	"FinFactor/internal/services/robust"
	"FinFactor/internal/usecase"
	"FinFactor/pkg/config"
	applogger "FinFactor/pkg/logger"
)

// cancellingComputer cancels the run from inside the first unit.
type cancellingComputer struct {
	cancel context.CancelFunc
}

func (c cancellingComputer) Compute(symbol string, bars []models.PriceBar, _, _ []models.FundamentalSnapshot) ([]models.FactorRecord, error) {
	c.cancel()
	return []models.FactorRecord{{Symbol: symbol, Date: bars[0].Date, Return: 0.01, MarketCap: 1, PriceToBook: 1, Momentum: 0.1}}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Backend = "memory"
	cfg.Pipeline.Stages = []string{usecase.StageFactors, usecase.StageScale}
	cfg.Pipeline.StartDate = "2020-01-02"
	cfg.Pipeline.EndDate = "2020-01-10"
	return cfg
}

func newApp(store *repository.MemoryStore, computer *cancellingComputer) *App {
	cal := calendar.New()
	guard := ratelimit.NewGuard(ratelimit.GuardConfig{RPS: 1e6, Burst: 1000, Backoff: time.Millisecond},
		ratelimit.WithPermanent(domrepo.IsPermanent))
	pool := usecase.NewPool(1, nil)
	fs := usecase.NewFactorStage(store, nil, computer, guard, pool, nil, nil, false)
	ss := usecase.NewScalingStage(store, cal, robust.NewOutlierDetector(3, 5), robust.NewCrossSectionScaler(), nil, guard, pool, nil, nil, store.Reset, false)
	return New(testConfig(), applogger.Nop(), store, usecase.NewRunner(fs, ss, nil), nil)
}

func TestRunPipelineReportsUnitsCancelledMidRun(t *testing.T) {
	store := repository.NewMemoryStore()
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		store.SeedPrices(models.PriceBar{Symbol: sym, Date: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), Close: 1, AdjClose: 1})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app := newApp(store, &cancellingComputer{cancel: cancel})

	reports, err := app.RunPipeline(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 1, "scaling never starts after cancellation")

	rep := reports[0]
	assert.Equal(t, usecase.StageFactors, rep.Stage)
	assert.Equal(t, 3, rep.Failed)
	require.Len(t, rep.Units, 3)
	for _, u := range rep.Units {
		assert.ErrorIs(t, u.Err, context.Canceled, u.Key)
	}

	rows, err := store.RawFactors(context.Background(), "AAA", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadRejectsUnknownTableAndMissingFile(t *testing.T) {
	app := newApp(repository.NewMemoryStore(), &cancellingComputer{cancel: func() {}})
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte("symbol,date,close,adj_close\nAAA,2020-01-02,1,1\n"), 0o600))

	n, err := app.Load(ctx, LoadPrices, path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = app.Load(ctx, "trades", path)
	assert.Error(t, err)

	_, err = app.Load(ctx, LoadFundamentals, filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func TestLoadFundamentalsInvalidatesCache(t *testing.T) {
	store := repository.NewMemoryStore()
	inv := &countingInvalidator{}
	app := newApp(store, &cancellingComputer{cancel: func() {}}).WithInvalidator(inv)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "filings.csv")
	require.NoError(t, os.WriteFile(path, []byte("symbol,kind,ddate,filed,value\nAAA,equity,2019-12-31,2020-02-20,4e7\n"), 0o600))
	_, err := app.Load(ctx, LoadFundamentals, path)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	snaps, err := store.Snapshots(ctx, "AAA", models.KindEquity)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 4e7, snaps[0].Value)
}

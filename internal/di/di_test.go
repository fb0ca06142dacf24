package di

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFactor/internal/calendar"
	"FinFactor/internal/usecase"
	"FinFactor/pkg/config"
	"FinFactor/pkg/server"
)

const memoryConfig = `
environment: test
log: {level: error}
server: {enabled: false}
metrics: {enabled: false}
storage: {backend: memory}
pipeline:
  workers: 2
  start_date: "2020-01-02"
  end_date: "2020-01-10"
`

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestInitializeAppOnMemoryBackend(t *testing.T) {
	ctx := context.Background()
	app, err := InitializeApp(ctx, loadConfig(t, memoryConfig))
	require.NoError(t, err)
	defer app.Close()

	reports, err := app.RunPipeline(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, usecase.StageFactors, reports[0].Stage)
	assert.Zero(t, reports[0].Succeeded+reports[0].Failed+reports[0].Skipped)

	// 2020-01-02..10 holds seven business days, all without raw rows
	assert.Equal(t, usecase.StageScale, reports[1].Stage)
	assert.Equal(t, 7, reports[1].Skipped)
	assert.Zero(t, reports[1].Failed)
}

func TestInitializeAppRejectsUnknownStage(t *testing.T) {
	ctx := context.Background()
	app, err := InitializeApp(ctx, loadConfig(t, memoryConfig))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.RunPipeline(ctx, []string{"regress"})
	assert.Error(t, err)
}

func TestServeWithoutServer(t *testing.T) {
	app, err := InitializeApp(context.Background(), loadConfig(t, memoryConfig))
	require.NoError(t, err)
	defer app.Close()

	assert.Error(t, app.Serve(context.Background()))
}

// writeInputs writes 340 business days of prices from 2018-10-01 for six
// symbols, and one equity and shares filing each.
func writeInputs(t *testing.T) (prices, filings string) {
	t.Helper()
	cal := calendar.New()
	var pb, fb strings.Builder
	pb.WriteString("symbol,date,open,close,adj_close,volume\n")
	fb.WriteString("symbol,kind,ddate,filed,value\n")
	for k, sym := range []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"} {
		growth := 0.0005 + 0.0002*float64(k)
		d := day(t, "2018-10-01")
		for i := 0; i < 340; i++ {
			px := float64(30+k) * math.Exp(growth*float64(i))
			fmt.Fprintf(&pb, "%s,%s,%g,%g,%g,1000\n", sym, d.Format(calendar.DateLayout), px, px, px)
			d = cal.AddBusinessDays(d, 1)
		}
		fmt.Fprintf(&fb, "%s,equity,2018-06-30,2018-08-01,%g\n", sym, float64(k+1)*3e7)
		fmt.Fprintf(&fb, "%s,shares,2018-06-30,2018-08-01,%g\n", sym, float64(k+2)*5e5)
	}
	dir := t.TempDir()
	prices = filepath.Join(dir, "prices.csv")
	filings = filepath.Join(dir, "filings.tsv")
	require.NoError(t, os.WriteFile(prices, []byte(pb.String()), 0o600))
	require.NoError(t, os.WriteFile(filings, []byte(strings.ReplaceAll(fb.String(), ",", "\t")), 0o600))
	return prices, filings
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(calendar.DateLayout, s)
	require.NoError(t, err)
	return d
}

func TestLoadFeedsMemoryPipeline(t *testing.T) {
	ctx := context.Background()
	app, err := InitializeApp(ctx, loadConfig(t, memoryConfig))
	require.NoError(t, err)
	defer app.Close()

	prices, filings := writeInputs(t)
	n, err := app.Load(ctx, server.LoadPrices, prices)
	require.NoError(t, err)
	assert.EqualValues(t, 6*340, n)
	n, err = app.Load(ctx, server.LoadFundamentals, filings)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)

	reports, err := app.RunPipeline(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 6, reports[0].Succeeded)
	assert.Zero(t, reports[0].Failed)
	assert.Equal(t, 7, reports[1].Succeeded)
	assert.Zero(t, reports[1].Failed)

	_, err = app.Load(ctx, "trades", prices)
	assert.Error(t, err)
}

package repository

import (
	"context"
	"time"

	"FinFactor/internal/domain/models"
)

// Table names of the persisted factor outputs.
const (
	TableRawFactors    = "raw_factors"
	TableScaledFactors = "scaled_factors"
)

// PriceReader reads daily price history.
type PriceReader interface {
	// Symbols lists the symbol universe.
	Symbols(ctx context.Context) ([]string, error)
	// Prices returns a symbol's bars ordered by date ascending.
	Prices(ctx context.Context, symbol string) ([]models.PriceBar, error)
}

// FundamentalReader reads filed fundamental snapshots.
type FundamentalReader interface {
	// Snapshots returns one symbol's snapshots of a kind ordered by effective
	// date. SQL backends already keep only the earliest filing per effective
	// date; callers must not rely on it and deduplicate themselves.
	Snapshots(ctx context.Context, symbol string, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error)
	// AllSnapshots returns every symbol's snapshots of a kind, ordered by symbol then effective date.
	AllSnapshots(ctx context.Context, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error)
}

// FactorStore persists raw and scaled factor records. Appends are all-or-nothing.
type FactorStore interface {
	AppendRaw(ctx context.Context, records []models.FactorRecord) error
	// CrossSection returns every raw factor record of a trading date.
	CrossSection(ctx context.Context, date time.Time) ([]models.FactorRecord, error)
	// FactorSymbols lists symbols that already have raw factor rows.
	FactorSymbols(ctx context.Context) ([]string, error)
	// RawFactors returns a symbol's raw rows within [from, to], ordered by date.
	RawFactors(ctx context.Context, symbol string, from, to time.Time) ([]models.FactorRecord, error)

	AppendScaled(ctx context.Context, records []models.ScaledFactorRecord) error
	ScaledFactors(ctx context.Context, date time.Time) ([]models.ScaledFactorRecord, error)
}

// Storage is the full persistence collaborator of the pipeline.
type Storage interface {
	PriceReader
	FundamentalReader
	FactorStore

	Init(ctx context.Context) error // ensure tables
	Reset(ctx context.Context, table string) error
	Health(ctx context.Context) error // ping
	Close() error
}

// Loader bulk-writes the input tables the pipeline reads from.
type Loader interface {
	LoadPrices(ctx context.Context, bars []models.PriceBar) (int64, error)
	LoadSnapshots(ctx context.Context, snaps []models.FundamentalSnapshot) (int64, error)
}

// Invalidator is implemented by caching readers whose entries go stale when
// the input tables are reloaded.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ScaledPublisher fans a date's scaled cross-section out to downstream consumers.
type ScaledPublisher interface {
	PublishScaled(ctx context.Context, date time.Time, records []models.ScaledFactorRecord) error
	Close() error
}

// Metrics records pipeline observability signals.
type Metrics interface {
	RecordUnit(stage, result string, seconds float64)
	RecordRowsWritten(table string, n int)
	RecordOutliers(n int)
	RecordSkippedDate(reason string)
	RecordRetry(op string)
	RecordError(kind string)
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/internal/repository/migrations"
	pkgpg "FinFactor/pkg/postgres"
	applogger "FinFactor/pkg/logger"
)

// PGStore implements Storage on PostgreSQL.
type PGStore struct {
	pool *pkgpg.Pool
	l    *applogger.Logger
}

var (
	_ domrepo.Storage = (*PGStore)(nil)
	_ domrepo.Loader  = (*PGStore)(nil)
)

func NewPGStore(pool *pkgpg.Pool) *PGStore {
	return &PGStore{pool: pool, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *PGStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *PGStore) Init(ctx context.Context) error {
	scripts, err := migrations.Postgres()
	if err != nil {
		return err
	}
	for i, sql := range scripts {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply postgres migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *PGStore) Health(ctx context.Context) error { return s.pool.Health(ctx) }

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) Reset(ctx context.Context, table string) error {
	if table != domrepo.TableRawFactors && table != domrepo.TableScaledFactors {
		return fmt.Errorf("%w: %s", domrepo.ErrUnknownTable, table)
	}
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	s.l.Info("postgres table reset", applogger.String("table", table))
	return nil
}

func (s *PGStore) Symbols(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT symbol FROM prices ORDER BY symbol")
}

func (s *PGStore) FactorSymbols(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT symbol FROM raw_factors ORDER BY symbol")
}

func (s *PGStore) distinct(ctx context.Context, q string) ([]string, error) {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan symbols: %w", err)
	}
	return out, nil
}

func (s *PGStore) Prices(ctx context.Context, symbol string) ([]models.PriceBar, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
        SELECT symbol, date, open, close, adj_close, volume
        FROM prices
        WHERE symbol = $1
        ORDER BY date`, symbol)
	if err != nil {
		s.l.Error("postgres prices query error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("get prices: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PriceBar, error) {
		var b models.PriceBar
		err := row.Scan(&b.Symbol, &b.Date, &b.Open, &b.Close, &b.AdjClose, &b.Volume)
		b.Date = calendar.Day(b.Date)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan price: %w", err)
	}
	s.l.Debug("postgres prices ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// earliest filing per (symbol, kind, ddate); id breaks ties in load order
const snapshotSelect = `
    SELECT symbol, kind, ddate, filed, value FROM (
        SELECT symbol, kind, ddate, filed, value,
               row_number() OVER (PARTITION BY symbol, kind, ddate ORDER BY filed, id) AS rn
        FROM fundamentals
        WHERE kind = $1 %s
    ) f
    WHERE rn = 1
    ORDER BY symbol, ddate`

func (s *PGStore) Snapshots(ctx context.Context, symbol string, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	return s.snapshots(ctx, fmt.Sprintf(snapshotSelect, "AND symbol = $2"), string(kind), symbol)
}

func (s *PGStore) AllSnapshots(ctx context.Context, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	return s.snapshots(ctx, fmt.Sprintf(snapshotSelect, ""), string(kind))
}

func (s *PGStore) snapshots(ctx context.Context, q string, args ...any) ([]models.FundamentalSnapshot, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get fundamentals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FundamentalSnapshot, error) {
		var f models.FundamentalSnapshot
		var kind string
		err := row.Scan(&f.Symbol, &kind, &f.EffectiveDate, &f.FiledDate, &f.Value)
		f.Kind = models.FundamentalKind(kind)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan fundamental: %w", err)
	}
	return out, nil
}

func (s *PGStore) AppendRaw(ctx context.Context, records []models.FactorRecord) error {
	if err := validateRaw(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(`INSERT INTO raw_factors (symbol, date, ret, mcap, pb, mom) VALUES ($1, $2, $3, $4, $5, $6)`,
				r.Symbol, calendar.Day(r.Date), r.Return, r.MarketCap, r.PriceToBook, r.Momentum)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return s.appendErr(domrepo.TableRawFactors, err)
}

func (s *PGStore) AppendScaled(ctx context.Context, records []models.ScaledFactorRecord) error {
	if err := validateScaled(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(`INSERT INTO scaled_factors (date, symbol, weight, mcap, pb, mom) VALUES ($1, $2, $3, $4, $5, $6)`,
				calendar.Day(r.Date), r.Symbol, r.Weight, r.MarketCap, r.PriceToBook, r.Momentum)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return s.appendErr(domrepo.TableScaledFactors, err)
}

func (s *PGStore) appendErr(table string, err error) error {
	switch {
	case err == nil:
		return nil
	case pkgpg.IsDuplicateKey(err):
		return fmt.Errorf("%w: %s: %v", domrepo.ErrDuplicateKey, table, err)
	default:
		s.l.Error("postgres append error", applogger.String("table", table), applogger.Error(err))
		return fmt.Errorf("append %s: %w", table, err)
	}
}

func (s *PGStore) CrossSection(ctx context.Context, date time.Time) ([]models.FactorRecord, error) {
	return s.rawRows(ctx, `
        SELECT symbol, date, ret, mcap, pb, mom FROM raw_factors
        WHERE date = $1 ORDER BY symbol`, calendar.Day(date))
}

func (s *PGStore) RawFactors(ctx context.Context, symbol string, from, to time.Time) ([]models.FactorRecord, error) {
	return s.rawRows(ctx, `
        SELECT symbol, date, ret, mcap, pb, mom FROM raw_factors
        WHERE symbol = $1 AND date >= $2 AND date <= $3 ORDER BY date`,
		symbol, calendar.Day(from), calendar.Day(to))
}

func (s *PGStore) rawRows(ctx context.Context, q string, args ...any) ([]models.FactorRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get raw factors: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FactorRecord, error) {
		var r models.FactorRecord
		err := row.Scan(&r.Symbol, &r.Date, &r.Return, &r.MarketCap, &r.PriceToBook, &r.Momentum)
		r.Date = calendar.Day(r.Date)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan raw factor: %w", err)
	}
	return out, nil
}

func (s *PGStore) ScaledFactors(ctx context.Context, date time.Time) ([]models.ScaledFactorRecord, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT date, symbol, weight, mcap, pb, mom FROM scaled_factors
        WHERE date = $1 ORDER BY symbol`, calendar.Day(date))
	if err != nil {
		return nil, fmt.Errorf("get scaled factors: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ScaledFactorRecord, error) {
		var r models.ScaledFactorRecord
		var w int16
		err := row.Scan(&r.Date, &r.Symbol, &w, &r.MarketCap, &r.PriceToBook, &r.Momentum)
		r.Date = calendar.Day(r.Date)
		r.Weight = int(w)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan scaled factor: %w", err)
	}
	return out, nil
}

// LoadPrices bulk-inserts price bars with COPY.
func (s *PGStore) LoadPrices(ctx context.Context, bars []models.PriceBar) (int64, error) {
	src := pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
		b := bars[i]
		return []any{b.Symbol, calendar.Day(b.Date), b.Open, b.Close, b.AdjClose, b.Volume}, nil
	})
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"prices"},
		[]string{"symbol", "date", "open", "close", "adj_close", "volume"}, src)
	if err != nil {
		return n, fmt.Errorf("copy prices: %w", err)
	}
	return n, nil
}

// LoadSnapshots bulk-inserts fundamental snapshots with COPY, preserving order.
func (s *PGStore) LoadSnapshots(ctx context.Context, snaps []models.FundamentalSnapshot) (int64, error) {
	src := pgx.CopyFromSlice(len(snaps), func(i int) ([]any, error) {
		f := snaps[i]
		return []any{f.Symbol, string(f.Kind), calendar.Day(f.EffectiveDate), calendar.Day(f.FiledDate), f.Value}, nil
	})
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"fundamentals"},
		[]string{"symbol", "kind", "ddate", "filed", "value"}, src)
	if err != nil {
		return n, fmt.Errorf("copy fundamentals: %w", err)
	}
	return n, nil
}

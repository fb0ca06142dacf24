package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/internal/repository/migrations"
	pkgch "FinFactor/pkg/clickhouse"
	applogger "FinFactor/pkg/logger"
)

// CHStore implements Storage backed by ClickHouse. Factor tables are
// ReplacingMergeTree, so reads use FINAL and appends check existing keys
// before inserting.
type CHStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

var (
	_ domrepo.Storage = (*CHStore)(nil)
	_ domrepo.Loader  = (*CHStore)(nil)
)

func NewCHStore(ch *pkgch.Client) *CHStore {
	return &CHStore{ch: ch, db: ch.DB(), l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHStore) Init(ctx context.Context) error {
	stmts, err := migrations.ClickHouse()
	if err != nil {
		return err
	}
	return s.ch.InitSchema(ctx, stmts)
}

func (s *CHStore) Health(ctx context.Context) error { return s.ch.Health(ctx) }
func (s *CHStore) Close() error                     { return s.ch.Close() }

func (s *CHStore) Reset(ctx context.Context, table string) error {
	if table != domrepo.TableRawFactors && table != domrepo.TableScaledFactors {
		return fmt.Errorf("%w: %s", domrepo.ErrUnknownTable, table)
	}
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	s.l.Info("clickhouse table reset", applogger.String("table", table))
	return nil
}

func (s *CHStore) Symbols(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT symbol FROM prices ORDER BY symbol")
}

func (s *CHStore) FactorSymbols(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT symbol FROM raw_factors ORDER BY symbol")
}

func (s *CHStore) distinct(ctx context.Context, q string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *CHStore) Prices(ctx context.Context, symbol string) ([]models.PriceBar, error) {
	start := time.Now()
	const q = `
        SELECT symbol, date, open, close, adj_close, volume
        FROM prices FINAL
        WHERE symbol = ?
        ORDER BY date ASC
    `
	rows, err := s.db.QueryContext(ctx, q, symbol)
	if err != nil {
		s.l.Error("clickhouse prices query error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceBar, 0, 1024)
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.Close, &b.AdjClose, &b.Volume); err != nil {
			s.l.Error("clickhouse prices scan error", applogger.String("symbol", symbol), applogger.Error(err))
			return nil, fmt.Errorf("scan price: %w", err)
		}
		b.Date = calendar.Day(b.Date)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse prices ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// argMin keeps the earliest filing; equal filing dates resolve arbitrarily.
const chSnapshotSelect = `
    SELECT symbol, kind, ddate, min(filed), argMin(value, filed)
    FROM fundamentals
    WHERE kind = ? %s
    GROUP BY symbol, kind, ddate
    ORDER BY symbol, ddate
`

func (s *CHStore) Snapshots(ctx context.Context, symbol string, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	return s.snapshots(ctx, fmt.Sprintf(chSnapshotSelect, "AND symbol = ?"), string(kind), symbol)
}

func (s *CHStore) AllSnapshots(ctx context.Context, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	return s.snapshots(ctx, fmt.Sprintf(chSnapshotSelect, ""), string(kind))
}

func (s *CHStore) snapshots(ctx context.Context, q string, args ...any) ([]models.FundamentalSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get fundamentals: %w", err)
	}
	defer rows.Close()
	var out []models.FundamentalSnapshot
	for rows.Next() {
		var f models.FundamentalSnapshot
		var kind string
		if err := rows.Scan(&f.Symbol, &kind, &f.EffectiveDate, &f.FiledDate, &f.Value); err != nil {
			return nil, fmt.Errorf("scan fundamental: %w", err)
		}
		f.Kind = models.FundamentalKind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadPrices inserts price bars in one block. Reloaded bars replace older
// ones on merge.
func (s *CHStore) LoadPrices(ctx context.Context, bars []models.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	err := s.batch(ctx, "prices",
		"INSERT INTO prices (symbol, date, open, close, adj_close, volume)", len(bars),
		func(stmt *sql.Stmt, i int) error {
			b := bars[i]
			_, err := stmt.ExecContext(ctx, b.Symbol, calendar.Day(b.Date), b.Open, b.Close, b.AdjClose, b.Volume)
			return err
		})
	if err != nil {
		return 0, err
	}
	return int64(len(bars)), nil
}

func (s *CHStore) LoadSnapshots(ctx context.Context, snaps []models.FundamentalSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	err := s.batch(ctx, "fundamentals",
		"INSERT INTO fundamentals (symbol, kind, ddate, filed, value)", len(snaps),
		func(stmt *sql.Stmt, i int) error {
			f := snaps[i]
			_, err := stmt.ExecContext(ctx, f.Symbol, string(f.Kind), calendar.Day(f.EffectiveDate), calendar.Day(f.FiledDate), f.Value)
			return err
		})
	if err != nil {
		return 0, err
	}
	return int64(len(snaps)), nil
}

func (s *CHStore) AppendRaw(ctx context.Context, records []models.FactorRecord) error {
	if err := validateRaw(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	keys := make([]rowKey, len(records))
	for i, r := range records {
		keys[i] = rowKey{r.Symbol, calendar.Day(r.Date)}
	}
	if err := s.ensureAbsent(ctx, domrepo.TableRawFactors, keys); err != nil {
		return err
	}
	return s.batch(ctx, domrepo.TableRawFactors,
		"INSERT INTO raw_factors (symbol, date, ret, mcap, pb, mom)", len(records),
		func(stmt *sql.Stmt, i int) error {
			r := records[i]
			_, err := stmt.ExecContext(ctx, r.Symbol, calendar.Day(r.Date), r.Return, r.MarketCap, r.PriceToBook, r.Momentum)
			return err
		})
}

func (s *CHStore) AppendScaled(ctx context.Context, records []models.ScaledFactorRecord) error {
	if err := validateScaled(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	keys := make([]rowKey, len(records))
	for i, r := range records {
		keys[i] = rowKey{r.Symbol, calendar.Day(r.Date)}
	}
	if err := s.ensureAbsent(ctx, domrepo.TableScaledFactors, keys); err != nil {
		return err
	}
	return s.batch(ctx, domrepo.TableScaledFactors,
		"INSERT INTO scaled_factors (date, symbol, weight, mcap, pb, mom)", len(records),
		func(stmt *sql.Stmt, i int) error {
			r := records[i]
			_, err := stmt.ExecContext(ctx, calendar.Day(r.Date), r.Symbol, uint8(r.Weight), r.MarketCap, r.PriceToBook, r.Momentum)
			return err
		})
}

// ensureAbsent fails with ErrDuplicateKey if any key is already stored.
func (s *CHStore) ensureAbsent(ctx context.Context, table string, keys []rowKey) error {
	symbols := make([]string, 0, len(keys))
	seen := make(map[string]struct{})
	from, to := keys[0].date, keys[0].date
	want := make(map[rowKey]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
		if _, ok := seen[k.symbol]; !ok {
			seen[k.symbol] = struct{}{}
			symbols = append(symbols, k.symbol)
		}
		if k.date.Before(from) {
			from = k.date
		}
		if k.date.After(to) {
			to = k.date
		}
	}
	q := fmt.Sprintf("SELECT symbol, date FROM %s FINAL WHERE date >= ? AND date <= ? AND has(?, symbol)", table)
	rows, err := s.db.QueryContext(ctx, q, from, to, symbols)
	if err != nil {
		return fmt.Errorf("check %s keys: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k rowKey
		if err := rows.Scan(&k.symbol, &k.date); err != nil {
			return fmt.Errorf("scan %s key: %w", table, err)
		}
		k.date = calendar.Day(k.date)
		if _, dup := want[k]; dup {
			return fmt.Errorf("%w: %s %s %s", domrepo.ErrDuplicateKey, table, k.symbol, k.date.Format(calendar.DateLayout))
		}
	}
	return rows.Err()
}

// batch sends all rows as one native insert block; the driver flushes on commit.
func (s *CHStore) batch(ctx context.Context, table, insert string, n int, exec func(*sql.Stmt, int) error) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s batch: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append %s row %d: %w", table, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.l.Error("clickhouse batch commit error", applogger.String("table", table), applogger.Error(err))
		return fmt.Errorf("commit %s batch: %w", table, err)
	}
	s.l.Debug("clickhouse batch ok",
		applogger.String("table", table),
		applogger.Int("rows", n),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (s *CHStore) CrossSection(ctx context.Context, date time.Time) ([]models.FactorRecord, error) {
	return s.rawRows(ctx, `
        SELECT symbol, date, ret, mcap, pb, mom FROM raw_factors FINAL
        WHERE date = ? ORDER BY symbol`, calendar.Day(date))
}

func (s *CHStore) RawFactors(ctx context.Context, symbol string, from, to time.Time) ([]models.FactorRecord, error) {
	return s.rawRows(ctx, `
        SELECT symbol, date, ret, mcap, pb, mom FROM raw_factors FINAL
        WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`,
		symbol, calendar.Day(from), calendar.Day(to))
}

func (s *CHStore) rawRows(ctx context.Context, q string, args ...any) ([]models.FactorRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get raw factors: %w", err)
	}
	defer rows.Close()
	var out []models.FactorRecord
	for rows.Next() {
		var r models.FactorRecord
		if err := rows.Scan(&r.Symbol, &r.Date, &r.Return, &r.MarketCap, &r.PriceToBook, &r.Momentum); err != nil {
			return nil, fmt.Errorf("scan raw factor: %w", err)
		}
		r.Date = calendar.Day(r.Date)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *CHStore) ScaledFactors(ctx context.Context, date time.Time) ([]models.ScaledFactorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT date, symbol, weight, mcap, pb, mom FROM scaled_factors FINAL
        WHERE date = ? ORDER BY symbol`, calendar.Day(date))
	if err != nil {
		return nil, fmt.Errorf("get scaled factors: %w", err)
	}
	defer rows.Close()
	var out []models.ScaledFactorRecord
	for rows.Next() {
		var r models.ScaledFactorRecord
		var w uint8
		if err := rows.Scan(&r.Date, &r.Symbol, &w, &r.MarketCap, &r.PriceToBook, &r.Momentum); err != nil {
			return nil, fmt.Errorf("scan scaled factor: %w", err)
		}
		r.Date = calendar.Day(r.Date)
		r.Weight = int(w)
		out = append(out, r)
	}
	return out, rows.Err()
}

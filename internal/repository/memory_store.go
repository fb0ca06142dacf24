package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
)

// MemoryStore is an in-process Storage, used for tests and dry runs.
// Appends validate the whole batch before writing any row.
type MemoryStore struct {
	mu      sync.RWMutex
	symbols []string
	prices  map[string][]models.PriceBar
	snaps   map[models.FundamentalKind][]models.FundamentalSnapshot
	raw     map[rowKey]models.FactorRecord
	scaled  map[rowKey]models.ScaledFactorRecord
}

var (
	_ domrepo.Storage = (*MemoryStore)(nil)
	_ domrepo.Loader  = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices: make(map[string][]models.PriceBar),
		snaps:  make(map[models.FundamentalKind][]models.FundamentalSnapshot),
		raw:    make(map[rowKey]models.FactorRecord),
		scaled: make(map[rowKey]models.ScaledFactorRecord),
	}
}

// SeedSymbols sets the symbol universe. Without it the universe is every
// symbol that has prices.
func (m *MemoryStore) SeedSymbols(symbols ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = append([]string(nil), symbols...)
	sort.Strings(m.symbols)
}

// SeedPrices appends price bars.
func (m *MemoryStore) SeedPrices(bars ...models.PriceBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		b.Date = calendar.Day(b.Date)
		m.prices[b.Symbol] = append(m.prices[b.Symbol], b)
	}
}

// SeedSnapshots appends fundamental snapshots in source order.
func (m *MemoryStore) SeedSnapshots(snaps ...models.FundamentalSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.snaps[s.Kind] = append(m.snaps[s.Kind], s)
	}
}

func (m *MemoryStore) LoadPrices(_ context.Context, bars []models.PriceBar) (int64, error) {
	m.SeedPrices(bars...)
	return int64(len(bars)), nil
}

func (m *MemoryStore) LoadSnapshots(_ context.Context, snaps []models.FundamentalSnapshot) (int64, error) {
	m.SeedSnapshots(snaps...)
	return int64(len(snaps)), nil
}

func (m *MemoryStore) Init(context.Context) error   { return nil }
func (m *MemoryStore) Health(context.Context) error { return nil }
func (m *MemoryStore) Close() error                 { return nil }

func (m *MemoryStore) Reset(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch table {
	case domrepo.TableRawFactors:
		m.raw = make(map[rowKey]models.FactorRecord)
	case domrepo.TableScaledFactors:
		m.scaled = make(map[rowKey]models.ScaledFactorRecord)
	default:
		return fmt.Errorf("%w: %s", domrepo.ErrUnknownTable, table)
	}
	return nil
}

func (m *MemoryStore) Symbols(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.symbols) > 0 {
		return append([]string(nil), m.symbols...), nil
	}
	out := make([]string, 0, len(m.prices))
	for s := range m.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Prices(_ context.Context, symbol string) ([]models.PriceBar, error) {
	m.mu.RLock()
	out := append([]models.PriceBar(nil), m.prices[symbol]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) Snapshots(_ context.Context, symbol string, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	m.mu.RLock()
	var out []models.FundamentalSnapshot
	for _, s := range m.snaps[kind] {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

func (m *MemoryStore) AllSnapshots(_ context.Context, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	m.mu.RLock()
	out := append([]models.FundamentalSnapshot(nil), m.snaps[kind]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out, nil
}

func (m *MemoryStore) AppendRaw(_ context.Context, records []models.FactorRecord) error {
	if err := validateRaw(records); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.raw[rowKey{r.Symbol, calendar.Day(r.Date)}]; ok {
			return fmt.Errorf("%w: raw_factors %s %s", domrepo.ErrDuplicateKey, r.Symbol, r.Date.Format(calendar.DateLayout))
		}
	}
	for _, r := range records {
		r.Date = calendar.Day(r.Date)
		m.raw[rowKey{r.Symbol, r.Date}] = r
	}
	return nil
}

func (m *MemoryStore) CrossSection(_ context.Context, date time.Time) ([]models.FactorRecord, error) {
	d := calendar.Day(date)
	m.mu.RLock()
	var out []models.FactorRecord
	for k, r := range m.raw {
		if k.date.Equal(d) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) FactorSymbols(context.Context) ([]string, error) {
	m.mu.RLock()
	set := make(map[string]struct{})
	for k := range m.raw {
		set[k.symbol] = struct{}{}
	}
	m.mu.RUnlock()
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) RawFactors(_ context.Context, symbol string, from, to time.Time) ([]models.FactorRecord, error) {
	from, to = calendar.Day(from), calendar.Day(to)
	m.mu.RLock()
	var out []models.FactorRecord
	for k, r := range m.raw {
		if k.symbol == symbol && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) AppendScaled(_ context.Context, records []models.ScaledFactorRecord) error {
	if err := validateScaled(records); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.scaled[rowKey{r.Symbol, calendar.Day(r.Date)}]; ok {
			return fmt.Errorf("%w: scaled_factors %s %s", domrepo.ErrDuplicateKey, r.Symbol, r.Date.Format(calendar.DateLayout))
		}
	}
	for _, r := range records {
		r.Date = calendar.Day(r.Date)
		m.scaled[rowKey{r.Symbol, r.Date}] = r
	}
	return nil
}

func (m *MemoryStore) ScaledFactors(_ context.Context, date time.Time) ([]models.ScaledFactorRecord, error) {
	d := calendar.Day(date)
	m.mu.RLock()
	var out []models.ScaledFactorRecord
	for k, r := range m.scaled {
		if k.date.Equal(d) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

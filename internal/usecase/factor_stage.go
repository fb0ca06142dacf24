package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	domsvc "FinFactor/internal/domain/service"
	"FinFactor/internal/service/ratelimit"
	applogger "FinFactor/pkg/logger"
)

const StageFactors = "factors"

// FactorStage derives raw factors, one unit per pending symbol.
type FactorStage struct {
	store        domrepo.Storage
	fundamentals domrepo.FundamentalReader
	computer     domsvc.FactorComputer
	guard        *ratelimit.Guard
	pool         *Pool
	metrics      domrepo.Metrics
	l            *applogger.Logger
	clean        bool
}

// NewFactorStage builds the stage. fundamentals may be a caching decorator of
// store; nil means store itself.
func NewFactorStage(
	store domrepo.Storage,
	fundamentals domrepo.FundamentalReader,
	computer domsvc.FactorComputer,
	guard *ratelimit.Guard,
	pool *Pool,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	clean bool,
) *FactorStage {
	if fundamentals == nil {
		fundamentals = store
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &FactorStage{
		store:        store,
		fundamentals: fundamentals,
		computer:     computer,
		guard:        guard,
		pool:         pool,
		metrics:      metrics,
		l:            l.With(applogger.String("stage", StageFactors)),
		clean:        clean,
	}
}

// Pending returns the symbols that have no raw factor rows yet.
func (s *FactorStage) Pending(ctx context.Context) ([]string, error) {
	all, err := ratelimit.Call(ctx, s.guard, "symbols", s.store.Symbols)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	done, err := ratelimit.Call(ctx, s.guard, "factor_symbols", s.store.FactorSymbols)
	if err != nil {
		return nil, fmt.Errorf("list processed symbols: %w", err)
	}
	seen := make(map[string]struct{}, len(done))
	for _, sym := range done {
		seen[sym] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, sym := range all {
		if _, ok := seen[sym]; !ok {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FactorStage) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	if s.clean {
		if err := s.guard.Do(ctx, "reset", func(ctx context.Context) error {
			return s.store.Reset(ctx, domrepo.TableRawFactors)
		}); err != nil {
			return Report{Stage: StageFactors}, fmt.Errorf("clean %s: %w", domrepo.TableRawFactors, err)
		}
		// a clean run must see filings reloaded since the cache was filled
		if inv, ok := s.fundamentals.(domrepo.Invalidator); ok {
			if err := inv.Invalidate(ctx); err != nil {
				return Report{Stage: StageFactors}, fmt.Errorf("invalidate fundamentals: %w", err)
			}
			s.l.Info("fundamentals cache invalidated")
		}
	}

	book, err := ratelimit.Call(ctx, s.guard, "fundamentals", func(ctx context.Context) (*FundamentalBook, error) {
		return LoadFundamentalBook(ctx, s.fundamentals)
	})
	if err != nil {
		return Report{Stage: StageFactors}, err
	}
	pending, err := s.Pending(ctx)
	if err != nil {
		return Report{Stage: StageFactors}, err
	}
	s.l.Info("factor stage started",
		applogger.Int("symbols", len(pending)),
		applogger.Int("with_fundamentals", book.Symbols()),
	)

	rep := s.pool.Run(ctx, StageFactors, pending, func(ctx context.Context, symbol string) (int, error) {
		return s.processSymbol(ctx, book, symbol)
	})

	for _, u := range rep.Units {
		s.metrics.RecordUnit(StageFactors, string(u.Status), u.Duration.Seconds())
	}
	s.l.Info("factor stage finished",
		applogger.Int("succeeded", rep.Succeeded),
		applogger.Int("failed", rep.Failed),
		applogger.Int("skipped", rep.Skipped),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return rep, nil
}

func (s *FactorStage) processSymbol(ctx context.Context, book *FundamentalBook, symbol string) (int, error) {
	start := time.Now()
	n, err := s.computeSymbol(ctx, book, symbol)
	fields := []applogger.Field{
		applogger.String("symbol", symbol),
		applogger.Int("rows", n),
		applogger.Duration("duration_ms", time.Since(start)),
	}
	if err != nil {
		s.metrics.RecordError(StageFactors)
		s.l.Error("processing failed", append(fields, applogger.Error(err))...)
		return n, err
	}
	s.l.Info("processing successful", fields...)
	return n, nil
}

func (s *FactorStage) computeSymbol(ctx context.Context, book *FundamentalBook, symbol string) (int, error) {
	bars, err := ratelimit.Call(ctx, s.guard, "prices", func(ctx context.Context) ([]models.PriceBar, error) {
		return s.store.Prices(ctx, symbol)
	})
	if err != nil {
		return 0, fmt.Errorf("load prices: %w", err)
	}
	records, err := s.computer.Compute(symbol, bars, book.Equity(symbol), book.Shares(symbol))
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%w: no fully defined rows", ErrSkipped)
	}
	if err := s.guard.Do(ctx, "append_raw", func(ctx context.Context) error {
		return s.store.AppendRaw(ctx, records)
	}); err != nil {
		return 0, fmt.Errorf("append raw: %w", err)
	}
	s.metrics.RecordRowsWritten(domrepo.TableRawFactors, len(records))
	return len(records), nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	domsvc "FinFactor/internal/domain/service"
	"FinFactor/internal/service/ratelimit"
	"FinFactor/internal/services/robust"
	applogger "FinFactor/pkg/logger"
)

const StageScale = "scale"

// Reasons a trading date produces no scaled rows.
const (
	SkipEmpty          = "empty"
	SkipZeroWeight     = "zero_weight"
	SkipZeroDispersion = "zero_dispersion"
)

// ScalingStage standardizes each trading date's cross-section, one unit per date.
type ScalingStage struct {
	store    domrepo.FactorStore
	cal      *calendar.Calendar
	detector domsvc.OutlierDetector
	scaler   domsvc.Scaler
	pub      domrepo.ScaledPublisher
	guard    *ratelimit.Guard
	pool     *Pool
	metrics  domrepo.Metrics
	l        *applogger.Logger
	reset    func(ctx context.Context, table string) error
	clean    bool
}

// NewScalingStage builds the stage. pub may be nil. reset is only used when
// clean is set.
func NewScalingStage(
	store domrepo.FactorStore,
	cal *calendar.Calendar,
	detector domsvc.OutlierDetector,
	scaler domsvc.Scaler,
	pub domrepo.ScaledPublisher,
	guard *ratelimit.Guard,
	pool *Pool,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	reset func(ctx context.Context, table string) error,
	clean bool,
) *ScalingStage {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ScalingStage{
		store:    store,
		cal:      cal,
		detector: detector,
		scaler:   scaler,
		pub:      pub,
		guard:    guard,
		pool:     pool,
		metrics:  metrics,
		l:        l.With(applogger.String("stage", StageScale)),
		reset:    reset,
		clean:    clean,
	}
}

// Run scales every business day in [from, to].
func (s *ScalingStage) Run(ctx context.Context, from, to time.Time) (Report, error) {
	start := time.Now()
	if s.clean && s.reset != nil {
		if err := s.guard.Do(ctx, "reset", func(ctx context.Context) error {
			return s.reset(ctx, domrepo.TableScaledFactors)
		}); err != nil {
			return Report{Stage: StageScale}, fmt.Errorf("clean %s: %w", domrepo.TableScaledFactors, err)
		}
	}

	dates := s.cal.Range(from, to)
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = d.Format(calendar.DateLayout)
	}
	s.l.Info("scaling stage started",
		applogger.Int("dates", len(keys)),
		applogger.Date("from", from),
		applogger.Date("to", to),
	)

	rep := s.pool.Run(ctx, StageScale, keys, func(ctx context.Context, key string) (int, error) {
		d, err := time.Parse(calendar.DateLayout, key)
		if err != nil {
			return 0, err
		}
		return s.processDate(ctx, d)
	})

	for _, u := range rep.Units {
		s.metrics.RecordUnit(StageScale, string(u.Status), u.Duration.Seconds())
	}
	s.l.Info("scaling stage finished",
		applogger.Int("succeeded", rep.Succeeded),
		applogger.Int("failed", rep.Failed),
		applogger.Int("skipped", rep.Skipped),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return rep, nil
}

func (s *ScalingStage) processDate(ctx context.Context, date time.Time) (int, error) {
	start := time.Now()
	n, err := s.scaleDate(ctx, date)
	fields := []applogger.Field{
		applogger.Date("date", date),
		applogger.Int("rows", n),
		applogger.Duration("duration_ms", time.Since(start)),
	}
	switch {
	case err == nil:
		s.l.Info("processing successful", fields...)
	case errors.Is(err, ErrSkipped):
		s.l.Warn("processing skipped", append(fields, applogger.Error(err))...)
	default:
		s.metrics.RecordError(StageScale)
		s.l.Error("processing failed", append(fields, applogger.Error(err))...)
	}
	return n, err
}

func (s *ScalingStage) scaleDate(ctx context.Context, date time.Time) (int, error) {
	rows, err := ratelimit.Call(ctx, s.guard, "cross_section", func(ctx context.Context) ([]models.FactorRecord, error) {
		return s.store.CrossSection(ctx, date)
	})
	if err != nil {
		return 0, fmt.Errorf("load cross-section: %w", err)
	}
	if len(rows) == 0 {
		s.metrics.RecordSkippedDate(SkipEmpty)
		return 0, fmt.Errorf("%w: %s", ErrSkipped, SkipEmpty)
	}

	scaled, outliers, err := ScaleCrossSection(date, rows, s.detector, s.scaler)
	switch {
	case errors.Is(err, robust.ErrZeroWeight):
		s.metrics.RecordSkippedDate(SkipZeroWeight)
		return 0, fmt.Errorf("%w: %s: %v", ErrSkipped, SkipZeroWeight, err)
	case errors.Is(err, robust.ErrZeroDispersion):
		s.metrics.RecordSkippedDate(SkipZeroDispersion)
		return 0, fmt.Errorf("%w: %s: %v", ErrSkipped, SkipZeroDispersion, err)
	case err != nil:
		return 0, err
	}
	s.metrics.RecordOutliers(outliers)

	if err := s.guard.Do(ctx, "append_scaled", func(ctx context.Context) error {
		return s.store.AppendScaled(ctx, scaled)
	}); err != nil {
		return 0, fmt.Errorf("append scaled: %w", err)
	}
	s.metrics.RecordRowsWritten(domrepo.TableScaledFactors, len(scaled))

	if s.pub != nil {
		if err := s.pub.PublishScaled(ctx, date, scaled); err != nil {
			s.metrics.RecordError("publish")
			s.l.Warn("publish scaled failed", applogger.Date("date", date), applogger.Error(err))
		}
	}
	return len(scaled), nil
}

// ScaleCrossSection weights one date's rows by their return and standardizes
// every scaled column. It returns the rows in input order and the number of
// zero-weight rows.
func ScaleCrossSection(date time.Time, rows []models.FactorRecord, detector domsvc.OutlierDetector, scaler domsvc.Scaler) ([]models.ScaledFactorRecord, int, error) {
	returns := make([]float64, len(rows))
	for i, r := range rows {
		returns[i] = r.Return
	}
	weights, err := detector.Weights(returns)
	if err != nil {
		return nil, 0, fmt.Errorf("outlier weights: %w", err)
	}
	outliers := 0
	for _, w := range weights {
		if w == 0 {
			outliers++
		}
	}

	cols := make([][]float64, len(models.ScaledColumns))
	for c, col := range models.ScaledColumns {
		cols[c] = make([]float64, len(rows))
		for i, r := range rows {
			cols[c][i] = r.Value(col)
		}
	}
	z, err := scaler.Scale(cols, weights)
	if err != nil {
		return nil, outliers, err
	}

	d := calendar.Day(date)
	out := make([]models.ScaledFactorRecord, len(rows))
	for i, r := range rows {
		out[i] = models.ScaledFactorRecord{
			Date:        d,
			Symbol:      r.Symbol,
			Weight:      weights[i],
			MarketCap:   z[0][i],
			PriceToBook: z[1][i],
			Momentum:    z[2][i],
		}
	}
	return out, outliers, nil
}

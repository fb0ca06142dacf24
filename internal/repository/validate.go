package repository

import (
	"fmt"
	"math"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
)

type rowKey struct {
	symbol string
	date   time.Time
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// validateRaw rejects the whole batch if any record is incomplete or repeats
// a (symbol, date) pair.
func validateRaw(records []models.FactorRecord) error {
	seen := make(map[rowKey]struct{}, len(records))
	for i, r := range records {
		if r.Symbol == "" || r.Date.IsZero() {
			return fmt.Errorf("%w: raw row %d has no symbol or date", domrepo.ErrInvalidRecord, i)
		}
		if !finite(r.Return, r.MarketCap, r.PriceToBook, r.Momentum) {
			return fmt.Errorf("%w: raw row %s %s is not fully defined", domrepo.ErrInvalidRecord, r.Symbol, r.Date.Format(calendar.DateLayout))
		}
		k := rowKey{r.Symbol, calendar.Day(r.Date)}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: raw row %s %s repeated in batch", domrepo.ErrDuplicateKey, r.Symbol, r.Date.Format(calendar.DateLayout))
		}
		seen[k] = struct{}{}
	}
	return nil
}

func validateScaled(records []models.ScaledFactorRecord) error {
	seen := make(map[rowKey]struct{}, len(records))
	for i, r := range records {
		if r.Symbol == "" || r.Date.IsZero() {
			return fmt.Errorf("%w: scaled row %d has no symbol or date", domrepo.ErrInvalidRecord, i)
		}
		if r.Weight != 0 && r.Weight != 1 {
			return fmt.Errorf("%w: scaled row %s has weight %d", domrepo.ErrInvalidRecord, r.Symbol, r.Weight)
		}
		if !finite(r.MarketCap, r.PriceToBook, r.Momentum) {
			return fmt.Errorf("%w: scaled row %s %s is not finite", domrepo.ErrInvalidRecord, r.Symbol, r.Date.Format(calendar.DateLayout))
		}
		k := rowKey{r.Symbol, calendar.Day(r.Date)}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: scaled row %s %s repeated in batch", domrepo.ErrDuplicateKey, r.Symbol, r.Date.Format(calendar.DateLayout))
		}
		seen[k] = struct{}{}
	}
	return nil
}

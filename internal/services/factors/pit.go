package factors

import (
	"fmt"
	"math"
	"sort"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
)

// KnowledgeDate selects which snapshot date must precede a price date
// before the snapshot may be used for it.
type KnowledgeDate string

const (
	// KnowledgeEffective uses the period end (ddate).
	KnowledgeEffective KnowledgeDate = "effective"
	// KnowledgeFiled uses the filing date.
	KnowledgeFiled KnowledgeDate = "filed"
)

// ParseKnowledgeDate validates a policy name; empty means effective.
func ParseKnowledgeDate(s string) (KnowledgeDate, error) {
	switch KnowledgeDate(s) {
	case "", KnowledgeEffective:
		return KnowledgeEffective, nil
	case KnowledgeFiled:
		return KnowledgeFiled, nil
	}
	return "", fmt.Errorf("unknown point-in-time policy %q", s)
}

// Dedupe keeps one snapshot per (symbol, kind, effective date): the earliest
// filing wins and equal filing dates keep the first one seen. Snapshots with a
// non-finite value, and zero share counts, are dropped. The result is ordered
// by effective date.
func Dedupe(snaps []models.FundamentalSnapshot) []models.FundamentalSnapshot {
	type key struct {
		symbol string
		kind   models.FundamentalKind
		ddate  time.Time
	}
	pos := make(map[key]int, len(snaps))
	out := make([]models.FundamentalSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || (s.Kind == models.KindShares && s.Value == 0) {
			continue
		}
		k := key{s.Symbol, s.Kind, calendar.Day(s.EffectiveDate)}
		if i, ok := pos[k]; ok {
			if s.FiledDate.Before(out[i].FiledDate) {
				out[i] = s
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out
}

// Resolver assigns point-in-time fundamental values to price dates.
type Resolver struct {
	policy KnowledgeDate
}

func NewResolver(policy KnowledgeDate) *Resolver {
	if policy == "" {
		policy = KnowledgeEffective
	}
	return &Resolver{policy: policy}
}

// Policy returns the knowledge date policy in use.
func (r *Resolver) Policy() KnowledgeDate { return r.policy }

func (r *Resolver) known(s models.FundamentalSnapshot) time.Time {
	if r.policy == KnowledgeFiled {
		return calendar.Day(s.FiledDate)
	}
	return calendar.Day(s.EffectiveDate)
}

// Resolve returns, index-aligned with dates, the value of the most recent
// snapshot known strictly before each date, or NaN when none is.
//
// It is a single as-of merge: snapshots are walked in knowledge order while
// the dates are walked ascending, carrying the latest-period snapshot seen so
// far. Under the effective policy this is simply the last snapshot passed.
func (r *Resolver) Resolve(snaps []models.FundamentalSnapshot, dates []time.Time) []float64 {
	out := make([]float64, len(dates))
	for i := range out {
		out[i] = math.NaN()
	}
	snaps = Dedupe(snaps)
	if len(snaps) == 0 || len(dates) == 0 {
		return out
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		return r.known(snaps[i]).Before(r.known(snaps[j]))
	})

	order := make([]int, len(dates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dates[order[i]].Before(dates[order[j]])
	})

	next, best := 0, -1
	for _, idx := range order {
		t := calendar.Day(dates[idx])
		for next < len(snaps) && r.known(snaps[next]).Before(t) {
			if best < 0 || !snaps[next].EffectiveDate.Before(snaps[best].EffectiveDate) {
				best = next
			}
			next++
		}
		if best >= 0 {
			out[idx] = snaps[best].Value
		}
	}
	return out
}

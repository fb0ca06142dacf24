package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	applogger "FinFactor/pkg/logger"
)

// ErrSkipped marks a unit that had nothing valid to produce. It is not a failure.
var ErrSkipped = errors.New("unit skipped")

// UnitStatus is the outcome of one unit of work.
type UnitStatus string

const (
	StatusSucceeded UnitStatus = "succeeded"
	StatusFailed    UnitStatus = "failed"
	StatusSkipped   UnitStatus = "skipped"
)

// UnitResult records one unit's outcome.
type UnitResult struct {
	Key      string        `json:"key"`
	Status   UnitStatus    `json:"status"`
	Rows     int           `json:"rows"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a stage run. Units is in submission order.
type Report struct {
	Stage     string       `json:"stage"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Units     []UnitResult `json:"units"`
}

// Errors returns the failed units' errors joined, or nil.
func (r Report) Errors() error {
	var errs []error
	for _, u := range r.Units {
		if u.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", u.Key, u.Err))
		}
	}
	return errors.Join(errs...)
}

// UnitFunc processes one key and returns the number of rows written.
type UnitFunc func(ctx context.Context, key string) (int, error)

// Pool runs units on a bounded number of goroutines. A failing or panicking
// unit never cancels its siblings; once ctx is done no new unit starts.
type Pool struct {
	workers int
	l       *applogger.Logger
}

func NewPool(workers int, l *applogger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Pool{workers: workers, l: l}
}

func (p *Pool) Run(ctx context.Context, stage string, keys []string, fn UnitFunc) Report {
	results := make([]UnitResult, len(keys))
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, key := range keys {
		if ctx.Err() != nil {
			results[i] = UnitResult{Key: key, Status: StatusFailed, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			results[i] = p.runUnit(ctx, stage, key, fn)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Stage: stage, Units: results}
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			rep.Succeeded++
		case StatusSkipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
	}
	return rep
}

func (p *Pool) runUnit(ctx context.Context, stage, key string, fn UnitFunc) (res UnitResult) {
	start := time.Now()
	res.Key = key
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("panic: %v", r)
			p.l.Error("unit panicked",
				applogger.String("stage", stage),
				applogger.String("key", key),
				applogger.Any("panic", r),
				applogger.String("stack", string(debug.Stack())),
			)
		}
		res.Duration = time.Since(start)
	}()

	if ctx.Err() != nil {
		res.Status, res.Err = StatusFailed, ctx.Err()
		return res
	}
	n, err := fn(ctx, key)
	res.Rows = n
	switch {
	case err == nil:
		res.Status = StatusSucceeded
	case errors.Is(err, ErrSkipped):
		res.Status, res.Err = StatusSkipped, err
	default:
		res.Status, res.Err = StatusFailed, err
	}
	return res
}

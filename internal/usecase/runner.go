package usecase

import (
	"context"
	"fmt"
	"time"

	applogger "FinFactor/pkg/logger"
)

// Runner executes the enabled stages in order. Scaling only starts after
// the factor stage has fully drained.
type Runner struct {
	factors *FactorStage
	scaling *ScalingStage
	l       *applogger.Logger
}

func NewRunner(factors *FactorStage, scaling *ScalingStage, l *applogger.Logger) *Runner {
	if l == nil {
		l = applogger.Nop()
	}
	return &Runner{factors: factors, scaling: scaling, l: l}
}

// Run executes stages named in enabled over [from, to]. Unit failures are
// reported, not returned; an error means a stage could not start.
func (r *Runner) Run(ctx context.Context, enabled []string, from, to time.Time) ([]Report, error) {
	on := make(map[string]bool, len(enabled))
	for _, s := range enabled {
		on[s] = true
	}
	for s := range on {
		if s != StageFactors && s != StageScale {
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}

	var reports []Report
	if on[StageFactors] {
		rep, err := r.factors.Run(ctx)
		if err != nil {
			return reports, fmt.Errorf("factor stage: %w", err)
		}
		reports = append(reports, rep)
	}
	if ctx.Err() != nil {
		return reports, ctx.Err()
	}
	if on[StageScale] {
		rep, err := r.scaling.Run(ctx, from, to)
		if err != nil {
			return reports, fmt.Errorf("scaling stage: %w", err)
		}
		reports = append(reports, rep)
	}

	for _, rep := range reports {
		if rep.Failed > 0 {
			r.l.Warn("stage finished with failures",
				applogger.String("stage", rep.Stage),
				applogger.Int("failed", rep.Failed),
				applogger.Error(rep.Errors()),
			)
		}
	}
	return reports, nil
}

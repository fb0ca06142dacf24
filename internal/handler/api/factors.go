package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/internal/service/ratelimit"
	"FinFactor/internal/services/robust"
	"FinFactor/pkg/cache"
	xhttp "FinFactor/pkg/http"
	xlogger "FinFactor/pkg/logger"
	"FinFactor/pkg/util"
)

const scaledCacheTTL = 10 * time.Minute

// Fencer computes the outlier fence of a return cross-section.
type Fencer interface {
	Fence(returns []float64) (robust.Fence, error)
}

// HealthChecker pings a backing service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// BreakerState reports the storage circuit breaker: closed, half-open or open.
type BreakerState interface {
	State() string
}

// FactorsHandler serves read-only queries over raw and scaled factors.
type FactorsHandler struct {
	store   domrepo.FactorStore
	health  HealthChecker
	breaker BreakerState
	fencer  Fencer
	rl      *ratelimit.Limiter
	cache   cache.Service
	logger  *xlogger.Logger
}

// NewFactorsHandler builds the handler. rl and c may be nil.
func NewFactorsHandler(store domrepo.FactorStore, health HealthChecker, fencer Fencer, rl *ratelimit.Limiter, c cache.Service, logger *xlogger.Logger) *FactorsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &FactorsHandler{store: store, health: health, fencer: fencer, rl: rl, cache: c, logger: logger}
}

// WithBreaker adds the storage breaker state to /health. An open breaker
// reports the service unavailable.
func (h *FactorsHandler) WithBreaker(b BreakerState) *FactorsHandler {
	h.breaker = b
	return h
}

func (h *FactorsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/factors", h.rateLimit)
	g.GET("/raw", h.Raw)
	g.GET("/scaled", h.Scaled)
	g.GET("/cross-section", h.CrossSection)
	g.GET("/fence", h.Fence)
}

func (h *FactorsHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rl != nil && !h.rl.Allow(c.RealIP()) {
			h.logger.Warn("factors rate_limited", xlogger.String("remote", c.RealIP()))
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

func (h *FactorsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Health(ctx); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("storage unavailable").WithError(err))
	}
	body := map[string]string{"status": "ok"}
	if h.breaker != nil {
		state := h.breaker.State()
		if state == "open" {
			h.logger.Warn("health check failed", xlogger.String("breaker", state))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("storage breaker open"))
		}
		body["breaker"] = state
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *FactorsHandler) Raw(c echo.Context) error {
	req := &models.RawFactorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := util.ParseDate(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("from", "invalid date %q", req.From))
	}
	to, ok := util.ParseDate(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("to", "invalid date %q", req.To))
	}
	from, to = util.OrderRange(from, to)

	rows, err := h.store.RawFactors(c.Request().Context(), req.Symbol, from, to)
	if err != nil {
		h.logger.Error("raw factors query error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("query failed").WithError(err))
	}
	total := int64(len(rows))
	if len(rows) > req.Limit {
		rows = rows[len(rows)-req.Limit:]
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *FactorsHandler) Scaled(c echo.Context) error {
	req := &models.ScaledFactorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := time.Parse(calendar.DateLayout, req.Date)
	ctx := c.Request().Context()

	var rows []models.ScaledFactorRecord
	key := cache.Key("scaled", req.Date)
	hit := false
	if h.cache != nil {
		if err := h.cache.Get(ctx, key, &rows); err == nil {
			hit = true
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("scaled cache_get_error", xlogger.Error(err))
		}
	}
	if !hit {
		var err error
		rows, err = h.store.ScaledFactors(ctx, date)
		if err != nil {
			h.logger.Error("scaled factors query error", xlogger.String("date", req.Date), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("query failed").WithError(err))
		}
		// an empty date may still be scaled later
		if h.cache != nil && len(rows) > 0 {
			if err := h.cache.Set(ctx, key, rows, scaledCacheTTL); err != nil {
				h.logger.Warn("scaled cache_set_error", xlogger.Error(err))
			}
		}
	}
	if len(rows) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no scaled factors for date").WithParam("date", req.Date))
	}

	if req.Weight != "" {
		want := 0
		if req.Weight == "1" {
			want = 1
		}
		kept := rows[:0:0]
		for _, r := range rows {
			if r.Weight == want {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *FactorsHandler) CrossSection(c echo.Context) error {
	req := &models.CrossSectionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := time.Parse(calendar.DateLayout, req.Date)

	rows, err := h.store.CrossSection(c.Request().Context(), date)
	if err != nil {
		h.logger.Error("cross-section query error", xlogger.String("date", req.Date), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("query failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *FactorsHandler) Fence(c echo.Context) error {
	req := &models.CrossSectionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := time.Parse(calendar.DateLayout, req.Date)

	rows, err := h.store.CrossSection(c.Request().Context(), date)
	if err != nil {
		h.logger.Error("fence query error", xlogger.String("date", req.Date), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("query failed").WithError(err))
	}
	if len(rows) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no raw factors for date").WithParam("date", req.Date))
	}
	returns := make([]float64, len(rows))
	for i, r := range rows {
		returns[i] = r.Return
	}

	res := models.FenceResponse{Date: req.Date, Rows: len(rows)}
	f, err := h.fencer.Fence(returns)
	switch {
	case errors.Is(err, robust.ErrInsufficientData):
		res.Degenerate = true
	case err != nil:
		return xhttp.AppErrorResponse(c, xhttp.InternalError("fence failed").WithError(err))
	default:
		res.Q1, res.Q3, res.Medcouple, res.Lower, res.Upper = f.Q1, f.Q3, f.Medcouple, f.Lower, f.Upper
		for _, r := range returns {
			if !f.Contains(r) {
				res.Outliers++
			}
		}
	}
	return xhttp.SuccessResponse(c, res)
}

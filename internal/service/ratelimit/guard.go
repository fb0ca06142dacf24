package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	applogger "FinFactor/pkg/logger"
)

// GuardConfig tunes a Guard. Zero values fall back to defaults.
type GuardConfig struct {
	Name            string
	RPS             float64
	Burst           int
	Attempts        int
	Backoff         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Guard wraps storage calls with a shared rate limit, a circuit breaker and
// linear-backoff retries. Errors for which Permanent returns true are
// returned immediately.
type Guard struct {
	lim       *rate.Limiter
	cb        *gobreaker.CircuitBreaker
	attempts  int
	backoff   time.Duration
	permanent func(error) bool
	onRetry   func(op string)
	l         *applogger.Logger
}

type GuardOption func(*Guard)

// WithPermanent marks errors that must not be retried nor counted by the breaker.
func WithPermanent(fn func(error) bool) GuardOption {
	return func(g *Guard) { g.permanent = fn }
}

// WithRetryHook is called once per retry, e.g. to count retries in metrics.
func WithRetryHook(fn func(op string)) GuardOption {
	return func(g *Guard) { g.onRetry = fn }
}

func WithLogger(l *applogger.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.l = l
		}
	}
}

func NewGuard(cfg GuardConfig, opts ...GuardOption) *Guard {
	if cfg.Name == "" {
		cfg.Name = "storage"
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 200
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	g := &Guard{
		lim:       rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		attempts:  cfg.Attempts,
		backoff:   cfg.Backoff,
		permanent: func(error) bool { return false },
		onRetry:   func(string) {},
		l:         applogger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	failures := cfg.BreakerFailures
	st := gobreaker.Settings{Name: cfg.Name, Timeout: cfg.BreakerTimeout}
	st.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures }
	st.IsSuccessful = func(err error) bool {
		return err == nil || g.permanent(err) || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		g.l.Warn("circuit breaker state change",
			applogger.String("breaker", name),
			applogger.String("from", from.String()),
			applogger.String("to", to.String()),
		)
	}
	g.cb = gobreaker.NewCircuitBreaker(st)
	return g
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// The i-th retry waits i*backoff.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < g.attempts; i++ {
		if i > 0 {
			g.onRetry(op)
			g.l.Warn("storage retry",
				applogger.String("op", op),
				applogger.Int("attempt", i+1),
				applogger.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * g.backoff):
			}
		}
		if werr := g.lim.Wait(ctx); werr != nil {
			return fmt.Errorf("%s: %w", op, werr)
		}
		_, err = g.cb.Execute(func() (interface{}, error) { return nil, fn(ctx) })
		if err == nil {
			return nil
		}
		if g.permanent(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, g.attempts, err)
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// State exposes the breaker state for health reporting.
func (g *Guard) State() string {
	return g.cb.State().String()
}

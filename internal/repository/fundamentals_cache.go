package repository

import (
	"context"
	"errors"
	"time"

	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/pkg/cache"
	applogger "FinFactor/pkg/logger"
)

const fundamentalsKeyPrefix = "fund"

// CachedFundamentals is a read-through cache in front of a FundamentalReader.
// Filings are reference data that only change on reload, so entries live
// until their TTL or an explicit Invalidate. Cache failures fall through to
// the underlying reader.
type CachedFundamentals struct {
	next  domrepo.FundamentalReader
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

var (
	_ domrepo.FundamentalReader = (*CachedFundamentals)(nil)
	_ domrepo.Invalidator       = (*CachedFundamentals)(nil)
)

func NewCachedFundamentals(next domrepo.FundamentalReader, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedFundamentals {
	if l == nil {
		l = applogger.Nop()
	}
	return &CachedFundamentals{next: next, cache: c, ttl: ttl, l: l}
}

func (c *CachedFundamentals) Snapshots(ctx context.Context, symbol string, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	key := cache.Key(fundamentalsKeyPrefix, kind, symbol)
	return c.readThrough(ctx, key, func() ([]models.FundamentalSnapshot, error) {
		return c.next.Snapshots(ctx, symbol, kind)
	})
}

func (c *CachedFundamentals) AllSnapshots(ctx context.Context, kind models.FundamentalKind) ([]models.FundamentalSnapshot, error) {
	key := cache.Key(fundamentalsKeyPrefix, kind, "all")
	return c.readThrough(ctx, key, func() ([]models.FundamentalSnapshot, error) {
		return c.next.AllSnapshots(ctx, kind)
	})
}

// Invalidate drops every cached fundamentals entry.
func (c *CachedFundamentals) Invalidate(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, cache.Pattern(fundamentalsKeyPrefix+":"))
}

func (c *CachedFundamentals) readThrough(ctx context.Context, key string, load func() ([]models.FundamentalSnapshot, error)) ([]models.FundamentalSnapshot, error) {
	var out []models.FundamentalSnapshot
	err := c.cache.Get(ctx, key, &out)
	switch {
	case err == nil:
		c.l.Debug("fundamentals cache_hit", applogger.String("key", key))
		return out, nil
	case errors.Is(err, cache.ErrCacheMiss):
		c.l.Debug("fundamentals cache_miss", applogger.String("key", key))
	default:
		c.l.Warn("fundamentals cache_get_error", applogger.String("key", key), applogger.Error(err))
	}

	out, err = load()
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.l.Warn("fundamentals cache_set_error", applogger.String("key", key), applogger.Error(err))
	}
	return out, nil
}

// Package pricecache holds the most recent quote per tracked symbol behind a
// freshness TTL, refreshing all symbols together from an external source.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/pricefeed"
)

// SampleRecorder appends a refreshed quote to persistent price history.
type SampleRecorder interface {
	RecordSample(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error
}

// Cache is a shared in-memory quote cache. One fetch stamp covers the whole
// cache: a single upstream call refreshes all requested symbols together.
type Cache struct {
	source   pricefeed.Source
	recorder SampleRecorder
	ttl      time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	fetchedAt time.Time
}

// New constructs a cache. recorder may be nil when persistence is disabled.
func New(source pricefeed.Source, recorder SampleRecorder, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		source:   source,
		recorder: recorder,
		ttl:      ttl,
		logger:   logger.With().Str("component", "pricecache").Logger(),
		now:      time.Now,
		prices:   make(map[string]decimal.Decimal),
	}
}

// Current returns the last successfully cached value for a symbol. It never
// triggers a fetch.
func (c *Cache) Current(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[symbol]
	return price, ok
}

// Refresh returns the cached map when it is still fresh, otherwise fetches the
// requested symbols in one upstream call. On fetch failure the last good cache
// is returned and the fetch stamp is left unchanged, so the next call retries
// immediately. On success every refreshed quote is appended to price history.
func (c *Cache) Refresh(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.fetchedAt) < c.ttl && len(c.prices) > 0 {
		return copyPrices(c.prices)
	}

	fetched, err := c.source.FetchPrices(ctx, symbols)
	if err != nil {
		c.logger.Error().Err(err).Msg("price fetch failed; serving stale cache")
		return copyPrices(c.prices)
	}

	c.prices = fetched
	c.fetchedAt = now

	if c.recorder != nil {
		for symbol, price := range fetched {
			if recErr := c.recorder.RecordSample(ctx, symbol, price, now); recErr != nil {
				c.logger.Error().Err(recErr).Str("symbol", symbol).Msg("failed to record price sample")
			}
		}
	}

	c.logger.Debug().Int("symbols", len(fetched)).Msg("price cache refreshed")
	return copyPrices(c.prices)
}

func copyPrices(src map[string]decimal.Decimal) map[string]decimal.Decimal {
	dst := make(map[string]decimal.Decimal, len(src))
	for symbol, price := range src {
		dst[symbol] = price
	}
	return dst
}

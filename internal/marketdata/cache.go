package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dca-trade-bot-go/internal/exchange"
)

// Cache is a short-TTL read-through cache in front of the exchange's
// market-data endpoints. Processors never call those endpoints directly, so
// many (bot, pair) tasks in one pass cost at most one upstream request per
// pair within the TTL window.
type Cache struct {
	client exchange.Client
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	prices  map[string]priceEntry
	candles map[string]candleEntry
}

type priceEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

type candleEntry struct {
	candles   []exchange.Candle
	fetchedAt time.Time
}

// NewCache creates a market-data cache with the given TTL.
func NewCache(client exchange.Client, ttl time.Duration) *Cache {
	return &Cache{
		client:  client,
		ttl:     ttl,
		now:     time.Now,
		prices:  make(map[string]priceEntry),
		candles: make(map[string]candleEntry),
	}
}

// Price returns the current price for a pair, hitting the exchange only when
// the cached value has expired.
func (c *Cache) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	c.mu.Lock()
	entry, ok := c.prices[pair]
	fresh := ok && c.now().Sub(entry.fetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		return entry.price, nil
	}

	price, err := c.client.GetCurrentPrice(ctx, pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to refresh price for %s: %w", pair, err)
	}

	c.mu.Lock()
	c.prices[pair] = priceEntry{price: price, fetchedAt: c.now()}
	c.mu.Unlock()
	return price, nil
}

// Candles returns recent OHLCV bars for a pair and interval, cached per
// (pair, interval, limit) key.
func (c *Cache) Candles(ctx context.Context, pair, interval string, limit int) ([]exchange.Candle, error) {
	key := fmt.Sprintf("%s|%s|%d", pair, interval, limit)

	c.mu.Lock()
	entry, ok := c.candles[key]
	fresh := ok && c.now().Sub(entry.fetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		return entry.candles, nil
	}

	candles, err := c.client.GetCandles(ctx, pair, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh candles for %s: %w", pair, err)
	}

	c.mu.Lock()
	c.candles[key] = candleEntry{candles: candles, fetchedAt: c.now()}
	c.mu.Unlock()
	return candles, nil
}

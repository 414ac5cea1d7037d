package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-service/internal/domain"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider fetches spot rates from the external quote source.
type Provider interface {
	FetchRates(ctx context.Context, symbols []string, fiat string) (map[string]decimal.Decimal, error)
}

const (
	// DefaultTTL bounds how long a quote may be used for pricing.
	DefaultTTL = 30 * time.Second

	// staleMultiplier: on provider failure a cached quote younger than
	// staleMultiplier×TTL is still served, marked degraded.
	staleMultiplier = 5
)

// Cache is the process-wide quote cache. It is the only state shared across
// unrelated users' requests; its sole concurrency discipline is
// refresh-on-expiry with per-(symbol,fiat) request coalescing.
type Cache struct {
	provider Provider
	ttl      time.Duration
	maxStale time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]domain.Quote

	group singleflight.Group
}

type Option func(*Cache)

// WithClock injects a clock, used by tests to control quote age.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func NewCache(provider Provider, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		provider: provider,
		ttl:      ttl,
		maxStale: ttl * staleMultiplier,
		now:      time.Now,
		logger:   zap.NewNop(),
		entries:  make(map[string]domain.Quote),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(symbol, fiat string) string {
	return symbol + "/" + fiat
}

// GetRate returns a cached quote younger than the TTL, or synchronously
// refreshes it. Concurrent misses for the same (symbol, fiat) coalesce into a
// single outbound fetch. On provider failure a quote younger than 5×TTL is
// returned with Degraded set; otherwise ErrQuoteUnavailable.
func (c *Cache) GetRate(ctx context.Context, symbol, fiat string) (domain.Quote, error) {
	key := cacheKey(symbol, fiat)

	if q, ok := c.cached(key, c.ttl); ok {
		return q, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A coalesced waiter may arrive after the leader already refreshed.
		if q, ok := c.cached(key, c.ttl); ok {
			return q, nil
		}
		return c.refresh(ctx, key, symbol, fiat)
	})
	if err != nil {
		return domain.Quote{}, err
	}

	return v.(domain.Quote), nil
}

// GetRates applies the GetRate logic per symbol. One bad symbol never fails
// the whole batch: callers get every quote that succeeded plus a per-symbol
// failure map.
func (c *Cache) GetRates(ctx context.Context, symbols []string, fiat string) (map[string]domain.Quote, map[string]error) {
	quotes := make(map[string]domain.Quote, len(symbols))
	failures := make(map[string]error)

	for _, symbol := range symbols {
		q, err := c.GetRate(ctx, symbol, fiat)
		if err != nil {
			failures[symbol] = err
			continue
		}
		quotes[symbol] = q
	}

	return quotes, failures
}

func (c *Cache) cached(key string, maxAge time.Duration) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.entries[key]
	if !ok || q.Age(c.now()) >= maxAge {
		return domain.Quote{}, false
	}
	return q, true
}

func (c *Cache) refresh(ctx context.Context, key, symbol, fiat string) (domain.Quote, error) {
	rates, err := c.provider.FetchRates(ctx, []string{symbol}, fiat)
	if err == nil {
		rate, ok := rates[symbol]
		if !ok {
			err = fmt.Errorf("provider returned no rate for %s", symbol)
		} else {
			q := domain.Quote{
				Symbol:    symbol,
				FiatCode:  fiat,
				Rate:      rate,
				FetchedAt: c.now(),
			}
			c.mu.Lock()
			c.entries[key] = q
			c.mu.Unlock()
			return q, nil
		}
	}

	// Provider failed: fall back to a still-usable stale quote.
	if q, ok := c.cached(key, c.maxStale); ok {
		q.Degraded = true
		c.logger.Warn("serving degraded quote",
			zap.String("symbol", symbol),
			zap.String("fiat", fiat),
			zap.Duration("age", q.Age(c.now())),
			zap.Error(err),
		)
		return q, nil
	}

	return domain.Quote{}, fmt.Errorf("%w: %s/%s: %v", xerrors.ErrQuoteUnavailable, symbol, fiat, err)
}

// Package quote prices assets. Prices come either from a deterministic
// simulator or from an external feed fronted by a TTL cache, depending on
// the configured mode.
package quote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/metrics"
	"github.com/investipet/engine/internal/model"
)

// Price modes.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
	ModeHybrid    = "hybrid"
)

// Feed fetches the latest price for an external symbol.
type Feed interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Quoter is what callers need from the engine.
type Quoter interface {
	Quote(ctx context.Context, asset model.Asset) (model.Quote, error)
}

// Config controls engine behaviour.
type Config struct {
	Mode         string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	// FailureBackoff is how long a failed fetch suppresses further feed
	// calls for the same symbol.
	FailureBackoff time.Duration
	// SymbolMap translates internal symbols to feed symbols (BTC -> BTC-USD).
	SymbolMap map[string]string
}

// maxConcurrentFetches bounds the fan-out of a Quotes batch.
const maxConcurrentFetches = 8

type cacheEntry struct {
	quote     model.Quote
	fetchedAt time.Time
	failedAt  time.Time
	err       error
}

// Engine resolves quotes according to its mode. It is safe for concurrent
// use; concurrent cache misses for one symbol share a single feed call.
type Engine struct {
	cfg    Config
	feed   Feed
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewEngine creates an engine. feed may be nil in simulated mode.
func NewEngine(cfg Config, feed Feed, clk clock.Clock, logger *slog.Logger) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeSimulated
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		feed:   feed,
		clock:  clk,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}
}

// Mode returns the configured price mode.
func (e *Engine) Mode() string { return e.cfg.Mode }

// Quote returns the current price of asset.
//
// In simulated mode the price is derived from the clock. In live mode a
// fresh cache entry is returned as is; otherwise the feed is queried and a
// failure yields ErrQuoteUnavailable. A failure is remembered for
// FailureBackoff, during which the feed is not called again for that
// symbol. Hybrid mode behaves like live but falls back to the simulated
// price when the feed fails.
func (e *Engine) Quote(ctx context.Context, asset model.Asset) (model.Quote, error) {
	now := e.clock.Now()
	if e.cfg.Mode == ModeSimulated || e.feed == nil {
		metrics.QuoteRequests.WithLabelValues(e.cfg.Mode, "simulated").Inc()
		return Simulated(asset, now), nil
	}

	if q, ok := e.cached(asset.Symbol, now); ok {
		metrics.QuoteRequests.WithLabelValues(e.cfg.Mode, "cache_hit").Inc()
		return q, nil
	}

	q, err := e.fetch(ctx, asset)
	if err == nil {
		metrics.QuoteRequests.WithLabelValues(e.cfg.Mode, "live").Inc()
		return q, nil
	}

	if e.cfg.Mode == ModeHybrid {
		e.logger.Warn("live quote failed, using simulated price",
			"symbol", asset.Symbol, "err", err)
		metrics.QuoteRequests.WithLabelValues(e.cfg.Mode, "fallback").Inc()
		return Simulated(asset, now), nil
	}

	e.logger.Error("live quote failed", "symbol", asset.Symbol, "err", err)
	metrics.QuoteRequests.WithLabelValues(e.cfg.Mode, "unavailable").Inc()
	return model.Quote{}, fmt.Errorf("%w: %s", model.ErrQuoteUnavailable, asset.Symbol)
}

// Quotes prices every asset, fetching misses concurrently. Results keep the
// order of assets. In live mode any unavailable quote fails the batch.
func (e *Engine) Quotes(ctx context.Context, assets []model.Asset) ([]model.Quote, error) {
	out := make([]model.Quote, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, a := range assets {
		g.Go(func() error {
			q, err := e.Quote(gctx, a)
			if err != nil {
				return err
			}
			out[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) cached(symbol string, now time.Time) (model.Quote, bool) {
	e.mu.RLock()
	entry, ok := e.cache[symbol]
	e.mu.RUnlock()
	if !ok || entry.fetchedAt.IsZero() || now.Sub(entry.fetchedAt) >= e.cfg.CacheTTL {
		return model.Quote{}, false
	}
	return entry.quote, true
}

// recentFailure returns the last feed error for symbol while it is still
// inside the backoff window.
func (e *Engine) recentFailure(symbol string, now time.Time) error {
	e.mu.RLock()
	entry, ok := e.cache[symbol]
	e.mu.RUnlock()
	if !ok || entry.err == nil || now.Sub(entry.failedAt) >= e.cfg.FailureBackoff {
		return nil
	}
	return entry.err
}

func (e *Engine) recordFailure(symbol string, err error) {
	e.mu.Lock()
	entry := e.cache[symbol]
	entry.failedAt = e.clock.Now()
	entry.err = err
	e.cache[symbol] = entry
	e.mu.Unlock()
}

// fetch queries the feed once per symbol for all concurrent callers. The
// shared call is detached from the caller's cancellation and bounded by
// FetchTimeout; each caller stops waiting when its own ctx ends.
func (e *Engine) fetch(ctx context.Context, asset model.Asset) (model.Quote, error) {
	ch := e.group.DoChan(asset.Symbol, func() (interface{}, error) {
		// Another caller may have filled the cache while we waited.
		now := e.clock.Now()
		if q, ok := e.cached(asset.Symbol, now); ok {
			return q, nil
		}
		if err := e.recentFailure(asset.Symbol, now); err != nil {
			return nil, fmt.Errorf("feed backing off: %w", err)
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FetchTimeout)
		defer cancel()

		start := time.Now()
		price, err := e.feed.Price(fctx, e.externalSymbol(asset.Symbol))
		metrics.QuoteFetchLatency.Observe(time.Since(start).Seconds())
		if err == nil && !price.IsPositive() {
			err = fmt.Errorf("non-positive price %s", price)
		}
		if err != nil {
			e.recordFailure(asset.Symbol, err)
			return nil, err
		}

		now = e.clock.Now()
		q := model.Quote{
			Symbol: asset.Symbol,
			Price:  price.Round(2),
			AsOf:   now,
			Source: model.QuoteLive,
		}
		e.mu.Lock()
		e.cache[asset.Symbol] = cacheEntry{quote: q, fetchedAt: now}
		e.mu.Unlock()
		return q, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Quote{}, res.Err
		}
		return res.Val.(model.Quote), nil
	case <-ctx.Done():
		return model.Quote{}, ctx.Err()
	}
}

func (e *Engine) externalSymbol(symbol string) string {
	if ext, ok := e.cfg.SymbolMap[symbol]; ok && ext != "" {
		return ext
	}
	return symbol
}

// ParseSymbolMap parses "BTC=BTC-USD,ETH=ETH-USD" into a map. Malformed
// pairs are skipped.
func ParseSymbolMap(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		k, v = strings.ToUpper(strings.TrimSpace(k)), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

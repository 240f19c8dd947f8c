package quote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	aapl = model.Asset{Symbol: "AAPL", BasePrice: d(190), Active: true}
	doge = model.Asset{Symbol: "DOGE", BasePrice: d(0.18), Active: true}
	btc  = model.Asset{Symbol: "BTC", BasePrice: d(68000), Active: true}
	t0   = time.Date(2025, 1, 2, 15, 4, 30, 0, time.UTC)
)

// fakeFeed returns a fixed price or error and counts calls.
type fakeFeed struct {
	price decimal.Decimal
	err   error
	delay time.Duration
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeFeed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.calls.Add(1)
	f.last.Store(symbol)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	return f.price, f.err
}

// --- Simulator ---

func TestSimulated_KnownValue(t *testing.T) {
	q := Simulated(aapl, t0)
	if !q.Price.Equal(d(197.64)) {
		t.Errorf("expected 197.64, got %s", q.Price)
	}
	if q.Source != model.QuoteSimulated {
		t.Errorf("expected simulated source, got %s", q.Source)
	}
}

func TestSimulated_SameMinuteSamePrice(t *testing.T) {
	a := Simulated(aapl, t0)
	b := Simulated(aapl, t0.Add(20*time.Second))
	if !a.Price.Equal(b.Price) {
		t.Errorf("same minute produced %s and %s", a.Price, b.Price)
	}
	c := Simulated(aapl, t0.Add(time.Minute))
	if !c.Price.Equal(d(195.23)) {
		t.Errorf("expected 195.23 for next minute, got %s", c.Price)
	}
}

func TestSimulated_Floor(t *testing.T) {
	q := Simulated(doge, t0)
	if !q.Price.Equal(d(0.5)) {
		t.Errorf("expected floor 0.50, got %s", q.Price)
	}
}

func TestSimulated_Bounds(t *testing.T) {
	lo, hi := d(190*0.94), d(190*1.06)
	for i := 0; i < 500; i++ {
		p := Simulated(aapl, t0.Add(time.Duration(i)*time.Minute)).Price
		if p.LessThan(lo) || p.GreaterThan(hi) {
			t.Fatalf("price %s outside ±6%% band", p)
		}
	}
}

// --- Engine ---

func TestEngine_SimulatedModeIgnoresFeed(t *testing.T) {
	feed := &fakeFeed{price: d(1)}
	e := NewEngine(Config{Mode: ModeSimulated}, feed, clock.NewManual(t0), nil)
	q, err := e.Quote(context.Background(), aapl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Price.Equal(d(197.64)) || feed.calls.Load() != 0 {
		t.Errorf("expected simulated price without feed calls, got %s calls=%d", q.Price, feed.calls.Load())
	}
}

func TestEngine_LiveCachesWithinTTL(t *testing.T) {
	clk := clock.NewManual(t0)
	feed := &fakeFeed{price: d(201.456)}
	e := NewEngine(Config{Mode: ModeLive, CacheTTL: 60 * time.Second}, feed, clk, nil)

	q, err := e.Quote(context.Background(), aapl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Price.Equal(d(201.46)) || q.Source != model.QuoteLive {
		t.Errorf("expected live 201.46, got %s (%s)", q.Price, q.Source)
	}

	clk.Advance(30 * time.Second)
	if _, err := e.Quote(context.Background(), aapl); err != nil {
		t.Fatal(err)
	}
	if feed.calls.Load() != 1 {
		t.Errorf("expected 1 feed call within TTL, got %d", feed.calls.Load())
	}

	clk.Advance(31 * time.Second)
	if _, err := e.Quote(context.Background(), aapl); err != nil {
		t.Fatal(err)
	}
	if feed.calls.Load() != 2 {
		t.Errorf("expected refetch after TTL, got %d calls", feed.calls.Load())
	}
}

func TestEngine_LiveFailureIsUnavailable(t *testing.T) {
	feed := &fakeFeed{err: errors.New("boom")}
	e := NewEngine(Config{Mode: ModeLive}, feed, clock.NewManual(t0), nil)
	_, err := e.Quote(context.Background(), aapl)
	if !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestEngine_LiveTimeoutIsUnavailable(t *testing.T) {
	feed := &fakeFeed{price: d(1), delay: time.Second}
	e := NewEngine(Config{Mode: ModeLive, FetchTimeout: 20 * time.Millisecond}, feed, clock.NewManual(t0), nil)
	_, err := e.Quote(context.Background(), aapl)
	if !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable on timeout, got %v", err)
	}
}

func TestEngine_HybridFallsBack(t *testing.T) {
	feed := &fakeFeed{err: errors.New("boom")}
	e := NewEngine(Config{Mode: ModeHybrid}, feed, clock.NewManual(t0), nil)
	q, err := e.Quote(context.Background(), aapl)
	if err != nil {
		t.Fatalf("hybrid should not fail: %v", err)
	}
	if !q.Price.Equal(d(197.64)) || q.Source != model.QuoteSimulated {
		t.Errorf("expected simulated fallback 197.64, got %s (%s)", q.Price, q.Source)
	}
}

func TestEngine_SymbolMap(t *testing.T) {
	feed := &fakeFeed{price: d(67000)}
	cfg := Config{Mode: ModeLive, SymbolMap: ParseSymbolMap("btc=BTC-USD, ETH=ETH-USD,bad")}
	e := NewEngine(cfg, feed, clock.NewManual(t0), nil)
	if _, err := e.Quote(context.Background(), btc); err != nil {
		t.Fatal(err)
	}
	if got := feed.last.Load(); got != "BTC-USD" {
		t.Errorf("expected feed symbol BTC-USD, got %v", got)
	}
	if _, err := e.Quote(context.Background(), aapl); err != nil {
		t.Fatal(err)
	}
	if got := feed.last.Load(); got != "AAPL" {
		t.Errorf("unmapped symbol should pass through, got %v", got)
	}
}

func TestEngine_ConcurrentMissesShareFetch(t *testing.T) {
	feed := &fakeFeed{price: d(10), delay: 50 * time.Millisecond}
	e := NewEngine(Config{Mode: ModeLive}, feed, clock.NewManual(t0), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Quote(context.Background(), aapl); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := feed.calls.Load(); n != 1 {
		t.Errorf("expected a single shared fetch, got %d", n)
	}
}

func TestEngine_OutageBacksOff(t *testing.T) {
	clk := clock.NewManual(t0)
	feed := &fakeFeed{err: errors.New("boom")}
	e := NewEngine(Config{Mode: ModeHybrid, FailureBackoff: 15 * time.Second}, feed, clk, nil)

	for i := 0; i < 10; i++ {
		q, err := e.Quote(context.Background(), aapl)
		if err != nil || q.Source != model.QuoteSimulated {
			t.Fatalf("expected simulated fallback, got %+v err=%v", q, err)
		}
	}
	if n := feed.calls.Load(); n != 1 {
		t.Errorf("expected 1 feed call during backoff, got %d", n)
	}

	clk.Advance(16 * time.Second)
	e.Quote(context.Background(), aapl)
	if n := feed.calls.Load(); n != 2 {
		t.Errorf("expected a retry after backoff, got %d calls", n)
	}
}

func TestEngine_LiveBackoffIsUnavailable(t *testing.T) {
	feed := &fakeFeed{err: errors.New("boom")}
	e := NewEngine(Config{Mode: ModeLive}, feed, clock.NewManual(t0), nil)
	e.Quote(context.Background(), aapl)
	_, err := e.Quote(context.Background(), aapl)
	if !errors.Is(err, model.ErrQuoteUnavailable) || feed.calls.Load() != 1 {
		t.Errorf("expected ErrQuoteUnavailable without refetch, got %v calls=%d", err, feed.calls.Load())
	}
}

func TestEngine_QuotesHangingFeedIsBounded(t *testing.T) {
	feed := &fakeFeed{price: d(1), delay: time.Hour}
	e := NewEngine(Config{Mode: ModeHybrid, FetchTimeout: 100 * time.Millisecond}, feed, clock.NewManual(t0), nil)

	assets := make([]model.Asset, 20)
	for i := range assets {
		assets[i] = model.Asset{Symbol: fmt.Sprintf("S%02d", i), BasePrice: d(10), Active: true}
	}

	start := time.Now()
	qs, err := e.Quotes(context.Background(), assets)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("batch took %v, expected concurrent fetches", elapsed)
	}
	for i, q := range qs {
		if q.Symbol != assets[i].Symbol {
			t.Fatalf("result %d out of order: %s", i, q.Symbol)
		}
	}

	start = time.Now()
	e.Quotes(context.Background(), assets)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("second batch took %v, expected backoff to skip the feed", elapsed)
	}
	if n := feed.calls.Load(); n != 20 {
		t.Errorf("expected 20 feed calls, got %d", n)
	}
}

func TestEngine_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	feed := &fakeFeed{price: d(10), delay: 50 * time.Millisecond}
	e := NewEngine(Config{Mode: ModeLive}, feed, clock.NewManual(t0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := e.Quote(ctx, aapl)
		first <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	q, err := e.Quote(context.Background(), aapl)
	if err != nil || !q.Price.Equal(d(10)) {
		t.Fatalf("second caller should get the live price, got %+v err=%v", q, err)
	}
	if !errors.Is(<-first, model.ErrQuoteUnavailable) {
		t.Error("cancelled caller should give up")
	}
	if n := feed.calls.Load(); n != 1 {
		t.Errorf("expected one shared fetch, got %d", n)
	}
}

// --- HTTP feed ---

func TestHTTPFeed_ParsesChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/BTC-USD" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":67123.45}}],"error":null}}`))
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL, srv.Client())
	p, err := feed.Price(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(d(67123.45)) {
		t.Errorf("expected 67123.45, got %s", p)
	}

	if _, err := feed.Price(context.Background(), "NOPE"); err == nil {
		t.Error("expected error for 404")
	}
}

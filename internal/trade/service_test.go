package trade_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/ledger"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/store"
	"github.com/investipet/engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// stubQuotes returns a settable price per symbol.
type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func (s *stubQuotes) Quote(_ context.Context, a model.Asset) (model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Quote{}, s.err
	}
	return model.Quote{Symbol: a.Symbol, Price: s.prices[a.Symbol], AsOf: t0, Source: model.QuoteSimulated}, nil
}

func (s *stubQuotes) set(symbol string, p float64) {
	s.mu.Lock()
	s.prices[symbol] = d(p)
	s.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// newTestEnv creates a trade Service over an in-memory store with one
// provisioned user holding 10000 cash.
func newTestEnv(t *testing.T) (*trade.Service, *store.MemoryStore, *stubQuotes, *recorder) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.CreateWallet(ctx, &model.Wallet{UserID: 1, CashBalance: d(10000), CoinsBalance: 500})
	ms.CreatePet(ctx, &model.Pet{UserID: 1, Level: 1, Stage: model.StageEgg, Hunger: 100, LastHungerTick: t0})
	ms.UpsertAsset(ctx, &model.Asset{Symbol: "AAPL", Name: "Apple", Type: model.AssetStock, BasePrice: d(190), Active: true})
	ms.UpsertAsset(ctx, &model.Asset{Symbol: "OLD", Name: "Delisted", Type: model.AssetStock, BasePrice: d(10), Active: false})

	quotes := &stubQuotes{prices: map[string]decimal.Decimal{"AAPL": d(100), "OLD": d(10)}}
	clk := clock.NewManual(t0)
	rec := &recorder{}
	svc := trade.NewService(ms, quotes, ledger.New(clk, nil), ledger.DefaultSchedule(), clk, rec, nil)
	return svc, ms, quotes, rec
}

func TestBuy_DebitsCashAndOpensPosition(t *testing.T) {
	svc, ms, _, rec := newTestEnv(t)
	ctx := context.Background()

	res, err := svc.Buy(ctx, 1, "aapl", d(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Cash.Equal(d(9800)) {
		t.Errorf("expected cash 9800, got %s", res.Cash)
	}
	if res.Trade.Symbol != "AAPL" || !res.Trade.Total.Equal(d(200)) {
		t.Errorf("unexpected trade: %+v", res.Trade)
	}
	if res.Position == nil || !res.Position.Quantity.Equal(d(2)) || !res.Position.AvgCost.Equal(d(100)) {
		t.Errorf("unexpected position: %+v", res.Position)
	}
	if !res.Reward.Granted || res.Reward.XPDelta != 10 || res.Reward.CoinDelta != 10 {
		t.Errorf("expected trade reward, got %+v", res.Reward)
	}

	w, _ := ms.GetWallet(ctx, 1)
	if w.XPTotal != 10 || w.CoinsBalance != 510 {
		t.Errorf("wallet rewards not applied: %+v", w)
	}
	events, _ := ms.ListRewardEvents(ctx, 1, 0)
	if len(events) != 1 || !strings.HasPrefix(events[0].RefID, "buy:AAPL:") || events[0].RefType != "trade" {
		t.Errorf("unexpected reward event: %+v", events)
	}
	if len(rec.events) != 1 || rec.events[0].Type != "trade_executed" {
		t.Errorf("expected one trade event, got %+v", rec.events)
	}
}

func TestBuy_WeightedAverageCost(t *testing.T) {
	svc, _, quotes, _ := newTestEnv(t)
	ctx := context.Background()

	if _, err := svc.Buy(ctx, 1, "AAPL", d(2)); err != nil {
		t.Fatal(err)
	}
	quotes.set("AAPL", 130)
	res, err := svc.Buy(ctx, 1, "AAPL", d(1))
	if err != nil {
		t.Fatal(err)
	}
	// (2*100 + 130) / 3 = 110
	if !res.Position.Quantity.Equal(d(3)) || !res.Position.AvgCost.Equal(d(110)) {
		t.Errorf("expected 3 @ 110, got %+v", res.Position)
	}
	if !res.Cash.Equal(d(9670)) {
		t.Errorf("expected cash 9670, got %s", res.Cash)
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	ctx := context.Background()

	_, err := svc.Buy(ctx, 1, "AAPL", d(101))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	w, _ := ms.GetWallet(ctx, 1)
	if !w.CashBalance.Equal(d(10000)) || w.XPTotal != 0 {
		t.Errorf("failed buy changed the wallet: %+v", w)
	}
	if _, err := ms.GetPosition(ctx, 1, "AAPL"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("failed buy left a position behind: %v", err)
	}
}

func TestBuy_Validation(t *testing.T) {
	svc, _, _, _ := newTestEnv(t)
	ctx := context.Background()

	if _, err := svc.Buy(ctx, 1, "AAPL", d(0)); !errors.Is(err, model.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for 0, got %v", err)
	}
	if _, err := svc.Buy(ctx, 1, "AAPL", d(-1)); !errors.Is(err, model.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for -1, got %v", err)
	}
	if _, err := svc.Buy(ctx, 1, "NOPE", d(1)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown symbol, got %v", err)
	}
	if _, err := svc.Buy(ctx, 1, "OLD", d(1)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for inactive asset, got %v", err)
	}
}

func TestBuy_QuantityBeyondStoredPrecision(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	ctx := context.Background()

	qty := decimal.RequireFromString("0.000000001")
	if _, err := svc.Buy(ctx, 1, "AAPL", qty); !errors.Is(err, model.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for 9 decimals, got %v", err)
	}
	if _, err := svc.Buy(ctx, 1, "AAPL", decimal.RequireFromString("0.50000000")); err != nil {
		t.Errorf("8 decimals with trailing zeros should be accepted: %v", err)
	}
	if _, err := svc.Buy(ctx, 1, "AAPL", decimal.RequireFromString("0.250000000000")); err != nil {
		t.Errorf("trailing zeros beyond 8 places should be accepted: %v", err)
	}
	if _, err := ms.GetPosition(ctx, 1, "AAPL"); err != nil {
		t.Errorf("expected a position, got %v", err)
	}
}

func TestBuy_ZeroValueOrderEarnsNothing(t *testing.T) {
	svc, ms, quotes, _ := newTestEnv(t)
	ctx := context.Background()
	quotes.set("AAPL", 0.18)

	for i := 0; i < 5; i++ {
		if _, err := svc.Buy(ctx, 1, "AAPL", d(0.001)); !errors.Is(err, model.ErrInvalidQuantity) {
			t.Fatalf("expected ErrInvalidQuantity for a $0.00 order, got %v", err)
		}
	}

	w, _ := ms.GetWallet(ctx, 1)
	if !w.CashBalance.Equal(d(10000)) || w.XPTotal != 0 || w.CoinsBalance != 500 {
		t.Errorf("rejected orders must not pay out, wallet %+v", w)
	}
	events, _ := ms.ListRewardEvents(ctx, 1, 0)
	trades, _ := ms.ListTrades(ctx, 1, 0)
	if len(events) != 0 || len(trades) != 0 {
		t.Errorf("expected no events or trades, got %d and %d", len(events), len(trades))
	}
}

func TestBuy_QuoteUnavailable(t *testing.T) {
	svc, ms, quotes, _ := newTestEnv(t)
	quotes.err = model.ErrQuoteUnavailable

	_, err := svc.Buy(context.Background(), 1, "AAPL", d(1))
	if !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
	trades, _ := ms.ListTrades(context.Background(), 1, 0)
	if len(trades) != 0 {
		t.Errorf("no trade should be recorded, got %+v", trades)
	}
}

func TestSell_CreditsCashAndClosesPosition(t *testing.T) {
	svc, ms, quotes, _ := newTestEnv(t)
	ctx := context.Background()

	if _, err := svc.Buy(ctx, 1, "AAPL", d(2)); err != nil {
		t.Fatal(err)
	}
	quotes.set("AAPL", 120)

	res, err := svc.Sell(ctx, 1, "AAPL", d(1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cash.Equal(d(9920)) || !res.Position.Quantity.Equal(d(1)) || !res.Position.AvgCost.Equal(d(100)) {
		t.Errorf("unexpected partial sell result: cash=%s pos=%+v", res.Cash, res.Position)
	}

	res, err = svc.Sell(ctx, 1, "AAPL", d(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Position != nil {
		t.Errorf("expected position closed, got %+v", res.Position)
	}
	if _, err := ms.GetPosition(ctx, 1, "AAPL"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected position deleted, got %v", err)
	}

	// Three trades, three distinct rewards.
	w, _ := ms.GetWallet(ctx, 1)
	if w.XPTotal != 30 || !w.CashBalance.Equal(d(10040)) {
		t.Errorf("unexpected wallet after round trip: %+v", w)
	}
	trades, _ := svc.History(ctx, 1, 10)
	if len(trades) != 3 || trades[0].Side != model.SideSell {
		t.Errorf("unexpected history: %+v", trades)
	}
}

func TestSell_InsufficientQuantity(t *testing.T) {
	svc, _, _, _ := newTestEnv(t)
	ctx := context.Background()

	if _, err := svc.Sell(ctx, 1, "AAPL", d(1)); !errors.Is(err, model.ErrInsufficientQuantity) {
		t.Errorf("expected ErrInsufficientQuantity without position, got %v", err)
	}
	if _, err := svc.Buy(ctx, 1, "AAPL", d(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Sell(ctx, 1, "AAPL", d(1.5)); !errors.Is(err, model.ErrInsufficientQuantity) {
		t.Errorf("expected ErrInsufficientQuantity for oversell, got %v", err)
	}
}

func TestBuy_ConcurrentNeverOverspends(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	ctx := context.Background()

	// 20 buys of 10 @ 100 = 1000 each; only 10 can succeed.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Buy(ctx, 1, "AAPL", d(10))
		}()
	}
	wg.Wait()

	w, _ := ms.GetWallet(ctx, 1)
	if w.CashBalance.IsNegative() {
		t.Fatalf("cash went negative: %s", w.CashBalance)
	}
	pos, _ := ms.GetPosition(ctx, 1, "AAPL")
	spent := d(10000).Sub(w.CashBalance)
	if !pos.Quantity.Mul(d(100)).Equal(spent) {
		t.Errorf("position %s inconsistent with cash spent %s", pos.Quantity, spent)
	}
}

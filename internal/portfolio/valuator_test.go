package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fixedQuotes prices assets from a map.
type fixedQuotes map[string]decimal.Decimal

func (f fixedQuotes) Quote(_ context.Context, a model.Asset) (model.Quote, error) {
	p, ok := f[a.Symbol]
	if !ok {
		return model.Quote{}, model.ErrQuoteUnavailable
	}
	return model.Quote{Symbol: a.Symbol, Price: p, Source: model.QuoteSimulated}, nil
}

func setup(t *testing.T, cash float64, positions ...model.Position) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.CreateWallet(ctx, &model.Wallet{UserID: 1, CashBalance: d(cash)})
	ms.UpsertAsset(ctx, &model.Asset{Symbol: "AAPL", Name: "Apple", Type: model.AssetStock, BasePrice: d(190), Active: true})
	ms.UpsertAsset(ctx, &model.Asset{Symbol: "BTC", Name: "Bitcoin", Type: model.AssetCrypto, BasePrice: d(68000), Active: true})
	for i := range positions {
		positions[i].UserID = 1
		ms.SavePosition(ctx, &positions[i])
	}
	return ms
}

func TestSnapshot_Empty(t *testing.T) {
	ms := setup(t, 10000)
	snap, err := NewValuator(ms, fixedQuotes{}, nil).Snapshot(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TotalValue.Equal(d(10000)) || !snap.DiversificationScore.Equal(d(100)) || len(snap.Positions) != 0 {
		t.Errorf("unexpected empty snapshot: %+v", snap)
	}
}

func TestSnapshot_SinglePosition(t *testing.T) {
	ms := setup(t, 9800, model.Position{Symbol: "AAPL", Quantity: d(2), AvgCost: d(100)})
	snap, err := NewValuator(ms, fixedQuotes{"AAPL": d(110)}, nil).Snapshot(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	line := snap.Positions[0]
	if !line.MarketValue.Equal(d(220)) || !line.CostBasis.Equal(d(200)) || !line.UnrealizedPnL.Equal(d(20)) {
		t.Errorf("unexpected line: %+v", line)
	}
	if !snap.TotalValue.Equal(d(10020)) || !snap.TotalPnL.Equal(d(20)) {
		t.Errorf("unexpected totals: value=%s pnl=%s", snap.TotalValue, snap.TotalPnL)
	}
	if !line.AllocationPct.Equal(d(2.2)) || !snap.DiversificationScore.Equal(d(97.8)) {
		t.Errorf("unexpected allocation=%s score=%s", line.AllocationPct, snap.DiversificationScore)
	}
}

func TestSnapshot_MultiplePositions(t *testing.T) {
	ms := setup(t, 9800,
		model.Position{Symbol: "AAPL", Quantity: d(2), AvgCost: d(100)},
		model.Position{Symbol: "BTC", Quantity: d(0.1), AvgCost: d(60000)},
	)
	snap, err := NewValuator(ms, fixedQuotes{"AAPL": d(110), "BTC": d(65000)}, nil).Snapshot(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TotalValue.Equal(d(16520)) || !snap.TotalPnL.Equal(d(520)) {
		t.Errorf("unexpected totals: value=%s pnl=%s", snap.TotalValue, snap.TotalPnL)
	}
	alloc := map[string]decimal.Decimal{}
	for _, l := range snap.Positions {
		alloc[l.Symbol] = l.AllocationPct
	}
	if !alloc["AAPL"].Equal(d(1.33)) || !alloc["BTC"].Equal(d(39.35)) {
		t.Errorf("unexpected allocations: %v", alloc)
	}
	if !snap.DiversificationScore.Equal(d(60.65)) {
		t.Errorf("expected score 60.65, got %s", snap.DiversificationScore)
	}
}

func TestSnapshot_AllInOneAsset(t *testing.T) {
	ms := setup(t, 0, model.Position{Symbol: "AAPL", Quantity: d(10), AvgCost: d(100)})
	snap, err := NewValuator(ms, fixedQuotes{"AAPL": d(100)}, nil).Snapshot(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.DiversificationScore.IsZero() {
		t.Errorf("fully concentrated portfolio should score 0, got %s", snap.DiversificationScore)
	}
}

func TestSnapshot_QuoteUnavailable(t *testing.T) {
	ms := setup(t, 9800, model.Position{Symbol: "AAPL", Quantity: d(2), AvgCost: d(100)})
	_, err := NewValuator(ms, fixedQuotes{}, nil).Snapshot(context.Background(), 1)
	if !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestSnapshot_UnknownUser(t *testing.T) {
	ms := setup(t, 100)
	_, err := NewValuator(ms, fixedQuotes{}, nil).Snapshot(context.Background(), 99)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

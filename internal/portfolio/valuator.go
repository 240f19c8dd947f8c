// Package portfolio marks a user's holdings to market and derives
// allocation and a concentration-based diversification score.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/quote"
	"github.com/investipet/engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Valuator builds portfolio snapshots.
type Valuator struct {
	store  store.Accessor
	quotes quote.Quoter
	clock  clock.Clock
}

// NewValuator creates a Valuator.
func NewValuator(st store.Accessor, quotes quote.Quoter, clk clock.Clock) *Valuator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Valuator{store: st, quotes: quotes, clock: clk}
}

// Snapshot values every position of userID at the current quote.
//
// Each line is rounded to cents before aggregation. The diversification
// score is 100 minus the largest allocation percentage, floored at zero,
// and an empty portfolio scores 100. It measures concentration only.
func (v *Valuator) Snapshot(ctx context.Context, userID int64) (model.Snapshot, error) {
	wallet, err := v.store.GetWallet(ctx, userID)
	if err != nil {
		return model.Snapshot{}, err
	}
	positions, err := v.store.ListPositions(ctx, userID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list positions: %w", err)
	}

	lines := make([]model.PositionValue, 0, len(positions))
	marketTotal := decimal.Zero
	costTotal := decimal.Zero
	for _, p := range positions {
		asset, err := v.store.GetAsset(ctx, p.Symbol)
		if err != nil {
			return model.Snapshot{}, err
		}
		q, err := v.quotes.Quote(ctx, *asset)
		if err != nil {
			return model.Snapshot{}, err
		}

		mv := p.Quantity.Mul(q.Price).Round(2)
		cb := p.Quantity.Mul(p.AvgCost).Round(2)
		lines = append(lines, model.PositionValue{
			Symbol:        p.Symbol,
			Name:          asset.Name,
			AssetType:     asset.Type,
			Quantity:      p.Quantity,
			AvgCost:       p.AvgCost,
			Price:         q.Price,
			MarketValue:   mv,
			CostBasis:     cb,
			UnrealizedPnL: mv.Sub(cb).Round(2),
		})
		marketTotal = marketTotal.Add(mv)
		costTotal = costTotal.Add(cb)
	}

	totalValue := wallet.CashBalance.Add(marketTotal).Round(2)
	maxAlloc := decimal.Zero
	for i := range lines {
		alloc := decimal.Zero
		if totalValue.IsPositive() {
			alloc = lines[i].MarketValue.Div(totalValue).Mul(hundred).Round(2)
		}
		lines[i].AllocationPct = alloc
		if alloc.GreaterThan(maxAlloc) {
			maxAlloc = alloc
		}
	}

	score := hundred
	if len(lines) > 0 {
		score = decimal.Max(decimal.Zero, hundred.Sub(maxAlloc)).Round(2)
	}

	return model.Snapshot{
		UserID:               userID,
		Cash:                 wallet.CashBalance,
		MarketValue:          marketTotal.Round(2),
		TotalValue:           totalValue,
		TotalPnL:             marketTotal.Sub(costTotal).Round(2),
		DiversificationScore: score,
		Positions:            lines,
		AsOf:                 v.clock.Now(),
	}, nil
}

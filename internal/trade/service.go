// Package trade executes simulated market orders against a user's wallet
// and positions, and pays the per-trade reward.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/ledger"
	"github.com/investipet/engine/internal/metrics"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/quote"
	"github.com/investipet/engine/internal/store"
)

// Publisher receives events for connected clients.
type Publisher interface {
	Publish(ev model.Event)
}

// Service executes trades.
type Service struct {
	store   store.Store
	quotes  quote.Quoter
	ledger  *ledger.Ledger
	rewards ledger.Schedule
	clock   clock.Clock
	pub     Publisher // optional
	logger  *slog.Logger
}

// NewService creates a new trade service.
// Pass nil for pub if event broadcasting is not needed.
func NewService(st store.Store, quotes quote.Quoter, l *ledger.Ledger, rewards ledger.Schedule, clk clock.Clock, pub Publisher, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		quotes:  quotes,
		ledger:  l,
		rewards: rewards,
		clock:   clk,
		pub:     pub,
		logger:  logger,
	}
}

// quantityScale is the number of decimal places a quantity may carry,
// matching the precision positions are stored with.
const quantityScale = 8

// Result is the outcome of an executed trade.
type Result struct {
	Trade    model.Trade     `json:"trade"`
	Position *model.Position `json:"position,omitempty"`
	Cash     decimal.Decimal `json:"cash_balance"`
	Reward   ledger.Result   `json:"reward"`
}

// Buy purchases qty units of symbol at the current quote.
func (s *Service) Buy(ctx context.Context, userID int64, symbol string, qty decimal.Decimal) (Result, error) {
	return s.execute(ctx, model.SideBuy, userID, symbol, qty)
}

// Sell disposes of qty units of symbol at the current quote.
func (s *Service) Sell(ctx context.Context, userID int64, symbol string, qty decimal.Decimal) (Result, error) {
	return s.execute(ctx, model.SideSell, userID, symbol, qty)
}

func (s *Service) execute(ctx context.Context, side string, userID int64, symbol string, qty decimal.Decimal) (Result, error) {
	start := time.Now()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if !qty.IsPositive() || !qty.Equal(qty.Truncate(quantityScale)) {
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		return Result{}, model.ErrInvalidQuantity
	}

	asset, err := s.store.GetAsset(ctx, symbol)
	if err != nil {
		return Result{}, err
	}
	if !asset.Active {
		return Result{}, fmt.Errorf("%w: asset %s", model.ErrNotFound, symbol)
	}

	// Reject oversized sells before paying for a quote; the check is
	// repeated under lock below.
	if side == model.SideSell {
		if err := checkHolding(ctx, s.store, userID, symbol, qty); err != nil {
			metrics.TradeRejections.WithLabelValues("insufficient_quantity").Inc()
			return Result{}, err
		}
	}

	q, err := s.quotes.Quote(ctx, *asset)
	if err != nil {
		return Result{}, err
	}

	id := uuid.New()
	now := s.clock.Now()
	total := q.Price.Mul(qty).Round(2)
	if !total.IsPositive() {
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		return Result{}, fmt.Errorf("%w: order value rounds to zero", model.ErrInvalidQuantity)
	}
	tr := model.Trade{
		ID:         id.String(),
		UserID:     userID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      q.Price,
		Total:      total,
		ExecutedAt: now,
	}
	grant := s.rewards.For(model.SourceTrade, userID, "trade",
		fmt.Sprintf("%s:%s:%s", side, symbol, strings.ReplaceAll(id.String(), "-", "")))

	var res Result
	err = s.store.WithTx(ctx, func(tx store.Accessor) error {
		wallet, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}

		var pos *model.Position
		switch side {
		case model.SideBuy:
			if wallet.CashBalance.LessThan(total) {
				return model.ErrInsufficientFunds
			}
			pos, err = applyBuy(ctx, tx, userID, symbol, qty, total)
			if err != nil {
				return err
			}
			wallet.CashBalance = wallet.CashBalance.Sub(total).Round(2)

		case model.SideSell:
			pos, err = applySell(ctx, tx, userID, symbol, qty)
			if err != nil {
				return err
			}
			wallet.CashBalance = wallet.CashBalance.Add(total).Round(2)
		}

		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &tr); err != nil {
			return err
		}

		reward, err := s.ledger.Apply(ctx, tx, grant)
		if err != nil {
			return err
		}

		res = Result{Trade: tr, Position: pos, Cash: wallet.CashBalance, Reward: reward}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInsufficientFunds):
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		case errors.Is(err, model.ErrInsufficientQuantity):
			metrics.TradeRejections.WithLabelValues("insufficient_quantity").Inc()
		}
		return Result{}, err
	}

	s.ledger.Observe(grant, res.Reward)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	s.logger.Info("trade executed",
		"trade_id", tr.ID,
		"user", userID,
		"symbol", symbol,
		"side", side,
		"qty", qty.String(),
		"price", q.Price.String(),
		"total", total.String(),
		"quote_source", q.Source,
	)

	if s.pub != nil {
		s.pub.Publish(model.Event{
			Type:     "trade_executed",
			UserID:   userID,
			Symbol:   symbol,
			Side:     side,
			Quantity: qty.String(),
			Price:    q.Price.String(),
		})
		if res.Reward.LeveledUp {
			s.pub.Publish(model.Event{
				Type:   "level_up",
				UserID: userID,
				Source: model.SourceTrade,
				Level:  res.Reward.LevelAfter,
				Stage:  res.Reward.Stage,
			})
		}
	}
	return res, nil
}

func checkHolding(ctx context.Context, acc store.Accessor, userID int64, symbol string, qty decimal.Decimal) error {
	pos, err := acc.GetPosition(ctx, userID, symbol)
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrInsufficientQuantity
	}
	if err != nil {
		return err
	}
	if pos.Quantity.LessThan(qty) {
		return model.ErrInsufficientQuantity
	}
	return nil
}

// applyBuy adds qty to the position at a weighted average cost.
func applyBuy(ctx context.Context, tx store.Accessor, userID int64, symbol string, qty, cost decimal.Decimal) (*model.Position, error) {
	pos, err := tx.GetPosition(ctx, userID, symbol)
	if errors.Is(err, model.ErrNotFound) {
		pos = &model.Position{UserID: userID, Symbol: symbol, Quantity: decimal.Zero, AvgCost: decimal.Zero}
	} else if err != nil {
		return nil, err
	}

	newQty := pos.Quantity.Add(qty)
	pos.AvgCost = pos.Quantity.Mul(pos.AvgCost).Add(cost).Div(newQty).Round(8)
	pos.Quantity = newQty
	if err := tx.SavePosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// applySell removes qty from the position, deleting it when it reaches zero.
func applySell(ctx context.Context, tx store.Accessor, userID int64, symbol string, qty decimal.Decimal) (*model.Position, error) {
	pos, err := tx.GetPosition(ctx, userID, symbol)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrInsufficientQuantity
	}
	if err != nil {
		return nil, err
	}
	if pos.Quantity.LessThan(qty) {
		return nil, model.ErrInsufficientQuantity
	}

	pos.Quantity = pos.Quantity.Sub(qty)
	if !pos.Quantity.IsPositive() {
		return nil, tx.DeletePosition(ctx, userID, symbol)
	}
	if err := tx.SavePosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// History returns the user's most recent trades.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]model.Trade, error) {
	return s.store.ListTrades(ctx, userID, limit)
}

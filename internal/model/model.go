// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reward sources recognized by the ledger.
const (
	SourceDailyLogin       = "daily_login"
	SourceTrade            = "trade"
	SourceLessonCompletion = "lesson_completion"
	SourceQuizPerfect      = "quiz_perfect"
)

// Pet stages, in progression order.
const (
	StageEgg   = "egg"
	StageBaby  = "baby"
	StageTeen  = "teen"
	StageAdult = "adult"
)

// Asset types.
const (
	AssetStock  = "stock"
	AssetCrypto = "crypto"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Quote sources.
const (
	QuoteSimulated = "simulated"
	QuoteLive      = "live"
)

// MaxHunger is the ceiling of the hunger scale (100 = full).
const MaxHunger = 100

// Wallet holds a user's virtual cash, reward coins and lifetime XP.
type Wallet struct {
	UserID       int64           `json:"user_id"`
	CashBalance  decimal.Decimal `json:"cash_balance"`
	CoinsBalance int64           `json:"coins_balance"`
	XPTotal      int64           `json:"xp_total"`
}

// Pet is the user's companion. Level, XPCurrent and Stage are always derived
// from the owning wallet's XPTotal.
type Pet struct {
	UserID         int64     `json:"user_id"`
	Name           string    `json:"name"`
	Species        string    `json:"species"`
	Level          int       `json:"level"`
	XPCurrent      int64     `json:"xp_current"`
	Stage          string    `json:"stage"`
	Hunger         int       `json:"hunger"`
	LastHungerTick time.Time `json:"last_hunger_tick"`
}

// Asset is a tradable instrument with a reference price used by the simulator.
type Asset struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Type      string          `json:"asset_type"`
	Sector    string          `json:"sector"`
	RiskClass string          `json:"risk_class"`
	BasePrice decimal.Decimal `json:"base_price"`
	Active    bool            `json:"active"`
}

// Position is a user's holding in one asset. Quantity is always positive;
// a position that reaches zero is removed.
type Position struct {
	UserID   int64           `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// Trade is an immutable record of an executed order.
type Trade struct {
	ID         string          `json:"id"`
	UserID     int64           `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// RewardEvent is an immutable record that a reward was granted. The tuple
// (UserID, Source, RefType, RefID) is unique.
type RewardEvent struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Source    string    `json:"source"`
	XPDelta   int64     `json:"xp_delta"`
	CoinDelta int64     `json:"coin_delta"`
	RefType   string    `json:"ref_type"`
	RefID     string    `json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RewardKey identifies a reward grant for idempotency.
type RewardKey struct {
	UserID  int64
	Source  string
	RefType string
	RefID   string
}

// Key returns the idempotency key of the event.
func (e RewardEvent) Key() RewardKey {
	return RewardKey{UserID: e.UserID, Source: e.Source, RefType: e.RefType, RefID: e.RefID}
}

// Lesson is a unit of educational content with an attached question pool.
type Lesson struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Content    string `json:"content"`
	Difficulty string `json:"difficulty"`
	Position   int    `json:"position"`
}

// LessonQuestion is one entry of a lesson's question pool.
type LessonQuestion struct {
	LessonID int64    `json:"lesson_id"`
	Key      string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Answer   string   `json:"-"`
	Position int      `json:"-"`
}

// LessonProgress records a user's completion state for one lesson.
type LessonProgress struct {
	UserID      int64           `json:"user_id"`
	LessonID    int64           `json:"lesson_id"`
	Status      string          `json:"status"`
	Score       decimal.Decimal `json:"score"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Quote is a price for one asset at a point in time.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
	Source string          `json:"source"`
}

// PositionValue is one valued line of a portfolio snapshot.
type PositionValue struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	AssetType     string          `json:"asset_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
}

// Snapshot is the valued state of a user's portfolio.
type Snapshot struct {
	UserID               int64           `json:"user_id"`
	Cash                 decimal.Decimal `json:"cash"`
	MarketValue          decimal.Decimal `json:"market_value"`
	TotalValue           decimal.Decimal `json:"total_value"`
	TotalPnL             decimal.Decimal `json:"total_pnl"`
	DiversificationScore decimal.Decimal `json:"diversification_score"`
	Positions            []PositionValue `json:"positions"`
	AsOf                 time.Time       `json:"as_of"`
}

// Event is a notification pushed to connected websocket clients.
type Event struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Symbol   string `json:"symbol,omitempty"`
	Side     string `json:"side,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Price    string `json:"price,omitempty"`
	Source   string `json:"source,omitempty"`
	Level    int    `json:"level,omitempty"`
	Stage    string `json:"stage,omitempty"`
}

// Package ledger grants XP and coin rewards exactly once per idempotency
// key and keeps the pet's progression in step with the wallet.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/metrics"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/progression"
	"github.com/investipet/engine/internal/store"
)

// Grant describes one reward. (UserID, Source, RefType, RefID) is the
// idempotency key.
type Grant struct {
	UserID  int64
	Source  string
	XP      int64
	Coins   int64
	RefType string
	RefID   string
}

// Result reports what a grant did.
type Result struct {
	Granted     bool   `json:"granted"`
	XPDelta     int64  `json:"xp_delta"`
	CoinDelta   int64  `json:"coin_delta"`
	XPTotal     int64  `json:"xp_total"`
	Coins       int64  `json:"coins_balance"`
	LevelBefore int    `json:"level_before"`
	LevelAfter  int    `json:"level_after"`
	LeveledUp   bool   `json:"leveled_up"`
	Stage       string `json:"stage"`
}

// Ledger applies reward grants.
type Ledger struct {
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Ledger.
func New(clk clock.Clock, logger *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{clock: clk, logger: logger}
}

// Apply grants g through tx, which must belong to the caller's unit of work.
// A grant whose key was already recorded is a no-op reported as
// Granted == false. When the user has no wallet or pet Apply returns
// model.ErrIntegrityViolation and the caller must abort the unit of work so
// the claimed event is discarded with it.
func (l *Ledger) Apply(ctx context.Context, tx store.Accessor, g Grant) (Result, error) {
	if g.RefType == "" || g.RefID == "" || g.Source == "" {
		return Result{}, fmt.Errorf("reward grant requires source, ref_type and ref_id")
	}

	// Lock wallet then pet before claiming the key so grants for one user
	// always take row locks in the same order.
	wallet, err := tx.GetWallet(ctx, g.UserID)
	if err != nil {
		return Result{}, integrity(err, "wallet", g.UserID)
	}
	pet, err := tx.GetPet(ctx, g.UserID)
	if err != nil {
		return Result{}, integrity(err, "pet", g.UserID)
	}

	event := &model.RewardEvent{
		UserID:    g.UserID,
		Source:    g.Source,
		XPDelta:   g.XP,
		CoinDelta: g.Coins,
		RefType:   g.RefType,
		RefID:     g.RefID,
		CreatedAt: l.clock.Now(),
	}
	inserted, err := tx.InsertRewardEvent(ctx, event)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		metrics.RewardsReplayed.WithLabelValues(g.Source).Inc()
		l.logger.Debug("reward already granted",
			"user", g.UserID, "source", g.Source, "ref_type", g.RefType, "ref_id", g.RefID)
		return Result{Granted: false}, nil
	}

	levelBefore := pet.Level
	wallet.XPTotal += g.XP
	wallet.CoinsBalance += g.Coins
	if err := tx.UpdateWallet(ctx, wallet); err != nil {
		return Result{}, err
	}

	prog := progression.Compute(wallet.XPTotal)
	pet.Level = prog.Level
	pet.XPCurrent = prog.XPCurrent
	pet.Stage = prog.Stage
	if err := tx.UpdatePet(ctx, pet); err != nil {
		return Result{}, err
	}

	res := Result{
		Granted:     true,
		XPDelta:     g.XP,
		CoinDelta:   g.Coins,
		XPTotal:     wallet.XPTotal,
		Coins:       wallet.CoinsBalance,
		LevelBefore: levelBefore,
		LevelAfter:  prog.Level,
		LeveledUp:   prog.Level > levelBefore,
		Stage:       prog.Stage,
	}
	return res, nil
}

// Grant applies g in its own unit of work. Metrics and logs are emitted only
// after the commit succeeds.
func (l *Ledger) Grant(ctx context.Context, s store.Store, g Grant) (Result, error) {
	var res Result
	err := s.WithTx(ctx, func(tx store.Accessor) error {
		var err error
		res, err = l.Apply(ctx, tx, g)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	l.Observe(g, res)
	return res, nil
}

// Observe records metrics and logs for a committed grant. Callers that use
// Apply inside their own transaction call it after commit.
func (l *Ledger) Observe(g Grant, res Result) {
	if !res.Granted {
		return
	}
	metrics.RewardsGranted.WithLabelValues(g.Source).Inc()
	if res.LeveledUp {
		metrics.LevelUps.Inc()
	}
	l.logger.Info("reward granted",
		"user", g.UserID,
		"source", g.Source,
		"xp", g.XP,
		"coins", g.Coins,
		"ref_type", g.RefType,
		"ref_id", g.RefID,
		"level", res.LevelAfter,
		"leveled_up", res.LeveledUp,
	)
}

func integrity(err error, what string, userID int64) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%w: no %s for user %d", model.ErrIntegrityViolation, what, userID)
	}
	return err
}

// Package account provisions players and serves their wallet, pet and
// reward history.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/hunger"
	"github.com/investipet/engine/internal/ledger"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/progression"
	"github.com/investipet/engine/internal/store"
)

const (
	DefaultSpecies = "sproutfox"
	DefaultPetName = "Sprout"

	// HistoryLimit caps the reward history returned to clients.
	HistoryLimit = 100
)

// familySlots lists the level needed to unlock each extra family slot.
var familySlots = []int{4, 6}

// Publisher receives events for connected clients.
type Publisher interface {
	Publish(ev model.Event)
}

// Config holds the starting balances and the hunger decay rate.
type Config struct {
	StarterCash  decimal.Decimal
	StarterCoins int64
	DecayPerDay  int
}

// Service implements the player account operations.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	rewards ledger.Schedule
	cfg     Config
	clock   clock.Clock
	pub     Publisher
	logger  *slog.Logger
}

// NewService creates an account service. pub may be nil.
func NewService(st store.Store, l *ledger.Ledger, rewards ledger.Schedule, cfg Config, clk clock.Clock, pub Publisher, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, ledger: l, rewards: rewards, cfg: cfg, clock: clk, pub: pub, logger: logger}
}

// Profile is a player's wallet and pet.
type Profile struct {
	Wallet model.Wallet `json:"wallet"`
	Pet    PetView      `json:"pet"`
}

// PetView is a pet with its progress toward the next level.
type PetView struct {
	model.Pet
	NextLevelXP *int64 `json:"next_level_xp"`
}

// Provision creates the wallet and pet for a new player.
func (s *Service) Provision(ctx context.Context, userID int64, petName string) (Profile, error) {
	petName = strings.TrimSpace(petName)
	if petName == "" {
		petName = DefaultPetName
	}
	now := s.clock.Now()
	wallet := model.Wallet{
		UserID:       userID,
		CashBalance:  s.cfg.StarterCash,
		CoinsBalance: s.cfg.StarterCoins,
	}
	start := progression.Compute(0)
	pet := model.Pet{
		UserID:         userID,
		Name:           petName,
		Species:        DefaultSpecies,
		Level:          start.Level,
		XPCurrent:      start.XPCurrent,
		Stage:          start.Stage,
		Hunger:         model.MaxHunger,
		LastHungerTick: now,
	}

	err := s.store.WithTx(ctx, func(tx store.Accessor) error {
		if err := tx.CreateWallet(ctx, &wallet); err != nil {
			return err
		}
		return tx.CreatePet(ctx, &pet)
	})
	if err != nil {
		return Profile{}, err
	}

	s.logger.Info("player provisioned", "user", userID, "pet", petName)
	return Profile{Wallet: wallet, Pet: petView(pet)}, nil
}

// Profile returns the wallet and the pet after applying hunger decay.
func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	var p Profile
	err := s.store.WithTx(ctx, func(tx store.Accessor) error {
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		pet, err := s.decayedPet(ctx, tx, userID)
		if err != nil {
			return err
		}
		p = Profile{Wallet: *w, Pet: petView(pet)}
		return nil
	})
	return p, err
}

// Pet returns the pet after applying hunger decay.
func (s *Service) Pet(ctx context.Context, userID int64) (PetView, error) {
	var v PetView
	err := s.store.WithTx(ctx, func(tx store.Accessor) error {
		pet, err := s.decayedPet(ctx, tx, userID)
		if err != nil {
			return err
		}
		v = petView(pet)
		return nil
	})
	return v, err
}

// FamilySlot is one extra pet slot and its unlock level.
type FamilySlot struct {
	Slot          int  `json:"slot"`
	RequiredLevel int  `json:"required_level"`
	Unlocked      bool `json:"unlocked"`
}

// Family describes the pet's family slots.
type Family struct {
	Level int          `json:"level"`
	Slots []FamilySlot `json:"slots"`
}

// Family reports which family slots the pet's level has unlocked.
func (s *Service) Family(ctx context.Context, userID int64) (Family, error) {
	pet, err := s.store.GetPet(ctx, userID)
	if err != nil {
		return Family{}, err
	}
	f := Family{Level: pet.Level, Slots: make([]FamilySlot, len(familySlots))}
	for i, lvl := range familySlots {
		f.Slots[i] = FamilySlot{Slot: i + 1, RequiredLevel: lvl, Unlocked: pet.Level >= lvl}
	}
	return f, nil
}

// ClaimDailyLogin grants the daily login reward once per UTC day.
func (s *Service) ClaimDailyLogin(ctx context.Context, userID int64) (ledger.Result, error) {
	day := s.clock.Now().UTC().Format("2006-01-02")
	g := s.rewards.For(model.SourceDailyLogin, userID, "daily", day)
	res, err := s.ledger.Grant(ctx, s.store, g)
	if err != nil {
		return ledger.Result{}, err
	}
	if res.Granted && s.pub != nil {
		s.pub.Publish(model.Event{Type: "reward_granted", UserID: userID, Source: g.Source})
		if res.LeveledUp {
			s.pub.Publish(model.Event{Type: "level_up", UserID: userID, Source: g.Source, Level: res.LevelAfter, Stage: res.Stage})
		}
	}
	return res, nil
}

// Balance is a player's reward balances.
type Balance struct {
	XPTotal      int64  `json:"xp_total"`
	CoinsBalance int64  `json:"coins_balance"`
	Level        int    `json:"level"`
	XPCurrent    int64  `json:"xp_current"`
	Stage        string `json:"stage"`
}

// RewardBalance returns XP, coins and the derived level.
func (s *Service) RewardBalance(ctx context.Context, userID int64) (Balance, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	prog := progression.Compute(w.XPTotal)
	return Balance{
		XPTotal:      w.XPTotal,
		CoinsBalance: w.CoinsBalance,
		Level:        prog.Level,
		XPCurrent:    prog.XPCurrent,
		Stage:        prog.Stage,
	}, nil
}

// RewardHistory returns the newest reward events, at most HistoryLimit.
func (s *Service) RewardHistory(ctx context.Context, userID int64) ([]model.RewardEvent, error) {
	if _, err := s.store.GetWallet(ctx, userID); err != nil {
		return nil, err
	}
	events, err := s.store.ListRewardEvents(ctx, userID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list reward events: %w", err)
	}
	return events, nil
}

// decayedPet loads the pet and persists decay when whole days have passed.
func (s *Service) decayedPet(ctx context.Context, tx store.Accessor, userID int64) (model.Pet, error) {
	pet, err := tx.GetPet(ctx, userID)
	if err != nil {
		return model.Pet{}, err
	}
	decayed, changed := hunger.Decay(*pet, s.clock.Now(), s.cfg.DecayPerDay)
	if !changed {
		return *pet, nil
	}
	if err := tx.UpdatePet(ctx, &decayed); err != nil {
		return model.Pet{}, err
	}
	if decayed.Hunger == 0 && pet.Hunger > 0 {
		s.logger.Warn("pet starving", "user", userID)
	}
	return decayed, nil
}

func petView(p model.Pet) PetView {
	v := PetView{Pet: p}
	if next, ok := progression.NextThreshold(p.Level); ok {
		v.NextLevelXP = &next
	}
	return v
}

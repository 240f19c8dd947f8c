package ledger

import "github.com/investipet/engine/internal/model"

// Amount is the XP and coins paid for one reward source.
type Amount struct {
	XP    int64 `json:"xp"`
	Coins int64 `json:"coins"`
}

// Schedule maps reward sources to their payout.
type Schedule map[string]Amount

// DefaultSchedule returns the standard payouts.
func DefaultSchedule() Schedule {
	return Schedule{
		model.SourceDailyLogin:       {XP: 15, Coins: 20},
		model.SourceTrade:            {XP: 10, Coins: 10},
		model.SourceLessonCompletion: {XP: 40, Coins: 50},
		model.SourceQuizPerfect:      {XP: 20, Coins: 25},
	}
}

// For builds a grant for source using the scheduled amounts.
func (s Schedule) For(source string, userID int64, refType, refID string) Grant {
	a := s[source]
	return Grant{
		UserID:  userID,
		Source:  source,
		XP:      a.XP,
		Coins:   a.Coins,
		RefType: refType,
		RefID:   refID,
	}
}

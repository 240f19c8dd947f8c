package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/model"
)

type seedAsset struct {
	symbol, name, kind, sector, risk string
	base                             string
}

var defaultAssets = []seedAsset{
	{"AAPL", "Apple", model.AssetStock, "Technology", "medium", "190"},
	{"MSFT", "Microsoft", model.AssetStock, "Technology", "medium", "410"},
	{"GOOGL", "Alphabet", model.AssetStock, "Technology", "medium", "170"},
	{"AMZN", "Amazon", model.AssetStock, "Consumer", "medium", "180"},
	{"NVDA", "NVIDIA", model.AssetStock, "Technology", "high", "850"},
	{"TSLA", "Tesla", model.AssetStock, "Automotive", "high", "240"},
	{"META", "Meta", model.AssetStock, "Technology", "medium", "490"},
	{"JPM", "JPMorgan", model.AssetStock, "Financials", "low", "205"},
	{"V", "Visa", model.AssetStock, "Financials", "low", "290"},
	{"KO", "Coca-Cola", model.AssetStock, "Consumer", "low", "62"},
	{"PFE", "Pfizer", model.AssetStock, "Healthcare", "low", "29"},
	{"XOM", "ExxonMobil", model.AssetStock, "Energy", "medium", "114"},
	{"WMT", "Walmart", model.AssetStock, "Consumer", "low", "71"},
	{"DIS", "Disney", model.AssetStock, "Communication", "medium", "106"},
	{"NFLX", "Netflix", model.AssetStock, "Communication", "high", "610"},
	{"BTC", "Bitcoin", model.AssetCrypto, "Crypto", "high", "68000"},
	{"ETH", "Ethereum", model.AssetCrypto, "Crypto", "high", "3500"},
	{"SOL", "Solana", model.AssetCrypto, "Crypto", "high", "145"},
	{"ADA", "Cardano", model.AssetCrypto, "Crypto", "high", "0.62"},
	{"DOGE", "Dogecoin", model.AssetCrypto, "Crypto", "high", "0.18"},
}

type seedLesson struct {
	lesson    model.Lesson
	questions []model.LessonQuestion
}

func q(key, prompt, answer string, options ...string) model.LessonQuestion {
	return model.LessonQuestion{Key: key, Prompt: prompt, Options: options, Answer: answer}
}

var defaultLessons = []seedLesson{
	{
		lesson: model.Lesson{
			ID:         1,
			Title:      "Diversification Basics",
			Summary:    "Why spreading money across assets lowers concentration risk.",
			Content:    "Diversification means spreading investments across assets to reduce concentration risk.",
			Difficulty: "beginner",
			Position:   1,
		},
		questions: []model.LessonQuestion{
			q("q1", "What does diversification reduce?", "Concentration risk",
				"Concentration risk", "All market risk", "Taxes"),
			q("q2", "Is diversification guaranteed profit?", "No", "Yes", "No"),
			q("q3", "Which portfolio is most diversified?", "Ten assets across four sectors",
				"One tech stock", "Three tech stocks", "Ten assets across four sectors"),
			q("q4", "Holding only crypto means your risk is:", "Concentrated in one asset class",
				"Spread evenly", "Concentrated in one asset class", "Zero"),
			q("q5", "Adding an asset that moves differently from the rest usually:", "Smooths overall swings",
				"Smooths overall swings", "Doubles returns", "Has no effect"),
			q("q6", "A single position at 90% of your portfolio is:", "Highly concentrated",
				"Well diversified", "Highly concentrated"),
			q("q7", "Diversifying across sectors protects against:", "One industry having a bad year",
				"One industry having a bad year", "Every stock falling at once"),
		},
	},
	{
		lesson: model.Lesson{
			ID:         2,
			Title:      "Risk vs Reward",
			Summary:    "How expected return relates to volatility and drawdowns.",
			Content:    "Higher potential return typically comes with higher volatility and drawdown risk.",
			Difficulty: "beginner",
			Position:   2,
		},
		questions: []model.LessonQuestion{
			q("q1", "Higher return potential usually means:", "Higher risk", "Lower risk", "Higher risk"),
			q("q2", "A healthy habit is to:", "Review allocation regularly",
				"Bet all on one asset", "Review allocation regularly"),
			q("q3", "A drawdown is:", "A drop from a previous peak",
				"A drop from a previous peak", "A dividend payment", "A trading fee"),
			q("q4", "Which is usually more volatile?", "A small crypto coin",
				"A large consumer staples stock", "A small crypto coin"),
			q("q5", "Volatility measures:", "How much prices swing",
				"How much prices swing", "How much a company earns"),
			q("q6", "Investing money you need next month in high-risk assets is:", "Risky for your plans",
				"Risky for your plans", "A safe choice"),
			q("q7", "Your risk tolerance depends on:", "Goals and time horizon",
				"Goals and time horizon", "What friends are buying"),
		},
	},
}

// Seed inserts the default asset universe and lessons when the respective
// tables are empty. Existing rows are left untouched.
func Seed(ctx context.Context, s Store) error {
	assets, err := s.ListAssets(ctx, false)
	if err != nil {
		return fmt.Errorf("seed: list assets: %w", err)
	}
	if len(assets) == 0 {
		for _, sa := range defaultAssets {
			a := model.Asset{
				Symbol:    sa.symbol,
				Name:      sa.name,
				Type:      sa.kind,
				Sector:    sa.sector,
				RiskClass: sa.risk,
				BasePrice: decimal.RequireFromString(sa.base),
				Active:    true,
			}
			if err := s.UpsertAsset(ctx, &a); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
	}

	_, total, err := s.ListLessons(ctx, 0, 1)
	if err != nil {
		return fmt.Errorf("seed: list lessons: %w", err)
	}
	if total > 0 {
		return nil
	}
	for _, sl := range defaultLessons {
		l := sl.lesson
		if err := s.UpsertLesson(ctx, &l); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		qs := make([]model.LessonQuestion, len(sl.questions))
		for i, q := range sl.questions {
			q.Position = i
			qs[i] = q
		}
		if err := s.ReplaceLessonQuestions(ctx, l.ID, qs); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

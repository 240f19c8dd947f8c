// Package config loads service settings from the environment, after an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/account"
	"github.com/investipet/engine/internal/learning"
	"github.com/investipet/engine/internal/ledger"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/quote"
)

const (
	FeedYahoo = "yahoo"
	FeedRedis = "redis"
)

type Config struct {
	Addr           string `validate:"required"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	DatabaseURL    string
	RedisURL       string
	MigrationsPath string
	JWTSecret      string `validate:"required,min=16"`
	CORSOrigins    []string

	PriceMode         string `validate:"oneof=simulated live hybrid"`
	PriceFeed         string `validate:"oneof=yahoo redis"`
	PriceFeedURL      string `validate:"omitempty,url"`
	QuoteCacheTTL     time.Duration
	QuoteFetchTimeout time.Duration `validate:"gt=0"`
	QuoteBackoff      time.Duration
	QuoteTickMaxAge   time.Duration
	QuoteSymbolMap    map[string]string

	Rewards ledger.Schedule

	QuizSampleSize        int `validate:"gte=1"`
	HungerDecayPerDay     int `validate:"gte=0"`
	HungerRestore         int `validate:"gte=0,lte=100"`
	HungerRestoreMinScore float64 `validate:"gte=0,lte=100"`

	StarterCash  float64 `validate:"gte=0"`
	StarterCoins int64   `validate:"gte=0"`
	SeedDefaults bool
}

var validate = validator.New()

// Load reads the environment. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	addr := envDefault("PORT", "8080")
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}

	cfg := &Config{
		Addr:           addr,
		LogLevel:       strings.ToLower(envDefault("LOG_LEVEL", "info")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		MigrationsPath: envDefault("MIGRATIONS_PATH", "migrations"),
		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_SECRET")),
		CORSOrigins:    envList("CORS_ORIGINS", []string{"*"}),

		PriceMode:         strings.ToLower(envDefault("PRICE_MODE", quote.ModeSimulated)),
		PriceFeed:         strings.ToLower(envDefault("PRICE_FEED", FeedYahoo)),
		PriceFeedURL:      envDefault("PRICE_FEED_URL", quote.DefaultChartURL),
		QuoteCacheTTL:     time.Duration(envIntDefault("QUOTE_CACHE_TTL_SECONDS", 60)) * time.Second,
		QuoteFetchTimeout: envDurationDefault("QUOTE_FETCH_TIMEOUT", 3*time.Second),
		QuoteBackoff:      envDurationDefault("QUOTE_FAILURE_BACKOFF", 15*time.Second),
		QuoteTickMaxAge:   envDurationDefault("QUOTE_TICK_MAX_AGE", 2*time.Minute),
		QuoteSymbolMap:    quote.ParseSymbolMap(os.Getenv("QUOTE_SYMBOL_MAP")),

		Rewards: rewardsFromEnv(),

		QuizSampleSize:        envIntDefault("QUIZ_SAMPLE_SIZE", 5),
		HungerDecayPerDay:     envIntDefault("HUNGER_DECAY_PER_DAY", 10),
		HungerRestore:         envIntDefault("HUNGER_RESTORE", 20),
		HungerRestoreMinScore: envFloatDefault("HUNGER_RESTORE_MIN_SCORE", 60),

		StarterCash:  envFloatDefault("STARTER_CASH", 10000),
		StarterCoins: int64(envIntDefault("STARTER_COINS", 500)),
		SeedDefaults: envBoolDefault("SEED_DEFAULTS", true),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Quote() quote.Config {
	return quote.Config{
		Mode:           c.PriceMode,
		CacheTTL:       c.QuoteCacheTTL,
		FetchTimeout:   c.QuoteFetchTimeout,
		FailureBackoff: c.QuoteBackoff,
		SymbolMap:      c.QuoteSymbolMap,
	}
}

func (c *Config) Learning() learning.Config {
	return learning.Config{
		SampleSize:      c.QuizSampleSize,
		DecayPerDay:     c.HungerDecayPerDay,
		RestoreAmount:   c.HungerRestore,
		RestoreMinScore: decimal.NewFromFloat(c.HungerRestoreMinScore),
	}
}

func (c *Config) Account() account.Config {
	return account.Config{
		StarterCash:  decimal.NewFromFloat(c.StarterCash).Round(2),
		StarterCoins: c.StarterCoins,
		DecayPerDay:  c.HungerDecayPerDay,
	}
}

// rewardsFromEnv overrides the default payouts with REWARD_<SOURCE>_XP and
// REWARD_<SOURCE>_COINS.
func rewardsFromEnv() ledger.Schedule {
	s := ledger.DefaultSchedule()
	for _, src := range []string{
		model.SourceDailyLogin,
		model.SourceTrade,
		model.SourceLessonCompletion,
		model.SourceQuizPerfect,
	} {
		prefix := "REWARD_" + strings.ToUpper(src)
		a := s[src]
		a.XP = int64(envIntDefault(prefix+"_XP", int(a.XP)))
		a.Coins = int64(envIntDefault(prefix+"_COINS", int(a.Coins)))
		s[src] = a
	}
	return s
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investipet/engine/internal/account"
	"github.com/investipet/engine/internal/api"
	"github.com/investipet/engine/internal/auth"
	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/config"
	"github.com/investipet/engine/internal/learning"
	"github.com/investipet/engine/internal/ledger"
	"github.com/investipet/engine/internal/notify"
	"github.com/investipet/engine/internal/portfolio"
	"github.com/investipet/engine/internal/quote"
	"github.com/investipet/engine/internal/store"
	"github.com/investipet/engine/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Redis (optional): cache and tick feed ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := store.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 5*time.Minute)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.SeedDefaults {
		if err := store.Seed(ctx, st); err != nil {
			slog.Error("seed failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Quotes ---
	clk := clock.System{}
	var feed quote.Feed
	if cfg.PriceMode != quote.ModeSimulated {
		switch cfg.PriceFeed {
		case config.FeedRedis:
			if rdb == nil {
				slog.Error("PRICE_FEED=redis requires REDIS_URL")
				os.Exit(1)
			}
			feed = quote.NewRedisFeed(rdb, cfg.QuoteTickMaxAge, clk)
		default:
			feed = quote.NewHTTPFeed(cfg.PriceFeedURL, &http.Client{Timeout: cfg.QuoteFetchTimeout})
		}
		slog.Info("live quotes enabled", "mode", cfg.PriceMode, "feed", cfg.PriceFeed)
	}
	quotes := quote.NewEngine(cfg.Quote(), feed, clk, logger)

	// --- WebSocket hub ---
	hub := notify.NewHub(logger)
	go hub.Run()

	// --- Services ---
	l := ledger.New(clk, logger)
	srv := api.NewServer(api.Deps{
		Store:       st,
		Accounts:    account.NewService(st, l, cfg.Rewards, cfg.Account(), clk, hub, logger),
		Trades:      trade.NewService(st, quotes, l, cfg.Rewards, clk, hub, logger),
		Lessons:     learning.NewService(st, l, cfg.Rewards, cfg.Learning(), clk, hub, logger),
		Portfolio:   portfolio.NewValuator(st, quotes, clk),
		Quotes:      quotes,
		Hub:         hub,
		JWT:         auth.NewJWTService(cfg.JWTSecret, 0),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("investipet engine listening", "addr", cfg.Addr, "price_mode", quotes.Mode())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down investipet engine...")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("investipet engine stopped")
}

package quote

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investipet/engine/internal/clock"
)

func TestRedisFeed_PublishAndStale(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test - TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 2, 15, 4, 0, 0, time.UTC)
	clk := clock.NewManual(now)
	feed := NewRedisFeed(rdb, time.Minute, clk)

	if err := feed.Publish(ctx, PriceTick{Symbol: "BTC-USD", Price: d(68123.45), Size: d(0.5), Timestamp: now}); err != nil {
		t.Fatal(err)
	}
	p, err := feed.Price(ctx, "BTC-USD")
	if err != nil || !p.Equal(d(68123.45)) {
		t.Errorf("expected 68123.45, got %s err=%v", p, err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := feed.Price(ctx, "BTC-USD"); !errors.Is(err, ErrStaleTick) {
		t.Errorf("expected ErrStaleTick, got %v", err)
	}
	if _, err := feed.Price(ctx, "NOPE"); err == nil {
		t.Error("expected error for missing tick")
	}
}

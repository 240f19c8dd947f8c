package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investipet/engine/internal/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test - TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return rdb
}

func TestCachedStore_InvalidatesOnUpsert(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	s.UpsertAsset(ctx, &model.Asset{Symbol: "AAPL", Name: "Apple", BasePrice: d(190), Active: true})
	a, err := s.GetAsset(ctx, "AAPL")
	if err != nil || a.Name != "Apple" {
		t.Fatalf("unexpected asset %+v err=%v", a, err)
	}

	s.UpsertAsset(ctx, &model.Asset{Symbol: "AAPL", Name: "Apple Inc.", BasePrice: d(190), Active: true})
	a, _ = s.GetAsset(ctx, "AAPL")
	if a.Name != "Apple Inc." {
		t.Errorf("stale cache entry served: %+v", a)
	}
}

func TestCachedStore_QuestionsKeepAnswers(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	if err := Seed(ctx, s); err != nil {
		t.Fatal(err)
	}

	first, _ := s.ListLessonQuestions(ctx, 1)
	cached, _ := s.ListLessonQuestions(ctx, 1)
	if len(cached) != len(first) || cached[0].Answer == "" || cached[0].Answer != first[0].Answer {
		t.Errorf("cached questions lost answers: %+v", cached)
	}
}

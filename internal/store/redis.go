package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investipet/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for reference data: assets, lessons and question pools. Writes go to
// the primary store and invalidate the cache; reads check Redis first then
// fall back to the primary. Per-user state is never cached, and everything
// not overridden here passes straight through, including WithTx.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return err
	}
	return s.rdb.Ping(ctx).Err()
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertAsset(ctx context.Context, a *model.Asset) error {
	if err := s.Store.UpsertAsset(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetKey(a.Symbol), assetListKey(true), assetListKey(false))
	return nil
}

func (s *CachedStore) UpsertLesson(ctx context.Context, l *model.Lesson) error {
	if err := s.Store.UpsertLesson(ctx, l); err != nil {
		return err
	}
	s.rdb.Del(ctx, lessonKey(l.ID))
	return nil
}

func (s *CachedStore) ReplaceLessonQuestions(ctx context.Context, lessonID int64, qs []model.LessonQuestion) error {
	if err := s.Store.ReplaceLessonQuestions(ctx, lessonID, qs); err != nil {
		return err
	}
	s.rdb.Del(ctx, questionsKey(lessonID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	var a model.Asset
	if s.get(ctx, assetKey(symbol), &a) {
		return &a, nil
	}

	// Cache miss: read from primary.
	got, err := s.Store.GetAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.set(ctx, assetKey(symbol), got)
	return got, nil
}

func (s *CachedStore) ListAssets(ctx context.Context, activeOnly bool) ([]model.Asset, error) {
	var assets []model.Asset
	if s.get(ctx, assetListKey(activeOnly), &assets) {
		return assets, nil
	}

	assets, err := s.Store.ListAssets(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	s.set(ctx, assetListKey(activeOnly), assets)
	return assets, nil
}

func (s *CachedStore) GetLesson(ctx context.Context, id int64) (*model.Lesson, error) {
	var l model.Lesson
	if s.get(ctx, lessonKey(id), &l) {
		return &l, nil
	}

	got, err := s.Store.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, lessonKey(id), got)
	return got, nil
}

// cachedQuestion carries the answer, which model.LessonQuestion hides from
// JSON responses.
type cachedQuestion struct {
	model.LessonQuestion
	Answer   string `json:"answer"`
	Position int    `json:"position"`
}

func (s *CachedStore) ListLessonQuestions(ctx context.Context, lessonID int64) ([]model.LessonQuestion, error) {
	var cached []cachedQuestion
	if s.get(ctx, questionsKey(lessonID), &cached) {
		qs := make([]model.LessonQuestion, len(cached))
		for i, c := range cached {
			q := c.LessonQuestion
			q.Answer = c.Answer
			q.Position = c.Position
			qs[i] = q
		}
		return qs, nil
	}

	qs, err := s.Store.ListLessonQuestions(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	cached = make([]cachedQuestion, len(qs))
	for i, q := range qs {
		cached[i] = cachedQuestion{LessonQuestion: q, Answer: q.Answer, Position: q.Position}
	}
	s.set(ctx, questionsKey(lessonID), cached)
	return qs, nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func assetKey(symbol string) string      { return fmt.Sprintf("asset:%s", symbol) }
func assetListKey(active bool) string    { return fmt.Sprintf("assets:active=%t", active) }
func lessonKey(id int64) string          { return fmt.Sprintf("lesson:%d", id) }
func questionsKey(lessonID int64) string { return fmt.Sprintf("lesson:%d:questions", lessonID) }

var _ Store = (*CachedStore)(nil)

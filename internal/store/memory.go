package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/investipet/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized: WithTx holds the write lock, runs fn against
// a private copy of the state and swaps the copy in only on success.
type MemoryStore struct {
	mu sync.RWMutex
	st *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type positionKey struct {
	userID int64
	symbol string
}

type progressKey struct {
	userID, lessonID int64
}

type memState struct {
	wallets   map[int64]model.Wallet
	pets      map[int64]model.Pet
	assets    map[string]model.Asset
	positions map[positionKey]model.Position
	trades    []model.Trade
	rewards   []model.RewardEvent
	rewardIdx map[model.RewardKey]struct{}
	nextEvent int64
	lessons   map[int64]model.Lesson
	questions map[int64][]model.LessonQuestion
	progress  map[progressKey]model.LessonProgress
}

func newMemState() *memState {
	return &memState{
		wallets:   make(map[int64]model.Wallet),
		pets:      make(map[int64]model.Pet),
		assets:    make(map[string]model.Asset),
		positions: make(map[positionKey]model.Position),
		rewardIdx: make(map[model.RewardKey]struct{}),
		lessons:   make(map[int64]model.Lesson),
		questions: make(map[int64][]model.LessonQuestion),
		progress:  make(map[progressKey]model.LessonProgress),
	}
}

// clone copies the state. Slices are copied so appends on the clone never
// write into the original's backing arrays.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.pets {
		c.pets[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	c.trades = append([]model.Trade(nil), s.trades...)
	c.rewards = append([]model.RewardEvent(nil), s.rewards...)
	for k := range s.rewardIdx {
		c.rewardIdx[k] = struct{}{}
	}
	c.nextEvent = s.nextEvent
	for k, v := range s.lessons {
		c.lessons[k] = v
	}
	for k, v := range s.questions {
		c.questions[k] = v
	}
	for k, v := range s.progress {
		c.progress[k] = v
	}
	return c
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Accessor) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) read() *memTx {
	return &memTx{st: s.st}
}

// --- Non-transactional access: one lock per call ---

func (s *MemoryStore) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetWallet(ctx, userID)
}

func (s *MemoryStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateWallet(ctx, w)
}

func (s *MemoryStore) UpdateWallet(ctx context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateWallet(ctx, w)
}

func (s *MemoryStore) GetPet(ctx context.Context, userID int64) (*model.Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetPet(ctx, userID)
}

func (s *MemoryStore) CreatePet(ctx context.Context, p *model.Pet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreatePet(ctx, p)
}

func (s *MemoryStore) UpdatePet(ctx context.Context, p *model.Pet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdatePet(ctx, p)
}

func (s *MemoryStore) UpsertAsset(ctx context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpsertAsset(ctx, a)
}

func (s *MemoryStore) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAsset(ctx, symbol)
}

func (s *MemoryStore) ListAssets(ctx context.Context, activeOnly bool) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAssets(ctx, activeOnly)
}

func (s *MemoryStore) GetPosition(ctx context.Context, userID int64, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetPosition(ctx, userID, symbol)
}

func (s *MemoryStore) ListPositions(ctx context.Context, userID int64) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPositions(ctx, userID)
}

func (s *MemoryStore) SavePosition(ctx context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SavePosition(ctx, p)
}

func (s *MemoryStore) DeletePosition(ctx context.Context, userID int64, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeletePosition(ctx, userID, symbol)
}

func (s *MemoryStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertTrade(ctx, t)
}

func (s *MemoryStore) ListTrades(ctx context.Context, userID int64, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTrades(ctx, userID, limit)
}

func (s *MemoryStore) InsertRewardEvent(ctx context.Context, e *model.RewardEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertRewardEvent(ctx, e)
}

func (s *MemoryStore) ListRewardEvents(ctx context.Context, userID int64, limit int) ([]model.RewardEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListRewardEvents(ctx, userID, limit)
}

func (s *MemoryStore) UpsertLesson(ctx context.Context, l *model.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpsertLesson(ctx, l)
}

func (s *MemoryStore) GetLesson(ctx context.Context, id int64) (*model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetLesson(ctx, id)
}

func (s *MemoryStore) ListLessons(ctx context.Context, offset, limit int) ([]model.Lesson, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListLessons(ctx, offset, limit)
}

func (s *MemoryStore) ReplaceLessonQuestions(ctx context.Context, lessonID int64, qs []model.LessonQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ReplaceLessonQuestions(ctx, lessonID, qs)
}

func (s *MemoryStore) ListLessonQuestions(ctx context.Context, lessonID int64) ([]model.LessonQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListLessonQuestions(ctx, lessonID)
}

func (s *MemoryStore) GetLessonProgress(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetLessonProgress(ctx, userID, lessonID)
}

func (s *MemoryStore) ListLessonProgress(ctx context.Context, userID int64) ([]model.LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListLessonProgress(ctx, userID)
}

func (s *MemoryStore) SaveLessonProgress(ctx context.Context, p *model.LessonProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SaveLessonProgress(ctx, p)
}

// memTx operates on a memState without locking; the caller holds the lock.
type memTx struct {
	st *memState
}

func (t *memTx) GetWallet(_ context.Context, userID int64) (*model.Wallet, error) {
	w, ok := t.st.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet for user %d", model.ErrNotFound, userID)
	}
	return &w, nil
}

func (t *memTx) CreateWallet(_ context.Context, w *model.Wallet) error {
	if _, ok := t.st.wallets[w.UserID]; ok {
		return fmt.Errorf("%w: wallet for user %d", model.ErrAlreadyExists, w.UserID)
	}
	t.st.wallets[w.UserID] = *w
	return nil
}

func (t *memTx) UpdateWallet(_ context.Context, w *model.Wallet) error {
	if _, ok := t.st.wallets[w.UserID]; !ok {
		return fmt.Errorf("%w: wallet for user %d", model.ErrNotFound, w.UserID)
	}
	t.st.wallets[w.UserID] = *w
	return nil
}

func (t *memTx) GetPet(_ context.Context, userID int64) (*model.Pet, error) {
	p, ok := t.st.pets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: pet for user %d", model.ErrNotFound, userID)
	}
	return &p, nil
}

func (t *memTx) CreatePet(_ context.Context, p *model.Pet) error {
	if _, ok := t.st.pets[p.UserID]; ok {
		return fmt.Errorf("%w: pet for user %d", model.ErrAlreadyExists, p.UserID)
	}
	t.st.pets[p.UserID] = *p
	return nil
}

func (t *memTx) UpdatePet(_ context.Context, p *model.Pet) error {
	if _, ok := t.st.pets[p.UserID]; !ok {
		return fmt.Errorf("%w: pet for user %d", model.ErrNotFound, p.UserID)
	}
	t.st.pets[p.UserID] = *p
	return nil
}

func (t *memTx) UpsertAsset(_ context.Context, a *model.Asset) error {
	t.st.assets[a.Symbol] = *a
	return nil
}

func (t *memTx) GetAsset(_ context.Context, symbol string) (*model.Asset, error) {
	a, ok := t.st.assets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", model.ErrNotFound, symbol)
	}
	return &a, nil
}

func (t *memTx) ListAssets(_ context.Context, activeOnly bool) ([]model.Asset, error) {
	assets := make([]model.Asset, 0, len(t.st.assets))
	for _, a := range t.st.assets {
		if activeOnly && !a.Active {
			continue
		}
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (t *memTx) GetPosition(_ context.Context, userID int64, symbol string) (*model.Position, error) {
	p, ok := t.st.positions[positionKey{userID, symbol}]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", model.ErrNotFound, symbol)
	}
	return &p, nil
}

func (t *memTx) ListPositions(_ context.Context, userID int64) ([]model.Position, error) {
	var positions []model.Position
	for k, p := range t.st.positions {
		if k.userID == userID {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (t *memTx) SavePosition(_ context.Context, p *model.Position) error {
	t.st.positions[positionKey{p.UserID, p.Symbol}] = *p
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, userID int64, symbol string) error {
	delete(t.st.positions, positionKey{userID, symbol})
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	t.st.trades = append(t.st.trades, *tr)
	return nil
}

func (t *memTx) ListTrades(_ context.Context, userID int64, limit int) ([]model.Trade, error) {
	var trades []model.Trade
	for i := len(t.st.trades) - 1; i >= 0; i-- {
		if t.st.trades[i].UserID != userID {
			continue
		}
		trades = append(trades, t.st.trades[i])
		if limit > 0 && len(trades) == limit {
			break
		}
	}
	return trades, nil
}

func (t *memTx) InsertRewardEvent(_ context.Context, e *model.RewardEvent) (bool, error) {
	key := e.Key()
	if _, ok := t.st.rewardIdx[key]; ok {
		return false, nil
	}
	t.st.nextEvent++
	e.ID = t.st.nextEvent
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.st.rewards = append(t.st.rewards, *e)
	t.st.rewardIdx[key] = struct{}{}
	return true, nil
}

func (t *memTx) ListRewardEvents(_ context.Context, userID int64, limit int) ([]model.RewardEvent, error) {
	var events []model.RewardEvent
	for i := len(t.st.rewards) - 1; i >= 0; i-- {
		if t.st.rewards[i].UserID != userID {
			continue
		}
		events = append(events, t.st.rewards[i])
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

func (t *memTx) UpsertLesson(_ context.Context, l *model.Lesson) error {
	if l.ID == 0 {
		for id := range t.st.lessons {
			if id > l.ID {
				l.ID = id
			}
		}
		l.ID++
	}
	t.st.lessons[l.ID] = *l
	return nil
}

func (t *memTx) GetLesson(_ context.Context, id int64) (*model.Lesson, error) {
	l, ok := t.st.lessons[id]
	if !ok {
		return nil, fmt.Errorf("%w: lesson %d", model.ErrNotFound, id)
	}
	return &l, nil
}

func (t *memTx) ListLessons(_ context.Context, offset, limit int) ([]model.Lesson, int, error) {
	all := make([]model.Lesson, 0, len(t.st.lessons))
	for _, l := range t.st.lessons {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Position != all[j].Position {
			return all[i].Position < all[j].Position
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if offset >= total {
		return []model.Lesson{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (t *memTx) ReplaceLessonQuestions(_ context.Context, lessonID int64, qs []model.LessonQuestion) error {
	if _, ok := t.st.lessons[lessonID]; !ok {
		return fmt.Errorf("%w: lesson %d", model.ErrNotFound, lessonID)
	}
	pool := make([]model.LessonQuestion, len(qs))
	for i, q := range qs {
		q.LessonID = lessonID
		q.Options = append([]string(nil), q.Options...)
		pool[i] = q
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Position < pool[j].Position })
	t.st.questions[lessonID] = pool
	return nil
}

func (t *memTx) ListLessonQuestions(_ context.Context, lessonID int64) ([]model.LessonQuestion, error) {
	pool := t.st.questions[lessonID]
	out := make([]model.LessonQuestion, len(pool))
	for i, q := range pool {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out, nil
}

func (t *memTx) GetLessonProgress(_ context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	p, ok := t.st.progress[progressKey{userID, lessonID}]
	if !ok {
		return nil, fmt.Errorf("%w: progress for lesson %d", model.ErrNotFound, lessonID)
	}
	return copyProgress(p), nil
}

func (t *memTx) ListLessonProgress(_ context.Context, userID int64) ([]model.LessonProgress, error) {
	var out []model.LessonProgress
	for k, p := range t.st.progress {
		if k.userID == userID {
			out = append(out, *copyProgress(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

func (t *memTx) SaveLessonProgress(_ context.Context, p *model.LessonProgress) error {
	t.st.progress[progressKey{p.UserID, p.LessonID}] = *copyProgress(*p)
	return nil
}

func copyProgress(p model.LessonProgress) *model.LessonProgress {
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		p.CompletedAt = &at
	}
	return &p
}

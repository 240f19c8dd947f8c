// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for reference data), and in-memory (for testing and development).
package store

import (
	"context"

	"github.com/investipet/engine/internal/model"
)

// Accessor is the set of reads and writes available both inside and outside
// a transaction. Lookups of missing rows return an error wrapping
// model.ErrNotFound.
type Accessor interface {
	// --- Wallets and pets ---

	GetWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	// CreateWallet returns model.ErrAlreadyExists when the user has one.
	CreateWallet(ctx context.Context, w *model.Wallet) error
	UpdateWallet(ctx context.Context, w *model.Wallet) error

	GetPet(ctx context.Context, userID int64) (*model.Pet, error)
	CreatePet(ctx context.Context, p *model.Pet) error
	UpdatePet(ctx context.Context, p *model.Pet) error

	// --- Assets ---

	UpsertAsset(ctx context.Context, a *model.Asset) error
	GetAsset(ctx context.Context, symbol string) (*model.Asset, error)
	// ListAssets returns assets ordered by symbol.
	ListAssets(ctx context.Context, activeOnly bool) ([]model.Asset, error)

	// --- Positions and trades ---

	GetPosition(ctx context.Context, userID int64, symbol string) (*model.Position, error)
	ListPositions(ctx context.Context, userID int64) ([]model.Position, error)
	// SavePosition inserts or replaces the position.
	SavePosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, userID int64, symbol string) error

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error
	// ListTrades returns the newest trades first.
	ListTrades(ctx context.Context, userID int64, limit int) ([]model.Trade, error)

	// --- Reward ledger ---

	// InsertRewardEvent atomically records e unless an event with the same
	// (user, source, ref_type, ref_id) exists. It reports whether e was
	// inserted and fills e.ID and e.CreatedAt when it was.
	InsertRewardEvent(ctx context.Context, e *model.RewardEvent) (bool, error)
	// ListRewardEvents returns the newest events first.
	ListRewardEvents(ctx context.Context, userID int64, limit int) ([]model.RewardEvent, error)

	// --- Lessons ---

	UpsertLesson(ctx context.Context, l *model.Lesson) error
	GetLesson(ctx context.Context, id int64) (*model.Lesson, error)
	// ListLessons returns one page ordered by position and the total count.
	ListLessons(ctx context.Context, offset, limit int) ([]model.Lesson, int, error)
	// ReplaceLessonQuestions swaps the whole question pool of a lesson.
	ReplaceLessonQuestions(ctx context.Context, lessonID int64, qs []model.LessonQuestion) error
	// ListLessonQuestions returns the pool ordered by position.
	ListLessonQuestions(ctx context.Context, lessonID int64) ([]model.LessonQuestion, error)

	GetLessonProgress(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error)
	ListLessonProgress(ctx context.Context, userID int64) ([]model.LessonProgress, error)
	SaveLessonProgress(ctx context.Context, p *model.LessonProgress) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for reference data.
type Store interface {
	Accessor

	// WithTx runs fn in a single unit of work. Every write fn performs
	// through tx becomes visible together when fn returns nil, and none of
	// them do when it returns an error. Rows read through tx for later
	// update are locked until the unit of work ends.
	WithTx(ctx context.Context, fn func(tx Accessor) error) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}

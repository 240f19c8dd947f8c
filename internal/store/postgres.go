package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/model"
)

// Connect opens a tuned connection pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// RunMigrations applies every pending migration under migrationsPath.
func RunMigrations(databaseURL, migrationsPath string) error {
	dsn := databaseURL
	if strings.HasPrefix(dsn, "postgresql://") {
		dsn = "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// round-tripped as TEXT.
type PostgresStore struct {
	*pgAccessor
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgAccessor: &pgAccessor{q: pool}, pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Accessor) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgAccessor{q: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgAccessor runs statements against a pool or a transaction. Inside a
// transaction, reads of mutable rows take row locks.
type pgAccessor struct {
	q    querier
	lock bool
}

func (a *pgAccessor) forUpdate() string {
	if a.lock {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// --- Wallets and pets ---

func (a *pgAccessor) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	var w model.Wallet
	var cash string
	err := a.q.QueryRow(ctx,
		`SELECT user_id, cash_balance::TEXT, coins_balance, xp_total
		 FROM wallets WHERE user_id = $1`+a.forUpdate(), userID).
		Scan(&w.UserID, &cash, &w.CoinsBalance, &w.XPTotal)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("wallet for user %d", userID))
	}
	w.CashBalance, _ = decimal.NewFromString(cash)
	return &w, nil
}

func (a *pgAccessor) CreateWallet(ctx context.Context, w *model.Wallet) error {
	tag, err := a.q.Exec(ctx,
		`INSERT INTO wallets (user_id, cash_balance, coins_balance, xp_total)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		w.UserID, w.CashBalance.String(), w.CoinsBalance, w.XPTotal)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet for user %d", model.ErrAlreadyExists, w.UserID)
	}
	return nil
}

func (a *pgAccessor) UpdateWallet(ctx context.Context, w *model.Wallet) error {
	tag, err := a.q.Exec(ctx,
		`UPDATE wallets
		 SET cash_balance = $2::NUMERIC, coins_balance = $3, xp_total = $4, updated_at = NOW()
		 WHERE user_id = $1`,
		w.UserID, w.CashBalance.String(), w.CoinsBalance, w.XPTotal)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet for user %d", model.ErrNotFound, w.UserID)
	}
	return nil
}

func (a *pgAccessor) GetPet(ctx context.Context, userID int64) (*model.Pet, error) {
	var p model.Pet
	err := a.q.QueryRow(ctx,
		`SELECT user_id, name, species, level, xp_current, stage, hunger, last_hunger_tick
		 FROM pets WHERE user_id = $1`+a.forUpdate(), userID).
		Scan(&p.UserID, &p.Name, &p.Species, &p.Level, &p.XPCurrent, &p.Stage, &p.Hunger, &p.LastHungerTick)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("pet for user %d", userID))
	}
	p.LastHungerTick = p.LastHungerTick.UTC()
	return &p, nil
}

func (a *pgAccessor) CreatePet(ctx context.Context, p *model.Pet) error {
	tag, err := a.q.Exec(ctx,
		`INSERT INTO pets (user_id, name, species, level, xp_current, stage, hunger, last_hunger_tick)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Name, p.Species, p.Level, p.XPCurrent, p.Stage, p.Hunger, p.LastHungerTick)
	if err != nil {
		return fmt.Errorf("create pet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pet for user %d", model.ErrAlreadyExists, p.UserID)
	}
	return nil
}

func (a *pgAccessor) UpdatePet(ctx context.Context, p *model.Pet) error {
	tag, err := a.q.Exec(ctx,
		`UPDATE pets
		 SET name = $2, species = $3, level = $4, xp_current = $5, stage = $6,
		     hunger = $7, last_hunger_tick = $8
		 WHERE user_id = $1`,
		p.UserID, p.Name, p.Species, p.Level, p.XPCurrent, p.Stage, p.Hunger, p.LastHungerTick)
	if err != nil {
		return fmt.Errorf("update pet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pet for user %d", model.ErrNotFound, p.UserID)
	}
	return nil
}

// --- Assets ---

func (a *pgAccessor) UpsertAsset(ctx context.Context, as *model.Asset) error {
	_, err := a.q.Exec(ctx,
		`INSERT INTO assets (symbol, name, asset_type, sector, risk_class, base_price, active)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
		 ON CONFLICT (symbol) DO UPDATE
		 SET name = EXCLUDED.name, asset_type = EXCLUDED.asset_type, sector = EXCLUDED.sector,
		     risk_class = EXCLUDED.risk_class, base_price = EXCLUDED.base_price, active = EXCLUDED.active`,
		as.Symbol, as.Name, as.Type, as.Sector, as.RiskClass, as.BasePrice.String(), as.Active)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", as.Symbol, err)
	}
	return nil
}

func (a *pgAccessor) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	rows, err := a.q.Query(ctx,
		`SELECT symbol, name, asset_type, sector, risk_class, base_price::TEXT, active
		 FROM assets WHERE symbol = $1`, symbol)
	if err != nil {
		return nil, err
	}
	assets, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: asset %s", model.ErrNotFound, symbol)
	}
	return &assets[0], nil
}

func (a *pgAccessor) ListAssets(ctx context.Context, activeOnly bool) ([]model.Asset, error) {
	rows, err := a.q.Query(ctx,
		`SELECT symbol, name, asset_type, sector, risk_class, base_price::TEXT, active
		 FROM assets WHERE active OR NOT $1 ORDER BY symbol`, activeOnly)
	if err != nil {
		return nil, err
	}
	return scanAssets(rows)
}

func scanAssets(rows pgx.Rows) ([]model.Asset, error) {
	defer rows.Close()
	assets := []model.Asset{}
	for rows.Next() {
		var as model.Asset
		var base string
		if err := rows.Scan(&as.Symbol, &as.Name, &as.Type, &as.Sector, &as.RiskClass, &base, &as.Active); err != nil {
			return nil, err
		}
		as.BasePrice, _ = decimal.NewFromString(base)
		assets = append(assets, as)
	}
	return assets, rows.Err()
}

// --- Positions and trades ---

func (a *pgAccessor) GetPosition(ctx context.Context, userID int64, symbol string) (*model.Position, error) {
	var p model.Position
	var qty, avg string
	err := a.q.QueryRow(ctx,
		`SELECT user_id, symbol, quantity::TEXT, avg_cost::TEXT
		 FROM positions WHERE user_id = $1 AND symbol = $2`+a.forUpdate(), userID, symbol).
		Scan(&p.UserID, &p.Symbol, &qty, &avg)
	if err != nil {
		return nil, notFound(err, "position "+symbol)
	}
	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgCost, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (a *pgAccessor) ListPositions(ctx context.Context, userID int64) ([]model.Position, error) {
	rows, err := a.q.Query(ctx,
		`SELECT user_id, symbol, quantity::TEXT, avg_cost::TEXT
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, avg string
		if err := rows.Scan(&p.UserID, &p.Symbol, &qty, &avg); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.AvgCost, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (a *pgAccessor) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := a.q.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, avg_cost)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost`,
		p.UserID, p.Symbol, p.Quantity.String(), p.AvgCost.String())
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	return nil
}

func (a *pgAccessor) DeletePosition(ctx context.Context, userID int64, symbol string) error {
	_, err := a.q.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	return err
}

func (a *pgAccessor) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := a.q.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, quantity, price, total, executed_at)
		 VALUES ($1::UUID, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.UserID, t.Symbol, t.Side,
		t.Quantity.String(), t.Price.String(), t.Total.String(), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (a *pgAccessor) ListTrades(ctx context.Context, userID int64, limit int) ([]model.Trade, error) {
	rows, err := a.q.Query(ctx,
		`SELECT id::TEXT, user_id, symbol, side, quantity::TEXT, price::TEXT, total::TEXT, executed_at
		 FROM trades WHERE user_id = $1
		 ORDER BY executed_at DESC
		 LIMIT $2`, userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &qty, &price, &total, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Reward ledger ---

const pgForeignKeyViolation = "23503"

func (a *pgAccessor) InsertRewardEvent(ctx context.Context, e *model.RewardEvent) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := a.q.QueryRow(ctx,
		`INSERT INTO reward_events (user_id, source, xp_delta, coin_delta, ref_type, ref_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, source, ref_type, ref_id) DO NOTHING
		 RETURNING id`,
		e.UserID, e.Source, e.XPDelta, e.CoinDelta, e.RefType, e.RefID, e.CreatedAt).
		Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return false, fmt.Errorf("%w: no wallet for user %d", model.ErrIntegrityViolation, e.UserID)
	}
	if err != nil {
		return false, fmt.Errorf("insert reward event: %w", err)
	}
	return true, nil
}

func (a *pgAccessor) ListRewardEvents(ctx context.Context, userID int64, limit int) ([]model.RewardEvent, error) {
	rows, err := a.q.Query(ctx,
		`SELECT id, user_id, source, xp_delta, coin_delta, ref_type, ref_id, created_at
		 FROM reward_events WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2`, userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.RewardEvent
	for rows.Next() {
		var e model.RewardEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Source, &e.XPDelta, &e.CoinDelta, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Lessons ---

func (a *pgAccessor) UpsertLesson(ctx context.Context, l *model.Lesson) error {
	if l.ID == 0 {
		return a.q.QueryRow(ctx,
			`INSERT INTO lessons (title, summary, content, difficulty, position)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			l.Title, l.Summary, l.Content, l.Difficulty, l.Position).
			Scan(&l.ID)
	}
	_, err := a.q.Exec(ctx,
		`INSERT INTO lessons (id, title, summary, content, difficulty, position)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, summary = EXCLUDED.summary, content = EXCLUDED.content,
		     difficulty = EXCLUDED.difficulty, position = EXCLUDED.position`,
		l.ID, l.Title, l.Summary, l.Content, l.Difficulty, l.Position)
	if err != nil {
		return fmt.Errorf("upsert lesson %d: %w", l.ID, err)
	}
	// Keep the sequence ahead of explicitly numbered rows.
	_, err = a.q.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('lessons', 'id'), GREATEST((SELECT MAX(id) FROM lessons), 1))`)
	return err
}

const lessonColumns = `id, title, summary, content, difficulty, position`

func scanLesson(row pgx.Row, l *model.Lesson) error {
	return row.Scan(&l.ID, &l.Title, &l.Summary, &l.Content, &l.Difficulty, &l.Position)
}

func (a *pgAccessor) GetLesson(ctx context.Context, id int64) (*model.Lesson, error) {
	var l model.Lesson
	err := scanLesson(a.q.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id), &l)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("lesson %d", id))
	}
	return &l, nil
}

func (a *pgAccessor) ListLessons(ctx context.Context, offset, limit int) ([]model.Lesson, int, error) {
	var total int
	if err := a.q.QueryRow(ctx, `SELECT COUNT(*) FROM lessons`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := a.q.Query(ctx,
		`SELECT `+lessonColumns+` FROM lessons
		 ORDER BY position, id
		 OFFSET $1 LIMIT $2`, offset, limitOrAll(limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	lessons := []model.Lesson{}
	for rows.Next() {
		var l model.Lesson
		if err := scanLesson(rows, &l); err != nil {
			return nil, 0, err
		}
		lessons = append(lessons, l)
	}
	return lessons, total, rows.Err()
}

func (a *pgAccessor) ReplaceLessonQuestions(ctx context.Context, lessonID int64, qs []model.LessonQuestion) error {
	if _, err := a.q.Exec(ctx, `DELETE FROM lesson_questions WHERE lesson_id = $1`, lessonID); err != nil {
		return fmt.Errorf("clear questions for lesson %d: %w", lessonID, err)
	}
	for _, q := range qs {
		_, err := a.q.Exec(ctx,
			`INSERT INTO lesson_questions (lesson_id, key, prompt, options, answer, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			lessonID, q.Key, q.Prompt, q.Options, q.Answer, q.Position)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.Key, err)
		}
	}
	return nil
}

func (a *pgAccessor) ListLessonQuestions(ctx context.Context, lessonID int64) ([]model.LessonQuestion, error) {
	rows, err := a.q.Query(ctx,
		`SELECT lesson_id, key, prompt, options, answer, position
		 FROM lesson_questions WHERE lesson_id = $1
		 ORDER BY position, key`, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	qs := []model.LessonQuestion{}
	for rows.Next() {
		var q model.LessonQuestion
		if err := rows.Scan(&q.LessonID, &q.Key, &q.Prompt, &q.Options, &q.Answer, &q.Position); err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

func (a *pgAccessor) GetLessonProgress(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	var p model.LessonProgress
	var score string
	err := a.q.QueryRow(ctx,
		`SELECT user_id, lesson_id, status, score::TEXT, completed_at
		 FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2`+a.forUpdate(), userID, lessonID).
		Scan(&p.UserID, &p.LessonID, &p.Status, &score, &p.CompletedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("progress for lesson %d", lessonID))
	}
	p.Score, _ = decimal.NewFromString(score)
	return &p, nil
}

func (a *pgAccessor) ListLessonProgress(ctx context.Context, userID int64) ([]model.LessonProgress, error) {
	rows, err := a.q.Query(ctx,
		`SELECT user_id, lesson_id, status, score::TEXT, completed_at
		 FROM lesson_progress WHERE user_id = $1 ORDER BY lesson_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LessonProgress
	for rows.Next() {
		var p model.LessonProgress
		var score string
		if err := rows.Scan(&p.UserID, &p.LessonID, &p.Status, &score, &p.CompletedAt); err != nil {
			return nil, err
		}
		p.Score, _ = decimal.NewFromString(score)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (a *pgAccessor) SaveLessonProgress(ctx context.Context, p *model.LessonProgress) error {
	_, err := a.q.Exec(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, status, score, completed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE
		 SET status = EXCLUDED.status, score = EXCLUDED.score, completed_at = EXCLUDED.completed_at`,
		p.UserID, p.LessonID, p.Status, p.Score.String(), p.CompletedAt)
	if err != nil {
		return fmt.Errorf("save progress for lesson %d: %w", p.LessonID, err)
	}
	return nil
}

// limitOrAll maps a non-positive limit to a value Postgres treats as
// unbounded.
func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return 1<<63 - 1
	}
	return int64(limit)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

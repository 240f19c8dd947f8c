// Package learning serves lessons with a per-user quiz sample, checks
// individual answers and grades submissions with their rewards.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
	"github.com/investipet/engine/internal/hunger"
	"github.com/investipet/engine/internal/ledger"
	"github.com/investipet/engine/internal/metrics"
	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/quiz"
	"github.com/investipet/engine/internal/store"
)

const (
	StatusCompleted = "completed"

	DefaultPageSize = 10
	MaxPageSize     = 50
)

// ErrMissingIdempotencyKey is returned by Submit without a key.
var ErrMissingIdempotencyKey = errors.New("idempotency_key is required")

// Publisher receives events for connected clients.
type Publisher interface {
	Publish(ev model.Event)
}

// Config tunes sampling and the hunger restore paid for good scores.
type Config struct {
	SampleSize      int
	DecayPerDay     int
	RestoreAmount   int
	RestoreMinScore decimal.Decimal
}

// Service implements the lesson operations.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	rewards ledger.Schedule
	cfg     Config
	clock   clock.Clock
	pub     Publisher
	logger  *slog.Logger
}

// NewService creates a learning service. pub may be nil.
func NewService(st store.Store, l *ledger.Ledger, rewards ledger.Schedule, cfg Config, clk clock.Clock, pub Publisher, logger *slog.Logger) *Service {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = quiz.DefaultSampleSize
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, ledger: l, rewards: rewards, cfg: cfg, clock: clk, pub: pub, logger: logger}
}

// LessonView is a lesson as shown to one user. Quiz answers are never
// included.
type LessonView struct {
	ID            int64                  `json:"id"`
	Title         string                 `json:"title"`
	Summary       string                 `json:"summary"`
	Content       string                 `json:"content"`
	Difficulty    string                 `json:"difficulty"`
	RewardXP      int64                  `json:"reward_xp"`
	RewardCoins   int64                  `json:"reward_coins"`
	QuestionCount int                    `json:"question_count"`
	Quiz          []model.LessonQuestion `json:"quiz"`
	Completed     bool                   `json:"completed"`
	Score         *decimal.Decimal       `json:"score"`
}

// Page is one page of lessons.
type Page struct {
	Items      []LessonView `json:"items"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	Total      int          `json:"total"`
	TotalPages int          `json:"total_pages"`
}

// List returns one page of lessons for userID. page is 1-based; out of
// range values are clamped.
func (s *Service) List(ctx context.Context, userID int64, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	lessons, total, err := s.store.ListLessons(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list lessons: %w", err)
	}
	progress, err := s.store.ListLessonProgress(ctx, userID)
	if err != nil {
		return Page{}, fmt.Errorf("list progress: %w", err)
	}
	byLesson := make(map[int64]model.LessonProgress, len(progress))
	for _, p := range progress {
		byLesson[p.LessonID] = p
	}

	items := make([]LessonView, 0, len(lessons))
	for _, l := range lessons {
		sample, err := s.sample(ctx, s.store, userID, l.ID)
		if err != nil {
			return Page{}, err
		}
		var prog *model.LessonProgress
		if p, ok := byLesson[l.ID]; ok {
			prog = &p
		}
		items = append(items, s.view(l, sample, prog))
	}

	return Page{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// Get returns one lesson for userID.
func (s *Service) Get(ctx context.Context, userID, lessonID int64) (LessonView, error) {
	l, err := s.store.GetLesson(ctx, lessonID)
	if err != nil {
		return LessonView{}, err
	}
	sample, err := s.sample(ctx, s.store, userID, lessonID)
	if err != nil {
		return LessonView{}, err
	}
	prog, err := s.store.GetLessonProgress(ctx, userID, lessonID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return LessonView{}, err
	}
	return s.view(*l, sample, prog), nil
}

// AnswerCheck is the result of checking a single answer.
type AnswerCheck struct {
	QuestionID    string `json:"question_id"`
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correct_answer"`
}

// CheckAnswer grades one answer against the user's sampled quiz. Questions
// outside the sample are reported as not found.
func (s *Service) CheckAnswer(ctx context.Context, userID, lessonID int64, questionID, answer string) (AnswerCheck, error) {
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return AnswerCheck{}, err
	}
	sample, err := s.sample(ctx, s.store, userID, lessonID)
	if err != nil {
		return AnswerCheck{}, err
	}
	q, ok := quiz.Find(sample, questionID)
	if !ok {
		return AnswerCheck{}, fmt.Errorf("%w: question %s", model.ErrNotFound, questionID)
	}
	return AnswerCheck{
		QuestionID:    q.Key,
		Correct:       answer == q.Answer,
		CorrectAnswer: q.Answer,
	}, nil
}

// SubmitResult is the outcome of a lesson submission.
type SubmitResult struct {
	Completed     bool            `json:"completed"`
	Score         decimal.Decimal `json:"score"`
	Correct       int             `json:"correct"`
	Total         int             `json:"total"`
	Replayed      bool            `json:"replayed"`
	Reward        ledger.Result   `json:"reward"`
	PerfectReward *ledger.Result  `json:"perfect_reward,omitempty"`
	Hunger        int             `json:"hunger"`
}

// Submit grades answers against the user's sampled quiz and, in one unit
// of work, records progress, pays the completion reward, pays the perfect
// bonus for a 100 score and feeds the pet for a passing score. A repeated
// idempotency key grades again but changes nothing.
func (s *Service) Submit(ctx context.Context, userID, lessonID int64, answers map[string]string, idempotencyKey string) (SubmitResult, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return SubmitResult{}, ErrMissingIdempotencyKey
	}
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return SubmitResult{}, err
	}

	refID := fmt.Sprintf("%d:%s", lessonID, idempotencyKey)
	completion := s.rewards.For(model.SourceLessonCompletion, userID, "lesson", refID)
	perfect := s.rewards.For(model.SourceQuizPerfect, userID, "lesson_perfect", refID)

	var res SubmitResult
	err := s.store.WithTx(ctx, func(tx store.Accessor) error {
		sample, err := s.sample(ctx, tx, userID, lessonID)
		if err != nil {
			return err
		}
		score := quiz.Grade(sample, answers)
		res = SubmitResult{Completed: true, Score: score.Percent, Correct: score.Correct, Total: score.Total}

		res.Reward, err = s.ledger.Apply(ctx, tx, completion)
		if err != nil {
			return err
		}
		if !res.Reward.Granted {
			res.Replayed = true
			pet, err := tx.GetPet(ctx, userID)
			if err != nil {
				return err
			}
			res.Hunger = pet.Hunger
			return nil
		}

		now := s.clock.Now()
		if err := tx.SaveLessonProgress(ctx, &model.LessonProgress{
			UserID:      userID,
			LessonID:    lessonID,
			Status:      StatusCompleted,
			Score:       score.Percent,
			CompletedAt: &now,
		}); err != nil {
			return err
		}

		if score.Perfect() {
			r, err := s.ledger.Apply(ctx, tx, perfect)
			if err != nil {
				return err
			}
			res.PerfectReward = &r
		}

		pet, err := tx.GetPet(ctx, userID)
		if err != nil {
			return err
		}
		if score.Percent.GreaterThanOrEqual(s.cfg.RestoreMinScore) {
			decayed, _ := hunger.Decay(*pet, now, s.cfg.DecayPerDay)
			fed := hunger.Restore(decayed, s.cfg.RestoreAmount)
			if err := tx.UpdatePet(ctx, &fed); err != nil {
				return err
			}
			pet = &fed
		}
		res.Hunger = pet.Hunger
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	s.ledger.Observe(completion, res.Reward)
	if res.PerfectReward != nil {
		s.ledger.Observe(perfect, *res.PerfectReward)
	}
	if res.Replayed {
		return res, nil
	}

	metrics.LessonsCompleted.Inc()
	s.logger.Info("lesson submitted",
		"user", userID,
		"lesson", lessonID,
		"score", res.Score.String(),
		"perfect", res.PerfectReward != nil,
	)
	if s.pub != nil {
		s.pub.Publish(model.Event{Type: "lesson_completed", UserID: userID, Source: model.SourceLessonCompletion})
		last := res.Reward
		if res.PerfectReward != nil {
			last = *res.PerfectReward
		}
		if last.LevelAfter > res.Reward.LevelBefore {
			s.pub.Publish(model.Event{Type: "level_up", UserID: userID, Source: model.SourceLessonCompletion, Level: last.LevelAfter, Stage: last.Stage})
		}
	}
	return res, nil
}

func (s *Service) sample(ctx context.Context, acc store.Accessor, userID, lessonID int64) ([]model.LessonQuestion, error) {
	pool, err := acc.ListLessonQuestions(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list questions for lesson %d: %w", lessonID, err)
	}
	return quiz.Select(userID, lessonID, pool, s.cfg.SampleSize), nil
}

func (s *Service) view(l model.Lesson, sample []model.LessonQuestion, prog *model.LessonProgress) LessonView {
	reward := s.rewards[model.SourceLessonCompletion]
	v := LessonView{
		ID:            l.ID,
		Title:         l.Title,
		Summary:       l.Summary,
		Content:       l.Content,
		Difficulty:    l.Difficulty,
		RewardXP:      reward.XP,
		RewardCoins:   reward.Coins,
		QuestionCount: len(sample),
		Quiz:          sample,
	}
	if prog != nil {
		v.Completed = prog.Status == StatusCompleted
		score := prog.Score
		v.Score = &score
	}
	return v
}

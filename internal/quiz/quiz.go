// Package quiz selects a stable per-user subset of a lesson's question pool
// and grades submissions against it.
package quiz

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/seed"
)

// DefaultSampleSize is the number of questions shown per lesson.
const DefaultSampleSize = 5

// Select returns the questions user should see for lesson. Pools no larger
// than n are returned whole in their original order. Larger pools are
// sampled without replacement by a generator seeded from "{user}:{lesson}",
// so the same user always sees the same questions in the same order.
func Select(userID, lessonID int64, pool []model.LessonQuestion, n int) []model.LessonQuestion {
	if n <= 0 || len(pool) <= n {
		out := make([]model.LessonQuestion, len(pool))
		copy(out, pool)
		return out
	}

	r := seed.Rand(fmt.Sprintf("%d:%d", userID, lessonID))
	perm := r.Perm(len(pool))

	out := make([]model.LessonQuestion, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

// Find returns the question with key from sample.
func Find(sample []model.LessonQuestion, key string) (model.LessonQuestion, bool) {
	for _, q := range sample {
		if q.Key == key {
			return q, true
		}
	}
	return model.LessonQuestion{}, false
}

// Score is the graded result of a submission.
type Score struct {
	Correct int             `json:"correct"`
	Total   int             `json:"total"`
	Percent decimal.Decimal `json:"score"`
}

// Perfect reports whether every question was answered correctly.
func (s Score) Perfect() bool {
	return s.Total > 0 && s.Correct == s.Total
}

// Grade compares answers (question key -> chosen option) with sample.
// Missing answers count as wrong; answers for keys outside the sample are
// ignored.
func Grade(sample []model.LessonQuestion, answers map[string]string) Score {
	correct := 0
	for _, q := range sample {
		if a, ok := answers[q.Key]; ok && a == q.Answer {
			correct++
		}
	}
	total := len(sample)
	denom := total
	if denom < 1 {
		denom = 1
	}
	pct := decimal.NewFromInt(int64(correct)).
		Div(decimal.NewFromInt(int64(denom))).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return Score{Correct: correct, Total: total, Percent: pct}
}

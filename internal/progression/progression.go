// Package progression maps lifetime XP onto pet level, in-level XP and
// evolution stage. It is pure: the result depends only on the XP total.
package progression

import "github.com/investipet/engine/internal/model"

// MaxLevel is the highest reachable level.
const MaxLevel = 8

// thresholds holds the cumulative XP required to reach each level; index i
// is the floor of level i+1. The curve is non-decreasing.
var thresholds = [MaxLevel]int64{0, 100, 250, 450, 700, 1000, 1400, 1850}

// Thresholds returns a copy of the level curve.
func Thresholds() []int64 {
	out := make([]int64, MaxLevel)
	copy(out, thresholds[:])
	return out
}

// stage milestones: the stage of a level is the one attached to the highest
// milestone not above it.
var milestones = []struct {
	level int
	stage string
}{
	{1, model.StageEgg},
	{3, model.StageBaby},
	{5, model.StageTeen},
	{7, model.StageAdult},
}

// Result is the derived pet progression state.
type Result struct {
	Level     int    `json:"level"`
	XPCurrent int64  `json:"xp_current"`
	Stage     string `json:"stage"`
}

// Compute derives level, in-level XP and stage from totalXP. Negative
// totals are treated as zero.
func Compute(totalXP int64) Result {
	if totalXP < 0 {
		totalXP = 0
	}
	level := 1
	for i, t := range thresholds {
		if totalXP >= t {
			level = i + 1
		}
	}
	return Result{
		Level:     level,
		XPCurrent: totalXP - thresholds[level-1],
		Stage:     StageForLevel(level),
	}
}

// StageForLevel returns the evolution stage for a level.
func StageForLevel(level int) string {
	stage := model.StageEgg
	for _, m := range milestones {
		if level >= m.level {
			stage = m.stage
		}
	}
	return stage
}

// NextThreshold returns the total XP needed for the level after level, and
// false when level is already the maximum.
func NextThreshold(level int) (int64, bool) {
	if level < 1 {
		return thresholds[0], true
	}
	if level >= MaxLevel {
		return 0, false
	}
	return thresholds[level], true
}

// Package reward implements the gamification arithmetic: habit scoring
// with exponential decay, stat aggregation with level-ups, and daily
// streak bookkeeping. Everything here is pure; persistence belongs to the
// habit service.
package reward

import (
	"math"

	"github.com/paraplan/paraplan/internal/store"
)

const (
	// ValStep is how much one scoring event shifts a habit's pressure.
	ValStep = 0.1
	// HPMax is the health ceiling; level-ups restore to it.
	HPMax = 50
	// decayK halves rewards for each +1.0 of accumulated pressure.
	decayK = math.Ln2
)

var xpBase = map[store.Difficulty]float64{
	store.DifficultyTrivial: 3,
	store.DifficultyEasy:    10,
	store.DifficultyMedium:  15,
	store.DifficultyHard:    25,
}

var goldBase = map[store.Difficulty]float64{
	store.DifficultyTrivial: 1,
	store.DifficultyEasy:    3,
	store.DifficultyMedium:  5,
	store.DifficultyHard:    8,
}

var hpBase = map[store.Difficulty]int{
	store.DifficultyTrivial: 1,
	store.DifficultyEasy:    5,
	store.DifficultyMedium:  8,
	store.DifficultyHard:    12,
}

// decay scales a base reward down as positive pressure accumulates.
// Negative pressure does not inflate rewards.
func decay(base, val float64) int {
	return int(math.Floor(base * math.Exp(-decayK*math.Max(0, val))))
}

// Up scores a habit in the positive direction and returns the earned xp,
// gold, and the habit's new pressure value.
func Up(difficulty store.Difficulty, val float64) (xp, gold int, newVal float64) {
	return decay(xpBase[difficulty], val), decay(goldBase[difficulty], val), val + ValStep
}

// Down scores a habit in the negative direction and returns the hp loss
// (always negative) and the new pressure value.
func Down(difficulty store.Difficulty, val float64) (hpDelta int, newVal float64) {
	return -hpBase[difficulty], val - ValStep
}

// HPLoss returns the damage a difficulty inflicts, for missed dailies.
func HPLoss(difficulty store.Difficulty) int {
	return hpBase[difficulty]
}

// LevelXP is the xp needed to clear a level.
func LevelXP(level int) int {
	return 100 + (level-1)*50
}

// Delta is one batch of stat changes to apply.
type Delta struct {
	XP      int
	Gold    int
	HPDelta int
	KP      int
}

// Apply folds a delta into stats, consuming xp into level-ups. HP is
// restored to HPMax only on level-up; otherwise the caller decides when to
// clamp, so a death check can observe hp <= 0 first.
func Apply(stats store.UserStats, d Delta) store.UserStats {
	stats.XP += d.XP
	stats.Gold += d.Gold
	stats.HP += d.HPDelta
	stats.KP += d.KP

	for stats.XP >= LevelXP(stats.Level) {
		stats.XP -= LevelXP(stats.Level)
		stats.Level++
		stats.HP = HPMax
	}
	if stats.HP > HPMax {
		stats.HP = HPMax
	}
	return stats
}

// Subtract reverses a previously applied delta without de-leveling: xp and
// gold are clamped at zero, the level is left alone.
func Subtract(stats store.UserStats, d Delta) store.UserStats {
	stats.XP -= d.XP
	if stats.XP < 0 {
		stats.XP = 0
	}
	stats.Gold -= d.Gold
	if stats.Gold < 0 {
		stats.Gold = 0
	}
	stats.HP -= d.HPDelta
	if stats.HP > HPMax {
		stats.HP = HPMax
	}
	stats.KP -= d.KP
	return stats
}

// NextStreak computes a daily's streak after today's completion.
func NextStreak(previousDayDone bool, current int) int {
	if previousDayDone {
		return current + 1
	}
	return 1
}

// UndoStreak reverses one completion, never going below zero.
func UndoStreak(current int) int {
	if current <= 0 {
		return 0
	}
	return current - 1
}

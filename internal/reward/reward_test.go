package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraplan/paraplan/internal/store"
)

func TestUpBaseRewards(t *testing.T) {
	tests := []struct {
		difficulty store.Difficulty
		wantXP     int
		wantGold   int
	}{
		{store.DifficultyTrivial, 3, 1},
		{store.DifficultyEasy, 10, 3},
		{store.DifficultyMedium, 15, 5},
		{store.DifficultyHard, 25, 8},
	}

	for _, tt := range tests {
		t.Run(string(tt.difficulty), func(t *testing.T) {
			xp, gold, newVal := Up(tt.difficulty, 0)
			assert.Equal(t, tt.wantXP, xp)
			assert.Equal(t, tt.wantGold, gold)
			assert.InDelta(t, ValStep, newVal, 1e-9)
		})
	}
}

func TestUpDecayHalvesPerUnit(t *testing.T) {
	// k = ln 2, so val = 1.0 halves the base before flooring.
	xp, gold, _ := Up(store.DifficultyHard, 1.0)
	assert.Equal(t, 12, xp)
	assert.Equal(t, 4, gold)

	xp, _, _ = Up(store.DifficultyEasy, 2.0)
	assert.Equal(t, 2, xp)
}

func TestUpNegativeValDoesNotInflate(t *testing.T) {
	xp, gold, newVal := Up(store.DifficultyMedium, -3.5)
	assert.Equal(t, 15, xp)
	assert.Equal(t, 5, gold)
	assert.InDelta(t, -3.4, newVal, 1e-9)
}

func TestUpMonotoneDecay(t *testing.T) {
	// Repeated scoring must never increase the reward.
	for _, d := range []store.Difficulty{
		store.DifficultyTrivial, store.DifficultyEasy,
		store.DifficultyMedium, store.DifficultyHard,
	} {
		val := 0.0
		prevXP, prevGold := 1<<30, 1<<30
		for i := 0; i < 100; i++ {
			xp, gold, newVal := Up(d, val)
			require.LessOrEqual(t, xp, prevXP, "xp grew at step %d for %s", i, d)
			require.LessOrEqual(t, gold, prevGold, "gold grew at step %d for %s", i, d)
			prevXP, prevGold, val = xp, gold, newVal
		}
	}
}

func TestDown(t *testing.T) {
	hpDelta, newVal := Down(store.DifficultyHard, 0.5)
	assert.Equal(t, -12, hpDelta)
	assert.InDelta(t, 0.4, newVal, 1e-9)

	hpDelta, _ = Down(store.DifficultyTrivial, 0)
	assert.Equal(t, -1, hpDelta)
}

func TestLevelXP(t *testing.T) {
	assert.Equal(t, 100, LevelXP(1))
	assert.Equal(t, 150, LevelXP(2))
	assert.Equal(t, 200, LevelXP(3))
}

func TestApplyLevelUp(t *testing.T) {
	stats := store.UserStats{Owner: 1, Level: 1, XP: 90, HP: 20}

	next := Apply(stats, Delta{XP: 60})

	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 50, next.XP)
	assert.Equal(t, HPMax, next.HP, "level-up restores hp")
}

func TestApplyMultiLevelUp(t *testing.T) {
	// 100 + 150 = 250 xp clears two levels from scratch.
	stats := store.UserStats{Owner: 1, Level: 1, XP: 0, HP: 5}

	next := Apply(stats, Delta{XP: 260})

	assert.Equal(t, 3, next.Level)
	assert.Equal(t, 10, next.XP)
	assert.Equal(t, HPMax, next.HP)
	assert.Less(t, next.XP, LevelXP(next.Level))
}

func TestApplyNoLevelUpKeepsHP(t *testing.T) {
	stats := store.UserStats{Owner: 1, Level: 2, XP: 10, HP: 30}

	next := Apply(stats, Delta{XP: 20, HPDelta: -8})

	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 30, next.XP)
	assert.Equal(t, 22, next.HP)
}

func TestApplyHPCannotExceedMax(t *testing.T) {
	stats := store.UserStats{Owner: 1, Level: 1, XP: 0, HP: 49}

	next := Apply(stats, Delta{HPDelta: 10})

	assert.Equal(t, HPMax, next.HP)
}

func TestApplyHPMayGoNegative(t *testing.T) {
	// Clamping is the caller's job so a death check can see the crossing.
	stats := store.UserStats{Owner: 1, Level: 1, XP: 0, HP: 3}

	next := Apply(stats, Delta{HPDelta: -12})

	assert.Equal(t, -9, next.HP)
}

func TestSubtractClampsAtZero(t *testing.T) {
	stats := store.UserStats{Owner: 1, Level: 3, XP: 5, Gold: 2}

	next := Subtract(stats, Delta{XP: 50, Gold: 10})

	assert.Equal(t, 0, next.XP)
	assert.Equal(t, 0, next.Gold)
	assert.Equal(t, 3, next.Level, "undo never de-levels")
}

func TestStreaks(t *testing.T) {
	assert.Equal(t, 6, NextStreak(true, 5))
	assert.Equal(t, 1, NextStreak(false, 5))
	assert.Equal(t, 4, UndoStreak(5))
	assert.Equal(t, 0, UndoStreak(0))
}

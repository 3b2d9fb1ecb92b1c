// Package habit implements the gamification service layer: habit scoring,
// daily completion with idempotent logs, and the per-owner daily cron run.
package habit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/paraplan/paraplan/internal/reward"
	"github.com/paraplan/paraplan/internal/store"
)

const dateLayout = "2006-01-02"

// rruleEpoch anchors recurrence expansion well before any real data.
var rruleEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Service runs habit and daily operations inside the caller's transaction.
type Service struct {
	logger zerolog.Logger
}

func NewService(logger zerolog.Logger) *Service {
	return &Service{logger: logger.With().Str("component", "habit").Logger()}
}

// ScoreResult reports what one scoring event earned or cost.
type ScoreResult struct {
	XP      int
	Gold    int
	HPDelta int
	NewVal  float64
	Stats   store.UserStats
}

// ScoreUp scores a habit positively: decayed xp and gold, pressure up.
func (s *Service) ScoreUp(ctx context.Context, tx *sqlx.Tx, owner, habitID int64, now time.Time) (*ScoreResult, error) {
	h, err := s.scorableHabit(ctx, tx, owner, habitID, now)
	if err != nil {
		return nil, err
	}
	if !h.UpEnabled || h.Type == store.HabitNegative {
		return nil, store.Validationf("ScoreUp", "habits", "habit %d cannot be scored up", habitID)
	}

	xp, gold, newVal := reward.Up(h.Difficulty, h.Val)
	if err := store.UpdateHabitScore(ctx, tx, h.ID, newVal, now); err != nil {
		return nil, err
	}

	stats, err := s.applyDelta(ctx, tx, owner, reward.Delta{XP: xp, Gold: gold})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int64("habit", habitID).Int("xp", xp).Int("gold", gold).Float64("val", newVal).Msg("habit scored up")
	return &ScoreResult{XP: xp, Gold: gold, NewVal: newVal, Stats: *stats}, nil
}

// ScoreDown scores a habit negatively: hp loss, pressure down.
func (s *Service) ScoreDown(ctx context.Context, tx *sqlx.Tx, owner, habitID int64, now time.Time) (*ScoreResult, error) {
	h, err := s.scorableHabit(ctx, tx, owner, habitID, now)
	if err != nil {
		return nil, err
	}
	if !h.DownEnabled || h.Type == store.HabitPositive {
		return nil, store.Validationf("ScoreDown", "habits", "habit %d cannot be scored down", habitID)
	}

	hpDelta, newVal := reward.Down(h.Difficulty, h.Val)
	if err := store.UpdateHabitScore(ctx, tx, h.ID, newVal, now); err != nil {
		return nil, err
	}

	stats, err := s.applyDelta(ctx, tx, owner, reward.Delta{HPDelta: hpDelta})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int64("habit", habitID).Int("hp", hpDelta).Float64("val", newVal).Msg("habit scored down")
	return &ScoreResult{HPDelta: hpDelta, NewVal: newVal, Stats: *stats}, nil
}

func (s *Service) scorableHabit(ctx context.Context, tx *sqlx.Tx, owner, habitID int64, now time.Time) (*store.Habit, error) {
	h, err := store.GetHabit(ctx, tx, owner, habitID)
	if err != nil {
		return nil, err
	}
	if h.ArchivedAt != nil {
		return nil, store.Validationf("Score", "habits", "habit %d is archived", habitID)
	}
	if h.CooldownSec > 0 && h.LastScoredAt != nil {
		elapsed := now.Sub(*h.LastScoredAt)
		if elapsed < time.Duration(h.CooldownSec)*time.Second {
			return nil, &store.Error{
				Op:    "Score",
				Table: "habits",
				Kind:  store.KindConflict,
				Err:   store.ErrDuplicateKey,
			}
		}
	}
	return h, nil
}

func (s *Service) applyDelta(ctx context.Context, tx *sqlx.Tx, owner int64, d reward.Delta) (*store.UserStats, error) {
	stats, err := store.GetOrCreateUserStats(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	next := reward.Apply(*stats, d)
	if next.HP < 0 {
		next.HP = 0
	}
	if err := store.UpdateUserStats(ctx, tx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// DailyDone marks a daily complete for a calendar date. A second call for
// the same (daily, date) is a no-op: the log row's primary key absorbs it
// and no reward is applied twice.
func (s *Service) DailyDone(ctx context.Context, tx *sqlx.Tx, owner, dailyID int64, date time.Time) (*ScoreResult, error) {
	d, err := store.GetDaily(ctx, tx, owner, dailyID)
	if err != nil {
		return nil, err
	}
	if d.ArchivedAt != nil {
		return nil, store.Validationf("DailyDone", "dailies", "daily %d is archived", dailyID)
	}

	day := date.UTC().Format(dateLayout)
	xp, gold, _ := reward.Up(d.Difficulty, 0)

	inserted, err := store.InsertDailyLog(ctx, tx, &store.DailyLog{
		DailyID:    d.ID,
		Date:       day,
		Done:       true,
		RewardXP:   xp,
		RewardGold: gold,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.logger.Debug().Int64("daily", dailyID).Str("date", day).Msg("daily already done")
		return nil, nil
	}

	prevDone := false
	prev := date.UTC().AddDate(0, 0, -1).Format(dateLayout)
	if log, err := store.GetDailyLog(ctx, tx, d.ID, prev); err == nil {
		prevDone = log.Done
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	if err := store.UpdateDailyStreak(ctx, tx, d.ID, reward.NextStreak(prevDone, d.Streak)); err != nil {
		return nil, err
	}

	stats, err := s.applyDelta(ctx, tx, owner, reward.Delta{XP: xp, Gold: gold})
	if err != nil {
		return nil, err
	}
	return &ScoreResult{XP: xp, Gold: gold, Stats: *stats}, nil
}

// DailyUndo reverses a completion: removes the log, subtracts the logged
// rewards without de-leveling, and steps the streak back.
func (s *Service) DailyUndo(ctx context.Context, tx *sqlx.Tx, owner, dailyID int64, date time.Time) error {
	d, err := store.GetDaily(ctx, tx, owner, dailyID)
	if err != nil {
		return err
	}

	day := date.UTC().Format(dateLayout)
	log, err := store.GetDailyLog(ctx, tx, d.ID, day)
	if err != nil {
		return err
	}

	removed, err := store.DeleteDailyLog(ctx, tx, d.ID, day)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	if err := store.UpdateDailyStreak(ctx, tx, d.ID, reward.UndoStreak(d.Streak)); err != nil {
		return err
	}

	stats, err := store.GetOrCreateUserStats(ctx, tx, owner)
	if err != nil {
		return err
	}
	next := reward.Subtract(*stats, reward.Delta{XP: log.RewardXP, Gold: log.RewardGold})
	return store.UpdateUserStats(ctx, tx, &next)
}

// DueOn reports whether a daily's recurrence rule has an occurrence on the
// given calendar day.
func DueOn(rruleStr string, day time.Time) (bool, error) {
	r, err := rrule.StrToRRule(rruleStr)
	if err != nil {
		return false, store.Validationf("DueOn", "dailies", "bad rrule %q: %v", rruleStr, err)
	}
	r.DTStart(rruleEpoch)

	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24*time.Hour - time.Second)
	return len(r.Between(dayStart, dayEnd, true)) > 0, nil
}

// RunDailyCron is the owner's daily housekeeping step, invoked by the
// dispatcher when the daily-cron trigger fires. Dailies that were due
// yesterday and not completed lose hp and their streak; frozen dailies are
// spared the hp loss. The run itself is deduplicated by the trigger's
// dedupe key, so stats are never advanced twice for one day.
func (s *Service) RunDailyCron(ctx context.Context, tx *sqlx.Tx, owner int64, now time.Time) error {
	dailies, err := store.ListDailies(ctx, tx, owner)
	if err != nil {
		return err
	}

	yesterday := now.UTC().AddDate(0, 0, -1)
	yesterdayKey := yesterday.Format(dateLayout)
	totalHP := 0

	for i := range dailies {
		d := &dailies[i]

		due, err := DueOn(d.RRule, yesterday)
		if err != nil {
			s.logger.Warn().Err(err).Int64("daily", d.ID).Msg("skipping daily with bad rrule")
			continue
		}
		if !due {
			continue
		}

		if _, err := store.GetDailyLog(ctx, tx, d.ID, yesterdayKey); err == nil {
			continue // completed
		} else if !store.IsNotFound(err) {
			return err
		}

		if err := store.UpdateDailyStreak(ctx, tx, d.ID, 0); err != nil {
			return err
		}
		if !d.Frozen {
			totalHP += reward.HPLoss(d.Difficulty)
		}
	}

	stats, err := store.GetOrCreateUserStats(ctx, tx, owner)
	if err != nil {
		return err
	}
	next := *stats
	if totalHP > 0 {
		next = reward.Apply(next, reward.Delta{HPDelta: -totalHP})
		if next.HP < 0 {
			next.HP = 0
		}
	}
	next.LastCron = &now
	if err := store.UpdateUserStats(ctx, tx, &next); err != nil {
		return err
	}

	s.logger.Info().Int64("owner", owner).Int("hp_loss", totalHP).Msg("daily cron complete")
	return nil
}

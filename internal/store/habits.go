package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
)

var habitColumns = []string{
	"id", "owner_id", "area_id", "project_id", "title", "type", "difficulty",
	"up_enabled", "down_enabled", "val", "cooldown_sec", "last_scored_at",
	"archived_at",
}

var dailyColumns = []string{
	"id", "owner_id", "area_id", "title", "rrule", "difficulty", "streak",
	"frozen", "archived_at",
}

// GetHabit loads a habit by id, scoped to its owner.
func GetHabit(ctx context.Context, q Querier, owner, id int64) (*Habit, error) {
	query, args, err := psql.Select(habitColumns...).
		From("habits").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var h Habit
	if err := q.GetContext(ctx, &h, query, args...); err != nil {
		return nil, Classify(err, "GetHabit", "habits")
	}
	return &h, nil
}

// InsertHabit persists a new habit.
func InsertHabit(ctx context.Context, q Querier, h *Habit) (*Habit, error) {
	query, args, err := psql.Insert("habits").
		Columns("owner_id", "area_id", "project_id", "title", "type", "difficulty",
			"up_enabled", "down_enabled", "val", "cooldown_sec").
		Values(h.Owner, h.AreaID, h.ProjectID, h.Title, h.Type, h.Difficulty,
			h.UpEnabled, h.DownEnabled, h.Val, h.CooldownSec).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&h.ID); err != nil {
		return nil, Classify(err, "InsertHabit", "habits")
	}
	return h, nil
}

// UpdateHabitScore persists the new pressure value and scoring time after
// a habit is scored.
func UpdateHabitScore(ctx context.Context, q Querier, id int64, val float64, scoredAt time.Time) error {
	query, args, err := psql.Update("habits").
		Set("val", val).
		Set("last_scored_at", scoredAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "UpdateHabitScore", "habits")
	}
	return nil
}

// InsertDaily persists a new daily.
func InsertDaily(ctx context.Context, q Querier, d *Daily) (*Daily, error) {
	query, args, err := psql.Insert("dailies").
		Columns("owner_id", "area_id", "title", "rrule", "difficulty").
		Values(d.Owner, d.AreaID, d.Title, d.RRule, d.Difficulty).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowxContext(ctx, query, args...).Scan(&d.ID); err != nil {
		return nil, Classify(err, "InsertDaily", "dailies")
	}
	return d, nil
}

// GetDaily loads a daily by id, scoped to its owner.
func GetDaily(ctx context.Context, q Querier, owner, id int64) (*Daily, error) {
	query, args, err := psql.Select(dailyColumns...).
		From("dailies").
		Where(squirrel.Eq{"id": id, "owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var d Daily
	if err := q.GetContext(ctx, &d, query, args...); err != nil {
		return nil, Classify(err, "GetDaily", "dailies")
	}
	return &d, nil
}

// ListDailies returns the owner's non-archived dailies.
func ListDailies(ctx context.Context, q Querier, owner int64) ([]Daily, error) {
	query, args, err := psql.Select(dailyColumns...).
		From("dailies").
		Where(squirrel.Eq{"owner_id": owner, "archived_at": nil}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var dailies []Daily
	if err := q.SelectContext(ctx, &dailies, query, args...); err != nil {
		return nil, Classify(err, "ListDailies", "dailies")
	}
	return dailies, nil
}

// UpdateDailyStreak stores a recomputed streak.
func UpdateDailyStreak(ctx context.Context, q Querier, id int64, streak int) error {
	query, args, err := psql.Update("dailies").
		Set("streak", streak).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return Classify(err, "UpdateDailyStreak", "dailies")
	}
	return nil
}

// InsertDailyLog records a completion. Returns false without error when a
// log for (daily, date) already exists, making completion idempotent.
func InsertDailyLog(ctx context.Context, q Querier, l *DailyLog) (bool, error) {
	query, args, err := psql.Insert("daily_logs").
		Columns("daily_id", "date", "done", "reward_xp", "reward_gold").
		Values(l.DailyID, l.Date, l.Done, l.RewardXP, l.RewardGold).
		Suffix("ON CONFLICT (daily_id, date) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, Classify(err, "InsertDailyLog", "daily_logs")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetDailyLog loads one day's log for a daily.
func GetDailyLog(ctx context.Context, q Querier, dailyID int64, date string) (*DailyLog, error) {
	query, args, err := psql.Select("daily_id", "date", "done", "reward_xp", "reward_gold").
		From("daily_logs").
		Where(squirrel.Eq{"daily_id": dailyID, "date": date}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var l DailyLog
	if err := q.GetContext(ctx, &l, query, args...); err != nil {
		return nil, Classify(err, "GetDailyLog", "daily_logs")
	}
	return &l, nil
}

// DeleteDailyLog removes one day's log, for undo.
func DeleteDailyLog(ctx context.Context, q Querier, dailyID int64, date string) (bool, error) {
	query, args, err := psql.Delete("daily_logs").
		Where(squirrel.Eq{"daily_id": dailyID, "date": date}).
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, Classify(err, "DeleteDailyLog", "daily_logs")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetOrCreateUserStats loads an owner's stats, creating the row lazily on
// first use.
func GetOrCreateUserStats(ctx context.Context, q Querier, owner int64) (*UserStats, error) {
	query, args, err := psql.Insert("user_stats").
		Columns("owner_id").
		Values(owner).
		Suffix("ON CONFLICT (owner_id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return nil, Classify(err, "GetOrCreateUserStats", "user_stats")
	}

	query, args, err = psql.Select("owner_id", "level", "xp", "gold", "hp", "kp", "last_cron").
		From("user_stats").
		Where(squirrel.Eq{"owner_id": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var s UserStats
	if err := q.GetContext(ctx, &s, query, args...); err != nil {
		return nil, Classify(err, "GetOrCreateUserStats", "user_stats")
	}
	return &s, nil
}

// UpdateUserStats rewrites the owner's stat row.
func UpdateUserStats(ctx context.Context, q Querier, s *UserStats) error {
	query, args, err := psql.Update("user_stats").
		Set("level", s.Level).
		Set("xp", s.XP).
		Set("gold", s.Gold).
		Set("hp", s.HP).
		Set("kp", s.KP).
		Set("last_cron", s.LastCron).
		Where(squirrel.Eq{"owner_id": s.Owner}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Classify(err, "UpdateUserStats", "user_stats")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "UpdateUserStats", Table: "user_stats", Kind: KindNotFound, Err: ErrNotFound}
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/habit"
	"github.com/paraplan/paraplan/internal/planner"
	"github.com/paraplan/paraplan/internal/store"
)

var (
	habitOwner int64
	habitID    int64
	dailyID    int64
	dailyDate  string
)

var (
	habitTitle      string
	habitAreaID     int64
	habitType       string
	habitDifficulty string
	habitCooldown   int
	dailyTitle      string
	dailyRRule      string
)

var habitCmd = &cobra.Command{
	Use:   "habit",
	Short: "Create and score habits",
}

var habitAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a habit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			h := &store.Habit{
				Owner:       habitOwner,
				AreaID:      habitAreaID,
				Title:       habitTitle,
				Type:        store.HabitType(habitType),
				Difficulty:  store.Difficulty(habitDifficulty),
				UpEnabled:   habitType != string(store.HabitNegative),
				DownEnabled: habitType != string(store.HabitPositive),
				CooldownSec: habitCooldown,
			}
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				_, err := store.InsertHabit(ctx, tx, h)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created habit %d\n", h.ID)
			return nil
		})
	},
}

var habitUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Score a habit positively",
	RunE:  func(cmd *cobra.Command, args []string) error { return scoreHabit(cmd.Context(), true) },
}

var habitDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Score a habit negatively",
	RunE:  func(cmd *cobra.Command, args []string) error { return scoreHabit(cmd.Context(), false) },
}

func scoreHabit(ctx context.Context, up bool) error {
	return withStore(ctx, func(ctx context.Context, st *store.Store) error {
		svc := habit.NewService(newLogger())
		var res *habit.ScoreResult
		err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
			var err error
			if up {
				res, err = svc.ScoreUp(ctx, tx, habitOwner, habitID, time.Now())
			} else {
				res, err = svc.ScoreDown(ctx, tx, habitOwner, habitID, time.Now())
			}
			return err
		})
		if err != nil {
			if store.IsConflict(err) {
				return fmt.Errorf("habit is cooling down")
			}
			return err
		}
		fmt.Printf("xp %+d, gold %+d, hp %+d (level %d)\n", res.XP, res.Gold, res.HPDelta, res.Stats.Level)
		return nil
	})
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Create, complete, and schedule dailies",
}

var dailyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a daily with a recurrence rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Reject a bad rrule now instead of at cron time.
		if _, err := habit.DueOn(dailyRRule, time.Now()); err != nil {
			return &ExitError{Code: ExitBadConfig, Err: err}
		}
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			d := &store.Daily{
				Owner:      habitOwner,
				AreaID:     habitAreaID,
				Title:      dailyTitle,
				RRule:      dailyRRule,
				Difficulty: store.Difficulty(habitDifficulty),
			}
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				_, err := store.InsertDaily(ctx, tx, d)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created daily %d\n", d.ID)
			return nil
		})
	},
}

var dailyDoneCmd = &cobra.Command{
	Use:   "done",
	Short: "Mark a daily complete for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDailyDate()
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := habit.NewService(newLogger())
			var res *habit.ScoreResult
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				res, err = svc.DailyDone(ctx, tx, habitOwner, dailyID, date)
				return err
			})
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Println("Already done")
				return nil
			}
			fmt.Printf("xp %+d, gold %+d\n", res.XP, res.Gold)
			return nil
		})
	},
}

var dailyUndoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Reverse a daily completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDailyDate()
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := habit.NewService(newLogger())
			return st.WithTx(ctx, func(tx *sqlx.Tx) error {
				return svc.DailyUndo(ctx, tx, habitOwner, dailyID, date)
			})
		})
	},
}

// dailyScheduleCmd seeds the owner's housekeeping trigger; from then on the
// dispatcher re-plans it after every run.
var dailyScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Plan the owner's daily housekeeping run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			pl := planner.New(newLogger())
			day := time.Now().UTC().Add(24 * time.Hour)
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				return pl.PlanDailyCron(ctx, tx, habitOwner, day)
			})
			if err != nil {
				return err
			}
			key := store.DedupeKeyDailyCron(habitOwner, day.Truncate(24*time.Hour))
			trigger, err := store.GetTriggerByDedupeKey(ctx, st.DB(), key)
			if err != nil {
				return err
			}
			fmt.Printf("Housekeeping planned for %s\n", trigger.NextFireAt.Format(time.RFC3339))
			return nil
		})
	},
}

func parseDailyDate() (time.Time, error) {
	if dailyDate == "" {
		return time.Now().UTC(), nil
	}
	date, err := time.Parse("2006-01-02", dailyDate)
	if err != nil {
		return time.Time{}, &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("bad --date value, want YYYY-MM-DD: %w", err)}
	}
	return date, nil
}

func init() {
	habitCmd.PersistentFlags().Int64Var(&habitOwner, "owner", 0, "owner user id")
	habitCmd.MarkPersistentFlagRequired("owner")
	habitAddCmd.Flags().StringVar(&habitTitle, "title", "", "habit title")
	habitAddCmd.Flags().Int64Var(&habitAreaID, "area", 0, "area id")
	habitAddCmd.MarkFlagRequired("area")
	habitAddCmd.Flags().StringVar(&habitType, "type", "positive", "habit type (positive, negative, both)")
	habitAddCmd.Flags().StringVar(&habitDifficulty, "difficulty", "easy", "difficulty (trivial, easy, medium, hard)")
	habitAddCmd.Flags().IntVar(&habitCooldown, "cooldown", 0, "seconds between scorings")
	habitAddCmd.MarkFlagRequired("title")
	habitUpCmd.Flags().Int64Var(&habitID, "id", 0, "habit id")
	habitUpCmd.MarkFlagRequired("id")
	habitDownCmd.Flags().Int64Var(&habitID, "id", 0, "habit id")
	habitDownCmd.MarkFlagRequired("id")
	habitCmd.AddCommand(habitAddCmd, habitUpCmd, habitDownCmd)

	dailyCmd.PersistentFlags().Int64Var(&habitOwner, "owner", 0, "owner user id")
	dailyCmd.MarkPersistentFlagRequired("owner")
	dailyAddCmd.Flags().StringVar(&dailyTitle, "title", "", "daily title")
	dailyAddCmd.Flags().Int64Var(&habitAreaID, "area", 0, "area id")
	dailyAddCmd.MarkFlagRequired("area")
	dailyAddCmd.Flags().StringVar(&dailyRRule, "rrule", "FREQ=DAILY", "recurrence rule")
	dailyAddCmd.Flags().StringVar(&habitDifficulty, "difficulty", "easy", "difficulty (trivial, easy, medium, hard)")
	dailyAddCmd.MarkFlagRequired("title")
	dailyDoneCmd.Flags().Int64Var(&dailyID, "id", 0, "daily id")
	dailyDoneCmd.Flags().StringVar(&dailyDate, "date", "", "calendar date, defaults to today")
	dailyDoneCmd.MarkFlagRequired("id")
	dailyUndoCmd.Flags().Int64Var(&dailyID, "id", 0, "daily id")
	dailyUndoCmd.Flags().StringVar(&dailyDate, "date", "", "calendar date, defaults to today")
	dailyUndoCmd.MarkFlagRequired("id")
	dailyCmd.AddCommand(dailyAddCmd, dailyDoneCmd, dailyUndoCmd, dailyScheduleCmd)
}

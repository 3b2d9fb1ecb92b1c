package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/para"
	"github.com/paraplan/paraplan/internal/planner"
	"github.com/paraplan/paraplan/internal/store"
)

var (
	taskOwner     int64
	taskID        int64
	taskTitle     string
	taskProject   int64
	taskArea      int64
	taskWatcher   int64
	remindAt      string
	remindEvery   int
	projectName   string
	projectAreaID int64
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project on a leaf area",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := para.NewService(newLogger())
			var created *store.Project
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				created, err = svc.CreateProject(ctx, tx, &store.Project{
					Owner:  taskOwner,
					AreaID: projectAreaID,
					Name:   projectName,
				})
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created project %d\n", created.ID)
			return nil
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks, reminders, and watchers",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task to a project or an area",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := para.NewService(newLogger())
			var created *store.Task
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				created, err = svc.CreateTask(ctx, tx, &store.Task{
					Owner:     taskOwner,
					Title:     taskTitle,
					ProjectID: optionalID(taskProject),
					AreaID:    optionalID(taskArea),
				})
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created task %d\n", created.ID)
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			task, err := store.GetTask(ctx, st.DB(), taskOwner, taskID)
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\t%s\n", task.ID, task.Title, task.Status)
			if p := task.NeuralPriority(); p != nil {
				fmt.Printf("priority\t%.2f\n", *p)
			}
			return nil
		})
	},
}

var taskRemindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Schedule a reminder for a task",
	Long: `Schedules a reminder at the given time. With --every the reminder
recurs at that many minutes; without it the reminder fires once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := time.Parse(time.RFC3339, remindAt)
		if err != nil {
			return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("bad --at value, want RFC3339: %w", err)}
		}

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			pl := planner.New(newLogger())
			return st.WithTx(ctx, func(tx *sqlx.Tx) error {
				if _, err := store.GetTask(ctx, tx, taskOwner, taskID); err != nil {
					return err
				}
				r := &store.TaskReminder{
					TaskID:    taskID,
					Owner:     taskOwner,
					Kind:      "custom",
					TriggerAt: at,
					IsActive:  true,
				}
				if remindEvery > 0 {
					r.FrequencyMinutes = &remindEvery
				}
				if _, err := store.InsertTaskReminder(ctx, tx, r); err != nil {
					return err
				}
				return pl.PlanTaskReminder(ctx, tx, r)
			})
		})
	},
}

var taskWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe a user to a task's notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			return st.WithTx(ctx, func(tx *sqlx.Tx) error {
				task, err := store.GetTask(ctx, tx, taskOwner, taskID)
				if err != nil {
					return err
				}
				if err := store.AddTaskWatcher(ctx, tx, &store.TaskWatcher{
					TaskID:    task.ID,
					WatcherID: taskWatcher,
					AddedBy:   taskOwner,
				}); err != nil {
					return err
				}
				task.IsWatched = true
				return store.UpdateTask(ctx, tx, task)
			})
		})
	},
}

var taskUnwatchCmd = &cobra.Command{
	Use:   "unwatch",
	Short: "Unsubscribe a user from a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			return st.WithTx(ctx, func(tx *sqlx.Tx) error {
				return store.LeaveTask(ctx, tx, taskID, taskWatcher, "left via cli", time.Now())
			})
		})
	},
}

func init() {
	projectCmd.PersistentFlags().Int64Var(&taskOwner, "owner", 0, "owner user id")
	projectCmd.MarkPersistentFlagRequired("owner")
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectCreateCmd.Flags().Int64Var(&projectAreaID, "area", 0, "leaf area id")
	projectCreateCmd.MarkFlagRequired("name")
	projectCreateCmd.MarkFlagRequired("area")
	projectCmd.AddCommand(projectCreateCmd)

	taskCmd.PersistentFlags().Int64Var(&taskOwner, "owner", 0, "owner user id")
	taskCmd.MarkPersistentFlagRequired("owner")

	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "task title")
	taskAddCmd.Flags().Int64Var(&taskProject, "project", 0, "project id")
	taskAddCmd.Flags().Int64Var(&taskArea, "area", 0, "area id")
	taskAddCmd.MarkFlagRequired("title")

	taskShowCmd.Flags().Int64Var(&taskID, "id", 0, "task id")
	taskShowCmd.MarkFlagRequired("id")

	taskRemindCmd.Flags().Int64Var(&taskID, "id", 0, "task id")
	taskRemindCmd.Flags().StringVar(&remindAt, "at", "", "first firing time, RFC3339")
	taskRemindCmd.Flags().IntVar(&remindEvery, "every", 0, "recurrence in minutes, 0 for one-shot")
	taskRemindCmd.MarkFlagRequired("id")
	taskRemindCmd.MarkFlagRequired("at")

	taskWatchCmd.Flags().Int64Var(&taskID, "id", 0, "task id")
	taskWatchCmd.Flags().Int64Var(&taskWatcher, "user", 0, "watcher user id")
	taskWatchCmd.MarkFlagRequired("id")
	taskWatchCmd.MarkFlagRequired("user")

	taskUnwatchCmd.Flags().Int64Var(&taskID, "id", 0, "task id")
	taskUnwatchCmd.Flags().Int64Var(&taskWatcher, "user", 0, "watcher user id")
	taskUnwatchCmd.MarkFlagRequired("id")
	taskUnwatchCmd.MarkFlagRequired("user")

	taskCmd.AddCommand(taskAddCmd, taskShowCmd, taskRemindCmd, taskWatchCmd, taskUnwatchCmd)
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/store"
	"github.com/paraplan/paraplan/internal/timer"
)

var (
	timerOwner int64
	timerTask  int64
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Track work time",
}

var timerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the owner's timer, optionally on a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := timer.NewService(newLogger())
			var entry *store.TimeEntry
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				entry, err = svc.Start(ctx, tx, timerOwner, optionalID(timerTask), time.Now())
				return err
			})
			if err != nil {
				if store.IsConflict(err) {
					return fmt.Errorf("a timer is already running")
				}
				return err
			}
			fmt.Printf("Started timer %d\n", entry.ID)
			return nil
		})
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the owner's running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := timer.NewService(newLogger())
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				return svc.Stop(ctx, tx, timerOwner, time.Now())
			})
			if store.IsNotFound(err) {
				return fmt.Errorf("no timer is running")
			}
			return err
		})
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the owner's running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := timer.NewService(newLogger())
			entry, err := svc.Running(ctx, st.DB(), timerOwner)
			if store.IsNotFound(err) {
				fmt.Println("No timer running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Timer %d running since %s\n", entry.ID, entry.StartTime.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	timerCmd.PersistentFlags().Int64Var(&timerOwner, "owner", 0, "owner user id")
	timerCmd.MarkPersistentFlagRequired("owner")
	timerStartCmd.Flags().Int64Var(&timerTask, "task", 0, "task id to bill the time to")
	timerCmd.AddCommand(timerStartCmd, timerStopCmd, timerStatusCmd)
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/planner"
	"github.com/paraplan/paraplan/internal/store"
)

var (
	calOwner   int64
	calTitle   string
	calStart   string
	calEnd     string
	calAlarmAt string
	calItemID  int64
	calAlarmID int64

	channelOwner   int64
	channelName    string
	channelAddress string
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Manage calendar items and alarms",
}

var calendarAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a calendar item, optionally with an alarm",
	RunE: func(cmd *cobra.Command, args []string) error {
		startAt, err := time.Parse(time.RFC3339, calStart)
		if err != nil {
			return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("bad --start value, want RFC3339: %w", err)}
		}
		var endAt *time.Time
		if calEnd != "" {
			t, err := time.Parse(time.RFC3339, calEnd)
			if err != nil {
				return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("bad --end value, want RFC3339: %w", err)}
			}
			endAt = &t
		}
		var alarmAt *time.Time
		if calAlarmAt != "" {
			t, err := time.Parse(time.RFC3339, calAlarmAt)
			if err != nil {
				return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("bad --alarm value, want RFC3339: %w", err)}
			}
			alarmAt = &t
		}

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			pl := planner.New(newLogger())
			var item *store.CalendarItem
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				item, err = store.InsertCalendarItem(ctx, tx, &store.CalendarItem{
					Owner:   calOwner,
					Title:   calTitle,
					StartAt: startAt,
					EndAt:   endAt,
					Status:  store.ItemPlanned,
				})
				if err != nil {
					return err
				}
				if alarmAt == nil {
					return nil
				}
				alarm, err := store.InsertAlarm(ctx, tx, item, &store.Alarm{
					ItemID:    item.ID,
					TriggerAt: *alarmAt,
				}, time.Now())
				if err != nil {
					return err
				}
				return pl.PlanAlarm(ctx, tx, alarm, calOwner)
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created calendar item %d\n", item.ID)
			return nil
		})
	},
}

var calendarShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a calendar item, and optionally one of its alarms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			item, err := store.GetCalendarItem(ctx, st.DB(), calOwner, calItemID)
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", item.ID, item.Title,
				item.StartAt.Format(time.RFC3339), item.Status)
			if calAlarmID == 0 {
				return nil
			}
			alarm, err := store.GetAlarm(ctx, st.DB(), calAlarmID)
			if err != nil {
				return err
			}
			if alarm.ItemID != item.ID {
				return fmt.Errorf("alarm %d does not belong to item %d", alarm.ID, item.ID)
			}
			state := "pending"
			if alarm.IsSent {
				state = "sent"
			}
			fmt.Printf("alarm %d\t%s\t%s\n", alarm.ID, alarm.TriggerAt.Format(time.RFC3339), state)
			return nil
		})
	},
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage notification delivery channels",
}

var channelSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register or rewrite a delivery channel address",
	Long: `Registers where notifications for a user go. The address is channel
specific: a chat id for telegram, a mailbox for email.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			return store.UpsertChannel(ctx, st.DB(), &store.NotificationChannel{
				Owner:   channelOwner,
				Channel: channelName,
				Address: channelAddress,
			})
		})
	},
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's delivery channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			channels, err := store.ListChannels(ctx, st.DB(), channelOwner)
			if err != nil {
				return err
			}
			for _, ch := range channels {
				fmt.Printf("%s\t%s\n", ch.Channel, ch.Address)
			}
			return nil
		})
	},
}

func init() {
	calendarCmd.PersistentFlags().Int64Var(&calOwner, "owner", 0, "owner user id")
	calendarCmd.MarkPersistentFlagRequired("owner")
	calendarAddCmd.Flags().StringVar(&calTitle, "title", "", "item title")
	calendarAddCmd.Flags().StringVar(&calStart, "start", "", "start time, RFC3339")
	calendarAddCmd.Flags().StringVar(&calEnd, "end", "", "end time, RFC3339")
	calendarAddCmd.Flags().StringVar(&calAlarmAt, "alarm", "", "alarm time, RFC3339")
	calendarAddCmd.MarkFlagRequired("title")
	calendarAddCmd.MarkFlagRequired("start")
	calendarShowCmd.Flags().Int64Var(&calItemID, "id", 0, "calendar item id")
	calendarShowCmd.Flags().Int64Var(&calAlarmID, "alarm-id", 0, "alarm id to show")
	calendarShowCmd.MarkFlagRequired("id")
	calendarCmd.AddCommand(calendarAddCmd, calendarShowCmd)

	channelCmd.PersistentFlags().Int64Var(&channelOwner, "owner", 0, "owner user id")
	channelCmd.MarkPersistentFlagRequired("owner")
	channelSetCmd.Flags().StringVar(&channelName, "channel", "", "channel name (telegram, email)")
	channelSetCmd.Flags().StringVar(&channelAddress, "address", "", "channel address")
	channelSetCmd.MarkFlagRequired("channel")
	channelSetCmd.MarkFlagRequired("address")
	channelCmd.AddCommand(channelSetCmd, channelListCmd)
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/para"
	"github.com/paraplan/paraplan/internal/store"
)

var (
	areaOwner  int64
	areaID     int64
	areaName   string
	areaParent int64
)

var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "Manage the area tree",
}

var areaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an area, optionally under a parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := para.NewService(newLogger())
			var created *store.Area
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				created, err = svc.CreateArea(ctx, tx, areaOwner, areaName, optionalID(areaParent))
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created area %d: %s\n", created.ID, created.MPPath)
			return nil
		})
	},
}

var areaMoveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move an area and its subtree under a new parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := para.NewService(newLogger())
			var moved *store.Area
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				moved, err = svc.MoveArea(ctx, tx, areaOwner, areaID, optionalID(areaParent))
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Moved area %d: %s\n", moved.ID, moved.MPPath)
			return nil
		})
	},
}

var areaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the owner's areas as a tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			areas, err := store.ListAreas(ctx, st.DB(), areaOwner)
			if err != nil {
				return err
			}
			for _, a := range areas {
				fmt.Printf("%s%s (%d)\n", strings.Repeat("  ", a.Depth), a.Name, a.ID)
			}
			return nil
		})
	},
}

var areaProjectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the live projects in an area",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			projects, err := store.ListProjectsByArea(ctx, st.DB(), areaOwner, areaID)
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%d\t%s\t%s\n", p.ID, p.Name, p.Status)
			}
			return nil
		})
	},
}

var areaDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Archive an area, or remove it when its subtree is archived",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := para.NewService(newLogger())
			return st.WithTx(ctx, func(tx *sqlx.Tx) error {
				return svc.DeleteArea(ctx, tx, areaOwner, areaID)
			})
		})
	},
}

func init() {
	areaCmd.PersistentFlags().Int64Var(&areaOwner, "owner", 0, "owner user id")
	areaCmd.MarkPersistentFlagRequired("owner")

	areaCreateCmd.Flags().StringVar(&areaName, "name", "", "area name")
	areaCreateCmd.Flags().Int64Var(&areaParent, "parent", 0, "parent area id")
	areaCreateCmd.MarkFlagRequired("name")

	areaMoveCmd.Flags().Int64Var(&areaID, "id", 0, "area id")
	areaMoveCmd.Flags().Int64Var(&areaParent, "parent", 0, "new parent area id (omit for root)")
	areaMoveCmd.MarkFlagRequired("id")

	areaProjectsCmd.Flags().Int64Var(&areaID, "id", 0, "area id")
	areaProjectsCmd.MarkFlagRequired("id")

	areaDeleteCmd.Flags().Int64Var(&areaID, "id", 0, "area id")
	areaDeleteCmd.MarkFlagRequired("id")

	areaCmd.AddCommand(areaCreateCmd, areaMoveCmd, areaListCmd, areaProjectsCmd, areaDeleteCmd)
}

// optionalID maps the flag zero value to "not set".
func optionalID(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

// withStore opens the configured database for a one-shot command.
func withStore(ctx context.Context, fn func(ctx context.Context, st *store.Store) error) error {
	if configErr != nil {
		return &ExitError{Code: ExitBadConfig, Err: configErr}
	}
	if appConfig.Database.URL == "" {
		return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("database url is required")}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	st, err := openStore(ctx, newLogger())
	if err != nil {
		return &ExitError{Code: ExitUnrecoverable, Err: err}
	}
	defer st.Close()

	return st.WithRetry(ctx, func() error { return fn(ctx, st) })
}

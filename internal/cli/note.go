package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/para"
	"github.com/paraplan/paraplan/internal/store"
)

var (
	noteOwner     int64
	noteTitle     string
	noteContent   string
	noteContainer string
	noteContID    int64

	resTitle   string
	resType    string
	resContent string
	resProject int64
	resArea    int64
	resID      int64
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Capture and browse notes",
}

var noteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a note, to the inbox or into a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		n := &store.Note{
			Owner:   noteOwner,
			Content: noteContent,
		}
		if noteTitle != "" {
			n.Title = &noteTitle
		}
		if noteContainer != "" {
			ct := store.ContainerType(noteContainer)
			n.ContainerType = &ct
			n.ContainerID = optionalID(noteContID)
		}

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				_, err := store.InsertNote(ctx, tx, n)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created note %d\n", n.ID)
			return nil
		})
	},
}

var noteInboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List unfiled notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			notes, err := store.ListInboxNotes(ctx, st.DB(), noteOwner)
			if err != nil {
				return err
			}
			for _, n := range notes {
				title := n.Content
				if n.Title != nil {
					title = *n.Title
				}
				fmt.Printf("%d\t%s\n", n.ID, title)
			}
			return nil
		})
	},
}

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage reference resources",
}

var resourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Attach a resource to a project or an area",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			svc := para.NewService(newLogger())
			r := &store.Resource{
				Owner:     noteOwner,
				Title:     resTitle,
				Type:      resType,
				Content:   resContent,
				ProjectID: optionalID(resProject),
				AreaID:    optionalID(resArea),
			}
			err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
				if err := svc.InheritResourceArea(ctx, tx, r); err != nil {
					return err
				}
				_, err := store.InsertResource(ctx, tx, r)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created resource %d\n", r.ID)
			return nil
		})
	},
}

var resourceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a resource",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			r, err := store.GetResource(ctx, st.DB(), noteOwner, resID)
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\t%s\n%s\n", r.ID, r.Type, r.Title, r.Content)
			return nil
		})
	},
}

func init() {
	noteCmd.PersistentFlags().Int64Var(&noteOwner, "owner", 0, "owner user id")
	noteCmd.MarkPersistentFlagRequired("owner")
	noteAddCmd.Flags().StringVar(&noteTitle, "title", "", "note title")
	noteAddCmd.Flags().StringVar(&noteContent, "content", "", "note body")
	noteAddCmd.Flags().StringVar(&noteContainer, "container", "", "container type (project, area, resource)")
	noteAddCmd.Flags().Int64Var(&noteContID, "container-id", 0, "container id")
	noteAddCmd.MarkFlagRequired("content")
	noteCmd.AddCommand(noteAddCmd, noteInboxCmd)

	resourceCmd.PersistentFlags().Int64Var(&noteOwner, "owner", 0, "owner user id")
	resourceCmd.MarkPersistentFlagRequired("owner")
	resourceAddCmd.Flags().StringVar(&resTitle, "title", "", "resource title")
	resourceAddCmd.Flags().StringVar(&resType, "type", "link", "resource type")
	resourceAddCmd.Flags().StringVar(&resContent, "content", "", "resource body or url")
	resourceAddCmd.Flags().Int64Var(&resProject, "project", 0, "project id")
	resourceAddCmd.Flags().Int64Var(&resArea, "area", 0, "area id")
	resourceAddCmd.MarkFlagRequired("title")
	resourceShowCmd.Flags().Int64Var(&resID, "id", 0, "resource id")
	resourceShowCmd.MarkFlagRequired("id")
	resourceCmd.AddCommand(resourceAddCmd, resourceShowCmd)
}

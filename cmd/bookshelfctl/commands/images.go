package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookshelf/internal/app"
	"bookshelf/pkg/imagestore"
)

func newImagesCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Maintain stored images",
	}
	var (
		remove bool
		minAge time.Duration
	)
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Find blobs without an image record",
		Long: `List blobs in object storage that no image record points at. These are
left behind when saving an image record fails after its blob was written.
Blobs younger than --min-age are skipped, since their record may still be
committing.

Examples:
  bookshelfctl images reconcile                         # list orphans
  bookshelfctl images reconcile --delete                # list and remove orphans
  bookshelfctl images reconcile --delete --min-age 24h  # only day-old orphans`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				orphans, err := a.ReconcileImages(cmd.Context(), remove, minAge)
				out := cmd.OutOrStdout()
				for _, key := range orphans {
					fmt.Fprintln(out, key)
				}
				if err != nil {
					return err
				}
				verb := "found"
				if remove {
					verb = "removed"
				}
				fmt.Fprintf(out, "%s %d orphaned blobs\n", verb, len(orphans))
				return nil
			})
		},
	}
	reconcile.Flags().BoolVar(&remove, "delete", false, "Remove the orphaned blobs")
	reconcile.Flags().DurationVar(&minAge, "min-age", imagestore.DefaultOrphanMinAge, "Skip blobs modified more recently than this")
	cmd.AddCommand(reconcile)
	return cmd
}

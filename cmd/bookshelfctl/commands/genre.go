package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bookshelf/internal/app"
)

func newGenreCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genre",
		Short: "Manage genres",
	}
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a genre",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				g, err := a.CreateGenre(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created genre %s (%s)\n", g.Name, g.ID)
				return nil
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List genres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				genres, err := a.ListGenres(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tID")
				for _, g := range genres {
					fmt.Fprintf(tw, "%s\t%s\n", g.Name, g.ID)
				}
				return tw.Flush()
			})
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}

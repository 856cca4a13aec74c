package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bookshelf/internal/app"
	"bookshelf/pkg/domain"
)

func newUserCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var in app.NewUserInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Long: `Create an account with a bcrypt-hashed password.

Examples:
  bookshelfctl user add --login ivanov --password 'S3cure!Passw0rd' \
    --last-name Иванов --first-name Иван --role moderator`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				u, err := a.CreateUser(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) as %s\n", u.Login, u.ID, u.Role.Title())
				return nil
			})
		},
	}
	add.Flags().StringVar(&in.Login, "login", "", "Login (required)")
	add.Flags().StringVar(&in.Password, "password", "", "Password (required)")
	add.Flags().StringVar(&in.LastName, "last-name", "", "Last name (required)")
	add.Flags().StringVar(&in.FirstName, "first-name", "", "First name (required)")
	add.Flags().StringVar(&in.MiddleName, "middle-name", "", "Middle name")
	add.Flags().StringVar(&in.Role, "role", string(domain.RoleUser), "Role: admin, moderator or user")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				users, err := a.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "LOGIN\tNAME\tROLE\tID")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Login, u.FullName(), u.Role, u.ID)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

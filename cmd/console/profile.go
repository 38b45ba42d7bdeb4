package main

import (
	"errors"

	"github.com/jrsteele09/go-console-session/internal/utils"
	"github.com/jrsteele09/go-console-session/session"
	"github.com/spf13/cobra"
)

func (c *cli) newProfileCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Change your display name or email",
		Long: `Change your display name or email. Only the flags given are sent.

Examples:
  console profile --name "Jane Q. Ops"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			update := session.ProfileUpdate{
				Name:  utils.OptionalString(name),
				Email: utils.OptionalString(email),
			}
			if update.Name == nil && update.Email == nil {
				return errors.New("nothing to change, pass --name or --email")
			}
			if !c.app.manager.IsAuthenticated(cmd.Context()) {
				return errNotSignedIn
			}
			user, err := c.app.manager.UpdateProfile(cmd.Context(), update)
			if err != nil {
				return err
			}
			renderUser(cmd.OutOrStdout(), user, "")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().StringVar(&email, "email", "", "New email address")
	return cmd
}

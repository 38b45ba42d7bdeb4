package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/spf13/cobra"
)

func (c *cli) newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change console preferences",
	}
	cmd.AddCommand(c.newPrefsShowCmd(), c.newPrefsSetCmd())
	return cmd
}

func (c *cli) newPrefsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cached preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := c.app.manager.CachedUser(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				return errNotSignedIn
			}
			renderPreferences(cmd, user.Preferences)
			return nil
		},
	}
}

type prefsFlags struct {
	theme         string
	density       string
	notifications bool
	region        string
}

func (c *cli) newPrefsSetCmd() *cobra.Command {
	var flags prefsFlags
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more preferences",
		Long: `Change one or more preferences. Flags that are not given keep their
current value.

Examples:
  console prefs set --theme dark --density compact
  console prefs set --notifications=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.app.manager.CachedUser(ctx)
			if err != nil {
				return err
			}
			if user == nil {
				return errNotSignedIn
			}

			prefs := applyPrefsFlags(cmd, user.Preferences, flags)
			if err := prefs.Validate(); err != nil {
				return err
			}
			updated, err := c.app.manager.UpdatePreferences(ctx, prefs)
			if err != nil {
				return err
			}
			renderPreferences(cmd, updated.Preferences)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.theme, "theme", "", "light, dark or system")
	cmd.Flags().StringVar(&flags.density, "density", "", "comfortable or compact")
	cmd.Flags().BoolVar(&flags.notifications, "notifications", true, "Enable notifications")
	cmd.Flags().StringVar(&flags.region, "region", "", "Default region")
	return cmd
}

// applyPrefsFlags overlays the flags the user actually set on current
func applyPrefsFlags(cmd *cobra.Command, current users.Preferences, flags prefsFlags) users.Preferences {
	prefs := current
	if cmd.Flags().Changed("theme") {
		prefs.Theme = users.Theme(flags.theme)
	}
	if cmd.Flags().Changed("density") {
		prefs.Density = users.Density(flags.density)
	}
	if cmd.Flags().Changed("notifications") {
		prefs.NotificationsEnabled = flags.notifications
	}
	if cmd.Flags().Changed("region") {
		prefs.DefaultRegion = flags.region
	}
	return prefs
}

func renderPreferences(cmd *cobra.Command, p users.Preferences) {
	t := newTable(cmd.OutOrStdout())
	t.AppendRow(table.Row{"Theme", p.Theme})
	t.AppendRow(table.Row{"Density", p.Density})
	t.AppendRow(table.Row{"Notifications", fmt.Sprint(p.NotificationsEnabled)})
	t.AppendRow(table.Row{"Region", p.DefaultRegion})
	t.Render()
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/spf13/cobra"
)

func (c *cli) newWhoamiCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !c.app.manager.IsAuthenticated(ctx) {
				return errNotSignedIn
			}

			if offline {
				cached, err := c.app.manager.CachedUser(ctx)
				if err != nil {
					return err
				}
				if cached == nil {
					return errNotSignedIn
				}
				renderUser(cmd.OutOrStdout(), *cached, "cached")
				return nil
			}

			user, err := c.app.manager.CurrentUser(ctx)
			if apiclient.IsUnauthorized(err) {
				return fmt.Errorf("%w: %s", errNotSignedIn, err)
			}
			if err != nil {
				return err
			}
			renderUser(cmd.OutOrStdout(), user, "")
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Show the cached user without contacting the backend")
	return cmd
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return text.FgHiBlack.Sprint("never")
	}
	return t.Local().Format(time.RFC1123)
}

func renderUser(out io.Writer, u users.User, note string) {
	t := newTable(out)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})
	t.AppendRows([]table.Row{
		{"ID", u.ID},
		{"Email", u.Email},
		{"Name", u.Name},
		{"Role", u.Role},
	})
	if u.Provider != "" {
		t.AppendRow(table.Row{"Provider", u.Provider})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Theme", u.Preferences.Theme},
		{"Density", u.Preferences.Density},
		{"Notifications", strconv.FormatBool(u.Preferences.NotificationsEnabled)},
		{"Region", u.Preferences.DefaultRegion},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Last login", formatTime(u.LastLogin)})
	if note != "" {
		t.SetCaption("(%s)", note)
	}
	t.Render()
}

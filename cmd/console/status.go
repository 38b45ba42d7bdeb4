package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/telemetry"
	"github.com/spf13/cobra"
)

func (c *cli) newStatusCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend health and the local session",
		Long: `Show backend health and the local session. An unreachable backend is
reported as degraded rather than as an error.

Examples:
  console status
  console status --watch 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			poller := telemetry.NewPoller(c.app.api)

			user, err := c.app.manager.CachedUser(ctx)
			if err != nil {
				return err
			}
			if user != nil {
				fmt.Fprintf(out, "Session:  signed in as %s <%s>\n", user.Name, user.Email)
			} else {
				fmt.Fprintf(out, "Session:  %s\n", text.FgYellow.Sprint("signed out"))
			}

			if watch <= 0 {
				s, err := poller.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(out, c.app.api.BaseURL(), s)
				return nil
			}

			var pollErr error
			err = poller.Poll(ctx, watch, func(s telemetry.Status, err error) bool {
				if err != nil {
					pollErr = err
					return false
				}
				printStatus(out, c.app.api.BaseURL(), s)
				return true
			})
			if pollErr != nil {
				return pollErr
			}
			if ctx.Err() != nil {
				// Interrupted
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "Poll continuously at this interval")
	return cmd
}

func printStatus(out io.Writer, baseURL string, s telemetry.Status) {
	status := text.FgGreen.Sprint(s.Status)
	if s.Status != authmodel.StatusOK {
		status = text.FgRed.Sprint(s.Status)
	}
	line := fmt.Sprintf("Backend:  %s %s", baseURL, status)
	if s.Reachable && s.Version != "" {
		line += " (version " + s.Version + ")"
	}
	if !s.Reachable {
		line += text.FgHiBlack.Sprint(" unreachable")
	}
	fmt.Fprintf(out, "%s at %s\n", line, s.Time.Local().Format(time.TimeOnly))
}

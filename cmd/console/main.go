// Command console is the command-line face of the monitoring console session
// layer: sign in and out, inspect the signed-in user and check the backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/go-console-session/apiclient"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/spf13/cobra"
)

// Exit codes for console commands
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2 // No session, or it expired and could not be renewed
	ExitCodeAuthFailed   = 3 // Sign-in was refused
)

// authFailedError marks a sign-in the backend or provider refused
type authFailedError struct {
	err error
}

func (e *authFailedError) Error() string { return e.err.Error() }
func (e *authFailedError) Unwrap() error { return e.err }

var errNotSignedIn = fmt.Errorf("not signed in, run: console login: %w", autherrors.ErrNoSession)

// cli holds the state shared by every command of one invocation
type cli struct {
	configPath string
	verbose    bool
	app        *consoleApp
	root       *cobra.Command
}

func newCLI() *cli {
	c := &cli{}
	c.root = &cobra.Command{
		Use:   "console",
		Short: "Sign in to the monitoring console and manage your session",
		Long: `console signs you in to the monitoring console backend and keeps the
session on this machine. Access tokens are renewed transparently; when the
session can no longer be renewed you are asked to sign in again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app, err := newConsoleApp(cmd.Context(), c.configPath, c.verbose, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c.app = app
			return nil
		},
	}
	c.root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to the console YAML config (default $CONSOLE_CONFIG)")
	c.root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	c.root.AddCommand(
		c.newLoginCmd(),
		c.newSignupCmd(),
		c.newVerifyCmd(),
		c.newLogoutCmd(),
		c.newWhoamiCmd(),
		c.newProfileCmd(),
		c.newPrefsCmd(),
		c.newStatusCmd(),
	)
	return c
}

// execute runs the command line and closes the session stack whether or not
// the command failed.
func (c *cli) execute(ctx context.Context) error {
	err := c.root.ExecuteContext(ctx)
	if c.app != nil {
		if closeErr := c.app.Close(); err == nil {
			err = closeErr
		}
		c.app = nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCLI().execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to one of the ExitCode* values
func exitCode(err error) int {
	var failed *authFailedError
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.As(err, &failed):
		return ExitCodeAuthFailed
	case errors.Is(err, autherrors.ErrNoSession), apiclient.IsUnauthorized(err):
		return ExitCodeAuthRequired
	default:
		return ExitCodeError
	}
}

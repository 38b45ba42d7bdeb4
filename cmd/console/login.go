package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/oauthbridge"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/spf13/cobra"
)

// callbackPath is where the local listener receives the provider redirect
const callbackPath = "/oauth/callback"

type loginOptions struct {
	email     string
	password  string
	provider  string
	noBrowser bool
	timeout   time.Duration
}

func (c *cli) newLoginCmd() *cobra.Command {
	var opts loginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password, or with an external provider",
		Long: `Sign in to the console backend and store the session on this machine.

Examples:
  console login --email ops@example.com   # Prompts for the password
  console login --oauth google            # Signs in through the browser`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.provider != "" {
				return c.runOAuthLogin(cmd, opts)
			}
			return c.runPasswordLogin(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "Account email")
	cmd.Flags().StringVar(&opts.password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().StringVar(&opts.provider, "oauth", "", "Sign in with this external provider")
	cmd.Flags().BoolVar(&opts.noBrowser, "no-browser", false, "Print the sign-in URL instead of opening a browser")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "How long to wait for the browser sign-in")
	cmd.MarkFlagsMutuallyExclusive("oauth", "email")
	cmd.MarkFlagsMutuallyExclusive("oauth", "password")
	return cmd
}

func (c *cli) runPasswordLogin(cmd *cobra.Command, opts loginOptions) error {
	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	email, err := p.valueOrPrompt(opts.email, "Email", false)
	if err != nil {
		return err
	}
	password, err := p.valueOrPrompt(opts.password, "Password", true)
	if err != nil {
		return err
	}

	user, err := c.app.manager.Login(cmd.Context(), email, password)
	if err != nil {
		var apiErr *apiclient.Error
		if errors.As(err, &apiErr) && !apiclient.IsConnectivity(err) {
			return &authFailedError{err: errors.New(apiErr.UserMessage())}
		}
		return err
	}
	printSignedIn(cmd.OutOrStdout(), user)
	return nil
}

func (c *cli) runOAuthLogin(cmd *cobra.Command, opts loginOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	out := cmd.OutOrStdout()

	ln, err := net.Listen("tcp", c.app.cfg.GetOAuthCallbackAddr())
	if err != nil {
		return fmt.Errorf("start callback listener: %w", err)
	}
	returnURL := "http://" + ln.Addr().String() + callbackPath

	outcomes := make(chan oauthbridge.Outcome, 1)
	handler := oauthbridge.NewHandler(c.app.manager,
		oauthbridge.WithLogger(c.app.logger),
		oauthbridge.WithOutcomeHook(func(o oauthbridge.Outcome) {
			select {
			case outcomes <- o:
			default:
			}
		}),
	)
	mux := http.NewServeMux()
	mux.Handle("GET "+callbackPath, handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.app.logger.Err(err).Msg("Callback listener stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	initiate, err := oauthbridge.InitiateURL(c.app.api.BaseURL(), opts.provider, returnURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sign in with %s at:\n  %s\n", opts.provider, initiate)
	if !opts.noBrowser {
		if err := openBrowser(initiate); err != nil {
			c.app.logger.Debug().Err(err).Msg("Could not open browser")
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " Waiting for the browser sign-in to complete..."
	s.Start()
	defer s.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sign-in with %s did not complete: %w", opts.provider, ctx.Err())
	case o := <-outcomes:
		s.Stop()
		if o.Destination != oauthbridge.DestinationLanding {
			return &authFailedError{err: errors.New(o.Message)}
		}
		printSignedIn(out, *o.User)
		return nil
	}
}

func printSignedIn(out io.Writer, user users.User) {
	fmt.Fprintf(out, "%s Signed in as %s <%s> (%s)\n", text.FgGreen.Sprint("✓"), user.Name, user.Email, user.Role)
}

package main

import (
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/spf13/cobra"
)

// pathVerify confirms an email address after signup
const pathVerify = "/auth/verify"

func (c *cli) newSignupCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a console account",
		Long: `Create a console account. No session is started: verify the email
address with "console verify" and then sign in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			var err error
			if email, err = p.valueOrPrompt(email, "Email", false); err != nil {
				return err
			}
			if name, err = p.valueOrPrompt(name, "Name", false); err != nil {
				return err
			}
			if password, err = p.valueOrPrompt(password, "Password", true); err != nil {
				return err
			}

			message, err := c.app.manager.Signup(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	return cmd
}

func (c *cli) newVerifyCmd() *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an email address with the code sent after signup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			var err error
			if email, err = p.valueOrPrompt(email, "Email", false); err != nil {
				return err
			}
			if code, err = p.valueOrPrompt(code, "Code", false); err != nil {
				return err
			}

			var ack authmodel.AckResponse
			err = c.app.api.Do(cmd.Context(), apiclient.Request{
				Method: http.MethodPost,
				Path:   pathVerify,
				Body:   authmodel.VerifyRequest{Email: email, Code: code},
				Public: true,
			}, &ack)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Email verified. You can now run: console login")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&code, "code", "", "Verification code")
	return cmd
}

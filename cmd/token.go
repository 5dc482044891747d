package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		asCredential bool
		exchangeFor  string
	)
	cmd := &cobra.Command{
		Use:   "token [url]",
		Short: "Print the token to use for a portal or server URL",
		Long: `Print the token to present to url, or to the portal when url is omitted.

Federated servers get a server token generated from the portal token;
URLs on trusted domains print nothing, since cookies authenticate them.
An expired portal token is refreshed first when possible.

--exchange prints a token issued to another application instead, traded
for the portal token. Portals only allow this for first-party apps.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			m, err := rt.loadSession()
			if err != nil {
				return err
			}
			target := m.Portal()
			if len(args) == 1 {
				target = args[0]
			}

			ctx, cancel := rt.requestContext(cmd)
			defer cancel()

			generation := m.Generation()
			if exchangeFor != "" {
				token, err := m.ExchangeToken(ctx, exchangeFor)
				rt.saveIfChanged(m, generation)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			token, err := m.GetToken(ctx, target)
			rt.saveIfChanged(m, generation)
			if err != nil {
				return err
			}

			if !asCredential {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			cred := m.ToCredential()
			if token != cred.Token {
				cred.Server = target
				cred.Token = token
				cred.Expires = 0
			}
			out, err := json.MarshalIndent(cred, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asCredential, "credential", false, "Print a map SDK credential object instead of the bare token")
	cmd.Flags().StringVar(&exchangeFor, "exchange", "", "Print a token for this client id, exchanged for the portal token")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Obtain a new portal token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			m, err := rt.loadSession()
			if err != nil {
				return err
			}

			ctx, cancel := rt.requestContext(cmd)
			defer cancel()
			if err := m.RefreshCredentials(ctx); err != nil {
				return err
			}
			if err := rt.saveSession(m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed, expires %s\n", formatExpiry(m.TokenExpires(), time.Now()))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			m, err := rt.loadSession()
			if err != nil {
				return err
			}

			ctx, cancel := rt.requestContext(cmd)
			defer cancel()
			revokeErr := m.Destroy(ctx)
			if err := rt.clearSession(); err != nil {
				return err
			}
			if revokeErr != nil {
				return fmt.Errorf("signed out locally, but the portal did not revoke the token: %w", revokeErr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// requestContext bounds a command's network work by timeouts.http.
func (r *runtime) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if r.cfg.Timeouts.HTTP <= 0 {
		return context.WithCancel(cmdContext(cmd))
	}
	return context.WithTimeout(cmdContext(cmd), r.cfg.Timeouts.HTTP)
}

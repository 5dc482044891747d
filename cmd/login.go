package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/browser"
	"gisauth/internal/config"
	"gisauth/internal/flow"
	"gisauth/internal/identity"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type loginFlags struct {
	portal      string
	clientID    string
	redirectURI string
	provider    string
	username    string
	password    string
	complete    string
	noPopup     bool
	implicit    bool
	quiet       bool
}

func newLoginCmd() *cobra.Command {
	var f loginFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a portal",
		Long: `Sign in to an ArcGIS portal and save the session.

By default a browser window is opened for OAuth 2.0 sign-in and gisauth
listens on a loopback port for the redirect. With --no-popup the authorize
URL is printed instead; finish the flow by passing the URL the browser
landed on to --complete.

Examples:
  gisauth login --client-id abc123
  gisauth login --client-id abc123 --no-popup
  gisauth login --complete 'http://127.0.0.1:7890/callback?code=...&state=...'
  gisauth login --username casey --portal https://org.example.com/portal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.portal, "portal", "", "Portal URL (overrides config)")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "OAuth client id (overrides config)")
	cmd.Flags().StringVar(&f.redirectURI, "redirect-uri", "", "Registered redirect URI (overrides config)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Identity provider: arcgis, apple, facebook, github or google")
	cmd.Flags().StringVar(&f.username, "username", "", "Sign in with a username and password instead of OAuth")
	cmd.Flags().StringVar(&f.password, "password", "", "Password for --username (read from stdin when omitted)")
	cmd.Flags().StringVar(&f.complete, "complete", "", "Complete a --no-popup flow with the callback URL")
	cmd.Flags().BoolVar(&f.noPopup, "no-popup", false, "Print the authorize URL instead of waiting for the callback")
	cmd.Flags().BoolVar(&f.implicit, "implicit", false, "Use the implicit grant instead of the authorization code grant with PKCE")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func runLogin(cmd *cobra.Command, f loginFlags) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	applyLoginFlags(&rt.cfg, f)

	ctx := cmdContext(cmd)

	var m *identity.Manager
	switch {
	case f.username != "":
		m, err = passwordLogin(ctx, rt, f, cmd.InOrStdin())
	case f.complete != "":
		m, err = newFlowController(rt).CompleteOAuth2(ctx, flow.CompleteOptions{
			ClientID:    rt.cfg.ClientID,
			RedirectURI: rt.cfg.RedirectURI,
			Portal:      rt.cfg.Portal,
			CallbackURL: f.complete,
		})
	case !rt.cfg.PopupEnabled():
		_, err = newFlowController(rt).BeginOAuth2(ctx, beginOptions(rt, rt.cfg.RedirectURI))
		return err
	default:
		m, err = popupLogin(ctx, rt, f.quiet)
	}
	if err != nil {
		return err
	}

	if err := rt.saveSession(m); err != nil {
		return err
	}
	if !f.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in to %s as %s\n",
			text.FgGreen.Sprint("✓"), m.Portal(), displayUser(m))
	}
	return nil
}

func applyLoginFlags(cfg *config.GisauthConfig, f loginFlags) {
	if f.portal != "" {
		cfg.Portal = f.portal
	}
	if f.clientID != "" {
		cfg.ClientID = f.clientID
	}
	if f.redirectURI != "" {
		cfg.RedirectURI = f.redirectURI
	}
	if f.provider != "" {
		cfg.Provider = f.provider
	}
	if f.noPopup {
		cfg.Popup = flow.Bool(false)
	}
	if f.implicit {
		cfg.PKCE = flow.Bool(false)
	}
}

func newFlowController(rt *runtime) *flow.Controller {
	return flow.NewController(flow.Config{
		Store:          rt.store,
		Window:         &browser.System{Out: os.Stderr},
		HTTPClient:     rt.httpClient,
		TrustedDomains: rt.cfg.TrustedDomains,
	})
}

func beginOptions(rt *runtime, redirectURI string) flow.BeginOptions {
	return flow.BeginOptions{
		ClientID:     rt.cfg.ClientID,
		RedirectURI:  redirectURI,
		Portal:       rt.cfg.Portal,
		Provider:     rt.cfg.Provider,
		Expiration:   rt.cfg.TokenDuration,
		PKCE:         flow.Bool(rt.cfg.PKCEEnabled()),
		Popup:        flow.Bool(rt.cfg.PopupEnabled()),
		Locale:       rt.cfg.Locale,
		PopupTimeout: rt.cfg.Timeouts.Popup,
	}
}

// popupLogin serves the redirect URI on a loopback port and waits for the
// browser to come back to it.
func popupLogin(ctx context.Context, rt *runtime, quiet bool) (*identity.Manager, error) {
	if rt.cfg.ClientID == "" {
		return nil, autherr.Missing("clientId", "login")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrl := newFlowController(rt)
	var redirectURI string
	server := browser.NewCallbackServer(browser.CallbackConfig{
		Port: rt.cfg.Callback.Port,
		Path: rt.cfg.Callback.Path,
		Handler: func(ctx context.Context, callbackURL string) error {
			_, err := ctrl.CompleteOAuth2(ctx, flow.CompleteOptions{
				ClientID:    rt.cfg.ClientID,
				RedirectURI: redirectURI,
				Portal:      rt.cfg.Portal,
				CallbackURL: callbackURL,
				Popup:       true,
			})
			return err
		},
	})
	served, err := server.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer server.Stop()

	redirectURI = rt.cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = served
	}

	if !quiet {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Suffix = " Waiting for sign-in to complete in the browser..."
		s.Start()
		defer s.Stop()
	}

	return ctrl.BeginOAuth2(ctx, beginOptions(rt, redirectURI))
}

func passwordLogin(ctx context.Context, rt *runtime, f loginFlags, stdin io.Reader) (*identity.Manager, error) {
	password := f.password
	if password == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return nil, autherr.Missing("password", "login")
	}

	opts := append(rt.identityOptions(), identity.WithPortal(rt.cfg.Portal))
	if rt.cfg.TokenDuration > 0 {
		duration := rt.cfg.TokenDuration
		opts = append(opts, func(o *identity.Options) { o.TokenDuration = duration })
	}

	if f.quiet {
		return identity.SignIn(ctx, f.username, password, opts...)
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Signing in..."
	s.Start()
	defer s.Stop()
	return identity.SignIn(ctx, f.username, password, opts...)
}

func displayUser(m *identity.Manager) string {
	if m.Username() != "" {
		return m.Username()
	}
	return "an anonymous user"
}

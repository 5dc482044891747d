package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/identity"
	"gisauth/pkg/logging"

	"github.com/spf13/cobra"
)

// ClientSecretEnv supplies the application secret for app sign-in.
const ClientSecretEnv = "GISAUTH_CLIENT_SECRET"

const appKeyPrefix = "GISAUTH_APP_"

// appRecord is the persisted app token of one client id.
type appRecord struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

type appFlags struct {
	clientID     string
	clientSecret string
}

func (f *appFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "Application client id (defaults to clientId in the config)")
	cmd.Flags().StringVar(&f.clientSecret, "client-secret", "", "Application client secret (defaults to $"+ClientSecretEnv+")")
}

func newAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Authenticate as an application",
		Long: `Authenticate as a registered application with its client id and secret
(the client_credentials grant). App tokens carry no user; they reach
premium content and services on behalf of the application.`,
	}
	cmd.AddCommand(newAppTokenCmd())
	return cmd
}

func newAppTokenCmd() *cobra.Command {
	var (
		flags   appFlags
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an app token, reusing the saved one while it is valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			s, err := rt.appSession(flags)
			if err != nil {
				return err
			}

			ctx, cancel := rt.requestContext(cmd)
			defer cancel()
			before := s.Token()
			if refresh {
				err = s.RefreshCredentials(ctx)
			} else {
				_, err = s.GetToken(ctx, s.Portal())
			}
			if err != nil {
				return err
			}
			if s.Token() != before {
				rt.saveAppSession(s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Token())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Obtain a new app token even if the saved one is valid")
	return cmd
}

// appSession builds an app session for the configured client, resuming the
// token saved by a previous run.
func (r *runtime) appSession(flags appFlags) (*identity.AppSession, error) {
	clientID := flags.clientID
	if clientID == "" {
		clientID = r.cfg.ClientID
	}
	secret := flags.clientSecret
	if secret == "" {
		secret = os.Getenv(ClientSecretEnv)
	}
	if clientID == "" {
		return nil, autherr.Missing("clientId", "app sign-in")
	}

	opts := identity.AppOptions{
		ClientID:      clientID,
		ClientSecret:  secret,
		Portal:        r.cfg.Portal,
		TokenDuration: r.cfg.TokenDuration,
		HTTPClient:    r.httpClient,
	}
	data, ok, err := r.store.Get(appKeyPrefix + clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to read app token: %w", err)
	}
	if ok && data != "" {
		var rec appRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			logging.Warn("Session", "Ignoring unreadable app token for %s: %v", clientID, err)
		} else {
			opts.Token = rec.Token
			if rec.Expires > 0 {
				opts.TokenExpires = time.UnixMilli(rec.Expires)
			}
		}
	}
	return identity.NewAppSession(opts)
}

func (r *runtime) saveAppSession(s *identity.AppSession) {
	rec := appRecord{Token: s.Token()}
	if exp := s.TokenExpires(); !exp.IsZero() {
		rec.Expires = exp.UnixMilli()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logging.Warn("Session", "Failed to encode app token: %v", err)
		return
	}
	if err := r.store.Set(appKeyPrefix+s.ClientID(), string(data)); err != nil {
		logging.Warn("Session", "Failed to save app token: %v", err)
	}
}

package identity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/metrics"
	"gisauth/internal/pending"
	"gisauth/internal/portal"
	"gisauth/pkg/logging"
	"gisauth/pkg/oauth"
)

const appKey = "app"

// AppOptions configures an AppSession.
type AppOptions struct {
	ClientID     string
	ClientSecret string
	// Token and TokenExpires resume a previous app session. A token without
	// an expiry is not trusted and is replaced on first use.
	Token        string
	TokenExpires time.Time
	Portal       string
	// TokenDuration is the lifetime in minutes requested for app tokens.
	// Zero leaves it to the portal.
	TokenDuration int

	HTTPClient *http.Client
	Clock      func() time.Time
}

// AppSession authenticates an application rather than a user, with the
// client_credentials grant. The same app token is presented to every server.
// It is safe for concurrent use.
type AppSession struct {
	clientID      string
	clientSecret  string
	portal        string
	tokenDuration int

	mu    sync.RWMutex
	token *oauth.Token

	client  *portal.Client
	pending *pending.Group
	now     func() time.Time
}

// NewAppSession creates an app session. No request is made until the first
// GetToken.
func NewAppSession(opts AppOptions) (*AppSession, error) {
	if opts.ClientID == "" {
		return nil, autherr.Missing("clientId", "app sign-in")
	}
	if opts.ClientSecret == "" {
		return nil, autherr.Missing("clientSecret", "app sign-in")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	s := &AppSession{
		clientID:      opts.ClientID,
		clientSecret:  opts.ClientSecret,
		portal:        oauth.NormalizePortalURL(opts.Portal),
		tokenDuration: opts.TokenDuration,
		pending:       pending.New(metrics.ObserveDedup),
		now:           now,
	}
	if opts.Token != "" {
		s.token = &oauth.Token{AccessToken: opts.Token, Expires: opts.TokenExpires}
	}

	clientOpts := []portal.Option{portal.WithClock(now)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, portal.WithHTTPClient(opts.HTTPClient))
	}
	s.client = portal.NewClient(s.portal, clientOpts...)
	return s, nil
}

// Portal returns the normalized portal root.
func (s *AppSession) Portal() string { return s.portal }

// ClientID returns the application's client id.
func (s *AppSession) ClientID() string { return s.clientID }

// Token returns the current app token, which may be empty or expired.
func (s *AppSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// TokenExpires returns the expiry of the current app token.
func (s *AppSession) TokenExpires() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return time.Time{}
	}
	return s.token.Expires
}

// GetToken returns the app token, fetching a new one when there is none or
// it expires within oauth.DefaultExpiryMargin. target is not consulted.
// Concurrent callers share one token request.
func (s *AppSession) GetToken(ctx context.Context, target string) (string, error) {
	if tok, ok := s.validToken(); ok {
		return tok, nil
	}
	return s.fetch(ctx, false)
}

// RefreshCredentials fetches a new app token.
func (s *AppSession) RefreshCredentials(ctx context.Context) error {
	_, err := s.fetch(ctx, true)
	return err
}

func (s *AppSession) validToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok := s.token
	if tok == nil || tok.Expires.IsZero() || tok.ExpiresWithin(s.now(), oauth.DefaultExpiryMargin) {
		return "", false
	}
	return tok.AccessToken, true
}

func (s *AppSession) fetch(ctx context.Context, force bool) (string, error) {
	return pending.Acquire(ctx, s.pending, pending.PurposeRefresh, appKey, func(ctx context.Context) (string, error) {
		// A call that finished just before this one may have left a fresh token.
		if tok, ok := s.validToken(); ok && !force {
			return tok, nil
		}
		tok, err := s.client.ClientCredentials(ctx, s.clientID, s.clientSecret, s.tokenDuration)
		metrics.ObserveRefresh("client_credentials", err)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
		logging.Debug("Identity", "Obtained app token for %s, expires %s", s.clientID, tok.Expires.Format(time.RFC3339))
		return tok.AccessToken, nil
	})
}

// RefreshSession fetches a new app token and returns the session.
func (s *AppSession) RefreshSession(ctx context.Context) (*AppSession, error) {
	if err := s.RefreshCredentials(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ExchangeToken trades the primary token for one issued to clientID, e.g. so
// an embedded app can act with a token of its own. The manager is unchanged.
func (m *Manager) ExchangeToken(ctx context.Context, clientID string) (string, error) {
	if err := m.checkAlive(); err != nil {
		return "", err
	}
	if clientID == "" {
		return "", autherr.Missing("clientId", "token exchange")
	}
	token, err := m.freshToken(ctx)
	if err != nil {
		return "", err
	}
	return m.client.ExchangeToken(ctx, token, clientID)
}

// FromPlatformSelf creates a manager for the platform user whose esri_aopc
// cookie is in the HTTP client's cookie jar. Callers holding another
// credential should compare usernames before switching to the result.
func FromPlatformSelf(ctx context.Context, clientID, redirectURI string, opts ...Option) (*Manager, error) {
	if clientID == "" {
		return nil, autherr.Missing("clientId", "platformSelf")
	}
	o := Options{ClientID: clientID, RedirectURI: redirectURI}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []portal.Option{}
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, portal.WithHTTPClient(o.HTTPClient))
	}
	if o.Clock != nil {
		clientOpts = append(clientOpts, portal.WithClock(o.Clock))
	}
	self, err := portal.NewClient(o.Portal, clientOpts...).PlatformSelf(ctx, clientID, redirectURI)
	if err != nil {
		return nil, err
	}

	o.Token = self.Token
	o.TokenExpires = self.Expires
	o.Username = self.Username
	o.SSL = true
	return New(o)
}

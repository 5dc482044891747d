package identity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/federation"
	"gisauth/internal/metrics"
	"gisauth/internal/pending"
	"gisauth/internal/portal"
	"gisauth/pkg/logging"
	"gisauth/pkg/oauth"
)

// DefaultProvider is the identity provider used when none is configured.
const DefaultProvider = "arcgis"

// Options configures a Manager. Exactly which fields are required depends on
// the construction mode; see Mode.
type Options struct {
	ClientID            string
	Token               string
	TokenExpires        time.Time
	RefreshToken        string
	RefreshTokenExpires time.Time
	Username            string
	Password            string
	RedirectURI         string
	Portal              string
	SSL                 bool
	Provider            string
	// TokenDuration is the lifetime in minutes requested for generated tokens.
	TokenDuration int
	Server        string
	Referer       string

	// TrustedDomains are added to the portal's authorizedCrossOriginDomains.
	TrustedDomains []string

	HTTPClient *http.Client
	Clock      func() time.Time
}

// Option adjusts Options for the convenience constructors.
type Option func(*Options)

// WithPortal sets the portal root.
func WithPortal(portalURL string) Option {
	return func(o *Options) {
		o.Portal = portalURL
	}
}

// WithHTTPClient sets the HTTP client used for every portal and server call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

// WithTrustedDomains adds domains that receive cookies instead of tokens.
func WithTrustedDomains(domains ...string) Option {
	return func(o *Options) {
		o.TrustedDomains = append(o.TrustedDomains, domains...)
	}
}

// WithReferer sets the referer sent on username/password sign-in.
func WithReferer(referer string) Option {
	return func(o *Options) {
		o.Referer = referer
	}
}

// record is the mutable part of a credential. Every write bumps generation.
type record struct {
	token               string
	tokenExpires        time.Time
	refreshToken        string
	refreshTokenExpires time.Time
	username            string
	ssl                 bool
	generation          uint64
}

// Manager holds one authenticated identity and resolves which token to
// present to which server. It is safe for concurrent use.
type Manager struct {
	mode          Mode
	clientID      string
	password      string
	redirectURI   string
	portal        string
	provider      string
	tokenDuration int
	server        string
	referer       string

	mu              sync.RWMutex
	rec             record
	destroyed       bool
	trusted         []string
	trustedLoaded   bool
	trustedRetryAt  time.Time
	configuredTrust []string
	user            *portal.User

	client  *portal.Client
	pending *pending.Group
	cache   *federation.TrustCache
	now     func() time.Time
}

// New creates a Manager from opts.
func New(opts Options) (*Manager, error) {
	if opts.Token == "" && opts.RefreshToken == "" && (opts.Username == "" || opts.Password == "") {
		return nil, &autherr.ConfigurationError{
			Field:   "token",
			Message: "one of token, refreshToken with clientId, or username and password is required",
		}
	}
	if opts.RefreshToken != "" && opts.ClientID == "" && opts.Token == "" {
		return nil, autherr.Missing("clientId", "refresh token credentials")
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		mode:          resolveMode(&opts),
		clientID:      opts.ClientID,
		password:      opts.Password,
		redirectURI:   opts.RedirectURI,
		portal:        oauth.NormalizePortalURL(opts.Portal),
		provider:      opts.Provider,
		tokenDuration: opts.TokenDuration,
		server:        opts.Server,
		referer:       opts.Referer,
		rec: record{
			token:               opts.Token,
			tokenExpires:        opts.TokenExpires,
			refreshToken:        opts.RefreshToken,
			refreshTokenExpires: opts.RefreshTokenExpires,
			username:            opts.Username,
			ssl:                 opts.SSL,
		},
		configuredTrust: federation.NormalizeTrustedDomains(opts.TrustedDomains),
		pending:         pending.New(metrics.ObserveDedup),
		cache:           federation.NewTrustCache(federation.DefaultCacheSize, federation.WithClock(now)),
		now:             now,
	}
	if m.provider == "" {
		m.provider = DefaultProvider
	}
	if m.tokenDuration <= 0 {
		m.tokenDuration = int(oauth.DefaultTokenDuration / time.Minute)
	}
	if m.rec.tokenExpires.IsZero() {
		m.rec.tokenExpires = expiryFromJWT(m.rec.token)
	}
	m.trusted = m.configuredTrust

	clientOpts := []portal.Option{portal.WithClock(now)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, portal.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Referer != "" {
		clientOpts = append(clientOpts, portal.WithReferer(opts.Referer))
	}
	m.client = portal.NewClient(m.portal, clientOpts...)

	// An explicitly named server is trusted with the primary token as-is.
	if m.server != "" {
		m.cache.Put(federation.ServerRootURL(m.server), federation.Entry{
			Token:   m.rec.token,
			Expires: m.rec.tokenExpires,
		})
	}

	logging.Debug("Identity", "Created %s manager for portal %s", m.mode, m.portal)
	return m, nil
}

// FromToken creates a manager around a token obtained elsewhere. A zero
// expires is read from the token's exp claim when the token is a JWT.
func FromToken(token string, expires time.Time, opts ...Option) (*Manager, error) {
	o := Options{Token: token, TokenExpires: expires}
	for _, opt := range opts {
		opt(&o)
	}
	return New(o)
}

// SignIn creates a password manager and verifies the credentials by fetching
// the signed-in user.
func SignIn(ctx context.Context, username, password string, opts ...Option) (*Manager, error) {
	o := Options{Username: username, Password: password}
	for _, opt := range opts {
		opt(&o)
	}
	m, err := New(o)
	if err != nil {
		return nil, err
	}
	if _, err := m.User(ctx); err != nil {
		return nil, err
	}
	logging.Audit(logging.AuditEvent{
		Action:   "sign_in",
		Outcome:  "success",
		Portal:   m.portal,
		Username: username,
	})
	return m, nil
}

// Mode returns the construction mode.
func (m *Manager) Mode() Mode { return m.mode }

// Portal returns the normalized portal root.
func (m *Manager) Portal() string { return m.portal }

// ClientID returns the OAuth client id, if any.
func (m *Manager) ClientID() string { return m.clientID }

// RedirectURI returns the OAuth redirect URI, if any.
func (m *Manager) RedirectURI() string { return m.redirectURI }

// Provider returns the identity provider.
func (m *Manager) Provider() string { return m.provider }

// Server returns the server this manager is scoped to, if any.
func (m *Manager) Server() string { return m.server }

// TokenDuration returns the requested token lifetime in minutes.
func (m *Manager) TokenDuration() int { return m.tokenDuration }

// Token returns the current primary token without refreshing it.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.token
}

// TokenExpires returns the expiry of the primary token.
func (m *Manager) TokenExpires() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.tokenExpires
}

// RefreshToken returns the current refresh token.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.refreshToken
}

// RefreshTokenExpires returns the expiry of the refresh token.
func (m *Manager) RefreshTokenExpires() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.refreshTokenExpires
}

// Username returns the signed-in username, if known.
func (m *Manager) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.username
}

// SSL reports whether the portal requires HTTPS.
func (m *Manager) SSL() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.ssl
}

// Generation returns the number of token writes applied so far.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.generation
}

// IsTokenExpired reports whether the primary token is past its expiry. A
// token without a known expiry is treated as live.
func (m *Manager) IsTokenExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenExpiredLocked()
}

func (m *Manager) tokenExpiredLocked() bool {
	if m.rec.token == "" {
		return true
	}
	return !m.rec.tokenExpires.IsZero() && !m.now().Before(m.rec.tokenExpires)
}

func (m *Manager) refreshTokenUsableLocked() bool {
	if m.clientID == "" || m.rec.refreshToken == "" {
		return false
	}
	return m.rec.refreshTokenExpires.IsZero() || m.now().Before(m.rec.refreshTokenExpires)
}

// CanRefresh reports whether RefreshCredentials has a path to a new token.
func (m *Manager) CanRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshTokenUsableLocked() || (m.rec.username != "" && m.password != "")
}

// Destroyed reports whether Destroy has been called.
func (m *Manager) Destroyed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.destroyed
}

func (m *Manager) checkAlive() error {
	if m.Destroyed() {
		return autherr.NewAuthError(autherr.CodeManagerDestroyed, "identity manager has been destroyed")
	}
	return nil
}

// User returns the signed-in user from community/self. The result is cached
// until the next refresh.
func (m *Manager) User(ctx context.Context) (*portal.User, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	cached := m.user
	m.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	return pending.Acquire(ctx, m.pending, pending.PurposeUser, m.portal, func(ctx context.Context) (*portal.User, error) {
		token, err := m.freshToken(ctx)
		if err != nil {
			return nil, err
		}
		user, err := m.client.CommunitySelf(ctx, token)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.user = user
		if m.rec.username == "" {
			m.rec.username = user.Username
		}
		m.mu.Unlock()
		return user, nil
	})
}

// Destroy revokes the refresh token, or the token when there is none, and
// makes the manager unusable. Local state is cleared even when revocation
// fails; the revocation error is returned.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	toRevoke := m.rec.refreshToken
	if toRevoke == "" {
		toRevoke = m.rec.token
	}
	username := m.rec.username
	m.rec = record{generation: m.rec.generation + 1}
	m.user = nil
	m.mu.Unlock()

	m.cache.Purge()

	var err error
	if toRevoke != "" {
		err = m.client.RevokeToken(ctx, m.clientID, toRevoke)
	}

	event := logging.AuditEvent{
		Action:   "revoke",
		Outcome:  "success",
		Portal:   m.portal,
		Username: username,
		Token:    logging.TruncateToken(toRevoke),
	}
	if err != nil {
		event.Outcome = "failure"
		event.Error = err.Error()
	}
	logging.Audit(event)
	return err
}

// SignOut is Destroy.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.Destroy(ctx)
}

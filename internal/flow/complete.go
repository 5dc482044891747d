package flow

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/identity"
	"gisauth/internal/portal"
	"gisauth/pkg/logging"
	"gisauth/pkg/oauth"
)

// CompleteOptions configures CompleteOAuth2.
type CompleteOptions struct {
	ClientID    string
	RedirectURI string
	Portal      string
	// CallbackURL is the full redirect URL the browser landed on, including
	// its query (code flow) or fragment (implicit flow).
	CallbackURL string
	// Popup delivers the outcome to the BeginOAuth2 call waiting on the
	// state id and closes the window.
	Popup bool
}

type callback struct {
	params   url.Values
	implicit bool
	state    *oauth.StateToken
}

func parseCallback(raw string) (*callback, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &autherr.ConfigurationError{Field: "callbackUrl", Message: err.Error()}
	}
	cb := &callback{params: u.Query()}
	if u.Fragment != "" {
		fragment, err := url.ParseQuery(u.Fragment)
		if err == nil && len(fragment) > 0 {
			cb.params = fragment
			cb.implicit = true
		}
	}
	if s := cb.params.Get("state"); s != "" {
		// An undecodable state is reported as missing.
		cb.state, _ = oauth.DecodeStateToken(s)
	}
	return cb, nil
}

// CompleteOAuth2 finishes a flow from the callback URL. Stored state and
// verifier for the client are removed whatever the outcome.
func (c *Controller) CompleteOAuth2(ctx context.Context, opts CompleteOptions) (*identity.Manager, error) {
	if opts.ClientID == "" {
		return nil, autherr.Missing("clientId", "completeOAuth2")
	}
	if opts.Portal == "" {
		opts.Portal = DefaultPortal
	}
	opts.Portal = oauth.NormalizePortalURL(opts.Portal)

	cb, err := parseCallback(opts.CallbackURL)
	if err != nil {
		return nil, err
	}
	var id string
	if cb.state != nil {
		id = cb.state.ID
	}

	m, err := c.complete(ctx, opts, cb)
	c.clear(opts.ClientID)
	state := c.finish(id, err)
	c.audit(opts, state, m, err)

	if opts.Popup && id != "" {
		if !c.HandlePopupCallback(id, m, err) {
			logging.Debug("Flow", "No flow is waiting on state %s", logging.TruncateToken(id))
		}
		if closeErr := c.window.Close(); closeErr != nil {
			logging.Debug("Flow", "Closing popup failed: %v", closeErr)
		}
	}
	return m, err
}

func (c *Controller) complete(ctx context.Context, opts CompleteOptions, cb *callback) (*identity.Manager, error) {
	if code := cb.params.Get("error"); code != "" {
		return nil, providerError(code, cb.params.Get("error_description"))
	}

	if err := c.verifyState(opts.ClientID, cb.state); err != nil {
		return nil, err
	}

	if cb.implicit {
		return c.fromFragment(opts, cb.params)
	}
	return c.exchange(ctx, opts, cb.params.Get("code"))
}

func providerError(code, description string) error {
	if code == autherr.CodeAccessDenied {
		if description == "" {
			return autherr.NewAccessDeniedError()
		}
		return &autherr.AccessDeniedError{Message: description}
	}
	if description == "" {
		description = "the identity provider returned " + code
	}
	return autherr.WrapAuthError(autherr.CodeOAuthError, description, autherr.NewAuthError(code, description))
}

func (c *Controller) verifyState(clientID string, returned *oauth.StateToken) error {
	raw, ok, err := c.store.Get(StateKey(clientID))
	if err != nil {
		return fmt.Errorf("failed to read auth state: %w", err)
	}
	if !ok || raw == "" || returned == nil {
		return autherr.NewAuthError(autherr.CodeNoAuthState,
			"no authentication state was found; call BeginOAuth2 to start the authentication process")
	}
	stored, err := oauth.DecodeStateToken(raw)
	if err != nil {
		return autherr.WrapAuthError(autherr.CodeNoAuthState, "stored auth state is unreadable", err)
	}
	if returned.ID != stored.ID {
		logging.Audit(logging.AuditEvent{
			Action:  "state_mismatch",
			Outcome: "denied",
			Target:  clientID,
		})
		return autherr.NewAuthError(autherr.CodeMismatchedAuthState, "auth state does not match the stored state")
	}
	return nil
}

func (c *Controller) managerOptions(opts CompleteOptions) identity.Options {
	return identity.Options{
		ClientID:       opts.ClientID,
		RedirectURI:    opts.RedirectURI,
		Portal:         opts.Portal,
		TrustedDomains: c.trustedDomains,
		HTTPClient:     c.httpClient,
		Clock:          c.now,
	}
}

func (c *Controller) fromFragment(opts CompleteOptions, params url.Values) (*identity.Manager, error) {
	token := params.Get("access_token")
	if token == "" {
		return nil, autherr.NewAuthError(autherr.CodeOAuthError, "callback carries no access_token")
	}
	o := c.managerOptions(opts)
	o.Token = token
	o.Username = params.Get("username")
	o.SSL = params.Get("ssl") == "true"
	if s := params.Get("expires_in"); s != "" {
		seconds, err := strconv.Atoi(s)
		if err != nil {
			return nil, autherr.WrapAuthError(autherr.CodeOAuthError, "invalid expires_in "+strconv.Quote(s), err)
		}
		o.TokenExpires = c.now().Add(time.Duration(seconds) * time.Second)
	}
	return identity.New(o)
}

func (c *Controller) exchange(ctx context.Context, opts CompleteOptions, code string) (*identity.Manager, error) {
	if code == "" {
		return nil, autherr.NewAuthError(autherr.CodeOAuthError, "callback carries neither code nor access_token")
	}
	verifier, _, err := c.store.Get(VerifierKey(opts.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to read code verifier: %w", err)
	}

	clientOpts := []portal.Option{portal.WithClock(c.now)}
	if c.httpClient != nil {
		clientOpts = append(clientOpts, portal.WithHTTPClient(c.httpClient))
	}
	tok, err := portal.NewClient(opts.Portal, clientOpts...).ExchangeCode(ctx, opts.ClientID, opts.RedirectURI, code, verifier)
	if err != nil {
		return nil, err
	}

	o := c.managerOptions(opts)
	o.Token = tok.AccessToken
	o.TokenExpires = tok.Expires
	o.RefreshToken = tok.RefreshToken
	o.RefreshTokenExpires = tok.RefreshTokenExpires
	o.Username = tok.Username
	o.SSL = tok.SSL
	return identity.New(o)
}

func (c *Controller) audit(opts CompleteOptions, state State, m *identity.Manager, err error) {
	event := logging.AuditEvent{
		Action:  "sign_in",
		Outcome: "success",
		Portal:  opts.Portal,
		Target:  opts.ClientID,
	}
	switch state {
	case StateDenied:
		event.Outcome = "denied"
	case StateError:
		event.Outcome = "failure"
		event.Error = err.Error()
	default:
		event.Username = m.Username()
		event.Token = logging.TruncateToken(m.Token())
	}
	logging.Audit(event)
}
